// Package export renders chapters as downloadable PDF files.
package export

import (
	"errors"
	"fmt"
	"time"
)

// ChapterData is everything the chapter template needs.
type ChapterData struct {
	BookTitle   string
	AuthorName  string
	Number      int
	Title       string
	ContentHTML string
	UpdatedAt   time.Time
}

// Result is a rendered download.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates the headless browser runtime is not
// installed on this host.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")

// ChapterPDF renders a chapter to a paginated PDF.
func ChapterPDF(data ChapterData) (*Result, error) {
	html, err := renderChapterHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render chapter: %w", err)
	}
	pdf, err := renderPDF(html)
	if err != nil {
		return nil, err
	}
	name := safeFilename(fmt.Sprintf("%s chapter %d", data.BookTitle, data.Number))
	return &Result{
		Data:     pdf,
		Filename: name + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

// safeFilename reduces a title to a filesystem- and header-safe slug.
func safeFilename(title string) string {
	out := ""
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out += string(r)
		case r == ' ':
			out += "-"
		case r == '-', r == '_':
			out += string(r)
		}
	}
	if len(out) > 50 {
		out = out[:50]
	}
	if out == "" {
		out = "chapter"
	}
	return out
}
