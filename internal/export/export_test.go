package export

import (
	"strings"
	"testing"
	"time"
)

func TestRenderChapterHTML(t *testing.T) {
	html, err := renderChapterHTML(ChapterData{
		BookTitle:   "Ashfall",
		AuthorName:  "Avery",
		Number:      3,
		Title:       "The Long Night",
		ContentHTML: "<p>It began at dusk.</p>",
		UpdatedAt:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("renderChapterHTML() error = %v", err)
	}
	for _, want := range []string{
		"<h1>The Long Night</h1>",
		"Ashfall",
		"Chapter 3",
		"Avery",
		"<p>It began at dusk.</p>",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("rendered HTML missing %q:\n%s", want, html)
		}
	}
}

func TestRenderChapterHTMLEscapesTitle(t *testing.T) {
	html, err := renderChapterHTML(ChapterData{
		Title:       `<script>alert("x")</script>`,
		ContentHTML: "<p>ok</p>",
	})
	if err != nil {
		t.Fatalf("renderChapterHTML() error = %v", err)
	}
	if strings.Contains(html, "<script>alert") {
		t.Fatal("title must be escaped")
	}
	if !strings.Contains(html, "<p>ok</p>") {
		t.Fatal("content HTML must pass through unescaped")
	}
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Ashfall chapter 3", "Ashfall-chapter-3"},
		{"über: déjà vu?", "ber-dj-vu"},
		{"", "chapter"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		if got := safeFilename(tt.in); got != tt.want {
			t.Fatalf("safeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodeDataURL(t *testing.T) {
	if got := encodeDataURL("a b+c"); got != "a%20b%2Bc" {
		t.Fatalf("encodeDataURL() = %q", got)
	}
	if got := encodeDataURL("safe-._~"); got != "safe-._~" {
		t.Fatalf("unreserved characters must pass through, got %q", got)
	}
}
