package export

import (
	"bytes"
	"html/template"
)

var chapterTemplate = template.Must(template.New("chapter").Funcs(template.FuncMap{
	"safeHTML": func(s string) template.HTML { return template.HTML(s) },
}).Parse(chapterHTML))

func renderChapterHTML(data ChapterData) (string, error) {
	var buf bytes.Buffer
	if err := chapterTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const chapterHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.7; max-width: 720px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .content p { text-indent: 1.5em; margin: 0 0 0.4em; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.BookTitle}} &middot; Chapter {{.Number}} &middot; {{.AuthorName}} &middot; {{.UpdatedAt.Format "Jan 2, 2006"}}</div>
  <div class="content">{{.ContentHTML | safeHTML}}</div>
</body>
</html>`
