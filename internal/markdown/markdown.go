// Package markdown renders note and page markdown to HTML.
package markdown

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
)

// Raw HTML inside markdown is dropped; pages are served publicly.
var engine = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Table,
		extension.Strikethrough,
		extension.TaskList,
		extension.Linkify,
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithHardWraps(),
		htmlrenderer.WithXHTML(),
	),
)

// Render converts markdown to an HTML fragment.
func Render(src string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := engine.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var documentTemplate = template.Must(template.New("doc").Parse(`<!DOCTYPE html>
<html lang="ja">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width, initial-scale=1" />
<title>{{.Title}}</title>
<style>
body{max-width:720px;margin:2rem auto;padding:0 1rem;font-family:system-ui,-apple-system,"Hiragino Sans",sans-serif;line-height:1.7;color:#222}
pre{overflow-x:auto;background:#f5f5f5;padding:.75rem}
table{border-collapse:collapse}td,th{border:1px solid #ddd;padding:.25rem .5rem}
img{max-width:100%}
</style>
</head>
<body>
<article>
{{.Body}}
</article>
</body>
</html>
`))

// Document renders markdown into a standalone HTML page.
func Document(title, src string) (string, error) {
	body, err := Render(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = documentTemplate.Execute(&buf, struct {
		Title string
		Body  template.HTML
	}{Title: title, Body: template.HTML(body)})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
