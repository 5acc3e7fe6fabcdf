package server

import (
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// renderMarkdown converts a markdown report to HTML. Raw HTML in the source
// is dropped and external links open in a new tab.
func renderMarkdown(text string) []byte {
	if text == "" {
		return []byte{}
	}

	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	mdParser := parser.NewWithExtensions(extensions)

	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank | html.SkipHTML,
	})

	return markdown.ToHTML([]byte(text), mdParser, renderer)
}
