// Package preview renders file content for the preview pane.
package preview

import (
	"bytes"
	"fmt"
	"html/template"
	"path"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/gomarkdown/markdown"
	"github.com/microcosm-cc/bluemonday"
)

// Preview is rendered, safe-to-embed HTML for one file.
type Preview struct {
	Path     string        `json:"path"`
	Language string        `json:"language"`
	HTML     template.HTML `json:"html"`
}

// Renderer highlights source files and renders markdown.
type Renderer struct {
	style     *chroma.Style
	formatter *html.Formatter
	sanitizer *bluemonday.Policy
}

// NewRenderer 创建预览渲染器。未知的样式名回退到默认样式。
func NewRenderer(styleName string, lineNumbers bool) *Renderer {
	return &Renderer{
		style: styles.Get(styleName),
		formatter: html.New(
			html.WithLineNumbers(lineNumbers),
			html.TabWidth(4),
		),
		sanitizer: bluemonday.UGCPolicy(),
	}
}

// Render returns the preview of content stored at filePath.
func (r *Renderer) Render(filePath, content string) (*Preview, error) {
	if isMarkdown(filePath) {
		rendered := markdown.ToHTML([]byte(content), nil, nil)
		return &Preview{
			Path:     filePath,
			Language: "Markdown",
			HTML:     template.HTML(r.sanitizer.SanitizeBytes(rendered)),
		}, nil
	}

	lexer := lexers.Match(path.Base(filePath))
	if lexer == nil {
		lexer = lexers.Analyse(content)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, content)
	if err != nil {
		return nil, fmt.Errorf("tokenise %s: %w", filePath, err)
	}

	var buf bytes.Buffer
	if err := r.formatter.Format(&buf, r.style, iterator); err != nil {
		return nil, fmt.Errorf("format %s: %w", filePath, err)
	}
	return &Preview{
		Path:     filePath,
		Language: lexer.Config().Name,
		HTML:     template.HTML(buf.String()),
	}, nil
}

func isMarkdown(filePath string) bool {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".md", ".markdown":
		return true
	}
	return false
}
