// Package templates holds the embedded HTML templates of the viewer page.
package templates

import (
	"embed"
	"html/template"
)

//go:embed *.html
var files embed.FS

// Load parses every embedded template.
func Load() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"indent": func(depth int) int { return depth * 16 },
	}).ParseFS(files, "*.html")
}
