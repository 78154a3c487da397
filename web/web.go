// Package web embeds the wizard page templates.
package web

import (
	"embed"
	"html/template"
)

//go:embed templates/*.tmpl
var Templates embed.FS

// ParseTemplates returns the page templates ready for gin's HTML renderer.
func ParseTemplates() (*template.Template, error) {
	return template.ParseFS(Templates, "templates/*.tmpl")
}
