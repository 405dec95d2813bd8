// Package templater wraps rendered markup in the preview page shell.
package templater

import (
	_ "embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed template.html
var pageTemplate string

//go:embed template.js
var liveScript string

// Templater produces full preview pages from rendered markup.
type Templater struct {
	title string
	theme string
	tmpl  *template.Template
}

// New creates a Templater for the given page title and theme.
func New(title, theme string) (*Templater, error) {
	tmpl, err := template.New("page").Parse(pageTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing page template: %w", err)
	}
	return &Templater{title: title, theme: theme, tmpl: tmpl}, nil
}

type pageData struct {
	Title string
	Theme string
	// Content is finished markup from the render pipeline. The external
	// renderer sanitizes it; the template must not escape it again.
	Content template.HTML
	Script  template.JS
}

// Page wraps content in the full HTML shell, including the live-reload
// script that subscribes to the event stream.
func (t *Templater) Page(content string) (string, error) {
	var buf strings.Builder
	err := t.tmpl.Execute(&buf, pageData{
		Title:   t.title,
		Theme:   t.theme,
		Content: template.HTML(content),
		Script:  template.JS(liveScript),
	})
	if err != nil {
		return "", fmt.Errorf("rendering page template: %w", err)
	}
	return buf.String(), nil
}
