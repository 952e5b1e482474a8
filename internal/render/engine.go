// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// engine.go - HTML template rendering
//
// Templates are Go html/template documents, so user-controlled data is
// escaped on output. A definition's template_ref selects a registered
// template; unknown refs fall back to the built-in tabular report.

package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"sync"
	"time"
)

// DefaultTemplateRef names the built-in tabular report template.
const DefaultTemplateRef = "builtin:table"

// Engine renders report data into HTML.
type Engine struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	funcMap   template.FuncMap
}

// NewEngine creates an engine with the built-in template registered.
func NewEngine() *Engine {
	e := &Engine{templates: make(map[string]*template.Template)}
	e.funcMap = template.FuncMap{
		"formatDateTime": func(t time.Time) string {
			return t.Format("2006-01-02 15:04:05 MST")
		},
		"formatDate": func(t time.Time) string {
			return t.Format("January 2, 2006")
		},
		"cell": func(row map[string]any, column string) any {
			return row[column]
		},
		"title": func(s string) string {
			if s == "" {
				return s
			}
			return strings.ToUpper(s[:1]) + s[1:]
		},
	}

	// The built-in template is static and must parse.
	tmpl := template.Must(template.New(DefaultTemplateRef).Funcs(e.funcMap).Parse(builtinTableTemplate))
	e.templates[DefaultTemplateRef] = tmpl
	return e
}

// Register parses and stores a template under ref, replacing any earlier
// registration.
func (e *Engine) Register(ref, content string) error {
	tmpl, err := template.New(ref).Funcs(e.funcMap).Parse(content)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", ref, err)
	}

	e.mu.Lock()
	e.templates[ref] = tmpl
	e.mu.Unlock()
	return nil
}

// RenderHTML renders the report data with the template named by ref.
// An unregistered ref uses the built-in template.
func (e *Engine) RenderHTML(ref string, data *ReportData) ([]byte, error) {
	e.mu.RLock()
	tmpl, ok := e.templates[ref]
	if !ok {
		tmpl = e.templates[DefaultTemplateRef]
	}
	e.mu.RUnlock()

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render template %s: %w", ref, err)
	}
	return buf.Bytes(), nil
}

const builtinTableTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
<style>
  body { font-family: Arial, sans-serif; margin: 40px; }
  h1 { color: #1976D2; }
  table { border-collapse: collapse; width: 100%; margin-top: 20px; }
  th, td { border: 1px solid #ddd; padding: 12px; text-align: left; }
  th { background-color: #1976D2; color: white; }
  tr:nth-child(even) { background-color: #f9f9f9; }
  .footer { margin-top: 40px; color: #666; font-size: 12px; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p><strong>Generated:</strong> {{formatDateTime .GeneratedAt}}</p>
<p><strong>Period:</strong> {{formatDate .DateRange.Start}} to {{formatDate .DateRange.End}}</p>
<table>
  <thead>
    <tr>
      {{range .Columns}}<th>{{title .}}</th>{{end}}
    </tr>
  </thead>
  <tbody>
    {{range $row := .Rows}}
    <tr>
      {{range $.Columns}}<td>{{cell $row .}}</td>{{end}}
    </tr>
    {{end}}
  </tbody>
  {{if .Totals}}
  <tfoot>
    <tr>
      {{range $.Columns}}<th>{{cell $.Totals .}}</th>{{end}}
    </tr>
  </tfoot>
  {{end}}
</table>
<div class="footer">Generated by Reportus</div>
</body>
</html>
`
