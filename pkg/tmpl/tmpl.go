// Package tmpl renders user supplied Go templates, such as the --format of
// message listings.
package tmpl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
)

// shellQuote returns a shell-safe quoted string. It wraps the string in single
// quotes and escapes any existing single quotes using the '\'' technique.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	escaped := strings.ReplaceAll(s, "'", `'\''`)
	return "'" + escaped + "'"
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// oneLine collapses whitespace runs, newlines included, to single spaces.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func funcs(now func() time.Time) template.FuncMap {
	return template.FuncMap{
		"shq":     shellQuote,
		"json":    toJSON,
		"oneline": oneLine,
		"ago": func(t time.Time) string {
			return humanize.RelTime(t, now(), "ago", "from now")
		},
		"time": func(layout string, t time.Time) string {
			return t.Local().Format(layout)
		},
	}
}

// Template is a parsed template that can be executed repeatedly.
type Template struct {
	t *template.Template
}

// Parse compiles text. A trailing newline is added when missing so each
// execution prints one line. Undefined keys are an error at execution.
//
// Available template functions:
//   - shq: Shell-quote a string for safe use in shell commands
//   - json: Encode a value as JSON
//   - oneline: Collapse whitespace and newlines to single spaces
//   - ago: Relative time, e.g. "3 minutes ago"
//   - time: Format a time with a Go layout, e.g. {{ time "15:04" .CreatedAt }}
func Parse(text string, now func() time.Time) (*Template, error) {
	if now == nil {
		now = time.Now
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	t, err := template.New("format").Funcs(funcs(now)).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Template{t: t}, nil
}

// Execute renders the template with data.
func (t *Template) Execute(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

// Render parses and executes text once.
func Render(text string, data any) (string, error) {
	t, err := Parse(text, nil)
	if err != nil {
		return "", err
	}
	return t.Execute(data)
}
