package report

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"intelreport/internal/anomaly"
)

//go:embed templates/*
var templateFS embed.FS

// Format selects a rendering.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
	FormatHTML Format = "html"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatText, FormatHTML:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", &ConfigurationError{Field: "format", Reason: fmt.Sprintf("unknown format %q", s)}
	}
}

// Rendered is a report ready for delivery.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

type view struct {
	R *Report
	N Narrative
}

var funcs = map[string]any{
	"pct":      percent,
	"num":      number,
	"label":    MetricLabel,
	"describe": Describe,
	"join":     strings.Join,
	"critical": func(a anomaly.Anomaly) bool { return a.Severity == anomaly.SeverityCritical },
	"inc":      func(i int) int { return i + 1 },
}

var (
	textTmpl = texttemplate.Must(texttemplate.New("report.txt.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/report.txt.tmpl"))
	htmlTmpl = htmltemplate.Must(htmltemplate.New("report.html.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/report.html.tmpl"))
)

// Subject is the email subject line for a report.
func Subject(r *Report) string {
	prefix := "Intelligence Report"
	if n := len(r.Anomalies.Anomalies); n > 0 {
		prefix = fmt.Sprintf("%s [%d anomalies]", prefix, n)
	}
	if r.Meta.Test {
		prefix = "[TEST] " + prefix
	}
	return fmt.Sprintf("%s: %s %s", prefix, r.Meta.Period, r.Meta.Label)
}

// Render produces the subject, plain text and HTML forms.
func Render(r *Report, n Narrative) (Rendered, error) {
	v := view{R: r, N: n}

	var text bytes.Buffer
	if err := textTmpl.Execute(&text, v); err != nil {
		return Rendered{}, fmt.Errorf("render text: %w", err)
	}
	var html bytes.Buffer
	if err := htmlTmpl.Execute(&html, v); err != nil {
		return Rendered{}, fmt.Errorf("render html: %w", err)
	}
	return Rendered{Subject: Subject(r), Text: text.String(), HTML: html.String()}, nil
}

// Encode writes the run result in the requested format.
func Encode(res *RunResult, format Format) ([]byte, error) {
	switch format {
	case FormatText, FormatHTML:
		rendered, err := Render(res.Report, res.Narrative)
		if err != nil {
			return nil, err
		}
		if format == FormatText {
			return []byte(rendered.Text), nil
		}
		return []byte(rendered.HTML), nil
	default:
		return json.MarshalIndent(res, "", "  ")
	}
}
