package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

// DefaultTemplate is used by message-oriented sinks without an override.
const DefaultTemplate = `{{alert.severity_emoji}} [{{alert.severity | upper}}] {{alert.probe}}: {{alert.message}}`

// TemplateData holds all data available to alert templates.
type TemplateData struct {
	Globals map[string]any
	Alert   map[string]string
}

// BuildTemplateData constructs template data from an alert and config globals.
func BuildTemplateData(globals map[string]any, a Alert) TemplateData {
	if globals == nil {
		globals = map[string]any{}
	}
	alert := map[string]string{
		"id":             a.ID,
		"probe":          a.Probe,
		"cycle":          a.CycleID,
		"severity":       a.Severity,
		"severity_emoji": severityEmoji(a.Severity),
		"kind":           a.Kind,
		"message":        a.Message,
		"predicate":      a.Predicate,
		"metric":         a.Metric,
		"value":          a.Value,
		"threshold":      a.Threshold,
		"labels":         strings.Join(a.Labels, ", "),
	}
	if !a.Timestamp.IsZero() {
		alert["timestamp"] = a.Timestamp.UTC().Format(time.RFC3339)
	}
	return TemplateData{Globals: globals, Alert: alert}
}

func severityEmoji(severity string) string {
	switch severity {
	case "critical":
		return "\U0001f534" // 🔴
	case "warning":
		return "\U0001f7e1" // 🟡
	case "info":
		return "\U0001f535" // 🔵
	default:
		return "\u2753" // ❓
	}
}

// Render executes a Go text/template string with Sprig functions and the
// accessor functions alert and globals, so {{alert.probe}} works.
func Render(tmplStr string, data TemplateData) (string, error) {
	funcMap := sprig.TxtFuncMap()
	funcMap["alert"] = func() map[string]string { return data.Alert }
	funcMap["globals"] = func() map[string]any { return data.Globals }

	t, err := template.New("alert").Funcs(funcMap).Option("missingkey=zero").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}

	return buf.String(), nil
}
