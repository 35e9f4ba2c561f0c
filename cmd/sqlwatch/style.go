package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/sznuper/sqlwatch/internal/probe"
)

type styles struct {
	OK       lipgloss.Style
	Alert    lipgloss.Style
	Failed   lipgloss.Style
	Dim      lipgloss.Style
	Bold     lipgloss.Style
	Severity map[probe.Severity]lipgloss.Style
}

// newStyles respects NO_COLOR.
func newStyles() styles {
	if os.Getenv("NO_COLOR") != "" {
		plain := lipgloss.NewStyle()
		return styles{OK: plain, Alert: plain, Failed: plain, Dim: plain, Bold: plain, Severity: map[probe.Severity]lipgloss.Style{}}
	}
	return styles{
		OK:     lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Alert:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
		Failed: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Bold:   lipgloss.NewStyle().Bold(true),
		Severity: map[probe.Severity]lipgloss.Style{
			probe.SeverityInfo:     lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
			probe.SeverityWarning:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
			probe.SeverityCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		},
	}
}

func (s styles) severity(sev probe.Severity) string {
	if st, ok := s.Severity[sev]; ok {
		return st.Render(string(sev))
	}
	return string(sev)
}
