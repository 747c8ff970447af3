// Package output holds the terminal styling used by the CLI and the
// test reporters.
package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/c360studio/roxid/pipeline"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	skipStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	// Header renders section titles.
	Header = lipgloss.NewStyle().Bold(true)
	// Dim renders secondary detail such as durations and hints.
	Dim = lipgloss.NewStyle().Faint(true)
)

// StatusBadge renders a short status label for a result line.
func StatusBadge(status pipeline.Status) string {
	switch status {
	case pipeline.StatusSucceeded:
		return okStyle.Render("OK")
	case pipeline.StatusSucceededWithIssues:
		return warnStyle.Render("OK*")
	case pipeline.StatusFailed:
		return failStyle.Render("FAIL")
	case pipeline.StatusCanceled:
		return failStyle.Render("CANCELED")
	case pipeline.StatusSkipped:
		return skipStyle.Render("SKIP")
	}
	return string(status)
}

// Pass renders a green pass marker.
func Pass(text string) string { return okStyle.Render(text) }

// Fail renders a red failure marker.
func Fail(text string) string { return failStyle.Render(text) }

// Skip renders a yellow skip marker.
func Skip(text string) string { return skipStyle.Render(text) }

// Duration formats a duration for result lines, trimmed to two
// significant decimals.
func Duration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// Rule renders a horizontal divider.
func Rule(width int) string {
	if width <= 0 {
		width = 60
	}
	return Dim.Render(strings.Repeat("-", width))
}
