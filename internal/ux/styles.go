// Package ux renders the styled console surface of the publish pipeline.
// Every stage is announced with a banner line before it runs, so the point
// of failure is visible from the last banner even when the underlying
// tool's own output is noisy.
package ux

import (
	"github.com/charmbracelet/lipgloss"
)

// Semantic colors, shared across light and dark terminals.
var (
	Success     = lipgloss.Color("#8BC34A") // lime green
	Warning     = lipgloss.Color("#FFC107") // yellow
	Info        = lipgloss.Color("#2196F3") // blue
	Destructive = lipgloss.Color("#e53935") // red
	Muted       = lipgloss.Color("#808080")
)

var (
	stageStyle   = lipgloss.NewStyle().Foreground(Info).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(Warning)
	failStyle    = lipgloss.NewStyle().Foreground(Destructive).Bold(true)
	detailStyle  = lipgloss.NewStyle().Foreground(Muted)
)
