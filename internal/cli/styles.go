// Package cli renders command output: OK/Error lines, JSON documents, and
// tabular views shared by every command.
package cli

import "github.com/charmbracelet/lipgloss"

var (
	successColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	errorColor   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}
	mutedColor   = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#696969"}

	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(successColor)
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(errorColor)
	headerStyle = lipgloss.NewStyle().Bold(true)
	keyStyle    = lipgloss.NewStyle().Foreground(mutedColor)
)
