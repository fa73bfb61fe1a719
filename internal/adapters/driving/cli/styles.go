package cli

import "github.com/charmbracelet/lipgloss"

// Palette used by the reports. Colours degrade to plain text when the
// output is not a terminal.
var (
	colourAccent  = lipgloss.Color("#7C3AED")
	colourMuted   = lipgloss.Color("#6C7086")
	colourSuccess = lipgloss.Color("#A6E3A1")
	colourWarning = lipgloss.Color("#F9E2AF")
	colourError   = lipgloss.Color("#F38BA8")
	colourBorder  = lipgloss.Color("#45475A")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colourAccent)
	mutedStyle   = lipgloss.NewStyle().Foreground(colourMuted)
	successStyle = lipgloss.NewStyle().Foreground(colourSuccess)
	warningStyle = lipgloss.NewStyle().Foreground(colourWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(colourError)
	borderStyle  = lipgloss.NewStyle().Foreground(colourBorder)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	numberStyle  = cellStyle.Align(lipgloss.Right)
)

// stateStyle colours a pass state.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "done":
		return successStyle
	case "failed":
		return errorStyle
	default:
		return warningStyle
	}
}
