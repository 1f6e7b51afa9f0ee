package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/JeffJna/instant-meeting-insights/internal/alert"
)

var (
	colorRed     = lipgloss.Color("#FF5555")
	colorOrange  = lipgloss.Color("#FFAA00")
	colorYellow  = lipgloss.Color("#FFFF55")
	colorCyan    = lipgloss.Color("#00FFFF")
	colorGray    = lipgloss.Color("#666666")
	colorDimGray = lipgloss.Color("#444444")
	colorWhite   = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	recordingStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	idleStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	interimStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	timestampStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite)

	panelTitleActiveStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorCyan)

	selectedStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Bold(true)

	dividerStyle = lipgloss.NewStyle().
			Foreground(colorDimGray)

	alertBannerStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#000000"))
)

// priorityColor maps a rule priority to its highlight colour.
func priorityColor(p alert.Priority) lipgloss.Color {
	switch p {
	case alert.High:
		return colorRed
	case alert.Medium:
		return colorOrange
	default:
		return colorYellow
	}
}

func highlightStyle(p alert.Priority) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Underline(true).Foreground(priorityColor(p))
}
