package report

import (
	"charm.land/lipgloss/v2"
)

// Color palette.
var (
	colorGreen  = lipgloss.Color("#04B575")
	colorRed    = lipgloss.Color("#FF4672")
	colorYellow = lipgloss.Color("#FDFF90")
	colorCyan   = lipgloss.Color("#00E5FF")
	colorSubtle = lipgloss.Color("#626262")
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	okStyle = lipgloss.NewStyle().
		Foreground(colorGreen)

	warnStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	badStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	criticalStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	aliasStyle = lipgloss.NewStyle().
			Foreground(colorCyan)

	subtleStyle = lipgloss.NewStyle().
			Foreground(colorSubtle)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)
)
