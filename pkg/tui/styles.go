package tui

import "github.com/charmbracelet/lipgloss"

// The panes stick to the 16-color ANSI palette so the table reads the same
// over ssh as it does locally.
var (
	colorAccent = lipgloss.Color("6")
	colorDim    = lipgloss.Color("8")

	styleTitleBar = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	styleHint = lipgloss.NewStyle().
			Foreground(colorDim).
			Italic(true)

	stylePaneTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("4")).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))

	styleMethod = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("3"))

	styleError = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1"))

	styleRewriteTag = lipgloss.NewStyle().
			Foreground(colorAccent).
			Background(lipgloss.Color("22")).
			Padding(0, 1)

	styleRule = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	styleRowSelected = lipgloss.NewStyle().
			Background(lipgloss.Color("237")).
			Bold(true)
)

// statusColor maps an HTTP status class to its table color.
func statusColor(code int) lipgloss.Color {
	switch {
	case code >= 500:
		return lipgloss.Color("1")
	case code >= 400:
		return lipgloss.Color("3")
	case code >= 300:
		return colorAccent
	case code >= 200:
		return lipgloss.Color("2")
	default:
		return colorDim
	}
}
