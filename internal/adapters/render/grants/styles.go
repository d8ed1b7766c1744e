package grants

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title    lipgloss.Style
	header   lipgloss.Style
	item     lipgloss.Style
	detail   lipgloss.Style
	note     lipgloss.Style
	warning  lipgloss.Style
	section  lipgloss.Style
	empty    lipgloss.Style
	pending  lipgloss.Style
	approved lipgloss.Style
	denied   lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true),
		header:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		item:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		detail:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		note:     lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245")),
		warning:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		section:  lipgloss.NewStyle().MarginTop(1),
		empty:    lipgloss.NewStyle().Faint(true),
		pending:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		approved: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("78")),
		denied:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
	}
}
