package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#7D56F4")
	colorSuccess = lipgloss.Color("#04B575")
	colorError   = lipgloss.Color("#FF5F87")
	colorWarning = lipgloss.Color("#FFB86C")
	colorMuted   = lipgloss.Color("#626262")
)

// Styles holds the lipgloss styles of the client.
type Styles struct {
	Title    lipgloss.Style
	Phase    lipgloss.Style
	Selected lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Muted    lipgloss.Style
	Log      lipgloss.Style
}

// DefaultStyles returns the default styles.
func DefaultStyles() Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
		Phase:    lipgloss.NewStyle().Bold(true),
		Selected: lipgloss.NewStyle().Foreground(colorPrimary).Bold(true),
		Success:  lipgloss.NewStyle().Foreground(colorSuccess),
		Error:    lipgloss.NewStyle().Foreground(colorError),
		Warning:  lipgloss.NewStyle().Foreground(colorWarning),
		Muted:    lipgloss.NewStyle().Foreground(colorMuted),
		Log:      lipgloss.NewStyle().Foreground(colorMuted).PaddingLeft(2),
	}
}
