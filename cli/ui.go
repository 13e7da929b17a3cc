package cli

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1F3A5F"))
	subtitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5f6368"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00635D"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#D93025"))
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#1a73e8"))
	urlStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00635D")).Underline(true)
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5f6368")).Width(14)
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2).BorderForeground(lipgloss.Color("#1F3A5F"))
	capStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#B3571C"))
)

func Banner() string {
	return titleStyle.Render(`
  ╔══════════════════════════╗
  ║   🎟  litevault  🎟      ║
  ║  replicated token vault  ║
  ╚══════════════════════════╝`)
}
