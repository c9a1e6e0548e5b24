package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/star/orbitlab/internal/conjunction"
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444466")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ffff"))

	runningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff88"))
	pausedStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffaa00"))

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888899")).Width(10)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ccff"))
	focusStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff00ff"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666688"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff4444"))
	orbitStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#33aaff"))
	graphStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff88"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666688")).Italic(true)
)

// riskBadge renders a risk level as a colored label.
func riskBadge(r conjunction.Risk) string {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#000000"))
	switch r {
	case conjunction.RiskHigh:
		return base.Background(lipgloss.Color("#ff4444")).Render(string(r))
	case conjunction.RiskModerate:
		return base.Background(lipgloss.Color("#ffcc00")).Render(string(r))
	default:
		return base.Background(lipgloss.Color("#00ff88")).Render(string(r))
	}
}
