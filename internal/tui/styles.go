package tui

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#7C3AED")
	selfColor    = lipgloss.Color("#10B981")
	mutedColor   = lipgloss.Color("#9CA3AF")
	errorColor   = lipgloss.Color("#EF4444")
	activeBorder = lipgloss.Color("#F59E0B")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(selfColor)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	selectedItemStyle = lipgloss.NewStyle().
				Foreground(activeBorder).
				Bold(true)

	chatWindowStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Border(lipgloss.NormalBorder(), false, false, true, false)

	ownMessageStyle = lipgloss.NewStyle().
			Foreground(selfColor).
			Bold(true)

	otherMessageStyle = lipgloss.NewStyle().
				Foreground(primaryColor).
				Bold(true)
)
