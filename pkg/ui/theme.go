package ui

import "github.com/charmbracelet/lipgloss"

// Theme holds the colors and base styles shared by every view.
type Theme struct {
	Renderer *lipgloss.Renderer

	Primary   lipgloss.AdaptiveColor
	Secondary lipgloss.AdaptiveColor
	Highlight lipgloss.AdaptiveColor
	Muted     lipgloss.AdaptiveColor
	Subtext   lipgloss.AdaptiveColor
	Border    lipgloss.AdaptiveColor
	Error     lipgloss.AdaptiveColor
	Success   lipgloss.AdaptiveColor

	Base     lipgloss.Style
	Selected lipgloss.Style
}

// DefaultTheme builds the standard palette on r.
func DefaultTheme(r *lipgloss.Renderer) Theme {
	t := Theme{
		Renderer:  r,
		Primary:   lipgloss.AdaptiveColor{Light: "#7D56F4", Dark: "#BD93F9"},
		Secondary: lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#F1FA8C"},
		Highlight: lipgloss.AdaptiveColor{Light: "#006080", Dark: "#8BE9FD"},
		Muted:     lipgloss.AdaptiveColor{Light: "#9A9A9A", Dark: "#6272A4"},
		Subtext:   lipgloss.AdaptiveColor{Light: "#555555", Dark: "#BFBFBF"},
		Border:    lipgloss.AdaptiveColor{Light: "#D0D0D0", Dark: "#44475A"},
		Error:     lipgloss.AdaptiveColor{Light: "#C0392B", Dark: "#FF5555"},
		Success:   lipgloss.AdaptiveColor{Light: "#1E8449", Dark: "#50FA7B"},
	}
	t.Base = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1A1A1A", Dark: "#F8F8F2"})
	t.Selected = r.NewStyle().
		Background(lipgloss.AdaptiveColor{Light: "#E8E0FF", Dark: "#44475A"}).
		Bold(true)
	return t
}

// TestTheme returns a theme on a renderer with no terminal attached.
func TestTheme() Theme {
	return DefaultTheme(lipgloss.NewRenderer(nil))
}
