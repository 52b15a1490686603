package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLOR PALETTE - Adaptive colors for light and dark terminals
// ══════════════════════════════════════════════════════════════════════════════

var (
	ColorBgHighlight = lipgloss.AdaptiveColor{Light: "#D0D0D0", Dark: "#44475A"}
	ColorText        = lipgloss.AdaptiveColor{Light: "#1A1A1A", Dark: "#F8F8F2"}
	ColorSubtext     = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#BFBFBF"}
	ColorMuted       = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#6272A4"}

	ColorPrimary = lipgloss.AdaptiveColor{Light: "#6B47D9", Dark: "#BD93F9"}
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#006080", Dark: "#8BE9FD"}
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#007700", Dark: "#50FA7B"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#B06800", Dark: "#FFB86C"}
	ColorDanger  = lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF5555"}

	ColorBadgeText = lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#FFFFFF"}
)

// ══════════════════════════════════════════════════════════════════════════════
// PANEL STYLES - Controls on the left, result on the right
// ══════════════════════════════════════════════════════════════════════════════

var (
	// PanelStyle is the default style for unfocused panels
	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBgHighlight)

	// FocusedPanelStyle is the style for the panel receiving keys
	FocusedPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorPrimary)
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	labelStyle    = lipgloss.NewStyle().Foreground(ColorText)
	valueStyle    = lipgloss.NewStyle().Foreground(ColorInfo)
	mutedStyle    = lipgloss.NewStyle().Foreground(ColorMuted)
	errorStyle    = lipgloss.NewStyle().Foreground(ColorDanger)
	selectedStyle = lipgloss.NewStyle().Bold(true).Background(ColorBgHighlight)
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorSubtext).Underline(true)
	footerStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE RENDERING
// ══════════════════════════════════════════════════════════════════════════════

func renderBadge(label string, bg lipgloss.TerminalColor) string {
	return lipgloss.NewStyle().
		Foreground(ColorBadgeText).
		Background(bg).
		Bold(true).
		Padding(0, 1).
		Render(label)
}

// RenderStateBadge summarizes the chart state: querying, failed, stale or
// fresh.
func RenderStateBadge(querying, failed, stale bool) string {
	st := stateOf(querying, failed, stale)
	return renderBadge(st.String(), st.badgeColor())
}

// flagGlyphs marks render-trigger (r) and dont-refresh (d) controls.
func flagGlyphs(renderTrigger, dontRefresh bool) string {
	r, d := "·", "·"
	if renderTrigger {
		r = "r"
	}
	if dontRefresh {
		d = "d"
	}
	return mutedStyle.Render(r + d)
}
