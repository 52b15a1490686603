package ui

import (
	"os"

	"github.com/charmbracelet/colorprofile"
	"github.com/charmbracelet/lipgloss"
)

// TermProfile is detected once; tests overwrite it to pin a profile.
var TermProfile colorprofile.Profile

func init() {
	TermProfile = colorprofile.Detect(os.Stdout, os.Environ())
}

// chartState is what the header tells the user about the shown result.
type chartState int

const (
	stateFresh chartState = iota
	stateStale
	stateRunning
	stateFailed
)

// stateOf orders the flags by urgency: a running query hides a failure from
// the previous run, and a failure hides staleness.
func stateOf(querying, failed, stale bool) chartState {
	switch {
	case querying:
		return stateRunning
	case failed:
		return stateFailed
	case stale:
		return stateStale
	default:
		return stateFresh
	}
}

func (s chartState) String() string {
	switch s {
	case stateRunning:
		return "RUNNING"
	case stateFailed:
		return "FAILED"
	case stateStale:
		return "STALE"
	default:
		return "FRESH"
	}
}

// stateColors holds the badge color per state at each profile tier.
var stateColors = map[chartState]struct {
	adaptive lipgloss.AdaptiveColor
	ansi     lipgloss.ANSIColor
	tint     string
}{
	stateFresh:   {ColorSuccess, 2, "#1C2B22"},
	stateStale:   {ColorWarning, 3, "#2E2618"},
	stateRunning: {ColorInfo, 6, "#18272E"},
	stateFailed:  {ColorDanger, 1, "#2E1A1A"},
}

// badgeColor falls back to the 16 basic colors below ANSI256, where the
// adaptive hex values would be approximated into unreadable neighbours.
func (s chartState) badgeColor() lipgloss.TerminalColor {
	c := stateColors[s]
	if TermProfile < colorprofile.ANSI256 {
		return c.ansi
	}
	return c.adaptive
}

// headerBar tints the header with the state on TrueColor terminals; other
// terminals keep their own background.
func headerBar(s chartState) lipgloss.Style {
	st := lipgloss.NewStyle().Padding(0, 1)
	if TermProfile >= colorprofile.TrueColor {
		st = st.Background(lipgloss.Color(stateColors[s].tint))
	}
	if TermProfile >= colorprofile.ANSI256 {
		return st.Foreground(ColorText)
	}
	return st.Foreground(lipgloss.ANSIColor(7))
}
