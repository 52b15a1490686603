// Package ttyguard marks non-interactive invocations before any terminal
// library starts probing.
//
// Lipgloss background detection can write OSC/DSR control sequences to
// stdout. In a real terminal they are harmless; piped into a JSON consumer
// they corrupt the output. Importing this package for its side effect sets
// CI=1 for such invocations, which termenv treats as "do not probe".
package ttyguard

import (
	"os"
	"strings"
)

func init() {
	if os.Getenv("CI") != "" {
		return
	}
	if !shouldSuppress(os.Args[1:], os.Getenv("VX_PRINT") == "1", os.Getenv("VX_TEST_MODE") != "") {
		return
	}
	_ = os.Setenv("CI", "1")
}

// shouldSuppress reports whether args describe a run that never starts the
// TUI.
func shouldSuppress(args []string, envPrint, envTest bool) bool {
	if envPrint || envTest {
		return true
	}
	for _, arg := range args {
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if i := strings.IndexByte(name, '='); i >= 0 {
			if name[i+1:] == "false" {
				continue
			}
			name = name[:i]
		}
		switch name {
		case "print", "serve", "version", "help", "h":
			return true
		}
	}
	return false
}
