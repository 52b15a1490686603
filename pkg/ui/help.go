package ui

import (
	"github.com/charmbracelet/glamour"
)

const helpMarkdown = `# vx explore

## Controls

| Key | Action |
|-----|--------|
| ↑/k ↓/j | move between controls |
| enter | edit the selected control |
| esc | cancel editing |

## Chart

| Key | Action |
|-----|--------|
| alt+enter / ctrl+r | run the query |
| ctrl+s | overwrite the saved chart |
| x | stop the running query |

## History

| Key | Action |
|-----|--------|
| alt+← / [ | back |
| alt+→ / ] | forward |
| y | copy the permalink |

Controls marked **r** only re-render the chart. Controls marked **d** never
make the chart stale.
`

// renderHelp renders the help overlay for width columns. On renderer failure
// the raw markdown is shown.
func renderHelp(width int) string {
	wrap := width - 4
	if wrap < 40 {
		wrap = 40
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return helpMarkdown
	}
	out, err := r.Render(helpMarkdown)
	if err != nil {
		return helpMarkdown
	}
	return out
}
