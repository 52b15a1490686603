// Package ui is the terminal front end of an explore session: a control
// list with an inline editor on the left and the latest query result on the
// right. Keys that the browser surface would receive as window events are
// dispatched through the session's window so the session's own listeners
// handle them.
package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vanderheijden86/vizexplore/pkg/control"
	"github.com/vanderheijden86/vizexplore/pkg/debug"
	"github.com/vanderheijden86/vizexplore/pkg/explore"
	"github.com/vanderheijden86/vizexplore/pkg/nav"
	"github.com/vanderheijden86/vizexplore/pkg/plugin"
	"github.com/vanderheijden86/vizexplore/pkg/query"
	"github.com/vanderheijden86/vizexplore/pkg/querydef"
)

type focus int

const (
	focusList focus = iota
	focusEdit
	focusHelp
)

// RenderMsg carries a session render into the bubbletea loop.
type RenderMsg struct {
	Render explore.Render
}

// renderFeed keeps only the newest render; bubbletea redraws from it anyway.
type renderFeed struct {
	ch chan explore.Render
}

func newRenderFeed() *renderFeed {
	return &renderFeed{ch: make(chan explore.Render, 1)}
}

func (f *renderFeed) push(r explore.Render) {
	for {
		select {
		case f.ch <- r:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

// waitForRenderCmd blocks until the session publishes the next render.
func waitForRenderCmd(f *renderFeed) tea.Cmd {
	return func() tea.Msg {
		return RenderMsg{Render: <-f.ch}
	}
}

// Option configures a Model.
type Option func(*Model)

// WithDefinitions supplies the core control definitions used to validate
// edits.
func WithDefinitions(defs []control.Definition) Option {
	return func(m *Model) {
		for _, d := range defs {
			m.defs[d.Name] = d
		}
	}
}

// WithRegistry makes plugin-contributed definitions available to the editor.
func WithRegistry(reg *plugin.Registry) Option {
	return func(m *Model) { m.registry = reg }
}

// WithClipboard replaces the system clipboard writer.
func WithClipboard(write func(string) error) Option {
	return func(m *Model) { m.writeClipboard = write }
}

// Model is the bubbletea model of one explore session.
type Model struct {
	session  *explore.Session
	feed     *renderFeed
	unsub    func()
	defs     map[string]control.Definition
	registry *plugin.Registry

	writeClipboard func(string) error

	focused  focus
	cursor   int
	input    textinput.Model
	editName string
	helpView string

	render        explore.Render
	status        string
	statusIsError bool

	width  int
	height int
}

// NewModel creates a model for s and subscribes to its renders. The session
// should be mounted by the caller.
func NewModel(s *explore.Session, opts ...Option) Model {
	ti := textinput.New()
	ti.Prompt = "› "
	ti.CharLimit = 1024

	m := Model{
		session:        s,
		feed:           newRenderFeed(),
		defs:           make(map[string]control.Definition),
		writeClipboard: clipboard.WriteAll,
		input:          ti,
		render:         explore.Render{Snapshot: s.Snapshot(), Stale: s.IsStale(), Querying: s.Querying()},
		width:          100,
		height:         30,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.unsub = s.Subscribe(m.feed.push)
	return m
}

// Close stops the render subscription.
func (m Model) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}

// Init starts listening for renders.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForRenderCmd(m.feed))
}

// Update handles bubbletea messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if m.focused == focusHelp {
			m.helpView = renderHelp(m.width)
		}
		return m, nil

	case RenderMsg:
		m.render = msg.Render
		m.clampCursor()
		if msg.Render.Err != nil && !errors.Is(msg.Render.Err, query.ErrAborted) {
			m.setError(msg.Render.Err.Error())
		}
		return m, waitForRenderCmd(m.feed)

	case clipboardMsg:
		if msg.err != nil {
			m.setError("Clipboard: " + msg.err.Error())
		} else {
			m.setStatus("Copied permalink")
		}
		return m, nil

	case tea.KeyMsg:
		switch m.focused {
		case focusHelp:
			m.focused = focusList
			return m, nil
		case focusEdit:
			return m.handleEditKeys(msg)
		}
		return m.handleListKeys(msg)
	}

	if m.focused == focusEdit {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	names := m.render.Snapshot.Names()

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(names)-1 {
			m.cursor++
		}
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		m.cursor = max(len(names)-1, 0)
	case "enter":
		if len(names) == 0 {
			return m, nil
		}
		m.editName = names[m.cursor]
		m.input.SetValue(formatValue(m.render.Snapshot.Value(m.editName)))
		m.input.CursorEnd()
		m.focused = focusEdit
		return m, m.input.Focus()
	case "alt+enter", "ctrl+r":
		m.session.Window().DispatchKey(nav.KeyEvent{Key: "enter", Ctrl: true})
		m.setStatus("Running query")
	case "ctrl+s":
		if m.session.Definition().ChartID == 0 {
			m.setError("No saved chart to overwrite")
			return m, nil
		}
		m.session.Window().DispatchKey(nav.KeyEvent{Key: "s", Ctrl: true})
		m.setStatus("Saving chart")
	case "x":
		if m.session.StopQuery() {
			m.setStatus("Query stopped")
		}
	case "alt+left", "[":
		if !m.session.Window().Back() {
			m.setStatus("No earlier entry")
		}
	case "alt+right", "]":
		if !m.session.Window().Forward() {
			m.setStatus("No later entry")
		}
	case "y":
		return m, m.copyPermalinkCmd()
	case "?":
		m.helpView = renderHelp(m.width)
		m.focused = focusHelp
	}
	return m, nil
}

func (m Model) handleEditKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.stopEditing()
		return m, nil
	case tea.KeyEnter:
		m.commitEdit()
		m.stopEditing()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// commitEdit validates the editor value like the widget would and hands the
// update to the session.
func (m *Model) commitEdit() {
	old := m.render.Snapshot.Value(m.editName)
	value := parseValue(m.input.Value(), old)

	var errs []string
	if def, ok := m.definition(m.editName); ok {
		errs = def.Validate(value)
	}
	debug.Log("ui: set %s=%v (%d errors)", m.editName, value, len(errs))
	m.session.SetControl(control.Update{Name: m.editName, Value: value, ValidationErrors: errs})
	if len(errs) > 0 {
		m.setError(m.editName + ": " + strings.Join(errs, "; "))
	} else {
		m.setStatus("Updated " + m.editName)
	}
}

func (m *Model) stopEditing() {
	m.input.Blur()
	m.input.Reset()
	m.editName = ""
	m.focused = focusList
}

func (m Model) definition(name string) (control.Definition, bool) {
	if d, ok := m.defs[name]; ok {
		return d, true
	}
	if m.registry == nil {
		return control.Definition{}, false
	}
	vt, _ := m.render.Snapshot.Value(querydef.KeyVizType).(string)
	for _, d := range m.registry.Controls(vt) {
		if d.Name == name {
			return d, true
		}
	}
	return control.Definition{}, false
}

type clipboardMsg struct{ err error }

func (m Model) copyPermalinkCmd() tea.Cmd {
	u := m.session.Window().Location().String()
	write := m.writeClipboard
	return func() tea.Msg {
		return clipboardMsg{err: write(u)}
	}
}

func (m *Model) clampCursor() {
	n := m.render.Snapshot.Len()
	if m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
}

func (m *Model) setStatus(s string) {
	m.status, m.statusIsError = s, false
}

func (m *Model) setError(s string) {
	m.status, m.statusIsError = s, true
}

// View renders the screen.
func (m Model) View() string {
	if m.focused == focusHelp {
		return m.helpView
	}

	header := m.renderHeader()
	footer := m.renderFooter()
	bodyHeight := max(m.height-lipgloss.Height(header)-lipgloss.Height(footer)-2, 3)

	listWidth := max(m.width*2/5, 30)
	resultWidth := max(m.width-listWidth-4, 20)

	listStyle := FocusedPanelStyle
	if m.focused == focusEdit {
		listStyle = PanelStyle
	}
	list := listStyle.Width(listWidth).Height(bodyHeight).Render(m.renderControls(listWidth, bodyHeight))
	result := PanelStyle.Width(resultWidth).Height(bodyHeight).Render(m.renderResult(resultWidth, bodyHeight))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.JoinHorizontal(lipgloss.Top, list, result),
		footer,
	)
}

func (m Model) renderHeader() string {
	def := m.session.Definition()
	parts := []string{titleStyle.Render("vx explore")}
	if vt := def.VizType(); vt != "" {
		parts = append(parts, valueStyle.Render(vt))
	}
	if !def.Datasource.IsZero() {
		parts = append(parts, mutedStyle.Render(def.Datasource.String()))
	}
	if def.ChartID != 0 {
		parts = append(parts, mutedStyle.Render(fmt.Sprintf("chart %d", def.ChartID)))
	}
	failed := m.render.Err != nil && !errors.Is(m.render.Err, query.ErrAborted)
	st := stateOf(m.render.Querying, failed, m.render.Stale)
	badge := renderBadge(st.String(), st.badgeColor())
	return headerBar(st).Width(m.width).Render(strings.Join(parts, "  ") + "  " + badge)
}

func (m Model) renderControls(width, height int) string {
	snap := m.render.Snapshot
	stale := make(map[string]bool, len(m.render.StaleControls))
	for _, n := range m.render.StaleControls {
		stale[n] = true
	}

	const labelWidth = 18
	valueWidth := max(width-labelWidth-6, 8)

	var lines []string
	for i, name := range snap.Names() {
		c, _ := snap.Get(name)
		label := c.Label
		if label == "" {
			label = name
		}
		marker := " "
		if stale[name] {
			marker = lipgloss.NewStyle().Foreground(ColorWarning).Render("*")
		}
		value := formatValue(c.Value)
		if m.focused == focusEdit && name == m.editName {
			value = m.input.View()
		} else {
			value = valueStyle.Render(truncate(value, valueWidth))
		}
		row := marker + flagGlyphs(c.RenderTrigger, c.DontRefreshOnChange) + " " +
			labelStyle.Render(padRight(truncate(label, labelWidth), labelWidth)) + " " + value
		if i == m.cursor {
			row = selectedStyle.Render(row)
		}
		lines = append(lines, row)
		for _, e := range c.ValidationErrors {
			lines = append(lines, "    "+errorStyle.Render(truncate(e, width-4)))
		}
	}
	if len(lines) == 0 {
		return mutedStyle.Render("No controls")
	}

	// Keep the cursor row in view.
	if len(lines) > height {
		start := min(max(m.cursorLine()-height/2, 0), len(lines)-height)
		lines = lines[start : start+height]
	}
	return strings.Join(lines, "\n")
}

// cursorLine maps the cursor to its rendered line, counting error lines.
func (m Model) cursorLine() int {
	line := 0
	for i, name := range m.render.Snapshot.Names() {
		if i == m.cursor {
			return line
		}
		c, _ := m.render.Snapshot.Get(name)
		line += 1 + len(c.ValidationErrors)
	}
	return line
}

func (m Model) renderResult(width, height int) string {
	r := m.render
	switch {
	case r.Querying:
		return mutedStyle.Render("Running query…")
	case r.Err != nil && errors.Is(r.Err, query.ErrAborted):
		return mutedStyle.Render("Query stopped")
	case r.Err != nil:
		return errorStyle.Render(truncate(r.Err.Error(), width))
	case len(r.ValidationErrors) > 0:
		return errorStyle.Render(fmt.Sprintf("%d controls have errors", len(r.ValidationErrors)))
	case len(r.Result.Columns) == 0:
		return mutedStyle.Render("No results")
	}

	cols := r.Result.Columns
	colWidth := max(width/len(cols)-1, 4)
	cell := func(s string) string {
		return padRight(truncate(s, colWidth), colWidth)
	}

	var b strings.Builder
	for i, c := range cols {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(headerStyle.Render(cell(c)))
	}
	b.WriteString("\n")

	maxRows := max(height-2, 1)
	for i, row := range r.Result.Rows {
		if i == maxRows {
			break
		}
		for j, v := range row {
			if j > 0 {
				b.WriteString(" ")
			}
			b.WriteString(cell(formatValue(v)))
		}
		b.WriteString("\n")
	}

	summary := fmt.Sprintf("%d rows", r.Result.RowCount())
	if d := formatDuration(r.Result.Duration); d != "" {
		summary += " in " + d
	}
	b.WriteString(mutedStyle.Render(summary))
	return b.String()
}

func (m Model) renderFooter() string {
	right := "? help  q quit"
	avail := max(m.width-lipgloss.Width(right)-2, 10)

	var left string
	switch {
	case m.status != "" && m.statusIsError:
		left = errorStyle.Render(truncate(m.status, avail))
	case m.status != "":
		left = lipgloss.NewStyle().Foreground(ColorSuccess).Render(truncate(m.status, avail))
	default:
		left = footerStyle.Render(truncate(m.session.Window().Location().String(), avail))
	}
	return left + footerStyle.Render("  "+right)
}
