package ui

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vanderheijden86/vizexplore/pkg/control"
	"github.com/vanderheijden86/vizexplore/pkg/explore"
	"github.com/vanderheijden86/vizexplore/pkg/nav"
	"github.com/vanderheijden86/vizexplore/pkg/query"
)

type testEnv struct {
	session *explore.Session
	window  *nav.Window
	runs    *atomic.Int32
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	runs := &atomic.Int32{}
	exec := query.ExecutorFunc(func(ctx context.Context, req query.Request) (query.Result, error) {
		runs.Add(1)
		return query.Result{
			Columns: []string{"country", "count"},
			Rows:    [][]any{{"NL", 12}, {"BE", 7}},
		}, nil
	})
	win := nav.NewWindow("http://localhost/explore/")
	s := explore.New(explore.Options{
		Controls: control.NewSnapshot(
			control.Control{Name: "color_scheme", Value: "bnbColors", RenderTrigger: true},
			control.Control{Name: "metric", Label: "Metric", Value: "count"},
			control.Control{Name: "row_limit", Value: float64(100)},
		),
		Window:    win,
		Executor:  exec,
		AutoQuery: true,
	})
	if err := s.Mount(context.Background()); err != nil {
		t.Fatalf("mount: %v", err)
	}
	t.Cleanup(s.Close)
	return testEnv{session: s, window: win, runs: runs}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func press(m Model, key string) (Model, tea.Cmd) {
	var msg tea.KeyMsg
	switch key {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "alt+enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter, Alt: true}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+s":
		msg = tea.KeyMsg{Type: tea.KeyCtrlS}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	updated, cmd := m.Update(msg)
	return updated.(Model), cmd
}

func editSelected(t *testing.T, m Model, value string) Model {
	t.Helper()
	m, _ = press(m, "enter")
	if m.focused != focusEdit {
		t.Fatalf("expected edit focus, got %v", m.focused)
	}
	m.input.SetValue(value)
	m, _ = press(m, "enter")
	if m.focused != focusList {
		t.Fatalf("expected list focus after commit, got %v", m.focused)
	}
	return m
}

func TestCursorStaysInBounds(t *testing.T) {
	env := newTestEnv(t)
	m := NewModel(env.session)
	defer m.Close()

	m, _ = press(m, "k")
	if m.cursor != 0 {
		t.Fatalf("cursor moved above first control: %d", m.cursor)
	}
	m, _ = press(m, "G")
	if m.cursor != 2 {
		t.Fatalf("expected cursor on last control, got %d", m.cursor)
	}
	m, _ = press(m, "j")
	if m.cursor != 2 {
		t.Fatalf("cursor moved past last control: %d", m.cursor)
	}
	m, _ = press(m, "g")
	if m.cursor != 0 {
		t.Fatalf("expected cursor reset, got %d", m.cursor)
	}
}

func TestEditAppliesValidatedUpdate(t *testing.T) {
	env := newTestEnv(t)
	m := NewModel(env.session, WithDefinitions([]control.Definition{
		{Name: "metric", Required: true},
	}))
	defer m.Close()

	m, _ = press(m, "j") // metric
	m = editSelected(t, m, "  ")

	c, _ := env.session.Snapshot().Get("metric")
	if !c.HasErrors() {
		t.Fatalf("expected validation errors on empty metric, got %+v", c)
	}
	if !m.statusIsError || !strings.Contains(m.status, "metric") {
		t.Errorf("expected error status naming the control, got %q", m.status)
	}

	m = editSelected(t, m, "sum")
	c, _ = env.session.Snapshot().Get("metric")
	if c.HasErrors() || c.Value != "sum" {
		t.Fatalf("expected clean metric=sum, got %+v", c)
	}
	if m.statusIsError {
		t.Errorf("unexpected error status %q", m.status)
	}
	if c.Label != "Metric" {
		t.Errorf("edit must keep the control label, got %q", c.Label)
	}
}

func TestEditKeepsNumericShape(t *testing.T) {
	env := newTestEnv(t)
	m := NewModel(env.session)
	defer m.Close()

	m, _ = press(m, "G") // row_limit
	editSelected(t, m, "250")

	if got := env.session.Snapshot().Value("row_limit"); got != float64(250) {
		t.Fatalf("expected float64 250, got %#v", got)
	}
	waitFor(t, func() bool { return env.runs.Load() == 2 })
}

func TestEditEscapeDiscards(t *testing.T) {
	env := newTestEnv(t)
	m := NewModel(env.session)
	defer m.Close()

	m, _ = press(m, "enter")
	m.input.SetValue("other")
	m, _ = press(m, "esc")
	if m.focused != focusList || m.editName != "" {
		t.Fatalf("expected editor closed, focus %v name %q", m.focused, m.editName)
	}
	if got := env.session.Snapshot().Value("color_scheme"); got != "bnbColors" {
		t.Fatalf("escape must not apply the edit, got %v", got)
	}
}

func TestRunQueryShortcutGoesThroughWindow(t *testing.T) {
	env := newTestEnv(t)
	m := NewModel(env.session)
	defer m.Close()

	waitFor(t, func() bool { return env.runs.Load() == 1 })
	m, _ = press(m, "alt+enter")
	waitFor(t, func() bool { return env.runs.Load() == 2 })
	if m.status != "Running query" {
		t.Errorf("unexpected status %q", m.status)
	}
}

func TestSaveWithoutChartReportsError(t *testing.T) {
	env := newTestEnv(t)
	m := NewModel(env.session)
	defer m.Close()

	before := env.window.Len()
	m, _ = press(m, "ctrl+s")
	if !m.statusIsError {
		t.Fatalf("expected error status, got %q", m.status)
	}
	if env.window.Len() != before {
		t.Fatal("save without a chart must not navigate")
	}
}

func TestBackRestoresHistoryEntry(t *testing.T) {
	env := newTestEnv(t)
	m := NewModel(env.session)
	defer m.Close()

	env.window.ReplaceState(map[string]any{"metric": "avg"}, "", "/explore/?form_data_key=a")
	env.window.PushState(map[string]any{"metric": "max"}, "", "/explore/?form_data_key=b")

	m, _ = press(m, "[")
	if got := env.session.Snapshot().Value("metric"); got != "avg" {
		t.Fatalf("expected restored metric avg, got %v", got)
	}
	m, _ = press(m, "]")
	if got := env.session.Snapshot().Value("metric"); got != "max" {
		t.Fatalf("expected restored metric max, got %v", got)
	}
	m, _ = press(m, "]")
	if m.status != "No later entry" {
		t.Errorf("expected end-of-history status, got %q", m.status)
	}
}

func TestCopyPermalink(t *testing.T) {
	env := newTestEnv(t)
	var copied string
	m := NewModel(env.session, WithClipboard(func(s string) error {
		copied = s
		return nil
	}))
	defer m.Close()

	m, cmd := press(m, "y")
	if cmd == nil {
		t.Fatal("expected clipboard command")
	}
	updated, _ := m.Update(cmd())
	m = updated.(Model)
	if copied != env.window.Location().String() {
		t.Errorf("copied %q, want %q", copied, env.window.Location().String())
	}
	if m.status != "Copied permalink" {
		t.Errorf("unexpected status %q", m.status)
	}

	m.writeClipboard = func(string) error { return errors.New("no display") }
	m, cmd = press(m, "y")
	updated, _ = m.Update(cmd())
	m = updated.(Model)
	if !m.statusIsError {
		t.Error("expected clipboard failure to be reported")
	}
}

func TestHelpOverlayToggle(t *testing.T) {
	env := newTestEnv(t)
	m := NewModel(env.session)
	defer m.Close()

	m, _ = press(m, "?")
	if m.focused != focusHelp || m.helpView == "" {
		t.Fatal("expected help overlay shown")
	}
	if m.View() != m.helpView {
		t.Error("help overlay should replace the main view")
	}
	m, _ = press(m, "x")
	if m.focused != focusList {
		t.Fatalf("expected help dismissed, got focus %v", m.focused)
	}
}

func TestQuitKey(t *testing.T) {
	env := newTestEnv(t)
	m := NewModel(env.session)
	defer m.Close()

	_, cmd := press(m, "q")
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestRenderMsgDrivesView(t *testing.T) {
	env := newTestEnv(t)
	m := NewModel(env.session)
	defer m.Close()

	updated, cmd := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	m = updated.(Model)
	if cmd != nil {
		t.Fatal("resize should not issue commands")
	}

	snap := env.session.Snapshot()
	updated, cmd = m.Update(RenderMsg{Render: explore.Render{
		Snapshot:      snap,
		Stale:         true,
		StaleControls: []string{"metric"},
		Result: query.Result{
			Columns:  []string{"country", "count"},
			Rows:     [][]any{{"NL", 12}},
			Duration: 42 * time.Millisecond,
		},
	}})
	m = updated.(Model)
	if cmd == nil {
		t.Fatal("expected the model to keep waiting for renders")
	}

	view := m.View()
	for _, want := range []string{"STALE", "country", "NL", "1 rows in 42ms", "Metric"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	updated, _ = m.Update(RenderMsg{Render: explore.Render{
		Snapshot: snap,
		Err:      errors.New("datasource unreachable"),
	}})
	m = updated.(Model)
	if !m.statusIsError || !strings.Contains(m.View(), "FAILED") {
		t.Error("expected failed render to surface as error")
	}

	updated, _ = m.Update(RenderMsg{Render: explore.Render{Snapshot: snap, Err: query.ErrAborted}})
	m = updated.(Model)
	if !strings.Contains(m.View(), "Query stopped") {
		t.Error("expected aborted query to show as stopped")
	}
}

func TestRenderFeedKeepsNewest(t *testing.T) {
	f := newRenderFeed()
	for i := range 3 {
		f.push(explore.Render{StaleControls: []string{string(rune('a' + i))}})
	}
	msg := waitForRenderCmd(f)().(RenderMsg)
	if got := msg.Render.StaleControls; len(got) != 1 || got[0] != "c" {
		t.Fatalf("expected newest render, got %v", got)
	}
}

func TestSessionRendersReachFeed(t *testing.T) {
	env := newTestEnv(t)
	m := NewModel(env.session)
	defer m.Close()

	env.session.SetControl(control.Update{Name: "color_scheme", Value: "d3Category10"})

	select {
	case r := <-m.feed.ch:
		if r.Snapshot.Value("color_scheme") == nil {
			t.Fatal("render without snapshot")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no render delivered")
	}
}
