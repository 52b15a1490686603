package explore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vanderheijden86/vizexplore/pkg/control"
	"github.com/vanderheijden86/vizexplore/pkg/history"
	"github.com/vanderheijden86/vizexplore/pkg/nav"
	"github.com/vanderheijden86/vizexplore/pkg/plugin"
	"github.com/vanderheijden86/vizexplore/pkg/query"
	"github.com/vanderheijden86/vizexplore/pkg/querydef"
)

type fakePersistence struct {
	mu      sync.Mutex
	puts    int
	updates int
	last    history.PutRequest
}

func (f *fakePersistence) Put(ctx context.Context, req history.PutRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.last = req
	return fmt.Sprintf("key-%d", f.puts), nil
}

func (f *fakePersistence) Update(ctx context.Context, key string, req history.PutRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	f.last = req
	return nil
}

func (f *fakePersistence) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts, f.updates
}

type countingExecutor struct {
	runs atomic.Int64
	mu   sync.Mutex
	reqs []query.Request
	// block, when set, holds every run until ctx is done.
	block bool
}

func (e *countingExecutor) Execute(ctx context.Context, req query.Request) (query.Result, error) {
	e.runs.Add(1)
	e.mu.Lock()
	e.reqs = append(e.reqs, req)
	e.mu.Unlock()
	if e.block {
		<-ctx.Done()
		return query.Result{}, ctx.Err()
	}
	return query.Result{Columns: []string{"count"}, Rows: [][]any{{int64(1)}}}, nil
}

func (e *countingExecutor) lastRequest() query.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reqs[len(e.reqs)-1]
}

type renderLog struct {
	mu      sync.Mutex
	renders []Render
}

func (l *renderLog) record(r Render) {
	l.mu.Lock()
	l.renders = append(l.renders, r)
	l.mu.Unlock()
}

func (l *renderLog) last() Render {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.renders[len(l.renders)-1]
}

func (l *renderLog) rerenders() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.renders {
		if r.Rerender {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func baseControls() control.Snapshot {
	return control.NewSnapshot(
		control.Control{Name: "viz_type", Value: "line"},
		control.Control{Name: "datasource", Value: "3__table"},
		control.Control{Name: "granularity", Value: "day"},
		control.Control{Name: "color_scheme", Value: "set1", RenderTrigger: true},
		control.Control{Name: "description", Value: "", DontRefreshOnChange: true},
	)
}

type harness struct {
	s      *Session
	store  *fakePersistence
	exec   *countingExecutor
	window *nav.Window
	log    *renderLog
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		store:  &fakePersistence{},
		exec:   &countingExecutor{},
		window: nav.NewWindow("/explore/?datasource_id=3&datasource_type=table"),
		log:    &renderLog{},
	}
	opts := Options{
		Controls:        baseControls(),
		Window:          h.window,
		Persistence:     h.store,
		Executor:        h.exec,
		HistoryDebounce: time.Hour,
		AutoQuery:       true,
		Title:           "untitled",
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.s = New(opts)
	h.s.Subscribe(h.log.record)
	t.Cleanup(h.s.Close)
	return h
}

func (h *harness) mount(t *testing.T) {
	t.Helper()
	if err := h.s.Mount(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return h.exec.runs.Load() == 1 && !h.s.Querying() })
}

func TestMount_InitialQueryAndReplaceEntry(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)

	if err := h.s.Mount(context.Background()); err != nil {
		t.Fatalf("second mount must be a no-op, got %v", err)
	}
	if req := h.exec.lastRequest(); req.Datasource.ID != 3 || req.FormData["granularity"] != "day" {
		t.Fatalf("unexpected initial request %+v", req)
	}

	h.s.FlushHistory()
	puts, updates := h.store.counts()
	if puts != 1 || updates != 0 {
		t.Fatalf("expected one put on mount, got puts=%d updates=%d", puts, updates)
	}
	if h.window.Len() != 1 {
		t.Fatalf("mount must replace, not push: len=%d", h.window.Len())
	}
	if got := h.window.Location().Query().Get(querydef.ParamFormDataKey); got != "key-1" {
		t.Fatalf("form_data_key=%q", got)
	}
	if h.window.ListenerCount(nav.EventPopState) != 1 || h.window.ListenerCount(nav.EventKeyDown) != 1 {
		t.Fatal("expected one popstate and one keydown listener")
	}
	if h.store.last.TabID == "" {
		t.Error("tab id must be forwarded to persistence")
	}
	if _, ok := h.store.last.FormData["tab_id"]; ok {
		t.Error("tab_id must not be persisted in form data")
	}
}

func TestSetControl_QueryAffectingChange(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)
	h.s.FlushHistory()

	h.s.SetControl(control.Update{Name: "granularity", Value: "week"})
	waitFor(t, func() bool { return h.exec.runs.Load() == 2 && !h.s.Querying() })

	if h.s.IsStale() {
		t.Fatal("auto query must leave the chart fresh")
	}
	if h.exec.lastRequest().FormData["granularity"] != "week" {
		t.Fatalf("query ran with %v", h.exec.lastRequest().FormData)
	}

	h.s.FlushHistory()
	if _, updates := h.store.counts(); updates != 1 {
		t.Fatalf("expected push persist, updates=%d", updates)
	}
	if h.window.Len() != 2 {
		t.Fatalf("expected pushed entry, len=%d", h.window.Len())
	}
}

func TestSetControl_StaleWithoutAutoQuery(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	eventCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(events)
	}
	h := newHarness(t, func(o *Options) {
		o.AutoQuery = false
		o.Telemetry = TelemetryFunc(func(name string, _ map[string]any) {
			mu.Lock()
			events = append(events, name)
			mu.Unlock()
		})
	})
	h.mount(t)

	h.s.SetControl(control.Update{Name: "granularity", Value: "week"})
	if !h.s.IsStale() {
		t.Fatal("granularity day→week must make the chart stale")
	}
	r := h.log.last()
	if !r.Stale || len(r.StaleControls) != 1 || r.StaleControls[0] != "granularity" {
		t.Fatalf("unexpected render %+v", r)
	}
	if h.exec.runs.Load() != 1 {
		t.Fatal("no query must run without auto query")
	}

	h.s.SetControl(control.Update{Name: "granularity", Value: "month"})
	waitFor(t, func() bool { return eventCount() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if n := eventCount(); n != 1 {
		t.Fatalf("expected one telemetry event while stale, got %d", n)
	}
	mu.Lock()
	if events[0] != EventChangeControls {
		t.Errorf("event=%q", events[0])
	}
	mu.Unlock()

	if err := h.s.RunQuery(); err != nil {
		t.Fatal(err)
	}
	if h.s.IsStale() {
		t.Fatal("running the query must clear staleness")
	}
	waitFor(t, func() bool { return h.exec.runs.Load() == 2 && !h.s.Querying() })

	h.s.SetControl(control.Update{Name: "granularity", Value: "day"})
	waitFor(t, func() bool { return eventCount() == 2 })
}

func TestSetControl_VisualOnlyChange(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)
	h.s.FlushHistory()

	h.s.SetControl(control.Update{Name: "color_scheme", Value: "set2"})

	if h.s.IsStale() {
		t.Fatal("render trigger change must not make the chart stale")
	}
	if h.log.rerenders() != 1 {
		t.Fatalf("expected one re-render, got %d", h.log.rerenders())
	}
	time.Sleep(20 * time.Millisecond)
	if h.exec.runs.Load() != 1 {
		t.Fatal("visual-only change must not re-query")
	}

	h.s.FlushHistory()
	if _, updates := h.store.counts(); updates != 1 {
		t.Fatalf("visual change must still persist, updates=%d", updates)
	}
}

func TestSetControl_DontRefreshChange(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)
	h.s.FlushHistory()

	h.s.SetControl(control.Update{Name: "description", Value: "sales by week"})

	if h.s.IsStale() {
		t.Fatal("dontRefreshOnChange control must not make the chart stale")
	}
	if h.log.rerenders() != 0 {
		t.Fatal("dontRefreshOnChange control must not re-render")
	}
	if h.s.History().Pending() {
		t.Fatal("absorbed change must not schedule a persist")
	}
}

func TestValidationErrorsSuppressQuery(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)

	h.s.SetControl(control.Update{Name: "granularity", Value: "", ValidationErrors: []string{"cannot be empty"}})
	time.Sleep(20 * time.Millisecond)
	if h.exec.runs.Load() != 1 {
		t.Fatal("validation errors must suppress the automatic query")
	}
	if errs := h.log.last().ValidationErrors; len(errs["granularity"]) != 1 {
		t.Fatalf("expected granularity error in render, got %v", errs)
	}
	if err := h.s.RunQuery(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestPopState_RestoresWithoutPersisting(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)
	h.s.FlushHistory()

	h.s.SetControl(control.Update{Name: "granularity", Value: "week"})
	waitFor(t, func() bool { return h.exec.runs.Load() == 2 && !h.s.Querying() })
	h.s.FlushHistory()
	puts, updates := h.store.counts()

	if !h.window.Back() {
		t.Fatal("expected a history entry to go back to")
	}
	if got := h.s.Snapshot().Value("granularity"); got != "day" {
		t.Fatalf("restore failed, granularity=%v", got)
	}
	c, _ := h.s.Snapshot().Get("color_scheme")
	if !c.RenderTrigger {
		t.Error("restore must keep control flags")
	}
	waitFor(t, func() bool { return h.exec.runs.Load() == 3 })
	if h.exec.lastRequest().FormData["granularity"] != "day" {
		t.Fatal("restore must re-issue the query with the restored definition")
	}
	if h.s.History().Pending() {
		t.Fatal("restore must not schedule a persist")
	}
	if p, u := h.store.counts(); p != puts || u != updates {
		t.Fatal("restore must not reach persistence")
	}
}

func TestRestore_EmptyStateIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)
	if h.s.Restore(nil) {
		t.Fatal("empty state must not restore")
	}
	h.window.PushState(nil, "", "/explore/?x=1")
	h.window.Back()
	if got := h.s.Snapshot().Value("granularity"); got != "day" {
		t.Fatalf("controls changed on stateless popstate: %v", got)
	}
}

func TestRestore_IdentityKeysStayOutOfControls(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Identity = querydef.Identity{ChartID: 7}
	})
	h.mount(t)
	h.s.FlushHistory()

	state := h.store.last.FormData
	if state[querydef.KeySliceID] == nil {
		t.Fatalf("persisted form data should carry the chart id: %v", state)
	}

	if !h.s.Restore(state) {
		t.Fatal("expected restore")
	}
	snap := h.s.Snapshot()
	if snap.Has(querydef.KeySliceID) {
		t.Error("slice_id became a control after restore")
	}
	if snap.Value(querydef.KeyDatasource) != "3__table" {
		t.Errorf("declared datasource control lost: %v", snap.Value(querydef.KeyDatasource))
	}
	if snap.Len() != baseControls().Len() {
		t.Errorf("restore changed the control set: %v", snap.Names())
	}
	if h.s.IsStale() {
		t.Error("restoring the queried state must not be stale")
	}
}

type fakeSaver struct {
	mu    sync.Mutex
	calls int
	id    int64
	fd    map[string]any
}

func (f *fakeSaver) SaveChart(ctx context.Context, chartID int64, formData map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.id = chartID
	f.fd = formData
	return fmt.Sprintf("/explore/?slice_id=%d", chartID), nil
}

func TestShortcuts_RunQuery(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)

	h.window.DispatchKey(nav.KeyEvent{Key: "enter"})
	time.Sleep(20 * time.Millisecond)
	if h.exec.runs.Load() != 1 {
		t.Fatal("enter without modifier must be ignored")
	}

	h.window.DispatchKey(nav.KeyEvent{Key: "Enter", Ctrl: true})
	waitFor(t, func() bool { return h.exec.runs.Load() == 2 })

	h.window.DispatchKey(nav.KeyEvent{Key: "enter", Alt: true})
	waitFor(t, func() bool { return h.exec.runs.Load() == 3 })
}

func TestShortcuts_SaveWithChart(t *testing.T) {
	saver := &fakeSaver{}
	h := newHarness(t, func(o *Options) {
		o.Identity = querydef.Identity{ChartID: 7}
		o.Saver = saver
	})
	h.mount(t)

	loaded := make(chan string, 1)
	h.window.AddEventListener(nav.EventLoad, func(ev nav.Event) { loaded <- ev.URL })

	h.window.DispatchKey(nav.KeyEvent{Key: "s", Meta: true})
	select {
	case u := <-loaded:
		if h.window.Location().Query().Get("slice_id") != "7" {
			t.Fatalf("navigated to %s", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("save did not navigate")
	}

	saver.mu.Lock()
	defer saver.mu.Unlock()
	if saver.calls != 1 || saver.id != 7 || saver.fd["granularity"] != "day" {
		t.Fatalf("unexpected save %+v", saver)
	}
}

func TestShortcuts_SaveWithoutChartIgnored(t *testing.T) {
	saver := &fakeSaver{}
	h := newHarness(t, func(o *Options) { o.Saver = saver })
	h.mount(t)

	h.window.DispatchKey(nav.KeyEvent{Key: "s", Ctrl: true})
	time.Sleep(30 * time.Millisecond)

	saver.mu.Lock()
	defer saver.mu.Unlock()
	if saver.calls != 0 {
		t.Fatal("save without a chart must be ignored")
	}
	if err := h.s.Save(context.Background()); !errors.Is(err, ErrNoChart) {
		t.Fatalf("expected ErrNoChart, got %v", err)
	}
}

func TestListenersRebindOnlyWhenDepsChange(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)

	h.s.SetControl(control.Update{Name: "granularity", Value: "week"})
	h.s.SetControl(control.Update{Name: "granularity", Value: "week"})
	if h.window.ListenerCount(nav.EventKeyDown) != 1 || h.window.ListenerCount(nav.EventPopState) != 1 {
		t.Fatal("listeners must never accumulate")
	}
}

func TestStopQuery(t *testing.T) {
	h := newHarness(t, nil)
	h.exec.block = true
	if err := h.s.Mount(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return h.exec.runs.Load() == 1 })

	if !h.s.Querying() {
		t.Fatal("expected query in flight")
	}
	if !h.s.StopQuery() {
		t.Fatal("stop must report the running query")
	}
	waitFor(t, func() bool { return errors.Is(h.log.last().Err, query.ErrAborted) })
	if h.s.Querying() {
		t.Fatal("aborted query must not stay in flight")
	}
}

// A plugin finishing its load runs a full classification pass, even though
// no control value changed.
func TestObservePlugin_ReconcileOnMountEdge(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Definitions = []control.Definition{
			{Name: "granularity", Default: "day"},
			{Name: "row_limit", Default: 100},
		}
	})
	h.mount(t)

	var changes []control.Change
	h.s.Store().Subscribe(func(ch control.Change) { changes = append(changes, ch) })

	if h.s.ObservePlugin(plugin.State{PluginID: "line", Mounting: false}) {
		t.Fatal("no edge without a prior mounting pass")
	}
	if h.s.ObservePlugin(plugin.State{PluginID: "line", Mounting: true}) {
		t.Fatal("load start must not reconcile")
	}
	if !h.s.ObservePlugin(plugin.State{PluginID: "line", Mounting: false}) {
		t.Fatal("mounting true→false must reconcile")
	}

	if len(changes) != 1 {
		t.Fatalf("expected one reconcile pass, got %d", len(changes))
	}
	ch := changes[0]
	if ch.Origin != control.OriginReconcile || !ch.Result.Full {
		t.Fatalf("expected full reconcile pass, got %+v", ch)
	}
	if len(ch.Result.Changed) != ch.Current.Len() {
		t.Fatalf("full pass must classify every control: %v", ch.Result.Changed)
	}
	if h.s.Snapshot().Value("row_limit") != 100 {
		t.Fatal("reconcile must add declared controls with defaults")
	}
}

func TestRegistryDrivenReconcile(t *testing.T) {
	gate := make(chan struct{})
	reg := plugin.NewRegistry("", plugin.WithSource(func(ctx context.Context, vizType string) (plugin.Manifest, error) {
		<-gate
		return plugin.Manifest{Controls: []control.Definition{
			{Name: "show_legend", Default: true, RenderTrigger: true},
		}}, nil
	}))
	h := newHarness(t, func(o *Options) { o.Registry = reg })
	h.mount(t)

	if !reg.State("line").Mounting {
		t.Fatal("mount must request the selected plugin")
	}
	close(gate)
	waitFor(t, func() bool { return h.s.Snapshot().Has("show_legend") })

	c, _ := h.s.Snapshot().Get("show_legend")
	if !c.RenderTrigger || c.Value != true {
		t.Fatalf("unexpected reconciled control %+v", c)
	}
}

// With the plugin already loaded, mount reconciles synchronously. That pass
// must neither re-query nor turn the initial replace into a push.
func TestMount_PreloadedPluginKeepsReplaceEntry(t *testing.T) {
	reg := plugin.NewRegistry("", plugin.WithSource(func(ctx context.Context, vizType string) (plugin.Manifest, error) {
		return plugin.Manifest{Controls: []control.Definition{
			{Name: "granularity", Default: "day"},
			{Name: "show_legend", Default: true, RenderTrigger: true},
			{Name: "row_limit", Default: float64(100)},
		}}, nil
	}))
	<-reg.Load(context.Background(), "line")

	h := newHarness(t, func(o *Options) { o.Registry = reg })
	h.mount(t)
	time.Sleep(50 * time.Millisecond)

	if !h.s.Snapshot().Has("show_legend") || !h.s.Snapshot().Has("row_limit") {
		t.Fatal("mount must reconcile against the loaded plugin")
	}
	if runs := h.exec.runs.Load(); runs != 1 {
		t.Fatalf("reconcile pass re-ran the query: %d runs", runs)
	}
	if h.log.rerenders() == 0 {
		t.Error("reconcile pass must re-render")
	}

	h.s.FlushHistory()
	puts, updates := h.store.counts()
	if puts != 1 || updates != 0 {
		t.Fatalf("expected a single put, got puts=%d updates=%d", puts, updates)
	}
	if h.window.Len() != 1 {
		t.Fatalf("mount entry must be replaced, not pushed: len=%d", h.window.Len())
	}
	if h.s.IsStale() {
		t.Fatal("controls added by reconcile must not make the chart stale")
	}
}

func TestStandaloneNeverPersists(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Standalone = true })
	h.mount(t)
	if h.s.History() != nil {
		t.Fatal("standalone sessions must not build a synchronizer")
	}
	h.s.SetControl(control.Update{Name: "granularity", Value: "week"})
	if p, u := h.store.counts(); p != 0 || u != 0 {
		t.Fatal("standalone session reached persistence")
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t, nil)
	h.mount(t)
	h.s.Close()
	h.s.Close()

	if h.window.ListenerCount(nav.EventPopState) != 0 || h.window.ListenerCount(nav.EventKeyDown) != 0 {
		t.Fatal("close must remove listeners")
	}
	if err := h.s.RunQuery(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := h.s.Mount(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRunQuery_NotMounted(t *testing.T) {
	s := New(Options{})
	defer s.Close()
	if err := s.RunQuery(); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("expected ErrNotMounted, got %v", err)
	}
}
