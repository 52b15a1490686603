// Package explore wires the exploration surface together: the control
// store, the change classifier and staleness detector, query execution,
// history persistence, plugin loading and the window event listeners.
//
// A Session follows one control flow. Every store mutation is classified;
// staleness is recomputed; query-affecting changes re-run the query,
// visual-only changes re-render; both schedule a debounced persist. A
// plugin finishing its load forces a full reconciliation pass.
package explore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vanderheijden86/vizexplore/pkg/control"
	"github.com/vanderheijden86/vizexplore/pkg/debug"
	"github.com/vanderheijden86/vizexplore/pkg/events"
	"github.com/vanderheijden86/vizexplore/pkg/history"
	"github.com/vanderheijden86/vizexplore/pkg/metrics"
	"github.com/vanderheijden86/vizexplore/pkg/nav"
	"github.com/vanderheijden86/vizexplore/pkg/plugin"
	"github.com/vanderheijden86/vizexplore/pkg/query"
	"github.com/vanderheijden86/vizexplore/pkg/querydef"
)

// EventChangeControls is logged each time the chart becomes stale.
const EventChangeControls = "change_explore_controls"

var (
	ErrNoChart    = errors.New("no saved chart to overwrite")
	ErrNoSaver    = errors.New("no chart saver configured")
	ErrValidation = errors.New("controls have validation errors")
	ErrNotMounted = errors.New("session not mounted")
	ErrClosed     = errors.New("session closed")
)

// Saver overwrites a saved chart and returns the chart's URL.
type Saver interface {
	SaveChart(ctx context.Context, chartID int64, formData map[string]any) (string, error)
}

// Telemetry receives user action events.
type Telemetry interface {
	LogEvent(name string, payload map[string]any)
}

// TelemetryFunc adapts a function to Telemetry.
type TelemetryFunc func(name string, payload map[string]any)

// LogEvent calls f.
func (f TelemetryFunc) LogEvent(name string, payload map[string]any) {
	f(name, payload)
}

// Options configure a Session. Window is required; everything else is
// optional.
type Options struct {
	Controls    control.Snapshot
	Definitions []control.Definition // core controls, reconciled alongside plugin ones
	Identity    querydef.Identity
	Title       string

	Window      *nav.Window
	Persistence history.Persistence // nil or Standalone disables history
	Saver       Saver
	Executor    query.Executor
	Registry    *plugin.Registry
	Telemetry   Telemetry

	Route           string
	HistoryDebounce time.Duration
	PersistTimeout  time.Duration
	AutoQuery       bool
	Standalone      bool
	Force           bool

	// OnHistoryEntry observes every successful persist.
	OnHistoryEntry func(history.Entry)
}

// Render is published after every pass that changes what is shown.
type Render struct {
	Snapshot         control.Snapshot
	Stale            bool
	StaleControls    []string
	Rerender         bool
	Querying         bool
	Result           query.Result
	Err              error
	ValidationErrors map[string][]string
}

// Session is one exploration surface bound to a window.
type Session struct {
	opts    Options
	store   *control.Store
	window  *nav.Window
	hist    *history.Synchronizer
	runner  *query.Runner
	bridge  *events.Bridge
	coord   *plugin.Coordinator
	tracker control.StaleTracker
	tabID   string

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	lastQueried control.Snapshot
	querySeq    uint64
	querying    bool
	result      query.Result
	err         error
	mounted     bool
	closed      bool
	subs        map[int]func(Render)
	nextSub     int
	unsubStore  func()
	unsubPlugin func()
}

// New creates a session. Nothing happens until Mount.
func New(opts Options) *Session {
	if opts.Window == nil {
		opts.Window = nav.NewWindow(history.DefaultRoute + "/")
	}
	if opts.Route == "" {
		opts.Route = history.DefaultRoute
	}
	if opts.Executor == nil {
		opts.Executor = query.ExecutorFunc(func(context.Context, query.Request) (query.Result, error) {
			return query.Result{}, nil
		})
	}
	tabID := opts.Identity.TabID
	if tabID == "" {
		tabID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:        opts,
		store:       control.NewStore(opts.Controls),
		window:      opts.Window,
		runner:      query.NewRunner(opts.Executor),
		bridge:      events.NewBridge(opts.Window),
		tabID:       tabID,
		ctx:         ctx,
		cancel:      cancel,
		lastQueried: opts.Controls,
		subs:        make(map[int]func(Render)),
	}
	s.coord = plugin.NewCoordinator(s.reconcile)

	if opts.Persistence != nil && !opts.Standalone {
		hopts := []history.Option{
			history.WithRoute(opts.Route),
			history.WithOnEntry(opts.OnHistoryEntry),
		}
		if opts.HistoryDebounce > 0 {
			hopts = append(hopts, history.WithDebounce(opts.HistoryDebounce))
		}
		if opts.PersistTimeout > 0 {
			hopts = append(hopts, history.WithTimeout(opts.PersistTimeout))
		}
		s.hist = history.New(opts.Persistence, opts.Window, hopts...)
	}
	return s
}

// Store returns the control store.
func (s *Session) Store() *control.Store {
	return s.store
}

// Window returns the window the session is bound to.
func (s *Session) Window() *nav.Window {
	return s.window
}

// History returns the synchronizer, or nil for standalone sessions.
func (s *Session) History() *history.Synchronizer {
	return s.hist
}

// Subscribe registers fn for render notifications.
func (s *Session) Subscribe(fn func(Render)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Mount starts the session: it runs the initial query, records the initial
// history entry with replace semantics, binds the window listeners and
// requests the plugin of the selected viz type.
func (s *Session) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.mounted {
		s.mu.Unlock()
		return nil
	}
	s.mounted = true
	s.mu.Unlock()

	unsub := s.store.Subscribe(s.onChange)
	var unsubPlugin func()
	if s.opts.Registry != nil {
		unsubPlugin = s.opts.Registry.Subscribe(s.onPluginState)
	}
	s.mu.Lock()
	s.unsubStore = unsub
	s.unsubPlugin = unsubPlugin
	s.mu.Unlock()

	snap := s.store.Get()
	if len(control.ValidationErrors(snap)) == 0 {
		s.runQuery(snap)
	}
	s.schedulePersist(snap, true)
	s.bindListeners(snap)
	s.requestPlugin(ctx, vizType(snap))
	s.emit(snap, false)
	return nil
}

// SetControl applies a widget update.
func (s *Session) SetControl(u control.Update) {
	s.store.Set(u)
}

// RunQuery runs the query for the current controls now.
func (s *Session) RunQuery() error {
	if err := s.ready(); err != nil {
		return err
	}
	snap := s.store.Get()
	if errs := control.ValidationErrors(snap); len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(slices.Sorted(maps.Keys(errs)), ", "))
	}
	s.runQuery(snap)
	s.schedulePersist(snap, false)
	s.emit(snap, false)
	return nil
}

// StopQuery aborts the running query. It reports whether one was running.
func (s *Session) StopQuery() bool {
	return s.runner.Abort()
}

// Save overwrites the saved chart with the current controls and navigates
// the window to the chart.
func (s *Session) Save(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	def := s.definition(s.store.Get())
	if def.ChartID == 0 {
		return ErrNoChart
	}
	if s.opts.Saver == nil {
		return ErrNoSaver
	}
	u, err := s.opts.Saver.SaveChart(ctx, def.ChartID, def.Persistable())
	if err != nil {
		return fmt.Errorf("saving chart %d: %w", def.ChartID, err)
	}
	debug.Log("explore: saved chart %d, navigating to %s", def.ChartID, u)
	s.window.Assign(u)
	return nil
}

// Restore replaces every control with the values of state and re-runs the
// query. Nothing is persisted: the navigation history already holds state.
// It reports whether state held anything to restore.
func (s *Session) Restore(state map[string]any) bool {
	if len(state) == 0 {
		return false
	}
	cur := s.store.Get()
	values := maps.Clone(state)
	for _, k := range querydef.IdentityKeys {
		if !cur.Has(k) {
			delete(values, k)
		}
	}
	if len(values) == 0 {
		return false
	}
	next := control.FromValues(values, cur)
	s.store.ReplaceAll(next)

	s.mu.Lock()
	mounted := s.mounted && !s.closed
	s.mu.Unlock()
	if mounted {
		s.runQuery(next)
		s.bindListeners(next)
		s.emit(next, false)
	}
	return true
}

// IsStale reports whether the shown result no longer matches the controls.
func (s *Session) IsStale() bool {
	return control.IsStale(s.LastQueried(), s.store.Get())
}

// Snapshot returns the current controls.
func (s *Session) Snapshot() control.Snapshot {
	return s.store.Get()
}

// LastQueried returns the controls of the last issued query.
func (s *Session) LastQueried() control.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQueried
}

// Definition returns the query definition of the current controls.
func (s *Session) Definition() querydef.Definition {
	return s.definition(s.store.Get())
}

// Querying reports whether a query is in flight.
func (s *Session) Querying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.querying
}

// Result returns the outcome of the last finished query.
func (s *Session) Result() (query.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// ObservePlugin feeds one load state of the selected viz type to the
// coordinator. It reports whether a reconciliation ran.
func (s *Session) ObservePlugin(st plugin.State) bool {
	return s.coord.Observe(vizType(s.store.Get()), st)
}

// FlushHistory persists any pending history entry now.
func (s *Session) FlushHistory() {
	if s.hist != nil {
		s.hist.Flush()
	}
}

// Close removes the window listeners, drops a pending persist and aborts a
// running query.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubStore, unsubPlugin := s.unsubStore, s.unsubPlugin
	s.mu.Unlock()

	s.bridge.Close()
	if unsubStore != nil {
		unsubStore()
	}
	if unsubPlugin != nil {
		unsubPlugin()
	}
	if s.hist != nil {
		s.hist.Close()
	}
	s.runner.Abort()
	s.cancel()
}

func (s *Session) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case !s.mounted:
		return ErrNotMounted
	}
	return nil
}

func (s *Session) onChange(ch control.Change) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	if vizType(ch.Previous) != vizType(ch.Current) {
		s.requestPlugin(s.ctx, vizType(ch.Current))
	}

	// Restore re-issues its own query without touching history.
	if ch.Origin == control.OriginReplace {
		return
	}

	// A reconcile pass classifies every control, but it only adds defaults
	// and refreshes flags. Without a value change it is a re-render.
	if ch.Origin == control.OriginReconcile && control.Classify(ch.Previous, ch.Current).Empty() {
		s.emit(ch.Current, true)
		s.bindListeners(ch.Current)
		return
	}

	switch ch.Result.Action() {
	case control.ActionQuery:
		if s.opts.AutoQuery && len(control.ValidationErrors(ch.Current)) == 0 {
			s.runQuery(ch.Current)
		}
		s.schedulePersist(ch.Current, false)
		s.emit(ch.Current, false)
	case control.ActionRerender:
		s.schedulePersist(ch.Current, false)
		s.emit(ch.Current, true)
	default:
		s.emit(ch.Current, false)
	}
	s.bindListeners(ch.Current)
}

func (s *Session) runQuery(snap control.Snapshot) {
	def := s.definition(snap)

	s.mu.Lock()
	s.querySeq++
	seq := s.querySeq
	s.lastQueried = snap
	s.querying = true
	s.err = nil
	s.mu.Unlock()

	debug.Log("explore: query #%d for %s", seq, def.Datasource)
	s.runner.Run(query.Request{
		FormData:   def.Persistable(),
		Datasource: def.Datasource,
		Force:      s.opts.Force,
	}, func(_ *query.Handle, res query.Result, err error) {
		s.finishQuery(seq, res, err)
	})
}

func (s *Session) finishQuery(seq uint64, res query.Result, err error) {
	s.mu.Lock()
	if seq != s.querySeq || s.closed {
		s.mu.Unlock()
		return
	}
	s.querying = false
	s.result = res
	s.err = err
	s.mu.Unlock()

	if err != nil && !errors.Is(err, query.ErrAborted) {
		debug.Log("explore: query #%d failed: %v", seq, err)
	}
	s.emit(s.store.Get(), false)
}

func (s *Session) schedulePersist(snap control.Snapshot, replace bool) {
	if s.hist == nil {
		return
	}
	s.hist.SchedulePersist(s.definition(snap), history.Options{
		IsReplace:  replace,
		Title:      s.title(snap),
		Standalone: s.opts.Standalone,
		Force:      s.opts.Force,
	})
}

func (s *Session) definition(snap control.Snapshot) querydef.Definition {
	id := s.opts.Identity
	id.TabID = s.tabID
	id.FormDataKey = s.window.Location().Query().Get(querydef.ParamFormDataKey)
	return querydef.FromSnapshot(snap, id)
}

func (s *Session) title(snap control.Snapshot) string {
	if name, ok := snap.Value("slice_name").(string); ok && name != "" {
		return name
	}
	return s.opts.Title
}

func (s *Session) emit(snap control.Snapshot, rerender bool) {
	s.mu.Lock()
	lastQueried := s.lastQueried
	r := Render{
		Snapshot: snap,
		Rerender: rerender,
		Querying: s.querying,
		Result:   s.result,
		Err:      s.err,
	}
	subs := make([]func(Render), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	r.Stale = control.IsStale(lastQueried, snap)
	r.StaleControls = control.StaleControls(lastQueried, snap)
	r.ValidationErrors = control.ValidationErrors(snap)

	if s.tracker.Observe(r.Stale) {
		metrics.StaleTransitions.Inc()
		if s.opts.Telemetry != nil {
			s.opts.Telemetry.LogEvent(EventChangeControls, map[string]any{
				"controls": r.StaleControls,
			})
		}
	}

	for _, fn := range subs {
		fn(r)
	}
}

func (s *Session) onPluginState(vt string, st plugin.State) {
	if vt != vizType(s.store.Get()) {
		return
	}
	s.coord.Observe(vt, st)
}

func (s *Session) requestPlugin(ctx context.Context, vt string) {
	reg := s.opts.Registry
	if reg == nil || vt == "" {
		return
	}
	if st := reg.State(vt); !st.Mounting && reg.Controls(vt) != nil {
		// Already mounted: there will be no load edge, reconcile directly.
		s.reconcile(vt)
		return
	}
	reg.Load(ctx, vt)
}

func (s *Session) reconcile(vt string) {
	defs := slices.Clone(s.opts.Definitions)
	if s.opts.Registry != nil {
		defs = append(defs, s.opts.Registry.Controls(vt)...)
	}
	debug.Log("explore: reconciling %d control definitions for %s", len(defs), vt)
	s.store.Reconcile(defs)
}

func vizType(snap control.Snapshot) string {
	v, _ := snap.Value(querydef.KeyVizType).(string)
	return v
}
