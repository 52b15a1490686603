// Package history persists the current query definition so it survives
// navigation and reload.
//
// Calls to SchedulePersist are debounced: only the last call inside the
// quiescence window runs. A run stores the form data under a key in the
// persistence store and then records a navigation entry that points at it.
// Everything is best effort; failures are logged and the next control change
// simply tries again.
package history

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/vanderheijden86/vizexplore/pkg/debounce"
	"github.com/vanderheijden86/vizexplore/pkg/debug"
	"github.com/vanderheijden86/vizexplore/pkg/metrics"
	"github.com/vanderheijden86/vizexplore/pkg/querydef"
)

// DefaultDebounce is the default quiescence window.
const DefaultDebounce = 1000 * time.Millisecond

// DefaultRoute is the path prefix of the exploration surface.
const DefaultRoute = "/explore"

// Mode is how an entry was written to the navigation history.
type Mode int

const (
	ModeReplace Mode = iota
	ModePush
)

func (m Mode) String() string {
	if m == ModePush {
		return "push"
	}
	return "replace"
}

// Entry is associated 1:1 with a successful persist.
type Entry struct {
	FormData map[string]any
	Mode     Mode
	URL      string
	Key      string
}

// PutRequest is what the persistence store receives.
type PutRequest struct {
	FormData   map[string]any
	Datasource querydef.Datasource
	ChartID    int64
	TabID      string
}

// Persistence stores form data under opaque keys usable as URL parameters.
type Persistence interface {
	Put(ctx context.Context, req PutRequest) (string, error)
	Update(ctx context.Context, key string, req PutRequest) error
}

// Navigator is the part of the browser window the synchronizer touches.
type Navigator interface {
	Location() *url.URL
	ReplaceState(state any, title, rawURL string)
	PushState(state any, title, rawURL string)
}

// Options qualify one SchedulePersist call.
type Options struct {
	IsReplace  bool
	Title      string
	Standalone bool
	Force      bool
}

// PersistError wraps a failed store operation.
type PersistError struct {
	Op    string
	Key   string
	Cause error
}

func (e *PersistError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("history %s failed: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("history %s %s failed: %v", e.Op, e.Key, e.Cause)
}

func (e *PersistError) Unwrap() error {
	return e.Cause
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithDebounce sets the quiescence window.
func WithDebounce(d time.Duration) Option {
	return func(s *Synchronizer) {
		s.window = d
	}
}

// WithRoute sets the exploration route used by the navigation guard.
func WithRoute(route string) Option {
	return func(s *Synchronizer) {
		s.route = route
	}
}

// WithTimeout bounds each store call.
func WithTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		s.timeout = d
	}
}

// WithOnEntry observes every successful persist.
func WithOnEntry(fn func(Entry)) Option {
	return func(s *Synchronizer) {
		s.onEntry = fn
	}
}

// WithOnError observes every failed persist after it was logged.
func WithOnError(fn func(error)) Option {
	return func(s *Synchronizer) {
		s.onError = fn
	}
}

// Synchronizer debounces persistence of query definitions into the store
// and the navigation history.
type Synchronizer struct {
	store   Persistence
	nav     Navigator
	window  time.Duration
	route   string
	timeout time.Duration
	onEntry func(Entry)
	onError func(error)

	debouncer *debounce.Debouncer

	mu sync.Mutex
	// replacePending is set while a replace waits in the window. A later
	// push inside the same window keeps replace semantics so the entry it
	// would have replaced is never left behind without state.
	replacePending bool
}

// New creates a Synchronizer.
func New(store Persistence, nav Navigator, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:   store,
		nav:     nav,
		window:  DefaultDebounce,
		route:   DefaultRoute,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.debouncer = debounce.New(s.window, debounce.WithOnCoalesce(metrics.PersistCoalesced.Inc))
	return s
}

// Debounce returns the quiescence window.
func (s *Synchronizer) Debounce() time.Duration {
	return s.debouncer.Duration()
}

// SchedulePersist schedules def for persistence. Callers must not assume
// every call produces an entry: a later call inside the window supersedes
// this one. A superseded replace upgrades the call that supersedes it.
func (s *Synchronizer) SchedulePersist(def querydef.Definition, opts Options) {
	s.mu.Lock()
	if opts.IsReplace {
		s.replacePending = true
	} else if s.replacePending {
		opts.IsReplace = true
	}
	s.mu.Unlock()

	s.debouncer.Trigger(func() {
		s.mu.Lock()
		s.replacePending = false
		s.mu.Unlock()
		s.persist(def, opts)
	})
}

// Flush runs the pending persist now, on the caller's goroutine.
func (s *Synchronizer) Flush() {
	s.debouncer.Flush()
}

// Pending reports whether a persist is waiting in the window.
func (s *Synchronizer) Pending() bool {
	return s.debouncer.Pending()
}

// Close drops any pending persist. In-flight persists are not cancelled.
func (s *Synchronizer) Close() {
	s.debouncer.Cancel()
	s.mu.Lock()
	s.replacePending = false
	s.mu.Unlock()
}

func (s *Synchronizer) persist(def querydef.Definition, opts Options) {
	defer metrics.Timer(metrics.HistoryPersist)()

	loc := s.nav.Location()
	params := querydef.BuildParams(def, loc.Query())
	req := PutRequest{
		FormData:   def.Persistable(),
		Datasource: def.Datasource,
		ChartID:    def.ChartID,
		TabID:      def.TabID,
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	mode := ModePush
	if opts.IsReplace {
		mode = ModeReplace
	}
	// A push updates the entry the address bar already points at; without
	// one there is nothing to update and a fresh key is created.
	key := loc.Query().Get(querydef.ParamFormDataKey)
	var err error
	if opts.IsReplace || key == "" {
		key, err = s.store.Put(ctx, req)
		if err != nil {
			err = &PersistError{Op: "put", Cause: err}
		}
	} else if uerr := s.store.Update(ctx, key, req); uerr != nil {
		err = &PersistError{Op: "update", Key: key, Cause: uerr}
	}
	if err != nil {
		metrics.PersistFailures.Inc()
		debug.Warn("Failed at altering browser history: %v", err)
		if s.onError != nil {
			s.onError(err)
		}
		return
	}

	// The user may have left the exploration route while the store call was
	// in flight; the stored entry stays, the navigation state is left alone.
	if !querydef.OnRoute(s.nav.Location().Path, s.route) {
		metrics.NavigationSkipped.Inc()
		debug.Log("history: route changed during persist, skipping %s", mode)
		return
	}

	target := querydef.ExploreURL(s.route, key, params, opts.Standalone, opts.Force)
	state := req.FormData
	if mode == ModeReplace {
		s.nav.ReplaceState(state, opts.Title, target)
	} else {
		s.nav.PushState(state, opts.Title, target)
	}
	debug.Log("history: %s %s", mode, target)

	if s.onEntry != nil {
		s.onEntry(Entry{FormData: state, Mode: mode, URL: target, Key: key})
	}
}
