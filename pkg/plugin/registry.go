// Package plugin tracks visualization plugins: which ones are mounting, the
// controls each one declares, and the edge at which a plugin finishes
// loading.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/vanderheijden86/vizexplore/pkg/control"
	"github.com/vanderheijden86/vizexplore/pkg/debug"
	"github.com/vanderheijden86/vizexplore/pkg/metrics"
	"github.com/vanderheijden86/vizexplore/pkg/watcher"
)

// ErrUnknownPlugin is returned when no manifest exists for a viz type.
var ErrUnknownPlugin = errors.New("unknown plugin")

// State is the load state of one plugin. A plugin that was never requested
// has the zero State.
type State struct {
	PluginID string
	Mounting bool
}

// Manifest declares a plugin and the controls it contributes.
type Manifest struct {
	Name     string               `yaml:"name"`
	Label    string               `yaml:"label,omitempty"`
	Controls []control.Definition `yaml:"controls"`
}

// Source resolves the manifest of a viz type.
type Source func(ctx context.Context, vizType string) (Manifest, error)

// Option configures a Registry.
type Option func(*Registry)

// WithSource replaces manifest file lookup.
func WithSource(src Source) Option {
	return func(r *Registry) {
		r.source = src
	}
}

// WithWatcherOptions passes options to the manifest watcher.
func WithWatcherOptions(opts ...watcher.WatcherOption) Option {
	return func(r *Registry) {
		r.watchOpts = append(r.watchOpts, opts...)
	}
}

type entry struct {
	state    State
	manifest Manifest
	loaded   bool
	done     chan struct{}
	err      error
}

// Registry owns plugin load state. Load requests resolve asynchronously and
// every state edge is published to subscribers.
type Registry struct {
	dir       string
	source    Source
	watchOpts []watcher.WatcherOption

	mu      sync.Mutex
	entries map[string]*entry
	subs    map[int]func(vizType string, st State)
	nextSub int
	watcher *watcher.Watcher
}

// NewRegistry creates a registry reading <dir>/<vizType>.yaml manifests.
func NewRegistry(dir string, opts ...Option) *Registry {
	r := &Registry{
		dir:     dir,
		entries: make(map[string]*entry),
		subs:    make(map[int]func(string, State)),
	}
	r.source = r.readManifest
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dir returns the manifest directory.
func (r *Registry) Dir() string {
	return r.dir
}

// State returns the load state of vizType.
func (r *Registry) State(vizType string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[vizType]; ok {
		return e.state
	}
	return State{}
}

// Controls returns the control definitions declared by vizType, or nil while
// it has not loaded.
func (r *Registry) Controls(vizType string) []control.Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[vizType]
	if !ok || !e.loaded {
		return nil
	}
	return append([]control.Definition(nil), e.manifest.Controls...)
}

// Manifest returns the loaded manifest of vizType.
func (r *Registry) Manifest(vizType string) (Manifest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[vizType]
	if !ok || !e.loaded {
		return Manifest{}, false
	}
	return e.manifest, true
}

// Loaded returns the viz types whose manifests have loaded.
func (r *Registry) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, e := range r.entries {
		if e.loaded {
			out = append(out, name)
		}
	}
	return out
}

// Subscribe registers fn for state edges. The returned func unsubscribes.
func (r *Registry) Subscribe(fn func(vizType string, st State)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Load requests vizType. It marks the plugin mounting and resolves the
// manifest in the background. The returned channel closes when the load
// settles; Err reports its outcome. Loading an already loaded plugin
// returns a closed channel.
func (r *Registry) Load(ctx context.Context, vizType string) <-chan struct{} {
	r.mu.Lock()
	e, ok := r.entries[vizType]
	if ok && (e.loaded || e.state.Mounting) {
		done := e.done
		r.mu.Unlock()
		return done
	}
	e = r.begin(vizType)
	done := e.done
	r.mu.Unlock()

	r.publish(vizType, State{PluginID: vizType, Mounting: true})
	go r.resolve(ctx, vizType)
	return done
}

// Reload re-reads the manifest of vizType even if it already loaded.
func (r *Registry) Reload(ctx context.Context, vizType string) error {
	r.mu.Lock()
	if e, ok := r.entries[vizType]; ok && e.state.Mounting {
		done := e.done
		r.mu.Unlock()
		<-done
		return r.Err(vizType)
	}
	r.begin(vizType)
	r.mu.Unlock()

	r.publish(vizType, State{PluginID: vizType, Mounting: true})
	r.resolve(ctx, vizType)
	return r.Err(vizType)
}

// Err returns the error of the last settled load of vizType.
func (r *Registry) Err(vizType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[vizType]; ok {
		return e.err
	}
	return nil
}

// LoadAll loads every manifest in the directory in parallel.
func (r *Registry) LoadAll(ctx context.Context) error {
	names, err := r.manifestNames()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			select {
			case <-r.Load(gctx, name):
			case <-gctx.Done():
				return gctx.Err()
			}
			return r.Err(name)
		})
	}
	return g.Wait()
}

// Watch reloads manifests when their files change. Only plugins that were
// already requested are reloaded.
func (r *Registry) Watch() error {
	opts := append([]watcher.WatcherOption{
		watcher.WithExtensions(".yaml", ".yml"),
		watcher.WithOnChange(r.onManifestChange),
		watcher.WithOnError(func(err error) {
			debug.Warn("plugin watcher: %v", err)
		}),
	}, r.watchOpts...)

	w, err := watcher.NewWatcher(r.dir, opts...)
	if err != nil {
		return fmt.Errorf("watching plugins: %w", err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("watching plugins: %w", err)
	}

	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()
	return nil
}

// Close stops the manifest watcher.
func (r *Registry) Close() {
	r.mu.Lock()
	w := r.watcher
	r.watcher = nil
	r.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

func (r *Registry) onManifestChange(paths []string) {
	for _, p := range paths {
		vizType := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		r.mu.Lock()
		_, known := r.entries[vizType]
		r.mu.Unlock()
		if !known {
			continue
		}
		debug.Log("plugin: manifest %s changed, reloading", vizType)
		if err := r.Reload(context.Background(), vizType); err != nil {
			debug.Warn("plugin reload %s: %v", vizType, err)
		}
	}
}

// begin must be called with r.mu held.
func (r *Registry) begin(vizType string) *entry {
	e, ok := r.entries[vizType]
	if !ok {
		e = &entry{}
		r.entries[vizType] = e
	}
	e.state = State{PluginID: vizType, Mounting: true}
	e.done = make(chan struct{})
	e.err = nil
	return e
}

func (r *Registry) resolve(ctx context.Context, vizType string) {
	stop := metrics.Timer(metrics.PluginLoad)
	m, err := r.source(ctx, vizType)
	stop()

	r.mu.Lock()
	e := r.entries[vizType]
	e.state = State{PluginID: vizType, Mounting: false}
	e.err = err
	if err == nil {
		if m.Name == "" {
			m.Name = vizType
		}
		e.manifest = m
		e.loaded = true
	}
	done := e.done
	r.mu.Unlock()

	if err != nil {
		debug.Warn("plugin %s failed to load: %v", vizType, err)
	} else {
		debug.Log("plugin: %s mounted with %d controls", vizType, len(m.Controls))
	}
	r.publish(vizType, State{PluginID: vizType, Mounting: false})
	close(done)
}

func (r *Registry) publish(vizType string, st State) {
	r.mu.Lock()
	subs := make([]func(string, State), 0, len(r.subs))
	for i := 0; i < r.nextSub; i++ {
		if fn, ok := r.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(vizType, st)
	}
}

func (r *Registry) manifestNames() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("reading plugin dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ext))
	}
	return names, nil
}

func (r *Registry) readManifest(ctx context.Context, vizType string) (Manifest, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, err
	}
	if vizType == "" || strings.ContainsAny(vizType, `/\`) {
		return Manifest{}, fmt.Errorf("%w: %q", ErrUnknownPlugin, vizType)
	}

	var data []byte
	var err error
	for _, ext := range []string{".yaml", ".yml"} {
		data, err = os.ReadFile(filepath.Join(r.dir, vizType+ext))
		if err == nil {
			break
		}
	}
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, fmt.Errorf("%w: %s", ErrUnknownPlugin, vizType)
		}
		return Manifest{}, fmt.Errorf("reading manifest %s: %w", vizType, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parsing manifest %s: %w", vizType, err)
	}
	return m, nil
}
