package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/vanderheijden86/vizexplore/internal/kvstore"
	"github.com/vanderheijden86/vizexplore/pkg/config"
	"github.com/vanderheijden86/vizexplore/pkg/debug"
	"github.com/vanderheijden86/vizexplore/pkg/explore"
	"github.com/vanderheijden86/vizexplore/pkg/history"
	"github.com/vanderheijden86/vizexplore/pkg/nav"
	"github.com/vanderheijden86/vizexplore/pkg/plugin"
	"github.com/vanderheijden86/vizexplore/pkg/query"
	"github.com/vanderheijden86/vizexplore/pkg/querydef"
	_ "github.com/vanderheijden86/vizexplore/pkg/ttyguard"
	"github.com/vanderheijden86/vizexplore/pkg/ui"
	"github.com/vanderheijden86/vizexplore/pkg/version"
	"github.com/vanderheijden86/vizexplore/pkg/watcher"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (default: $XDG_CONFIG_HOME/vx/config.yaml)")
	help := flag.Bool("help", false, "Show help")
	versionFlag := flag.Bool("version", false, "Show version")
	serve := flag.Bool("serve", false, "Serve the form data API instead of starting the explorer")
	addr := flag.String("addr", "", "Listen address for -serve (overrides server.addr)")
	storeURL := flag.String("store-url", "", "Form data API base URL (overrides store.url)")
	pluginsDir := flag.String("plugins", "", "Plugin manifest directory (overrides plugins.dir)")
	database := flag.String("database", "", "SQLite database queried for results (overrides query.database)")
	table := flag.String("table", "", "Table backing -datasource in -database")
	chartID := flag.Int64("chart-id", 0, "Saved chart to explore")
	datasource := flag.String("datasource", "", "Datasource as <id>__<type>, e.g. 1__table")
	formDataKey := flag.String("key", "", "Restore controls from a stored form data key")
	vizType := flag.String("viz", "", "Visualization type to start with")
	standalone := flag.Bool("standalone", false, "Do not persist history")
	force := flag.Bool("force", false, "Bypass query caches")
	printMode := flag.Bool("print", false, "Run the initial query, print the result as JSON and exit")
	flag.Parse()

	if *help {
		fmt.Println("Usage: vx [options]")
		fmt.Println("\nInteractive chart exploration in the terminal.")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *versionFlag {
		fmt.Printf("vx %s\n", version.Version)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Non-fatal: continue with defaults
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		cfg = config.DefaultConfig()
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *storeURL != "" {
		cfg.Store.URL = *storeURL
	}
	if *pluginsDir != "" {
		cfg.Plugins.Dir = *pluginsDir
	}
	if *database != "" {
		cfg.Query.Database = *database
	}
	if *standalone {
		cfg.Explore.Standalone = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serve {
		if err := runServer(ctx, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var ds querydef.Datasource
	if *datasource != "" {
		if ds, err = querydef.ParseDatasource(*datasource); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	}

	interactive := !*printMode && term.IsTerminal(int(os.Stdout.Fd()))
	if interactive {
		// Warnings go to the log file so they never land on the TUI.
		if closeLog := redirectLog(config.LogPath()); closeLog != nil {
			defer closeLog()
		}
	}

	app, err := openApp(ctx, cfg, startOptions{
		ChartID:     *chartID,
		Datasource:  ds,
		Table:       *table,
		FormDataKey: *formDataKey,
		VizType:     *vizType,
		Force:       *force,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	if !interactive {
		if err := runPrint(ctx, app, os.Stdout, cfg.Store.Timeout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	m := ui.NewModel(app.session, ui.WithDefinitions(coreDefinitions()), ui.WithRegistry(app.registry))
	defer m.Close()

	if err := runTUIProgram(m); err != nil {
		fmt.Printf("Error running vx: %v\n", err)
		os.Exit(1)
	}
	app.session.FlushHistory()
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// redirectLog points debug output at path and returns the closer, or nil
// when the file cannot be opened.
func redirectLog(path string) func() {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil
	}
	debug.SetOutput(f)
	return func() {
		debug.SetOutput(os.Stderr)
		f.Close()
	}
}

// startOptions are the per-invocation inputs that pick what is explored.
type startOptions struct {
	ChartID     int64
	Datasource  querydef.Datasource
	Table       string
	FormDataKey string
	VizType     string
	Force       bool
}

// app owns every resource the session is built on.
type app struct {
	session  *explore.Session
	window   *nav.Window
	registry *plugin.Registry
	backend  *backend
	executor *query.SQLiteExecutor
}

func (a *app) Close() {
	a.session.Close()
	a.registry.Close()
	if a.executor != nil {
		a.executor.Close()
	}
	a.backend.Close()
}

// backend is the persistence side of a session: the local SQLite store or
// a remote form data API.
type backend struct {
	persist history.Persistence
	saver   explore.Saver
	lookup  func(ctx context.Context, key string) (map[string]any, error)
	chart   func(ctx context.Context, id int64) (map[string]any, error)
	close   func() error
}

func (b *backend) Close() {
	if b.close != nil {
		if err := b.close(); err != nil {
			debug.Warn("closing form data store: %v", err)
		}
	}
}

func openBackend(cfg config.Config) (*backend, error) {
	if cfg.Store.URL != "" {
		c := kvstore.NewClient(cfg.Store.URL, &http.Client{Timeout: cfg.Store.Timeout})
		return &backend{persist: c, saver: c, lookup: c.Get}, nil
	}

	if cfg.Store.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	st, err := kvstore.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	return &backend{
		persist: st,
		saver:   st,
		lookup: func(ctx context.Context, key string) (map[string]any, error) {
			e, err := st.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			return e.FormData, nil
		},
		chart: st.Chart,
		close: st.Close,
	}, nil
}

func openApp(ctx context.Context, cfg config.Config, opts startOptions) (*app, error) {
	be, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	var exec *query.SQLiteExecutor
	if cfg.Query.Database != "" {
		exec, err = query.OpenSQLite(cfg.Query.Database, cfg.Query.RowLimit)
		if err != nil {
			be.Close()
			return nil, err
		}
		if opts.Table != "" && !opts.Datasource.IsZero() {
			if err := exec.RegisterDatasource(ctx, opts.Datasource.ID, opts.Table); err != nil {
				exec.Close()
				be.Close()
				return nil, err
			}
		}
	}

	reg := plugin.NewRegistry(cfg.Plugins.Dir,
		plugin.WithWatcherOptions(watcher.WithDebounceDuration(cfg.Plugins.Debounce)))
	if err := reg.LoadAll(ctx); err != nil {
		debug.Warn("loading plugin manifests: %v", err)
	}
	if cfg.Plugins.Watch {
		if err := reg.Watch(); err != nil {
			debug.Warn("watching plugin manifests: %v", err)
		}
	}

	values := loadInitialValues(ctx, be, opts)
	defs := coreDefinitions()
	win := nav.NewWindow(startURL(cfg.Explore, opts))

	sopts := explore.Options{
		Controls:        initialControls(defs, values),
		Definitions:     defs,
		Identity:        querydef.IdentityFromURL(win.Location()),
		Title:           "Explore",
		Window:          win,
		Persistence:     be.persist,
		Saver:           be.saver,
		Registry:        reg,
		Telemetry:       explore.TelemetryFunc(logEvent),
		Route:           cfg.Explore.Route,
		HistoryDebounce: cfg.Explore.HistoryDebounce,
		PersistTimeout:  cfg.Store.Timeout,
		AutoQuery:       cfg.Explore.AutoQueryEnabled(),
		Standalone:      cfg.Explore.Standalone,
		Force:           opts.Force,
	}
	if exec != nil {
		sopts.Executor = exec
	}
	s := explore.New(sopts)
	if err := s.Mount(ctx); err != nil {
		reg.Close()
		if exec != nil {
			exec.Close()
		}
		be.Close()
		return nil, err
	}
	return &app{session: s, window: win, registry: reg, backend: be, executor: exec}, nil
}

// loadInitialValues resolves the starting form data: the saved chart first,
// then a stored form data key on top. Lookup failures start from defaults.
func loadInitialValues(ctx context.Context, be *backend, opts startOptions) map[string]any {
	values := map[string]any{}
	if opts.ChartID != 0 && be.chart != nil {
		fd, err := be.chart(ctx, opts.ChartID)
		if err != nil {
			debug.Warn("loading chart %d: %v", opts.ChartID, err)
		}
		for k, v := range fd {
			values[k] = v
		}
	}
	if opts.FormDataKey != "" {
		fd, err := be.lookup(ctx, opts.FormDataKey)
		if err != nil {
			debug.Warn("loading form data %s: %v", opts.FormDataKey, err)
		}
		for k, v := range fd {
			values[k] = v
		}
	}
	if opts.VizType != "" {
		values[querydef.KeyVizType] = opts.VizType
	}
	if !opts.Datasource.IsZero() {
		values[querydef.KeyDatasource] = opts.Datasource.String()
	}
	return values
}

// startURL is the address the window opens at.
func startURL(ec config.ExploreConfig, opts startOptions) string {
	params := url.Values{}
	switch {
	case opts.ChartID != 0:
		params.Set(querydef.ParamSliceID, strconv.FormatInt(opts.ChartID, 10))
	case !opts.Datasource.IsZero():
		params.Set(querydef.ParamDatasourceID, strconv.FormatInt(opts.Datasource.ID, 10))
		params.Set(querydef.ParamDatasourceType, opts.Datasource.Type)
	}
	return "http://localhost" + querydef.ExploreURL(ec.Route, opts.FormDataKey, params, ec.Standalone, opts.Force)
}

func logEvent(name string, payload map[string]any) {
	debug.Log("telemetry: %s %v", name, payload)
}

func runTUIProgram(m ui.Model) error {
	p := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithoutSignalHandler(),
	)

	runDone := make(chan struct{})
	defer close(runDone)

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-runDone:
			return
		case <-sigCh:
		}

		p.Quit()

		select {
		case <-runDone:
			return
		case <-sigCh:
		case <-time.After(5 * time.Second):
		}

		p.Kill()
	}()

	// Optional auto-quit for automated tests: set VX_TUI_AUTOCLOSE_MS.
	if v := os.Getenv("VX_TUI_AUTOCLOSE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			go func() {
				timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
				defer timer.Stop()

				select {
				case <-runDone:
					return
				case <-timer.C:
				}
				p.Quit()
			}()
		}
	}

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, tea.ErrInterrupted) {
		return nil
	}
	return err
}
