package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/adapters"
	_ "github.com/ruslano69/datasync/pkg/adapters/mssql"
	_ "github.com/ruslano69/datasync/pkg/adapters/mysql"
	_ "github.com/ruslano69/datasync/pkg/adapters/postgres"
	_ "github.com/ruslano69/datasync/pkg/adapters/sqlite"
	"github.com/ruslano69/datasync/pkg/audit"
	"github.com/ruslano69/datasync/pkg/brokers"
	"github.com/ruslano69/datasync/pkg/catalog"
	"github.com/ruslano69/datasync/pkg/config"
	"github.com/ruslano69/datasync/pkg/diff"
	"github.com/ruslano69/datasync/pkg/fetcher"
	"github.com/ruslano69/datasync/pkg/metrics"
	"github.com/ruslano69/datasync/pkg/pipeline"
	"github.com/ruslano69/datasync/pkg/processors"
	"github.com/ruslano69/datasync/pkg/resilience"
	"github.com/ruslano69/datasync/pkg/resultlog"
	"github.com/ruslano69/datasync/pkg/retry"
	"github.com/ruslano69/datasync/pkg/store"
	syncstate "github.com/ruslano69/datasync/pkg/sync"
	"github.com/ruslano69/datasync/pkg/transform"
)

// auditBatchSize is the number of audit rows buffered before a database insert
const auditBatchSize = 20

// App holds every component built from the configuration.
// Pipelines share the destination store, the state file and the sinks.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	adapter     adapters.Adapter
	catalog     *catalog.Catalog
	store       *store.Store
	dlq         *retry.DLQ
	fetchers    map[string]fetcher.Fetcher
	cleaner     processors.Cleaner
	transformer *transform.Transformer
	comparator  *diff.Comparator
	state       *syncstate.StateManager
	audit       *audit.AuditLogger
	metrics     *metrics.Metrics
	results     *resultlog.RedisPublisher
	notifier    *brokers.Notifier

	mu   sync.RWMutex
	last map[string]*pipeline.Run
}

// newCatalog builds the destination catalog. It owns the per-table comparison
// keys and retries schema reflection up to retry_count times.
func newCatalog(a adapters.Adapter, db config.DatabaseConfig, logger zerolog.Logger) *catalog.Catalog {
	return catalog.New(a,
		catalog.WithKeyColumns(db.KeyColumns),
		catalog.WithRetryCount(db.Store.RetryCount),
		catalog.WithLogger(logger))
}

// NewApp connects to the destination database and builds all components.
// On error everything created so far is closed.
func NewApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *App, err error) {
	app := &App{
		cfg:      cfg,
		logger:   logger,
		fetchers: make(map[string]fetcher.Fetcher),
		metrics:  metrics.New(),
		last:     make(map[string]*pipeline.Run),
	}
	defer func() {
		if err != nil {
			_ = app.Close(ctx)
		}
	}()

	app.adapter, err = adapters.New(ctx, cfg.Database.Conn)
	if err != nil {
		return nil, err
	}

	storeOpts := []store.Option{store.WithLogger(logger)}
	if cfg.DLQ.Enabled {
		app.dlq, err = retry.NewDLQ(cfg.DLQ)
		if err != nil {
			return nil, fmt.Errorf("failed to open DLQ: %w", err)
		}
		storeOpts = append(storeOpts, store.WithDLQ(app.dlq))
	}
	app.catalog = newCatalog(app.adapter, cfg.Database, logger)
	app.store = store.New(app.adapter, app.catalog, cfg.Database.Store, storeOpts...)

	for _, name := range cfg.FetcherNames() {
		f, err := fetcher.New(ctx, cfg.Fetchers[name], logger)
		if err != nil {
			return nil, fmt.Errorf("fetcher %s: %w", name, err)
		}
		guarded, err := fetcher.NewGuard(f, cfg.Guard(), logger)
		if err != nil {
			_ = fetcher.Close(ctx, f)
			return nil, fmt.Errorf("fetcher %s: %w", name, err)
		}
		app.fetchers[name] = guarded
	}

	app.cleaner, err = processors.NewCleaner(cfg.Cleaner, logger)
	if err != nil {
		return nil, err
	}
	app.transformer, err = transform.New(cfg.Transform, transform.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	app.comparator = diff.NewComparator(cfg.Comparator, app.catalog, logger)

	app.state, err = syncstate.NewStateManager(cfg.State.Path, cfg.State.AutoSave)
	if err != nil {
		return nil, err
	}

	if err := app.buildAudit(ctx); err != nil {
		return nil, err
	}

	if cfg.ResultLog.Enabled() {
		app.results = resultlog.NewRedisPublisher(cfg.ResultLog)
	}

	if len(cfg.Notify) > 0 {
		pubs := make([]brokers.Publisher, 0, len(cfg.Notify))
		for i, nc := range cfg.Notify {
			p, err := brokers.New(nc)
			if err != nil {
				return nil, fmt.Errorf("notify[%d]: %w", i, err)
			}
			if err := p.Connect(ctx); err != nil {
				return nil, fmt.Errorf("notify[%d] (%s): %w", i, nc.Type, err)
			}
			pubs = append(pubs, p)
		}
		app.notifier = brokers.NewNotifier(logger, pubs...)
	}

	return app, nil
}

func (a *App) buildAudit(ctx context.Context) error {
	if !a.cfg.Audit.Enabled {
		return nil
	}
	level, err := audit.ParseLevel(a.cfg.Audit.Level)
	if err != nil {
		return err
	}

	var appenders []audit.Appender
	if a.cfg.Audit.File.Path != "" {
		fa, err := audit.NewFileAppender(a.cfg.Audit.File)
		if err != nil {
			return err
		}
		appenders = append(appenders, fa)
	}
	if a.cfg.Audit.Table != "" {
		da, err := audit.NewDatabaseAppender(ctx, a.adapter, a.cfg.Audit.Table, auditBatchSize)
		if err != nil {
			for _, ap := range appenders {
				_ = ap.Close()
			}
			return err
		}
		appenders = append(appenders, da)
	}

	opts := []audit.Option{audit.WithLevel(level), audit.WithLogger(a.logger)}
	if a.cfg.Audit.Async {
		opts = append(opts, audit.WithAsync(a.cfg.Audit.BufferSize))
	}
	a.audit = audit.NewLogger(appenders, opts...)
	return nil
}

// Pipeline builds the pipeline described by pc
func (a *App) Pipeline(pc pipeline.Config) (*pipeline.Pipeline, error) {
	f, ok := a.fetchers[pc.Fetcher]
	if !ok {
		return nil, fmt.Errorf("unknown fetcher %q (available: %v)", pc.Fetcher, a.cfg.FetcherNames())
	}
	op, err := pipeline.ParseOperation(pc.Operation)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithOperation(op),
		pipeline.WithState(a.state, a.cfg.State.SkipUnchanged),
		pipeline.WithObserver(a.metrics),
		pipeline.WithLogger(a.logger),
	}
	if a.audit != nil {
		opts = append(opts, pipeline.WithAudit(a.audit))
	}
	return pipeline.New(pc.Name, pipeline.Deps{
		Fetcher:     f,
		Cleaner:     a.cleaner,
		Transformer: a.transformer,
		Comparator:  a.comparator,
		Store:       a.store,
	}, opts...)
}

// Run executes one pipeline and publishes its result. Sink failures are
// logged and never change the outcome of the run.
func (a *App) Run(ctx context.Context, pc pipeline.Config) (*pipeline.Run, error) {
	p, err := a.Pipeline(pc)
	if err != nil {
		return nil, err
	}
	run := p.Run(ctx, pc.Interface, pc.Params)

	a.mu.Lock()
	a.last[run.Pipeline] = run
	a.mu.Unlock()

	if a.results != nil {
		if err := a.results.Publish(ctx, run); err != nil {
			a.logger.Warn().Err(err).Str("pipeline", run.Pipeline).Msg("failed to publish run result")
		}
	}
	if a.notifier != nil {
		if err := a.notifier.Notify(ctx, run); err != nil {
			a.logger.Warn().Err(err).Str("pipeline", run.Pipeline).Msg("failed to notify run result")
		}
	}
	return run, nil
}

// LastRun returns the most recent run of a pipeline made by this process
func (a *App) LastRun(name string) (*pipeline.Run, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	run, ok := a.last[name]
	return run, ok
}

// LastRuns returns the most recent run of every pipeline, ordered by name
func (a *App) LastRuns() []*pipeline.Run {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.last))
	for n := range a.last {
		names = append(names, n)
	}
	sort.Strings(names)
	runs := make([]*pipeline.Run, len(names))
	for i, n := range names {
		runs[i] = a.last[n]
	}
	return runs
}

// Interfaces lists the interfaces of every configured fetcher
func (a *App) Interfaces() map[string][]string {
	out := make(map[string][]string, len(a.fetchers))
	for name, f := range a.fetchers {
		out[name] = f.Interfaces()
	}
	return out
}

// Breakers returns circuit breaker stats per fetcher and interface
func (a *App) Breakers() map[string]map[string]resilience.Stats {
	out := make(map[string]map[string]resilience.Stats, len(a.fetchers))
	for name, f := range a.fetchers {
		if g, ok := f.(*fetcher.Guard); ok {
			out[name] = g.Breakers().StatsAll()
		}
	}
	return out
}

// Ping checks the destination database and the result log
func (a *App) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{"database": a.adapter.Ping(ctx)}
	if a.results != nil {
		checks["result_log"] = a.results.Ping(ctx)
	}
	return checks
}

// Close releases all components. The state file is saved last.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for name, f := range a.fetchers {
		if err := fetcher.Close(ctx, f); err != nil {
			errs = append(errs, fmt.Errorf("fetcher %s: %w", name, err))
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit: %w", err))
		}
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}
	if a.results != nil {
		if err := a.results.Close(); err != nil {
			errs = append(errs, fmt.Errorf("result_log: %w", err))
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Save(); err != nil {
			errs = append(errs, fmt.Errorf("dlq: %w", err))
		}
	}
	if a.state != nil && a.state.Path() != "" {
		if err := a.state.Save(); err != nil {
			errs = append(errs, fmt.Errorf("state: %w", err))
		}
	}
	if a.adapter != nil {
		if err := a.adapter.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
