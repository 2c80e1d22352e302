// Package pipeline связывает стадии синхронизации: получение данных,
// очистку, трансформацию, сверку с сохраненными строками и запись.
//
// Run выполняет стадии последовательно и останавливается на первой
// ошибке. Ошибка записывается в результат стадии и запуска, но не
// возвращается из Run: вызывающий проверяет Run.Err().
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/audit"
	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
	"github.com/ruslano69/datasync/pkg/diff"
	"github.com/ruslano69/datasync/pkg/fetcher"
	"github.com/ruslano69/datasync/pkg/processors"
	"github.com/ruslano69/datasync/pkg/store"
	syncstate "github.com/ruslano69/datasync/pkg/sync"
	"github.com/ruslano69/datasync/pkg/transform"
)

// Operation - режим записи
type Operation string

const (
	// OpSync - сверка и запись только новых и измененных строк
	OpSync Operation = "sync"
	// OpInsert - вставка всех строк без сверки
	OpInsert Operation = "insert"
	// OpUpsert - построчная проверка существования и UPDATE/INSERT
	OpUpsert Operation = "upsert"
)

// ParseOperation разбирает режим записи. Пустая строка - sync.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case "", OpSync:
		return OpSync, nil
	case OpInsert, OpUpsert:
		return Operation(s), nil
	default:
		return "", syncerr.Configf("pipeline.operation", "unknown operation %q (sync, insert, upsert)", s)
	}
}

// Config - описание конвейера в конфигурации
type Config struct {
	Name      string         `yaml:"name"`
	Fetcher   string         `yaml:"fetcher"`
	Interface string         `yaml:"interface"`
	Params    map[string]any `yaml:"params"`
	Operation string         `yaml:"operation"`
}

// Transformer - стадия трансформации
type Transformer interface {
	Transform(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*transform.Result, error)
}

// Store - стадия записи и источник сохраненных строк для сверки
type Store interface {
	Insert(ctx context.Context, ds *dataset.Dataset, table string) (store.WriteResult, error)
	Update(ctx context.Context, ds *dataset.Dataset, table string, keys []string) (store.WriteResult, error)
	Upsert(ctx context.Context, ds *dataset.Dataset, table string, keys []string) (store.WriteResult, error)
	Lookup(ctx context.Context, table string, keyColumns []string, chunk *dataset.Dataset) (*dataset.Dataset, error)
}

// Observer получает события запуска (метрики)
type Observer interface {
	StageFinished(pipeline string, sr *StageResult)
	RowsWritten(table, op string, n int)
	RunFinished(run *Run)
}

// Deps - компоненты стадий
type Deps struct {
	Fetcher     fetcher.Fetcher
	Cleaner     processors.Cleaner
	Transformer Transformer
	Comparator  *diff.Comparator
	Store       Store
}

// Pipeline - конвейер синхронизации
type Pipeline struct {
	name      string
	operation Operation
	deps      Deps

	state         *syncstate.StateManager
	skipUnchanged bool
	audit         audit.Logger
	observers     []Observer
	logger        zerolog.Logger
	now           func() time.Time
	newID         func() string
}

// Option - опция конструктора
type Option func(*Pipeline)

// WithOperation задает режим записи
func WithOperation(op Operation) Option {
	return func(p *Pipeline) { p.operation = op }
}

// WithState подключает состояние синхронизации. При skipUnchanged
// запуск с тем же отпечатком данных не выполняет сверку и запись.
func WithState(sm *syncstate.StateManager, skipUnchanged bool) Option {
	return func(p *Pipeline) {
		p.state = sm
		p.skipUnchanged = skipUnchanged
	}
}

// WithAudit задает журнал аудита стадий
func WithAudit(l audit.Logger) Option {
	return func(p *Pipeline) { p.audit = l }
}

// WithObserver добавляет наблюдателя
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, o) }
}

// WithLogger задает логгер
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l.With().Str("component", "pipeline").Logger() }
}

// WithClock задает источник времени
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDGenerator задает генератор идентификаторов запусков
func WithIDGenerator(gen func() string) Option {
	return func(p *Pipeline) { p.newID = gen }
}

// New создает конвейер. Все компоненты Deps обязательны.
func New(name string, deps Deps, opts ...Option) (*Pipeline, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, syncerr.Configf("pipeline.new", "pipeline %s: fetcher is required", name)
	case deps.Cleaner == nil:
		return nil, syncerr.Configf("pipeline.new", "pipeline %s: cleaner is required", name)
	case deps.Transformer == nil:
		return nil, syncerr.Configf("pipeline.new", "pipeline %s: transformer is required", name)
	case deps.Comparator == nil:
		return nil, syncerr.Configf("pipeline.new", "pipeline %s: comparator is required", name)
	case deps.Store == nil:
		return nil, syncerr.Configf("pipeline.new", "pipeline %s: store is required", name)
	}

	p := &Pipeline{
		name:      name,
		operation: OpSync,
		deps:      deps,
		audit:     audit.NullLogger{},
		logger:    zerolog.Nop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name возвращает имя конвейера
func (p *Pipeline) Name() string {
	return p.name
}

// Run выполняет все стадии для интерфейса источника. Всегда возвращает запуск.
func (p *Pipeline) Run(ctx context.Context, iface string, params map[string]any) *Run {
	run := newRun(p.newID(), p.name, iface, p.now())
	log := p.logger.With().Str("run_id", run.ID).Str("interface", iface).Logger()
	log.Info().Str("operation", string(p.operation)).Msg("run started")

	err := p.execute(ctx, run, iface, params)
	run.finish(p.now(), err)
	p.recordState(run, err)

	p.logRun(ctx, run)
	for _, o := range p.observers {
		o.RunFinished(run)
	}

	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err).Str("kind", string(syncerr.KindOf(err)))
	}
	ev.Str("status", string(run.Status)).Str("table", run.Table).
		Int("inserted", run.Counts.Inserted).Int("updated", run.Counts.Updated).
		Int("unchanged", run.Counts.Unchanged).Int("failed", run.Counts.Failed).
		Float64("duration", run.Duration).Msg("run finished")
	return run
}

func (p *Pipeline) execute(ctx context.Context, run *Run, iface string, params map[string]any) error {
	// Fetch
	var fetched *fetcher.Result
	err := p.stage(ctx, run, StageFetch, func(sr *StageResult) error {
		res, err := p.deps.Fetcher.Fetch(ctx, iface, params)
		if err != nil {
			return err
		}
		if res == nil {
			res = &fetcher.Result{}
		}
		if res.Dataset == nil {
			res.Dataset = &dataset.Dataset{}
		}
		fetched = res
		sr.Rows = res.Dataset.Len()
		return nil
	})
	if err != nil {
		return err
	}
	if fetched.Dataset.IsEmpty() {
		return p.skipRest(run, StageFetch, "empty dataset")
	}

	// Clean
	var cleaned *dataset.Dataset
	err = p.stage(ctx, run, StageClean, func(sr *StageResult) error {
		ds, err := p.deps.Cleaner.Clean(ctx, fetched.Dataset, fetched.Metadata)
		if err != nil {
			return err
		}
		if ds == nil {
			ds = &dataset.Dataset{}
		}
		cleaned = ds
		sr.Rows = ds.Len()
		return nil
	})
	if err != nil {
		return err
	}
	if cleaned.IsEmpty() {
		return p.skipRest(run, StageClean, "empty dataset")
	}

	// Transform
	var transformed *transform.Result
	err = p.stage(ctx, run, StageTransform, func(sr *StageResult) error {
		res, err := p.deps.Transformer.Transform(ctx, cleaned, fetched.Metadata)
		if err != nil {
			return err
		}
		if res.Dataset == nil {
			res.Dataset = &dataset.Dataset{}
		}
		transformed = res
		run.Table = res.TableName
		sr.Rows = res.Dataset.Len()
		sr.Result = map[string]any{"table": res.TableName}
		return nil
	})
	if err != nil {
		return err
	}
	ds, table := transformed.Dataset, transformed.TableName
	if ds.IsEmpty() {
		return p.skipRest(run, StageTransform, "empty dataset")
	}

	fp := ds.Fingerprint()
	run.Fingerprint = syncstate.FormatFingerprint(fp)
	if p.state != nil && p.skipUnchanged && p.state.Unchanged(table, fp) {
		return p.skipRest(run, StageTransform, "dataset unchanged since last run")
	}

	switch p.operation {
	case OpInsert:
		if err := p.skipStage(run, StageReconcile, "insert operation"); err != nil {
			return err
		}
		return p.stage(ctx, run, StageWrite, func(sr *StageResult) error {
			wr, err := p.deps.Store.Insert(ctx, ds, table)
			p.applyWrite(run, sr, table, wr)
			return err
		})

	case OpUpsert:
		if err := p.skipStage(run, StageReconcile, "upsert operation"); err != nil {
			return err
		}
		return p.stage(ctx, run, StageWrite, func(sr *StageResult) error {
			keys := p.deps.Comparator.KeyColumns(table, ds.ColumnNames())
			wr, err := p.deps.Store.Upsert(ctx, ds, table, keys)
			p.applyWrite(run, sr, table, wr)
			return err
		})
	}

	// Reconcile
	var reconciled *diff.Result
	err = p.stage(ctx, run, StageReconcile, func(sr *StageResult) error {
		res, err := p.deps.Comparator.BatchReconcile(ctx, ds, table, p.deps.Store.Lookup)
		if err != nil {
			return err
		}
		reconciled = res
		run.Counts.Unchanged = res.Stats.Unchanged
		sr.Rows = res.Stats.New
		sr.Result = res.Stats
		return nil
	})
	if err != nil {
		return err
	}

	// Write
	return p.stage(ctx, run, StageWrite, func(sr *StageResult) error {
		var total store.WriteResult
		if !reconciled.ToInsert.IsEmpty() {
			wr, err := p.deps.Store.Insert(ctx, reconciled.ToInsert, table)
			total.Add(wr)
			if err != nil {
				p.applyWrite(run, sr, table, total)
				return err
			}
		}
		if !reconciled.ToUpdate.IsEmpty() && len(reconciled.Keys) > 0 {
			wr, err := p.deps.Store.Update(ctx, reconciled.ToUpdate, table, reconciled.Keys)
			total.Add(wr)
			if err != nil {
				p.applyWrite(run, sr, table, total)
				return err
			}
		}
		p.applyWrite(run, sr, table, total)
		return nil
	})
}

func (p *Pipeline) applyWrite(run *Run, sr *StageResult, table string, wr store.WriteResult) {
	run.Counts.Inserted += wr.Inserted
	run.Counts.Updated += wr.Updated
	run.Counts.Failed += wr.Failed
	sr.Rows = wr.Total
	sr.Result = wr
	for _, o := range p.observers {
		if wr.Inserted > 0 {
			o.RowsWritten(table, "insert", wr.Inserted)
		}
		if wr.Updated > 0 {
			o.RowsWritten(table, "update", wr.Updated)
		}
		if wr.Failed > 0 {
			o.RowsWritten(table, "failed", wr.Failed)
		}
	}
}

// stage выполняет fn как стадию: переводит запуск, фиксирует время,
// категорию ошибки и пишет аудит. Паника стадии становится ошибкой.
func (p *Pipeline) stage(ctx context.Context, run *Run, stage Stage, fn func(sr *StageResult) error) (err error) {
	if err := run.advance(stage.status()); err != nil {
		return err
	}
	sr := run.begin(stage, p.now())
	sr.Status = StageRunning

	defer func() {
		if r := recover(); r != nil {
			err = syncerr.New(syncerr.KindProcessing, "pipeline."+string(stage), "panic: %v", r)
		}
		err = classifyStageError(stage, err)
		sr.finish(p.now(), err)
		p.stageDone(ctx, run, sr)
	}()

	if err := ctx.Err(); err != nil {
		return syncerr.Wrap(syncerr.KindTransient, "pipeline."+string(stage), err)
	}
	return fn(sr)
}

// classifyStageError назначает категорию нетипизированным ошибкам по стадии
func classifyStageError(stage Stage, err error) error {
	if err == nil || syncerr.KindOf(err) != syncerr.KindUnknown {
		return err
	}
	kind := syncerr.KindProcessing
	switch stage {
	case StageFetch:
		kind = syncerr.KindFetcher
	case StageWrite:
		kind = syncerr.KindDatabase
	}
	return syncerr.Wrap(kind, "pipeline."+string(stage), err)
}

// skipStage отмечает стадию выполненной без работы
func (p *Pipeline) skipStage(run *Run, stage Stage, reason string) error {
	if err := run.advance(stage.status()); err != nil {
		return err
	}
	now := p.now()
	sr := run.begin(stage, now)
	sr.Skipped = true
	sr.Reason = reason
	sr.finish(now, nil)
	p.stageDone(context.Background(), run, sr)
	return nil
}

// skipRest пропускает все стадии после after
func (p *Pipeline) skipRest(run *Run, after Stage, reason string) error {
	found := false
	for _, s := range Stages {
		if found {
			if err := p.skipStage(run, s, reason); err != nil {
				return err
			}
		}
		if s == after {
			found = true
		}
	}
	p.logger.Info().Str("run_id", run.ID).Str("reason", reason).Msg("remaining stages skipped")
	return nil
}

func (p *Pipeline) stageDone(ctx context.Context, run *Run, sr *StageResult) {
	for _, o := range p.observers {
		o.StageFinished(p.name, sr)
	}

	op := audit.Operation(sr.Stage)
	status := audit.StatusSuccess
	if sr.Skipped {
		status = audit.StatusSkipped
	}
	entry := audit.NewEntry(op, status).
		WithScope(run.auditScope()).
		WithStats(int64(sr.Rows), seconds(sr.Duration)).
		WithError(sr.Err())
	if sr.Reason != "" {
		entry.WithMetadata("reason", sr.Reason)
	}
	if sr.Result != nil {
		entry.WithMetadata("result", sr.Result)
	}
	if err := p.audit.Log(ctx, entry); err != nil {
		p.logger.Warn().Err(err).Str("stage", string(sr.Stage)).Msg("audit log failed")
	}
}

func (r *Run) auditScope() audit.Scope {
	return audit.Scope{RunID: r.ID, Pipeline: r.Pipeline, Interface: r.Interface, Table: r.Table}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (p *Pipeline) logRun(ctx context.Context, run *Run) {
	entry := audit.NewEntry(audit.OpRun, audit.StatusSuccess).
		WithScope(run.auditScope()).
		WithStats(int64(run.Counts.Inserted+run.Counts.Updated), seconds(run.Duration)).
		WithError(run.Err()).
		WithMetadata("counts", run.Counts).
		WithData(run.Tasks)
	if err := p.audit.Log(ctx, entry); err != nil {
		p.logger.Warn().Err(err).Msg("audit log failed")
	}
}

// recordState сохраняет отпечаток успешно записанного набора.
// Запуск с ошибкой или с незаписанными строками сбрасывает отпечаток,
// пропущенная запись состояние не меняет.
func (p *Pipeline) recordState(run *Run, err error) {
	if p.state == nil || run.Table == "" {
		return
	}
	if w := run.Task(StageWrite); err == nil && w != nil && w.Skipped {
		return
	}
	if err == nil && run.Counts.Failed > 0 {
		err = fmt.Errorf("%d rows failed to write", run.Counts.Failed)
	}
	var serr error
	if err != nil {
		serr = p.state.RecordError(run.Table, run.ID, err)
	} else {
		serr = p.state.Record(syncstate.TableState{
			Table:        run.Table,
			Fingerprint:  run.Fingerprint,
			RunID:        run.ID,
			LastSyncTime: run.EndTime,
			Rows:         run.Counts.Inserted + run.Counts.Updated + run.Counts.Unchanged,
			Inserted:     run.Counts.Inserted,
			Updated:      run.Counts.Updated,
			Unchanged:    run.Counts.Unchanged,
		})
	}
	if serr != nil {
		p.logger.Warn().Err(serr).Str("table", run.Table).Msg("failed to save sync state")
	}
}
