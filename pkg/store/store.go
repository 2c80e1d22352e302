// Package store выполняет запись наборов данных в целевые таблицы.
//
// Store создает отсутствующие таблицы, добавляет новые колонки и пишет
// данные пакетами: одна транзакция на пакет. Пакет, упавший на нарушении
// уникальности, откатывается и повторяется построчно, так что ошибку
// получают только конфликтующие строки.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/catalog"
	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
	"github.com/ruslano69/datasync/pkg/retry"
)

// Значения по умолчанию
const (
	DefaultBatchSize  = 1000
	DefaultRetryCount = catalog.DefaultRetryCount

	// maxReportedErrors - сколько текстов ошибок сохраняется в WriteResult
	maxReportedErrors = 10
)

// Config - параметры записи
type Config struct {
	// BatchSize - строк в одной транзакции
	BatchSize int `yaml:"batch_size"`

	// RetryCount - попыток чтения структуры таблицы при временных сбоях.
	// Читает его каталог: catalog.WithRetryCount.
	RetryCount int `yaml:"retry_count"`

	// AutoCreateTable - создавать отсутствующие таблицы
	AutoCreateTable bool `yaml:"auto_create_table"`

	// AutoAddColumns - добавлять новые колонки набора в таблицу.
	// Если выключено, отсутствующие колонки не пишутся.
	AutoAddColumns bool `yaml:"auto_add_columns"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		BatchSize:       DefaultBatchSize,
		RetryCount:      DefaultRetryCount,
		AutoCreateTable: true,
		AutoAddColumns:  true,
	}
}

// WriteResult - итог операции записи
type WriteResult struct {
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Failed   int      `json:"failed"`
	Total    int      `json:"total"`
	Errors   []string `json:"errors,omitempty"`
}

func (r *WriteResult) addError(err error) {
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, err.Error())
	}
}

// Add суммирует результаты
func (r *WriteResult) Add(other WriteResult) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Failed += other.Failed
	r.Total += other.Total
	for _, e := range other.Errors {
		if len(r.Errors) >= maxReportedErrors {
			break
		}
		r.Errors = append(r.Errors, e)
	}
}

// Store - исполнитель записи в целевое хранилище
type Store struct {
	adapter adapters.Adapter
	catalog *catalog.Catalog
	config  Config
	logger  zerolog.Logger
	dlq     *retry.DLQ
	now     func() time.Time
}

// Option - опция конструктора
type Option func(*Store)

// WithLogger задает логгер
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l.With().Str("component", "store").Logger() }
}

// WithDLQ задает очередь для строк, которые не удалось записать
func WithDLQ(dlq *retry.DLQ) Option {
	return func(s *Store) { s.dlq = dlq }
}

// WithClock задает источник текущего времени для insert_time/update_time
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New создает Store. Каталог должен быть построен для того же адаптера.
func New(adapter adapters.Adapter, cat *catalog.Catalog, cfg Config, opts ...Option) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	s := &Store{
		adapter: adapter,
		catalog: cat,
		config:  cfg,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog возвращает каталог структуры таблиц
func (s *Store) Catalog() *catalog.Catalog {
	return s.catalog
}

// Config возвращает параметры записи
func (s *Store) Config() Config {
	return s.config
}

// withTx выполняет fn в транзакции: commit при успехе, rollback при ошибке
// или panic. Ошибка классифицируется адаптером.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx adapters.Tx) error) (err error) {
	tx, err := s.adapter.BeginTx(ctx)
	if err != nil {
		return syncerr.Classify(s.adapter, op, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			s.rollback(ctx, tx, op)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		s.rollback(ctx, tx, op)
		return syncerr.Classify(s.adapter, op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return syncerr.Classify(s.adapter, op, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (s *Store) rollback(ctx context.Context, tx adapters.Tx, op string) {
	// откат должен пройти даже после отмены контекста
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn().Err(err).Str("op", op).Msg("rollback failed")
	}
}

// toDLQ сохраняет строку, которую не удалось записать
func (s *Store) toDLQ(table, op string, record map[string]any, err error) {
	if s.dlq == nil {
		return
	}
	failure := retry.FailureWrite
	if syncerr.IsConflict(err) {
		failure = retry.FailureConflict
	}
	entry := retry.DLQEntry{
		Attempts:    1,
		LastError:   err.Error(),
		Kind:        string(syncerr.KindOf(err)),
		FailureType: failure,
		Source:      table,
		Operation:   op,
		Data:        record,
	}
	if dlqErr := s.dlq.Add(entry); dlqErr != nil {
		s.logger.Error().Err(dlqErr).Str("table", table).Msg("failed to write DLQ entry")
	}
}

// batches делит [0, n) на отрезки по size
func batches(n, size int) [][2]int {
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// writeColumn - колонка набора, которая пишется в таблицу
type writeColumn struct {
	index int // позиция в наборе, -1 для проставляемых колонок времени
	name  string
	col   schema.Column
}

// plan сопоставляет колонки набора с колонками таблицы (без учета регистра).
// Колонки, которых нет в таблице, пропускаются.
func plan(ds *dataset.Dataset, tbl schema.Table) []writeColumn {
	cols := make([]writeColumn, 0, len(ds.Columns)+2)
	for i, c := range ds.Columns {
		tc, ok := tbl.Column(c.Name)
		if !ok {
			continue
		}
		cols = append(cols, writeColumn{index: i, name: tc.Name, col: tc})
	}
	return cols
}

// stamp добавляет в план колонки времени, которые есть в таблице, но не в наборе
func stamp(cols []writeColumn, ds *dataset.Dataset, tbl schema.Table, names ...string) []writeColumn {
	for _, name := range names {
		tc, ok := tbl.Column(name)
		if !ok || hasColumnFold(ds, name) {
			continue
		}
		cols = append(cols, writeColumn{index: -1, name: tc.Name, col: tc})
	}
	return cols
}

func hasColumnFold(ds *dataset.Dataset, name string) bool {
	for _, c := range ds.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// rowArgs возвращает значения строки в порядке плана
func rowArgs(cols []writeColumn, row []any, now time.Time) []any {
	args := make([]any, len(cols))
	for i, c := range cols {
		if c.index < 0 {
			args[i] = now
			continue
		}
		args[i] = prepareValue(c, row[c.index])
	}
	return args
}

// prepareValue приводит значение к категории колонки таблицы.
// Неприводимое значение передается как есть: решение за СУБД.
func prepareValue(c writeColumn, v any) any {
	if v == nil {
		return nil
	}
	if _, ok := v.([]byte); ok {
		return v
	}
	out, err := schema.Coerce(c.name, v, c.col.Type.Category())
	if err != nil {
		return v
	}
	return out
}

func columnNames(cols []writeColumn) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}
