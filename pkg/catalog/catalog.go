// Package catalog кэширует структуру целевых таблиц.
//
// Кэш сбрасывается после каждого структурного изменения (CREATE/ALTER)
// и перечитывается из БД перед решениями о создании таблицы.
package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// Catalog - потокобезопасный кэш структуры таблиц и ключей сравнения
type Catalog struct {
	adapter    adapters.Adapter
	strategies []Strategy
	logger     zerolog.Logger

	mu     sync.RWMutex
	tables map[string]schema.Table
	keys   map[string][]string
}

// Option - опция конструктора
type Option func(*Catalog)

// WithStrategies задает порядок стратегий чтения структуры
func WithStrategies(s ...Strategy) Option {
	return func(c *Catalog) { c.strategies = s }
}

// WithLogger задает логгер
func WithLogger(l zerolog.Logger) Option {
	return func(c *Catalog) { c.logger = l.With().Str("component", "catalog").Logger() }
}

// WithKeyColumns задает сконфигурированные ключи сравнения по таблицам
func WithKeyColumns(keys map[string][]string) Option {
	return func(c *Catalog) {
		for t, k := range keys {
			c.keys[strings.ToLower(t)] = append([]string(nil), k...)
		}
	}
}

// WithRetryCount - интроспекция с n попытками при временных сбоях, затем probe.
// n <= 0 означает DefaultRetryCount.
func WithRetryCount(n int) Option {
	if n <= 0 {
		n = DefaultRetryCount
	}
	return WithStrategies(DefaultStrategies(n)...)
}

// New создает каталог для адаптера.
// Без WithStrategies и WithRetryCount используется WithRetryCount(DefaultRetryCount).
func New(adapter adapters.Adapter, opts ...Option) *Catalog {
	c := &Catalog{
		adapter: adapter,
		logger:  zerolog.Nop(),
		tables:  make(map[string]schema.Table),
		keys:    make(map[string][]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.strategies) == 0 {
		c.strategies = DefaultStrategies(DefaultRetryCount)
	}
	return c
}

// Adapter возвращает адаптер каталога
func (c *Catalog) Adapter() adapters.Adapter {
	return c.adapter
}

// Get возвращает структуру таблицы из кэша или читает ее из БД.
// Отсутствующая таблица - ошибка syncerr.KindNotFound.
func (c *Catalog) Get(ctx context.Context, table string) (schema.Table, error) {
	c.mu.RLock()
	t, ok := c.tables[strings.ToLower(table)]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}
	return c.Refresh(ctx, table)
}

// Refresh перечитывает структуру таблицы из БД, игнорируя кэш
func (c *Catalog) Refresh(ctx context.Context, table string) (schema.Table, error) {
	t, err := c.reflect(ctx, table)
	if err != nil {
		c.Invalidate(table)
		return schema.Table{}, err
	}

	c.mu.Lock()
	c.tables[strings.ToLower(table)] = t
	c.mu.Unlock()
	return t, nil
}

func (c *Catalog) reflect(ctx context.Context, table string) (schema.Table, error) {
	var errs []error
	for _, s := range c.strategies {
		t, err := s.Reflect(ctx, c.adapter, table)
		if err == nil {
			if t.Name == "" {
				t.Name = table
			}
			c.logger.Debug().Str("table", table).Str("strategy", s.Name()).
				Int("columns", len(t.Columns)).Msg("table schema loaded")
			return t, nil
		}
		// отсутствие таблицы не лечится другой стратегией
		if syncerr.IsNotFound(err) {
			return schema.Table{}, err
		}
		if ctx.Err() != nil {
			return schema.Table{}, syncerr.Wrap(syncerr.KindTransient, "catalog.reflect", ctx.Err())
		}
		c.logger.Warn().Err(err).Str("table", table).Str("strategy", s.Name()).
			Msg("schema reflection strategy failed")
		errs = append(errs, err)
	}
	return schema.Table{}, syncerr.Wrapf(syncerr.KindDatabase, "catalog.reflect",
		errors.Join(errs...), "all %d strategies failed for table %s", len(c.strategies), table)
}

// Invalidate удаляет таблицу из кэша
func (c *Catalog) Invalidate(table string) {
	c.mu.Lock()
	delete(c.tables, strings.ToLower(table))
	c.mu.Unlock()
}

// KeyColumns возвращает сконфигурированный ключ сравнения таблицы или nil
func (c *Catalog) KeyColumns(table string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.keys[strings.ToLower(table)]...)
}

// ResolveKey возвращает ключ сравнения: сконфигурированный или, если его нет,
// все колонки набора кроме служебных колонок времени
func (c *Catalog) ResolveKey(table string, columns []string) []string {
	if k := c.KeyColumns(table); len(k) > 0 {
		return k
	}
	return schema.DefaultKey(columns)
}
