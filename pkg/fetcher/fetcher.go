// Package fetcher получает наборы данных из внешних источников.
//
// Источник - это реализация Fetcher, зарегистрированная под типом
// (sql, file, static). Конкретный экземпляр создается из конфигурации
// {type, params} и отдает набор по имени интерфейса и его параметрам.
// Guard оборачивает любой Fetcher ограничителем частоты, circuit
// breaker'ом и повторами.
package fetcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// Result - полученный набор и его метаданные
type Result struct {
	Dataset  *dataset.Dataset
	Metadata dataset.Metadata
}

// Fetcher - источник данных
type Fetcher interface {
	// Name возвращает имя источника (попадает в метаданные как source)
	Name() string

	// Fetch получает набор интерфейса. Неизвестный интерфейс - KindFetcher.
	Fetch(ctx context.Context, iface string, params map[string]any) (*Result, error)

	// Interfaces возвращает отсортированный список известных интерфейсов
	Interfaces() []string
}

// Closer реализуется источниками, которые держат подключения
type Closer interface {
	Close(ctx context.Context) error
}

// Config - конфигурация экземпляра источника
type Config struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

// Constructor создает источник из параметров
type Constructor func(ctx context.Context, params map[string]any, logger zerolog.Logger) (Fetcher, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register регистрирует тип источника
func Register(typ string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typ] = c
}

// Types возвращает отсортированный список зарегистрированных типов
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New создает источник по конфигурации
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (Fetcher, error) {
	registryMu.RLock()
	c, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, syncerr.Configf("fetcher.new", "unknown fetcher type: %s (available types: %v)", cfg.Type, Types())
	}
	f, err := c(ctx, cfg.Params, logger.With().Str("component", "fetcher").Str("fetcher", cfg.Type).Logger())
	if err != nil {
		if syncerr.KindOf(err) != syncerr.KindUnknown {
			return nil, err
		}
		return nil, syncerr.Wrapf(syncerr.KindConfiguration, "fetcher.new", err, "failed to create %s fetcher", cfg.Type)
	}
	return f, nil
}

// Close закрывает источник, если он держит подключения
func Close(ctx context.Context, f Fetcher) error {
	if c, ok := f.(Closer); ok {
		return c.Close(ctx)
	}
	return nil
}

func init() {
	Register("sql", newSQLFromParams)
	Register("file", newFileFromParams)
	Register("static", newStaticFromParams)
}

// newMetadata - метаданные полученного набора
func newMetadata(source, iface string, params map[string]any, ds *dataset.Dataset, now time.Time) dataset.Metadata {
	p := make(map[string]any, len(params))
	for k, v := range params {
		p[k] = v
	}
	return dataset.Metadata{
		dataset.KeySource:          source,
		dataset.KeyInterface:       iface,
		dataset.KeyInterfaceParams: p,
		dataset.KeyFetchTime:       now,
		dataset.KeyRowCount:        ds.Len(),
	}
}

func unknownInterface(op, iface string, known []string) error {
	return syncerr.Fetcherf(op, "unknown interface %q (available: %v)", iface, known)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
