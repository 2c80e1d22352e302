// Package transform приводит очищенный набор к форме целевой таблицы:
// выбирает маппинг по имени интерфейса, проецирует и переименовывает
// колонки, добавляет служебные колонки и применяет преобразователи значений.
package transform

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// Служебные колонки, добавляемые при add_metadata
const (
	FetchTimeColumn   = "fetch_time"
	InterfaceIDColumn = "interface_id"
	RawTablePrefix    = "raw_"
)

// Mapping описывает, как набор интерфейса ложится в таблицу
type Mapping struct {
	TableName     string            `yaml:"table_name"`
	ColumnMapping map[string]string `yaml:"column_mapping"` // исходная колонка -> колонка таблицы
	Transformers  map[string]string `yaml:"transformers"`   // колонка таблицы -> имя преобразователя
	InterfaceID   string            `yaml:"interface_id"`
}

// Config - настройки стадии трансформации
type Config struct {
	Enabled     bool               `yaml:"enabled"`
	AddMetadata bool               `yaml:"add_metadata"`
	Mappings    map[string]Mapping `yaml:"mappings"` // имя интерфейса или шаблон с '*'
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{Enabled: true, AddMetadata: true}
}

// Result - результат трансформации
type Result struct {
	Dataset   *dataset.Dataset
	TableName string
	Metadata  dataset.Metadata
}

type pattern struct {
	raw string
	re  *regexp.Regexp
}

// Transformer выполняет стадию трансформации
type Transformer struct {
	config   Config
	patterns []pattern // шаблоны с '*', от длинных к коротким
	logger   zerolog.Logger
	now      func() time.Time
}

// Option настраивает Transformer
type Option func(*Transformer)

// WithLogger задает логгер
func WithLogger(l zerolog.Logger) Option {
	return func(t *Transformer) {
		t.logger = l.With().Str("component", "transform").Logger()
	}
}

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(t *Transformer) {
		t.now = now
	}
}

// New проверяет маппинги и создает Transformer
func New(cfg Config, opts ...Option) (*Transformer, error) {
	t := &Transformer{config: cfg, logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}

	for _, key := range sortedKeys(cfg.Mappings) {
		m := cfg.Mappings[key]
		if m.TableName == "" {
			return nil, syncerr.Configf("transform.new", "mapping %q: table_name is required", key)
		}
		if err := schema.ValidateIdentifier(m.TableName); err != nil {
			return nil, syncerr.Wrapf(syncerr.KindConfiguration, "transform.new", err, "mapping %q", key)
		}
		for col, name := range m.Transformers {
			if _, ok := LookupValue(name); !ok {
				return nil, syncerr.Configf("transform.new", "mapping %q: unknown transformer %q for column %s (available: %v)",
					key, name, col, ValueNames())
			}
		}
		if strings.Contains(key, "*") {
			t.patterns = append(t.patterns, pattern{raw: key, re: wildcard(key)})
		}
	}
	sort.SliceStable(t.patterns, func(i, j int) bool {
		return len(t.patterns[i].raw) > len(t.patterns[j].raw)
	})
	return t, nil
}

// wildcard превращает шаблон с '*' в регулярное выражение на всю строку
func wildcard(p string) *regexp.Regexp {
	parts := strings.Split(p, "*")
	for i := range parts {
		parts[i] = regexp.QuoteMeta(parts[i])
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

// Match находит маппинг интерфейса: точное совпадение, затем шаблоны
func (t *Transformer) Match(iface string) (Mapping, bool) {
	if m, ok := t.config.Mappings[iface]; ok {
		return m, true
	}
	for _, p := range t.patterns {
		if p.re.MatchString(iface) {
			return t.config.Mappings[p.raw], true
		}
	}
	return Mapping{}, false
}

// Transform приводит набор к форме целевой таблицы.
// Вход не изменяется, метаданные дополняются полями table_name,
// row_count_after_transform и transform_time.
func (t *Transformer) Transform(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, syncerr.Wrap(syncerr.KindProcessing, "transform", err)
	}
	if ds == nil {
		ds = &dataset.Dataset{}
	}
	iface := meta.String(dataset.KeyInterface)

	if !t.config.Enabled {
		table := RawTableName(iface)
		t.logger.Debug().Str("interface", iface).Str("table", table).Msg("transform disabled, writing raw data")
		return &Result{
			Dataset:   ds.Clone(),
			TableName: table,
			Metadata: meta.Merge(dataset.Metadata{
				dataset.KeyTableName:           table,
				dataset.KeyTransformSkipped:    true,
				dataset.KeyRowCountTransformed: ds.Len(),
				dataset.KeyTransformTime:       t.now(),
			}),
		}, nil
	}

	mapping, ok := t.Match(iface)
	if !ok {
		return nil, syncerr.Configf("transform", "no mapping found for interface %q", iface)
	}

	out := ds.Clone()
	if len(mapping.ColumnMapping) > 0 {
		src := sortedKeys(mapping.ColumnMapping)
		projected, err := out.Project(src...)
		if err != nil {
			return nil, syncerr.Wrapf(syncerr.KindProcessing, "transform", err, "interface %s", iface)
		}
		out = projected.Rename(mapping.ColumnMapping)
	}

	if t.config.AddMetadata {
		if ft, ok := meta[dataset.KeyFetchTime]; ok && !out.HasColumn(FetchTimeColumn) {
			out = out.WithColumn(FetchTimeColumn, schema.CategoryTemporal, func(int) any { return ft })
		}
		if mapping.InterfaceID != "" && !out.HasColumn(InterfaceIDColumn) {
			id := mapping.InterfaceID
			out = out.WithColumn(InterfaceIDColumn, schema.CategoryText, func(int) any { return id })
		}
	}

	for _, col := range sortedKeys(mapping.Transformers) {
		if !out.HasColumn(col) {
			continue
		}
		fn, _ := LookupValue(mapping.Transformers[col])
		mapped, err := out.Map(col, func(v any) (any, error) {
			if v == nil {
				return nil, nil
			}
			return fn(v)
		})
		if err != nil {
			return nil, syncerr.Wrapf(syncerr.KindProcessing, "transform", err,
				"transformer %s on column %s", mapping.Transformers[col], col)
		}
		idx := mapped.Index(col)
		mapped.Columns[idx].Category = schema.Classify(mapped.ColumnValues(idx))
		out = mapped
	}

	t.logger.Debug().Str("interface", iface).Str("table", mapping.TableName).
		Int("rows", out.Len()).Int("columns", len(out.Columns)).Msg("dataset transformed")

	return &Result{
		Dataset:   out,
		TableName: mapping.TableName,
		Metadata: meta.Merge(dataset.Metadata{
			dataset.KeyTableName:           mapping.TableName,
			dataset.KeyRowCountTransformed: out.Len(),
			dataset.KeyTransformTime:       t.now(),
		}),
	}, nil
}

var nonIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// RawTableName - имя таблицы для данных без трансформации
func RawTableName(iface string) string {
	name := strings.Trim(nonIdent.ReplaceAllString(strings.ToLower(iface), "_"), "_")
	if name == "" {
		name = "unknown"
	}
	return RawTablePrefix + name
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
