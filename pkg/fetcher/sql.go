package fetcher

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
	"github.com/ruslano69/datasync/pkg/security"
)

// namedParamRe находит :name, пропуская приведения типов вида ::text
var namedParamRe = regexp.MustCompile(`(^|[^:]):([A-Za-z_][A-Za-z0-9_]*)`)

// SQL получает наборы запросами к другой базе через адаптер.
// Каждому интерфейсу соответствует шаблон запроса с именованными
// параметрами :name, значения которых берутся из параметров вызова.
type SQL struct {
	adapter adapters.Adapter
	queries map[string]string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSQL создает источник поверх подключенного адаптера
func NewSQL(adapter adapters.Adapter, queries map[string]string, logger zerolog.Logger) *SQL {
	return &SQL{adapter: adapter, queries: queries, logger: logger, now: time.Now}
}

// newSQLFromParams:
//
//	params:
//	  type: postgres
//	  dsn: postgresql://...
//	  queries:
//	    daily_prices: "SELECT * FROM prices WHERE day = :day"
//	  unsafe: false # true отключает проверку запросов на только чтение
func newSQLFromParams(ctx context.Context, params map[string]any, logger zerolog.Logger) (Fetcher, error) {
	typ, _ := params["type"].(string)
	dsn, _ := params["dsn"].(string)
	schemaName, _ := params["schema"].(string)
	if typ == "" || dsn == "" {
		return nil, fmt.Errorf("sql fetcher requires 'type' and 'dsn'")
	}
	raw, ok := params["queries"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("sql fetcher requires 'queries' mapping")
	}
	unsafe, _ := params["unsafe"].(bool)
	queries := make(map[string]string, len(raw))
	for iface, q := range raw {
		s, ok := q.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("query for interface %s must be a non-empty string", iface)
		}
		if !unsafe {
			if err := security.ValidateReadOnly(s); err != nil {
				return nil, fmt.Errorf("query for interface %s: %w", iface, err)
			}
		}
		queries[iface] = s
	}

	adapter, err := adapters.New(ctx, adapters.Config{Type: typ, DSN: dsn, Schema: schemaName})
	if err != nil {
		return nil, err
	}
	return NewSQL(adapter, queries, logger), nil
}

func (f *SQL) Name() string { return "sql:" + f.adapter.GetDatabaseType() }

// Fetch выполняет запрос интерфейса
func (f *SQL) Fetch(ctx context.Context, iface string, params map[string]any) (*Result, error) {
	tmpl, ok := f.queries[iface]
	if !ok {
		return nil, unknownInterface("fetcher.sql", iface, f.Interfaces())
	}
	query, args, err := BindNamed(f.adapter.Dialect(), tmpl, params)
	if err != nil {
		return nil, syncerr.Wrapf(syncerr.KindFetcher, "fetcher.sql", err, "interface %s", iface)
	}

	start := time.Now()
	ds, err := f.adapter.Query(ctx, query, args...)
	if err != nil {
		err = syncerr.Classify(f.adapter, "fetcher.sql", err)
		if syncerr.IsTransient(err) {
			return nil, err
		}
		return nil, syncerr.Wrapf(syncerr.KindFetcher, "fetcher.sql", err, "interface %s", iface)
	}
	f.logger.Debug().Str("interface", iface).Int("rows", ds.Len()).
		Dur("duration", time.Since(start)).Msg("query fetched")
	return &Result{Dataset: ds, Metadata: newMetadata(f.Name(), iface, params, ds, f.now())}, nil
}

func (f *SQL) Interfaces() []string {
	return sortedKeys(f.queries)
}

// Close закрывает подключение адаптера
func (f *SQL) Close(ctx context.Context) error {
	return f.adapter.Close(ctx)
}

// BindNamed заменяет :name на параметры диалекта и возвращает аргументы
// в порядке появления. Отсутствующий параметр - ошибка.
func BindNamed(d adapters.Dialect, query string, params map[string]any) (string, []any, error) {
	var (
		sb   strings.Builder
		args []any
		last int
	)
	for _, m := range namedParamRe.FindAllStringSubmatchIndex(query, -1) {
		// m[4]:m[5] - имя; двоеточие стоит прямо перед ним
		colon := m[4] - 1
		name := query[m[4]:m[5]]
		v, ok := params[name]
		if !ok {
			return "", nil, fmt.Errorf("missing query parameter :%s", name)
		}
		sb.WriteString(query[last:colon])
		args = append(args, v)
		sb.WriteString(d.Placeholder(len(args)))
		last = m[5]
	}
	sb.WriteString(query[last:])
	return sb.String(), args, nil
}
