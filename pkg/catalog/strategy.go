package catalog

import (
	"context"
	"time"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
	"github.com/ruslano69/datasync/pkg/retry"
)

// Strategy - способ прочитать структуру таблицы из БД.
// Каталог перебирает стратегии по порядку до первой успешной.
type Strategy interface {
	Name() string
	Reflect(ctx context.Context, adapter adapters.Adapter, table string) (schema.Table, error)
}

// IntrospectionStrategy - основной способ: information_schema / PRAGMA
// с повтором временных сбоев через retry.Retryer
type IntrospectionStrategy struct {
	Retryer *retry.Retryer
}

func (s IntrospectionStrategy) Name() string { return "introspection" }

func (s IntrospectionStrategy) Reflect(ctx context.Context, adapter adapters.Adapter, table string) (schema.Table, error) {
	var result schema.Table
	call := func(ctx context.Context) error {
		t, err := adapter.GetTableSchema(ctx, table)
		if err != nil {
			return syncerr.Classify(adapter, "catalog.introspect", err)
		}
		result = t
		return nil
	}

	if s.Retryer == nil {
		return result, call(ctx)
	}
	if err := s.Retryer.Do(ctx, call); err != nil {
		return schema.Table{}, syncerr.Escalate("catalog.introspect", err)
	}
	return result, nil
}

// ProbeStrategy - запасной способ: метаданные колонок пустой выборки
type ProbeStrategy struct{}

func (ProbeStrategy) Name() string { return "probe" }

func (ProbeStrategy) Reflect(ctx context.Context, adapter adapters.Adapter, table string) (schema.Table, error) {
	t, err := adapter.ProbeTableSchema(ctx, table)
	if err != nil {
		return schema.Table{}, syncerr.Classify(adapter, "catalog.probe", err)
	}
	return t, nil
}

// Повтор чтения структуры
const (
	DefaultRetryCount = 3
	RetryDelay        = 200 * time.Millisecond
)

// DefaultStrategies - интроспекция с retryCount попытками, затем probe
func DefaultStrategies(retryCount int) []Strategy {
	cfg := retry.DefaultConfig()
	if retryCount > 1 {
		cfg = retry.EnableRetry(retryCount, RetryDelay)
	}
	// конфигурация по умолчанию всегда валидна
	r, _ := retry.NewRetryer(cfg)
	return []Strategy{IntrospectionStrategy{Retryer: r}, ProbeStrategy{}}
}
