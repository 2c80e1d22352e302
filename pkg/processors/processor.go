package processors

import (
	"context"

	"github.com/ruslano69/datasync/pkg/core/dataset"
)

// Processor - один шаг очистки. Входной набор не меняется,
// meta описывает происхождение набора (интерфейс, параметры, время).
type Processor interface {
	Name() string
	Process(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*dataset.Dataset, error)
}

// Cleaner - стадия clean конвейера
type Cleaner interface {
	Clean(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*dataset.Dataset, error)
}

// Config выбирает очиститель: standard, passthrough или имя процессора
type Config struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}
