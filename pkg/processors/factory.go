package processors

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// DefaultCleaner - тип очистителя по умолчанию
const DefaultCleaner = "standard"

// Factory создает процессоры по их типу и конфигурации
type Factory struct {
	mu       sync.RWMutex
	creators map[string]CreatorFunc
}

// CreatorFunc функция для создания процессора из конфигурации
type CreatorFunc func(params map[string]any, logger zerolog.Logger) (Processor, error)

// NewFactory создает новую фабрику со встроенными процессорами
func NewFactory() *Factory {
	f := &Factory{
		creators: make(map[string]CreatorFunc),
	}

	f.Register("standard", func(params map[string]any, logger zerolog.Logger) (Processor, error) {
		cfg, err := StandardConfigFromParams(params)
		if err != nil {
			return nil, err
		}
		return NewStandard(cfg, logger), nil
	})

	f.Register("passthrough", func(map[string]any, zerolog.Logger) (Processor, error) {
		return Passthrough{}, nil
	})

	f.Register("field_normalizer", func(params map[string]any, _ zerolog.Logger) (Processor, error) {
		return NewFieldNormalizerFromConfig(params)
	})

	f.Register("field_validator", func(params map[string]any, _ zerolog.Logger) (Processor, error) {
		return NewFieldValidatorFromConfig(params)
	})

	f.Register("rename", func(params map[string]any, _ zerolog.Logger) (Processor, error) {
		m, err := stringMap(params, "column_mapping")
		if err != nil {
			return nil, err
		}
		return &RenameColumns{Mapping: m}, nil
	})

	f.Register("drop_columns", func(params map[string]any, _ zerolog.Logger) (Processor, error) {
		cols, err := stringList(params, "columns")
		if err != nil {
			return nil, err
		}
		return &DropColumns{Columns: cols}, nil
	})

	f.Register("na_values", func(params map[string]any, _ zerolog.Logger) (Processor, error) {
		values := DefaultNAValues
		if _, ok := params["values"]; ok {
			var err error
			if values, err = stringList(params, "values"); err != nil {
				return nil, err
			}
		}
		return &ReplaceNA{Values: values}, nil
	})

	f.Register("clip_outliers", func(params map[string]any, logger zerolog.Logger) (Processor, error) {
		cols, err := stringList(params, "columns")
		if err != nil {
			return nil, err
		}
		return &ClipOutliers{Columns: cols, logger: logger}, nil
	})

	return f
}

// Register регистрирует новый тип процессора
func (f *Factory) Register(processorType string, creator CreatorFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[processorType] = creator
}

// Types возвращает отсортированный список зарегистрированных типов
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.creators))
	for t := range f.creators {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Create создает процессор по конфигурации
func (f *Factory) Create(config Config, logger zerolog.Logger) (Processor, error) {
	f.mu.RLock()
	creator, ok := f.creators[config.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, syncerr.Configf("processors.create", "unknown processor type: %s (available: %v)",
			config.Type, f.Types())
	}

	processor, err := creator(config.Params, logger)
	if err != nil {
		return nil, syncerr.Wrapf(syncerr.KindConfiguration, "processors.create", err,
			"failed to create processor '%s'", config.Type)
	}
	return processor, nil
}

// CreateChain создает цепочку процессоров из массива конфигураций
func (f *Factory) CreateChain(configs []Config, logger zerolog.Logger) (*Chain, error) {
	chain := NewChain()
	for i, config := range configs {
		processor, err := f.Create(config, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create processor %d: %w", i, err)
		}
		chain.Add(processor)
	}
	return chain, nil
}

// NewCleaner создает очиститель по конфигурации.
// Пустой тип означает стандартный очиститель.
func (f *Factory) NewCleaner(config Config, logger zerolog.Logger) (Cleaner, error) {
	if config.Type == "" {
		config.Type = DefaultCleaner
	}
	p, err := f.Create(config, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := p.(Cleaner); ok {
		return c, nil
	}
	chain := NewChain(p)
	chain.name = p.Name()
	return chain, nil
}

// DefaultFactory - фабрика со всеми встроенными процессорами
var DefaultFactory = NewFactory()

// Register регистрирует процессор в фабрике по умолчанию
func Register(processorType string, creator CreatorFunc) {
	DefaultFactory.Register(processorType, creator)
}

// NewCleaner создает очиститель через фабрику по умолчанию
func NewCleaner(config Config, logger zerolog.Logger) (Cleaner, error) {
	return DefaultFactory.NewCleaner(config, logger)
}
