package adapters

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// Значения пула по умолчанию
const (
	DefaultMaxConns = 5
	DefaultMinConns = 1
	DefaultTimeout  = 30 * time.Second
)

// AdapterConstructor возвращает неподключенный адаптер
type AdapterConstructor func() Adapter

// Реестр наполняется из init() подпакетов sqlite, postgres, mysql, mssql
var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterConstructor)
)

// Register связывает тип СУБД с конструктором. Повторная регистрация
// того же типа заменяет конструктор.
//
//	func init() {
//	    adapters.Register("postgres", func() adapters.Adapter { return &Adapter{} })
//	}
func Register(dbType string, constructor AdapterConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[dbType] = constructor
}

// IsRegistered - подключен ли драйвер для dbType
func IsRegistered(dbType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[dbType] != nil
}

// GetRegisteredTypes - зарегистрированные типы по алфавиту
func GetRegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Sorted(maps.Keys(registry))
}

// New создает адаптер по cfg.Type и подключает его. Незаданные
// параметры пула берутся из WithDefaults.
func New(ctx context.Context, cfg Config) (Adapter, error) {
	const op = "adapters.new"

	registryMu.RLock()
	constructor := registry[cfg.Type]
	registryMu.RUnlock()

	switch {
	case constructor == nil:
		return nil, syncerr.Configf(op, "unknown database type %q (registered: %v)", cfg.Type, GetRegisteredTypes())
	case cfg.DSN == "":
		return nil, syncerr.Configf(op, "dsn is required for %s", cfg.Type)
	}

	adapter := constructor()
	if err := adapter.Connect(ctx, cfg.WithDefaults()); err != nil {
		return nil, syncerr.Classify(adapter, "adapters.connect", err)
	}
	return adapter, nil
}

// WithDefaults возвращает копию с заполненными параметрами пула.
// MinConns не превышает MaxConns.
func (c Config) WithDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	c.MinConns = min(max(c.MinConns, DefaultMinConns), c.MaxConns)
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}
