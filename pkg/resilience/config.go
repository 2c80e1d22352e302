package resilience

import (
	"time"

	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// Config - параметры одного breaker'а. В YAML задается шаблон,
// Name подставляет Group.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"-"`

	// MaxFailures сбоев подряд открывают breaker
	MaxFailures uint32 `yaml:"max_failures"`

	// Timeout - пауза в Open до пробного вызова
	Timeout time.Duration `yaml:"timeout"`

	// MaxConcurrentCalls: 0 - без ограничения
	MaxConcurrentCalls uint32 `yaml:"max_concurrent_calls"`

	// SuccessThreshold успешных проб закрывают breaker
	SuccessThreshold uint32 `yaml:"success_threshold"`

	// IsFailure отбирает ошибки, которые говорят о сбое источника.
	// nil - любая ошибка, кроме context.Canceled.
	IsFailure func(err error) bool `yaml:"-"`

	// OnStateChange вызывается в отдельной горутине
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// ShouldTrip заменяет правило MaxFailures
	ShouldTrip func(counts Counts) bool `yaml:"-"`
}

// Counts обнуляются при каждой смене состояния
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

// Validate проверяет включенную конфигурацию и заполняет
// SuccessThreshold и Name значениями по умолчанию
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	const op = "resilience.validate"
	if c.MaxFailures == 0 {
		return syncerr.Configf(op, "max_failures must be greater than 0")
	}
	if c.Timeout <= 0 {
		return syncerr.Configf(op, "timeout must be positive, got %v", c.Timeout)
	}
	c.SuccessThreshold = max(c.SuccessThreshold, 1)
	if c.Name == "" {
		c.Name = "circuit-breaker"
	}
	return nil
}

// DefaultConfig - включенный breaker: 5 сбоев, минута паузы, 2 пробы
func DefaultConfig(name string) Config {
	return Config{
		Enabled:          true,
		Name:             name,
		MaxFailures:      5,
		Timeout:          60 * time.Second,
		SuccessThreshold: 2,
	}
}
