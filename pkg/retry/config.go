package retry

import (
	"time"

	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// BackoffStrategy - закон роста паузы между попытками
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"    // InitialDelay
	BackoffLinear      BackoffStrategy = "linear"      // InitialDelay * n
	BackoffExponential BackoffStrategy = "exponential" // InitialDelay * multiplier^(n-1)
)

// Config - политика повторов для чтения источников и интроспекции схем
type Config struct {
	Enabled bool `yaml:"enabled"`

	// MaxAttempts включает первую попытку; 0 - без ограничения
	MaxAttempts int `yaml:"max_attempts"`

	InitialDelay      time.Duration   `yaml:"initial_delay"`
	MaxDelay          time.Duration   `yaml:"max_delay"`
	BackoffStrategy   BackoffStrategy `yaml:"backoff"`
	BackoffMultiplier float64         `yaml:"multiplier"`

	// Jitter - доля случайного разброса паузы, от 0 до 1
	Jitter float64 `yaml:"jitter"`

	// IsRetryable имеет приоритет над RetryableErrors.
	// Без обоих повторяется любая ошибка.
	IsRetryable     func(err error) bool `yaml:"-"`
	RetryableErrors []string             `yaml:"retryable_errors"`

	// OnRetry вызывается перед паузой с номером неудачной попытки
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-"`

	DLQ DLQConfig `yaml:"dlq"`
}

// DLQConfig - файл отклоненных строк и попыток (JSON Lines, опционально zstd)
type DLQConfig struct {
	Enabled  bool   `yaml:"enabled"`
	FilePath string `yaml:"path"`

	// Compress принудительно включается для путей *.zst
	Compress bool `yaml:"compress"`

	// MaxSize - предел числа записей, старые вытесняются
	MaxSize int `yaml:"max_size"`

	RetentionPeriod time.Duration `yaml:"retention"`
}

// Validate проверяет выключенную конфигурацию только на DLQ.
// Нулевой множитель заменяется на 2.
func (c *Config) Validate() error {
	const op = "retry.validate"
	if c.DLQ.Enabled && c.DLQ.FilePath == "" {
		return syncerr.Configf(op, "dlq.path is required when dlq is enabled")
	}
	if !c.Enabled {
		return nil
	}

	switch c.BackoffStrategy {
	case BackoffConstant, BackoffLinear, BackoffExponential:
	default:
		return syncerr.Configf(op, "unknown backoff %q (constant, linear, exponential)", c.BackoffStrategy)
	}
	switch {
	case c.MaxAttempts < 0:
		return syncerr.Configf(op, "max_attempts must be >= 0, got %d", c.MaxAttempts)
	case c.InitialDelay < 0:
		return syncerr.Configf(op, "initial_delay must be >= 0, got %v", c.InitialDelay)
	case c.MaxDelay < c.InitialDelay:
		return syncerr.Configf(op, "max_delay %v is less than initial_delay %v", c.MaxDelay, c.InitialDelay)
	case c.Jitter < 0 || c.Jitter > 1:
		return syncerr.Configf(op, "jitter must be within [0, 1], got %g", c.Jitter)
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2
	}
	return nil
}

// DefaultConfig - retry выключен; после включения повторяются только
// временные ошибки, три попытки с паузой 1s, 2s (до 30s) и разбросом 10%.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffStrategy:   BackoffExponential,
		BackoffMultiplier: 2,
		Jitter:            0.1,
		IsRetryable:       syncerr.IsTransient,
		DLQ: DLQConfig{
			FilePath:        "./dlq.jsonl.zst",
			Compress:        true,
			MaxSize:         10_000,
			RetentionPeriod: 7 * 24 * time.Hour,
		},
	}
}

// EnableRetry - DefaultConfig с включенным retry. MaxDelay поднимается
// до initialDelay, если тот больше.
func EnableRetry(maxAttempts int, initialDelay time.Duration) Config {
	c := DefaultConfig()
	c.Enabled = true
	c.MaxAttempts = maxAttempts
	c.InitialDelay = initialDelay
	c.MaxDelay = max(c.MaxDelay, initialDelay)
	return c
}

// EnableRetryWithDLQ дополнительно пишет исчерпавшие попытки вызовы в dlqPath
func EnableRetryWithDLQ(maxAttempts int, initialDelay time.Duration, dlqPath string) Config {
	c := EnableRetry(maxAttempts, initialDelay)
	c.DLQ.Enabled = true
	c.DLQ.FilePath = dlqPath
	return c
}
