// Package config загружает YAML-конфигурацию datasync и собирает из нее
// настройки всех компонентов: целевой БД, источников, стадий конвейера,
// журналов и приемников результатов.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/audit"
	"github.com/ruslano69/datasync/pkg/brokers"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
	"github.com/ruslano69/datasync/pkg/diff"
	"github.com/ruslano69/datasync/pkg/fetcher"
	"github.com/ruslano69/datasync/pkg/logging"
	"github.com/ruslano69/datasync/pkg/metrics"
	"github.com/ruslano69/datasync/pkg/pipeline"
	"github.com/ruslano69/datasync/pkg/processors"
	"github.com/ruslano69/datasync/pkg/resilience"
	"github.com/ruslano69/datasync/pkg/resultlog"
	"github.com/ruslano69/datasync/pkg/retry"
	"github.com/ruslano69/datasync/pkg/store"
	syncstate "github.com/ruslano69/datasync/pkg/sync"
	"github.com/ruslano69/datasync/pkg/transform"
)

// DefaultCleaner - очиститель по умолчанию
const DefaultCleaner = "standard"

// Config - полная конфигурация datasync
type Config struct {
	Database       DatabaseConfig            `yaml:"database"`
	Logging        logging.Config            `yaml:"logging"`
	Retry          retry.Config              `yaml:"retry"`
	CircuitBreaker resilience.Config         `yaml:"circuit_breaker"`
	RateLimit      fetcher.RateLimitConfig   `yaml:"rate_limit"`
	Fetchers       map[string]fetcher.Config `yaml:"fetchers"`
	Cleaner        processors.Config         `yaml:"cleaner"`
	Transform      transform.Config          `yaml:"transform"`
	Comparator     diff.Options              `yaml:"comparator"`
	Pipelines      []pipeline.Config         `yaml:"pipelines"`
	Audit          audit.Config              `yaml:"audit"`
	ResultLog      resultlog.Config          `yaml:"result_log"`
	Notify         []brokers.Config          `yaml:"notify"`
	State          syncstate.Config          `yaml:"state"`
	DLQ            retry.DLQConfig           `yaml:"dlq"`
	Metrics        metrics.Config            `yaml:"metrics"`
}

// DatabaseConfig - целевая БД: подключение, параметры записи и ключи таблиц
type DatabaseConfig struct {
	Conn       adapters.Config     `yaml:",inline"`
	Store      store.Config        `yaml:",inline"`
	KeyColumns map[string][]string `yaml:"key_columns"`
}

// Default возвращает конфигурацию со значениями по умолчанию.
// LoadConfig разбирает файл поверх нее, поэтому булевы флаги,
// включенные по умолчанию, можно выключить явно.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Store: store.DefaultConfig(),
		},
		Retry:          retry.DefaultConfig(),
		CircuitBreaker: resilience.Config{MaxFailures: 5, Timeout: 60 * time.Second, SuccessThreshold: 1},
		Cleaner:        processors.Config{Type: DefaultCleaner},
		Transform:      transform.DefaultConfig(),
		Comparator:     diff.DefaultOptions(),
		State:          syncstate.DefaultConfig(),
		DLQ:            retry.DefaultConfig().DLQ,
	}
}

// LoadConfig читает файл, подставляет ${ENV} и проверяет конфигурацию
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, syncerr.Wrapf(syncerr.KindConfiguration, "config.load", err, "failed to read config file")
	}
	return Parse(data)
}

// Parse разбирает YAML. Ссылки ${VAR} раскрываются до разбора.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, syncerr.Wrapf(syncerr.KindConfiguration, "config.parse", err, "failed to parse YAML")
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, syncerr.Wrapf(syncerr.KindConfiguration, "config.validate", err, "invalid configuration")
	}
	return cfg, nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.CircuitBreaker.Validate(); err != nil {
		return fmt.Errorf("circuit_breaker: %w", err)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit: requests_per_second must be > 0")
	}

	for _, name := range c.FetcherNames() {
		if c.Fetchers[name].Type == "" {
			return fmt.Errorf("fetchers.%s: type is required", name)
		}
	}

	if c.Cleaner.Type == "" {
		return fmt.Errorf("cleaner: type is required")
	}
	if c.Comparator.Tolerance < 0 {
		return fmt.Errorf("comparator: tolerance must not be negative")
	}

	seen := make(map[string]bool, len(c.Pipelines))
	for i, p := range c.Pipelines {
		if err := c.validatePipeline(p); err != nil {
			return fmt.Errorf("pipelines[%d] (%s): %w", i, p.Name, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("pipelines[%d] (%s): duplicate name", i, p.Name)
		}
		seen[p.Name] = true
	}

	if _, err := audit.ParseLevel(c.Audit.Level); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if err := c.ResultLog.Validate(); err != nil {
		return fmt.Errorf("result_log: %w", err)
	}
	for i, n := range c.Notify {
		if err := validateNotify(n); err != nil {
			return fmt.Errorf("notify[%d] (%s): %w", i, n.Type, err)
		}
	}
	if err := c.State.Validate(); err != nil {
		return fmt.Errorf("state: %w", err)
	}
	if c.DLQ.Enabled && c.DLQ.FilePath == "" {
		return fmt.Errorf("dlq: path is required when dlq is enabled")
	}
	return nil
}

func (c *Config) validatePipeline(p pipeline.Config) error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Interface == "" {
		return fmt.Errorf("interface is required")
	}
	if _, ok := c.Fetchers[p.Fetcher]; !ok {
		return fmt.Errorf("unknown fetcher %q (available: %v)", p.Fetcher, c.FetcherNames())
	}
	if _, err := pipeline.ParseOperation(p.Operation); err != nil {
		return err
	}
	return nil
}

func validateNotify(n brokers.Config) error {
	switch n.Type {
	case "kafka":
		if len(n.Brokers) == 0 || n.Topic == "" {
			return fmt.Errorf("brokers and topic are required")
		}
	case "rabbitmq":
		if n.Host == "" {
			return fmt.Errorf("host is required")
		}
	default:
		return fmt.Errorf("unsupported broker type (supported: rabbitmq, kafka)")
	}
	return nil
}

// Validate проверяет настройки целевой БД
func (d *DatabaseConfig) Validate() error {
	if d.Conn.Type == "" {
		return fmt.Errorf("type is required")
	}
	if d.Conn.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if d.Conn.MinConns > d.Conn.MaxConns {
		return fmt.Errorf("min_conns (%d) must not exceed max_conns (%d)", d.Conn.MinConns, d.Conn.MaxConns)
	}
	if d.Store.BatchSize < 0 || d.Store.RetryCount < 0 {
		return fmt.Errorf("batch_size and retry_count must not be negative")
	}
	for table, cols := range d.KeyColumns {
		if len(cols) == 0 {
			return fmt.Errorf("key_columns.%s: at least one column is required", table)
		}
	}
	return nil
}

// SetDefaults заполняет незаданные числовые и строковые параметры
func (c *Config) SetDefaults() {
	c.Database.Conn = c.Database.Conn.WithDefaults()
	if c.Database.Store.BatchSize == 0 {
		c.Database.Store.BatchSize = store.DefaultBatchSize
	}
	if c.Database.Store.RetryCount == 0 {
		c.Database.Store.RetryCount = store.DefaultRetryCount
	}

	c.Logging.ApplyDefaults()

	if c.Comparator.Tolerance == 0 {
		c.Comparator.Tolerance = diff.DefaultTolerance
	}
	if c.Comparator.BatchSize == 0 {
		c.Comparator.BatchSize = c.Database.Store.BatchSize
	}

	if c.Cleaner.Type == "" {
		c.Cleaner.Type = DefaultCleaner
	}
	if c.Audit.Level == "" {
		c.Audit.Level = audit.LevelStandard.String()
	}
	c.ResultLog.ApplyDefaults()
	c.Metrics.ApplyDefaults()

	for i := range c.Pipelines {
		if c.Pipelines[i].Operation == "" {
			c.Pipelines[i].Operation = string(pipeline.OpSync)
		}
	}
	for i := range c.Notify {
		if c.Notify[i].Timeout == 0 {
			c.Notify[i].Timeout = 10 * time.Second
		}
	}
}

// FetcherNames возвращает отсортированные имена источников
func (c *Config) FetcherNames() []string {
	names := make([]string, 0, len(c.Fetchers))
	for n := range c.Fetchers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Pipeline ищет конвейер по имени
func (c *Config) Pipeline(name string) (pipeline.Config, bool) {
	for _, p := range c.Pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return pipeline.Config{}, false
}

// Guard собирает защиту источников из секций retry, circuit_breaker и rate_limit
func (c *Config) Guard() fetcher.GuardConfig {
	return fetcher.GuardConfig{
		CircuitBreaker: c.CircuitBreaker,
		RateLimit:      c.RateLimit,
		Retry:          c.Retry,
	}
}

// Save записывает конфигурацию в YAML
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
