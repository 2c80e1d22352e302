// Package resultlog публикует результат каждого запуска конвейера в Redis,
// чтобы внешний оркестратор мог опрашивать состояние или подписаться на события.
//
// Ключи (prefix по умолчанию "datasync"):
//
//	SET     <prefix>:pipeline:<name>:state   <JSON>  EX <ttl>  последний запуск
//	LPUSH   <prefix>:pipeline:<name>:history <JSON>            последние History запусков
//	PUBLISH <prefix>:pipeline:<name>         <JSON>            событие завершения
package resultlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ruslano69/datasync/pkg/pipeline"
)

// Значения по умолчанию
const (
	DefaultPrefix  = "datasync"
	DefaultTTL     = 3600
	DefaultHistory = 20
)

// ErrNoResult - для конвейера еще нет опубликованного запуска
var ErrNoResult = errors.New("no published result")

// Config - параметры публикации результатов
type Config struct {
	Type     string `yaml:"type"`     // redis (пустое = отключено)
	Address  string `yaml:"address"`  // например "127.0.0.1:6379"
	Prefix   string `yaml:"prefix"`   // префикс ключей
	Password string `yaml:"password"` // опционально
	DB       int    `yaml:"db"`
	TTL      int    `yaml:"ttl"`     // TTL ключа state в секундах
	History  int    `yaml:"history"` // длина истории запусков
}

// Enabled - настроена ли публикация
func (c *Config) Enabled() bool {
	return c.Type != ""
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Type != "redis" {
		return fmt.Errorf("unsupported result_log type: %s (supported: redis)", c.Type)
	}
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if c.TTL < 0 || c.History < 0 {
		return fmt.Errorf("ttl and history must not be negative")
	}
	return nil
}

// ApplyDefaults заполняет незаданные поля
func (c *Config) ApplyDefaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.History == 0 {
		c.History = DefaultHistory
	}
}

// RedisPublisher публикует запуски в Redis
type RedisPublisher struct {
	client *redis.Client
	config Config
}

// NewRedisPublisher создает publisher; соединение устанавливается при первой команде
func NewRedisPublisher(config Config) *RedisPublisher {
	config.ApplyDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})
	return &RedisPublisher{client: client, config: config}
}

func (p *RedisPublisher) key(name, suffix string) string {
	k := fmt.Sprintf("%s:pipeline:%s", p.config.Prefix, name)
	if suffix != "" {
		k += ":" + suffix
	}
	return k
}

// Publish сохраняет и рассылает результат запуска, успешного или нет
func (p *RedisPublisher) Publish(ctx context.Context, run *pipeline.Run) error {
	payload, err := run.JSON()
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	ttl := time.Duration(p.config.TTL) * time.Second
	history := p.key(run.Pipeline, "history")

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.key(run.Pipeline, "state"), payload, ttl)
	pipe.LPush(ctx, history, payload)
	pipe.LTrim(ctx, history, 0, int64(p.config.History-1))
	pipe.Publish(ctx, p.key(run.Pipeline, ""), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Last возвращает JSON последнего запуска конвейера
func (p *RedisPublisher) Last(ctx context.Context, name string) (json.RawMessage, error) {
	data, err := p.client.Get(ctx, p.key(name, "state")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}
	return data, nil
}

// History возвращает последние запуски, новые первыми
func (p *RedisPublisher) History(ctx context.Context, name string) ([]*pipeline.Run, error) {
	items, err := p.client.LRange(ctx, p.key(name, "history"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis LRANGE failed: %w", err)
	}
	runs := make([]*pipeline.Run, 0, len(items))
	for _, item := range items {
		var r pipeline.Run
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("failed to decode run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, nil
}

// Subscribe подписывается на события завершения запусков конвейера
func (p *RedisPublisher) Subscribe(ctx context.Context, name string) *redis.PubSub {
	return p.client.Subscribe(ctx, p.key(name, ""))
}

// Ping проверяет доступность Redis
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close закрывает соединение с Redis
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
