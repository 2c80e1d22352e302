// Package brokers рассылает результаты запусков конвейеров в очереди
// сообщений (Kafka, RabbitMQ). Сообщение - JSON запуска, ключ - имя конвейера.
package brokers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/core/syncerr"
	"github.com/ruslano69/datasync/pkg/pipeline"
)

const (
	TypeKafka    = "kafka"
	TypeRabbitMQ = "rabbitmq"

	// ContentType сообщений с результатом запуска
	ContentType = "application/json"

	// DefaultTimeout - предел на отправку одного сообщения
	DefaultTimeout = 10 * time.Second

	producer = "datasync"
)

// Publisher - подключение к одному брокеру
type Publisher interface {
	Connect(ctx context.Context) error
	// Publish отправляет message; key - ключ партиционирования или заголовок
	Publish(ctx context.Context, key string, message []byte) error
	Ping(ctx context.Context) error
	Close() error
	Type() string
}

// Config - элемент списка notify в конфигурации. Поля, не относящиеся
// к Type, игнорируются.
type Config struct {
	Type    string        `yaml:"type"`
	Timeout time.Duration `yaml:"timeout"`

	// kafka
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	// rabbitmq
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	VHost      string `yaml:"vhost"`
	UseTLS     bool   `yaml:"use_tls"`
	Queue      string `yaml:"queue"`
	Exchange   string `yaml:"exchange"`    // "" - default exchange
	RoutingKey string `yaml:"routing_key"` // "" - имя очереди
	Durable    bool   `yaml:"durable"`
}

// New создает отправителя без подключения
func New(cfg Config) (Publisher, error) {
	switch cfg.Type {
	case TypeKafka:
		return NewKafka(cfg)
	case TypeRabbitMQ:
		return NewRabbitMQ(cfg)
	}
	return nil, syncerr.Configf("brokers.new", "unsupported broker type %q (kafka, rabbitmq)", cfg.Type)
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

// Notifier раздает результат запуска всем отправителям по очереди
type Notifier struct {
	publishers []Publisher
	timeout    time.Duration
	logger     zerolog.Logger
}

func NewNotifier(logger zerolog.Logger, publishers ...Publisher) *Notifier {
	return &Notifier{
		publishers: publishers,
		timeout:    DefaultTimeout,
		logger:     logger.With().Str("component", "notify").Logger(),
	}
}

// Notify не останавливается на отказавшем брокере.
// Возвращает первую ошибку с префиксом типа брокера.
func (n *Notifier) Notify(ctx context.Context, run *pipeline.Run) error {
	payload, err := run.JSON()
	if err != nil {
		return err
	}

	var first error
	for _, p := range n.publishers {
		log := n.logger.With().Str("broker", p.Type()).Str("run_id", run.ID).Logger()
		if err := n.publish(ctx, p, run.Pipeline, payload); err != nil {
			log.Warn().Err(err).Msg("run notification failed")
			if first == nil {
				first = fmt.Errorf("%s: %w", p.Type(), err)
			}
			continue
		}
		log.Debug().Msg("run notification sent")
	}
	return first
}

func (n *Notifier) publish(ctx context.Context, p Publisher, key string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return p.Publish(ctx, key, payload)
}

// Close закрывает всех отправителей, даже если кто-то вернул ошибку
func (n *Notifier) Close() error {
	var first error
	for _, p := range n.publishers {
		if err := p.Close(); err != nil && first == nil {
			first = fmt.Errorf("%s: %w", p.Type(), err)
		}
	}
	return first
}
