package brokers

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

var errRabbitNotConnected = errors.New("rabbitmq: not connected")

// RabbitMQ публикует результаты в exchange (или default exchange с
// очередью в роли routing key). Имя конвейера уходит в заголовке pipeline.
type RabbitMQ struct {
	config  Config
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewRabbitMQ заполняет адрес по умолчанию: localhost, 5672 (5671 с TLS), vhost "/"
func NewRabbitMQ(cfg Config) (*RabbitMQ, error) {
	if cfg.Queue == "" && cfg.Exchange == "" {
		return nil, syncerr.Configf("brokers.rabbitmq", "queue or exchange is required")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	switch {
	case cfg.Port != 0:
	case cfg.UseTLS:
		cfg.Port = 5671
	default:
		cfg.Port = 5672
	}
	if cfg.VHost == "" {
		cfg.VHost = "/"
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = cfg.Queue
	}
	cfg.Timeout = timeoutOrDefault(cfg.Timeout)
	return &RabbitMQ{config: cfg}, nil
}

// URL - amqp(s)://user:password@host:port/vhost с экранированием
func (r *RabbitMQ) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(r.config.User, r.config.Password),
		Host:   fmt.Sprintf("%s:%d", r.config.Host, r.config.Port),
	}
	if r.config.UseTLS {
		u.Scheme = "amqps"
	}
	return u.String() + "/" + url.PathEscape(r.config.VHost)
}

// Connect открывает соединение и канал. Заданная очередь объявляется
// с теми же параметрами, что у существующей, иначе брокер вернет ошибку.
func (r *RabbitMQ) Connect(ctx context.Context) error {
	dialCfg := amqp.Config{Dial: amqp.DefaultDial(r.config.Timeout)}
	if r.config.UseTLS {
		dialCfg.TLSClientConfig = &tls.Config{ServerName: r.config.Host, MinVersion: tls.VersionTLS12}
	}
	conn, err := amqp.DialConfig(r.URL(), dialCfg)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	r.conn, r.channel = conn, ch

	if r.config.Queue == "" {
		return nil
	}
	if _, err := ch.QueueDeclare(r.config.Queue, r.config.Durable, false, false, false, nil); err != nil {
		r.Close()
		return fmt.Errorf("declare queue %s: %w", r.config.Queue, err)
	}
	return nil
}

func publishing(key string, payload []byte, at time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  ContentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    at,
		Type:         "datasync.run",
		AppId:        producer,
		Headers:      amqp.Table{"pipeline": key},
		Body:         payload,
	}
}

func (r *RabbitMQ) Publish(ctx context.Context, key string, payload []byte) error {
	if r.channel == nil {
		return errRabbitNotConnected
	}
	return r.channel.PublishWithContext(ctx, r.config.Exchange, r.config.RoutingKey,
		false, false, publishing(key, payload, time.Now()))
}

func (r *RabbitMQ) Ping(context.Context) error {
	switch {
	case r.conn == nil || r.conn.IsClosed():
		return errRabbitNotConnected
	case r.channel == nil || r.channel.IsClosed():
		return errors.New("rabbitmq: channel closed")
	}
	return nil
}

// Close закрывает канал, затем соединение. Уже закрытые не считаются ошибкой.
func (r *RabbitMQ) Close() error {
	var errs []error
	if r.channel != nil {
		errs = append(errs, ignoreClosed(r.channel.Close()))
		r.channel = nil
	}
	if r.conn != nil {
		errs = append(errs, ignoreClosed(r.conn.Close()))
		r.conn = nil
	}
	return errors.Join(errs...)
}

func ignoreClosed(err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

func (r *RabbitMQ) Type() string { return TypeRabbitMQ }
