package brokers

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

var errKafkaNotConnected = errors.New("kafka: not connected")

// Kafka пишет результаты запусков в один topic. Ключ сообщения - имя
// конвейера, поэтому Hash-балансировщик держит запуски конвейера в одной
// партиции и сохраняет их порядок.
type Kafka struct {
	brokers []string
	topic   string
	timeout time.Duration
	writer  *kafka.Writer
}

func NewKafka(cfg Config) (*Kafka, error) {
	const op = "brokers.kafka"
	switch {
	case cfg.Topic == "":
		return nil, syncerr.Configf(op, "topic is required")
	case len(cfg.Brokers) == 0:
		return nil, syncerr.Configf(op, "at least one broker address is required")
	}
	return &Kafka{
		brokers: cfg.Brokers,
		topic:   cfg.Topic,
		timeout: timeoutOrDefault(cfg.Timeout),
	}, nil
}

// Connect проверяет topic и готовит writer
func (k *Kafka) Connect(ctx context.Context) error {
	if err := k.Ping(ctx); err != nil {
		return err
	}
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        k.topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		MaxAttempts:  3,
		WriteTimeout: k.timeout,
	}
	return nil
}

func (k *Kafka) message(key string, payload []byte, at time.Time) kafka.Message {
	return kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  at,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(ContentType)},
			{Key: "producer", Value: []byte(producer)},
		},
	}
}

// Publish ждет подтверждения от всех реплик
func (k *Kafka) Publish(ctx context.Context, key string, payload []byte) error {
	if k.writer == nil {
		return errKafkaNotConnected
	}
	return k.writer.WriteMessages(ctx, k.message(key, payload, time.Now()))
}

// Ping читает партиции topic с первого брокера из списка
func (k *Kafka) Ping(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", k.brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.ReadPartitions(k.topic)
	return err
}

func (k *Kafka) Close() error {
	if k.writer == nil {
		return nil
	}
	err := k.writer.Close()
	k.writer = nil
	return err
}

func (k *Kafka) Type() string { return TypeKafka }

// Stats - счетчики writer'а с момента Connect
func (k *Kafka) Stats() kafka.WriterStats {
	if k.writer == nil {
		return kafka.WriterStats{}
	}
	return k.writer.Stats()
}
