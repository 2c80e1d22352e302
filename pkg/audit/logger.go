// Package audit ведет журнал стадий синхронизации: какая стадия какого
// запуска выполнилась, сколько строк затронула и с какой ошибкой.
// Записи уходят в приемники (файл с ротацией, таблица БД) синхронно
// или через буферизованный канал.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Logger - журнал аудита
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	Flush() error
	Close() error
}

// Config - конфигурация журнала
type Config struct {
	// Enabled - вести журнал
	Enabled bool `yaml:"enabled"`

	// Level - minimal, standard, full
	Level string `yaml:"level"`

	// Async - запись через буферизованный канал
	Async bool `yaml:"async"`

	// BufferSize - размер буфера асинхронного режима
	BufferSize int `yaml:"buffer_size"`

	// File - приемник-файл (пустой путь - выключен)
	File FileConfig `yaml:"file"`

	// Table - таблица в целевой БД (пустое имя - выключено)
	Table string `yaml:"table"`
}

// AuditLogger пишет записи во все приемники
type AuditLogger struct {
	mu        sync.RWMutex
	appenders []Appender
	level     Level
	entries   chan *Entry
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
	logger    zerolog.Logger
}

// Option - опция конструктора
type Option func(*AuditLogger)

// WithLogger задает логгер для ошибок приемников
func WithLogger(l zerolog.Logger) Option {
	return func(a *AuditLogger) { a.logger = l.With().Str("component", "audit").Logger() }
}

// WithLevel задает уровень детализации
func WithLevel(level Level) Option {
	return func(a *AuditLogger) { a.level = level }
}

// WithAsync включает асинхронную запись с буфером bufferSize
func WithAsync(bufferSize int) Option {
	return func(a *AuditLogger) {
		if bufferSize <= 0 {
			bufferSize = 1000
		}
		a.entries = make(chan *Entry, bufferSize)
	}
}

// NewLogger создает журнал с приемниками
func NewLogger(appenders []Appender, opts ...Option) *AuditLogger {
	l := &AuditLogger{
		appenders: appenders,
		level:     LevelStandard,
		closed:    make(chan struct{}),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.entries != nil {
		l.wg.Add(1)
		go l.process()
	}
	return l
}

// Log фильтрует запись по уровню и передает приемникам.
// При переполненном буфере запись выполняется синхронно.
func (l *AuditLogger) Log(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return errors.New("entry is nil")
	}
	select {
	case <-l.closed:
		return errors.New("audit logger is closed")
	default:
	}

	filtered := entry.FilterByLevel(l.level)
	if l.entries != nil {
		select {
		case l.entries <- filtered:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return l.write(ctx, filtered)
}

func (l *AuditLogger) write(ctx context.Context, entry *Entry) error {
	l.mu.RLock()
	appenders := l.appenders
	l.mu.RUnlock()

	var errs []error
	for _, a := range appenders {
		if err := a.Append(ctx, entry); err != nil {
			l.logger.Warn().Err(err).Str("operation", string(entry.Operation)).Msg("audit appender failed")
			errs = append(errs, fmt.Errorf("appender failed: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (l *AuditLogger) process() {
	defer l.wg.Done()
	for {
		select {
		case entry := <-l.entries:
			_ = l.write(context.Background(), entry)
		case <-l.closed:
			for {
				select {
				case entry := <-l.entries:
					_ = l.write(context.Background(), entry)
				default:
					return
				}
			}
		}
	}
}

// Flush сбрасывает буферы приемников, которые это поддерживают
func (l *AuditLogger) Flush() error {
	l.mu.RLock()
	appenders := l.appenders
	l.mu.RUnlock()

	var errs []error
	for _, a := range appenders {
		if f, ok := a.(interface{ Flush() error }); ok {
			if err := f.Flush(); err != nil {
				errs = append(errs, fmt.Errorf("flush failed: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close дожидается записи буфера, сбрасывает и закрывает приемники
func (l *AuditLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		l.wg.Wait()

		errs := []error{l.Flush()}
		l.mu.RLock()
		for _, a := range l.appenders {
			if cerr := a.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("close failed: %w", cerr))
			}
		}
		l.mu.RUnlock()
		err = errors.Join(errs...)
	})
	return err
}

// AddAppender добавляет приемник
func (l *AuditLogger) AddAppender(appender Appender) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appenders = append(l.appenders, appender)
}

// NullLogger - журнал, который ничего не пишет
type NullLogger struct{}

// Log ничего не делает
func (NullLogger) Log(context.Context, *Entry) error { return nil }

// Flush ничего не делает
func (NullLogger) Flush() error { return nil }

// Close ничего не делает
func (NullLogger) Close() error { return nil }
