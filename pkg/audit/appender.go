package audit

import (
	"context"
	"errors"
	"sync"
)

// Appender - приемник записей аудита
type Appender interface {
	// Append записывает запись
	Append(ctx context.Context, entry *Entry) error

	// Close закрывает приемник
	Close() error
}

// MultiAppender - запись в несколько приемников
type MultiAppender struct {
	appenders []Appender
}

// NewMultiAppender создает составной приемник
func NewMultiAppender(appenders ...Appender) *MultiAppender {
	return &MultiAppender{appenders: appenders}
}

// Append пишет во все приемники; ошибка одного не останавливает остальные
func (ma *MultiAppender) Append(ctx context.Context, entry *Entry) error {
	var errs []error
	for _, a := range ma.appenders {
		if err := a.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close закрывает все приемники
func (ma *MultiAppender) Close() error {
	var errs []error
	for _, a := range ma.appenders {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Add добавляет приемник
func (ma *MultiAppender) Add(appender Appender) {
	ma.appenders = append(ma.appenders, appender)
}

// Len - количество приемников
func (ma *MultiAppender) Len() int {
	return len(ma.appenders)
}

// MemoryAppender хранит записи в памяти
type MemoryAppender struct {
	mu      sync.Mutex
	entries []*Entry
}

// Append сохраняет копию записи
func (m *MemoryAppender) Append(_ context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry.Clone())
	return nil
}

// Close ничего не делает
func (m *MemoryAppender) Close() error { return nil }

// Entries возвращает сохраненные записи
func (m *MemoryAppender) Entries() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Entry(nil), m.entries...)
}
