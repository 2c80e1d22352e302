package audit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Ротация по умолчанию
const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 5
)

// FileConfig - журнал JSON Lines: path, path.1 (предыдущий), ... path.N
type FileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int64  `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`

	maxBytes int64 // для тестов, приоритетнее MaxSizeMB
}

func (c FileConfig) limitBytes() int64 {
	switch {
	case c.maxBytes > 0:
		return c.maxBytes
	case c.MaxSizeMB > 0:
		return c.MaxSizeMB << 20
	default:
		return DefaultMaxSizeMB << 20
	}
}

// FileAppender дописывает записи в файл, по одной JSON-строке
type FileAppender struct {
	mu      sync.Mutex
	path    string
	limit   int64
	backups int
	file    *os.File
	size    int64
}

func NewFileAppender(cfg FileConfig) (*FileAppender, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit: file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	fa := &FileAppender{
		path:    cfg.Path,
		limit:   cfg.limitBytes(),
		backups: cfg.MaxBackups,
	}
	if fa.backups <= 0 {
		fa.backups = DefaultMaxBackups
	}
	if err := fa.open(); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	return fa, nil
}

func (fa *FileAppender) open() error {
	f, err := os.OpenFile(fa.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	fa.file, fa.size = f, info.Size()
	return nil
}

// Append ротирует файл заранее, если строка не помещается в лимит.
// Одна строка больше лимита пишется в пустой файл целиком.
func (fa *FileAppender) Append(_ context.Context, entry *Entry) error {
	line, err := entry.ToJSON()
	if err != nil {
		return err
	}
	line = append(line, '\n')

	fa.mu.Lock()
	defer fa.mu.Unlock()

	if fa.size > 0 && fa.size+int64(len(line)) > fa.limit {
		if err := fa.rotate(); err != nil {
			return fmt.Errorf("audit: rotate %s: %w", fa.path, err)
		}
	}
	n, err := fa.file.Write(line)
	fa.size += int64(n)
	return err
}

func (fa *FileAppender) backup(i int) string {
	return fmt.Sprintf("%s.%d", fa.path, i)
}

// rotate: path.N удаляется, path.i -> path.i+1, path -> path.1
func (fa *FileAppender) rotate() error {
	if err := fa.file.Close(); err != nil {
		return err
	}
	if err := os.Remove(fa.backup(fa.backups)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for i := fa.backups - 1; i >= 1; i-- {
		err := os.Rename(fa.backup(i), fa.backup(i+1))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := os.Rename(fa.path, fa.backup(1)); err != nil {
		return err
	}
	return fa.open()
}

// Flush - fsync текущего файла
func (fa *FileAppender) Flush() error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.file.Sync()
}

func (fa *FileAppender) Close() error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.file.Close()
}

func (fa *FileAppender) Path() string { return fa.path }
