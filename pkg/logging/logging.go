// Package logging создает корневой zerolog.Logger сервиса.
// Компоненты получают его через опции конструкторов и выводят из него
// собственные логгеры с полем component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Форматы вывода
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// DefaultService - значение поля service по умолчанию
const DefaultService = "datasync"

// Config - настройки логирования
type Config struct {
	Level   string `yaml:"level"`   // debug, info, warn, error
	Format  string `yaml:"format"`  // json, console
	Service string `yaml:"service"` // поле service в каждой записи
}

// ApplyDefaults заполняет незаданные поля
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = FormatConsole
	}
	if c.Service == "" {
		c.Service = DefaultService
	}
}

// Validate проверяет уровень и формат
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "", FormatJSON, FormatConsole:
		return nil
	default:
		return fmt.Errorf("unknown log format: %s (expected json or console)", c.Format)
	}
}

// ParseLevel разбирает уровень. Пустая строка - info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level: %s", s)
	}
}

// New создает логгер, пишущий в stderr
func New(cfg Config) (zerolog.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter создает логгер с заданным выводом
func NewWithWriter(cfg Config, out io.Writer) (zerolog.Logger, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return zerolog.Nop(), err
	}
	level, _ := ParseLevel(cfg.Level)

	w := out
	if cfg.Format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Logger(), nil
}
