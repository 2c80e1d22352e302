package syncerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind - категория ошибки синхронизации
type Kind string

const (
	KindUnknown       Kind = "unknown"
	KindConfiguration Kind = "configuration" // неверная/отсутствующая настройка, не повторяется
	KindTransient     Kind = "transient"     // временный сбой хранилища, повторяется
	KindDatabase      Kind = "database"      // фатальная ошибка хранилища
	KindNotFound      Kind = "not_found"     // таблица отсутствует
	KindConflict      Kind = "conflict"      // нарушение уникальности
	KindProcessing    Kind = "processing"    // ошибка сверки/трансформации
	KindFetcher       Kind = "fetcher"       // ошибка получения данных
)

// Sentinel-значения для errors.Is
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrTransient     = &Error{Kind: KindTransient}
	ErrDatabase      = &Error{Kind: KindDatabase}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrProcessing    = &Error{Kind: KindProcessing}
	ErrFetcher       = &Error{Kind: KindFetcher}
)

// Error - типизированная ошибка с категорией и операцией
type Error struct {
	Kind    Kind
	Op      string // операция, например "store.insert"
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает только по категории, что позволяет писать errors.Is(err, syncerr.ErrNotFound)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// New создает ошибку заданной категории
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap оборачивает ошибку в заданную категорию
// nil на входе дает nil на выходе
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf оборачивает ошибку с дополнительным сообщением
func Wrapf(kind Kind, op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// Configf - ошибка конфигурации
func Configf(op, format string, args ...any) error {
	return New(KindConfiguration, op, format, args...)
}

// Processingf - ошибка обработки
func Processingf(op, format string, args ...any) error {
	return New(KindProcessing, op, format, args...)
}

// Fetcherf - ошибка получения данных
func Fetcherf(op, format string, args ...any) error {
	return New(KindFetcher, op, format, args...)
}

// NotFoundf - отсутствующая таблица
func NotFoundf(op, format string, args ...any) error {
	return New(KindNotFound, op, format, args...)
}

// KindOf возвращает категорию первой типизированной ошибки в цепочке
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// IsTransient - можно ли повторить операцию
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsNotFound - таблица отсутствует
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsConflict - нарушение уникальности
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// Classifier - драйверо-специфичная классификация ошибок
type Classifier interface {
	ClassifyError(err error) Kind
}

// Classify оборачивает ошибку драйвера в категорию, определенную классификатором.
// Уже типизированные ошибки возвращаются как есть.
// Неизвестные ошибки драйвера считаются фатальными ошибками хранилища.
func Classify(c Classifier, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := KindDatabase
	if c != nil {
		if k := c.ClassifyError(err); k != "" && k != KindUnknown {
			kind = k
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTransient
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Escalate переводит исчерпанную временную ошибку в фатальную ошибку хранилища
func Escalate(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return &Error{Kind: KindDatabase, Op: op, Message: "retries exhausted", Err: err}
	}
	return err
}
