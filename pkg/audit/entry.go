package audit

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// Level - сколько подробностей попадает в журнал
type Level int

const (
	LevelMinimal  Level = iota // стадия, статус, счетчики
	LevelStandard              // + Metadata
	LevelFull                  // + Data
)

var levelNames = [...]string{"minimal", "standard", "full"}

func (l Level) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("unknown(%d)", int(l))
}

// ParseLevel понимает имена уровней без учета регистра; "" - standard
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return LevelStandard, nil
	}
	for i, name := range levelNames {
		if name == s {
			return Level(i), nil
		}
	}
	return LevelStandard, fmt.Errorf("unknown audit level %q (minimal, standard, full)", s)
}

// Operation совпадает с именем стадии конвейера, кроме OpRun
type Operation string

const (
	OpFetch     Operation = "fetch"
	OpClean     Operation = "clean"
	OpTransform Operation = "transform"
	OpReconcile Operation = "reconcile"
	OpWrite     Operation = "write"
	OpRun       Operation = "run"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// Scope - к какому запуску относится запись
type Scope struct {
	RunID     string `json:"run_id,omitempty"`
	Pipeline  string `json:"pipeline,omitempty"`
	Interface string `json:"interface,omitempty"`
	Table     string `json:"table,omitempty"`
}

// Entry - одна строка журнала. Поля Scope сериализуются на верхнем уровне.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation Operation `json:"operation"`
	Status    Status    `json:"status"`
	Scope

	RecordsAffected int64         `json:"records_affected,omitempty"`
	Duration        time.Duration `json:"duration,omitempty"`
	ErrorKind       string        `json:"error_kind,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
	Data     any            `json:"data,omitempty"`
}

func NewEntry(operation Operation, status Status) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Operation: operation,
		Status:    status,
	}
}

func (e *Entry) WithScope(s Scope) *Entry {
	e.Scope = s
	return e
}

// WithStats - число строк и длительность стадии
func (e *Entry) WithStats(records int64, d time.Duration) *Entry {
	e.RecordsAffected = records
	e.Duration = d
	return e
}

// WithError переводит запись в failure. nil игнорируется.
func (e *Entry) WithError(err error) *Entry {
	if err == nil {
		return e
	}
	e.Status = StatusFailure
	e.ErrorKind = string(syncerr.KindOf(err))
	e.ErrorMessage = err.Error()
	return e
}

func (e *Entry) WithMetadata(key string, value any) *Entry {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

func (e *Entry) WithData(data any) *Entry {
	e.Data = data
	return e
}

func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func (e *Entry) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s/%s", e.Timestamp.Format(time.RFC3339), e.Operation, e.Status)
	if e.RunID != "" {
		fmt.Fprintf(&sb, " run=%s", e.RunID)
	}
	if e.Table != "" {
		fmt.Fprintf(&sb, " table=%s", e.Table)
	}
	fmt.Fprintf(&sb, " records=%d took=%s", e.RecordsAffected, e.Duration)
	if e.ErrorMessage != "" {
		fmt.Fprintf(&sb, " error=%q", e.ErrorMessage)
	}
	return sb.String()
}

// Clone копирует запись вместе с Metadata; Data разделяется
func (e *Entry) Clone() *Entry {
	c := *e
	c.Metadata = maps.Clone(e.Metadata)
	return &c
}

// FilterByLevel возвращает копию без полей, которые уровень не пропускает
func (e *Entry) FilterByLevel(level Level) *Entry {
	c := e.Clone()
	if level < LevelFull {
		c.Data = nil
	}
	if level < LevelStandard {
		c.Metadata = nil
	}
	return c
}
