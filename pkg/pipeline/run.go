package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// Status - состояние запуска
type Status string

const (
	StatusPending      Status = "pending"
	StatusFetching     Status = "fetching"
	StatusCleaning     Status = "cleaning"
	StatusTransforming Status = "transforming"
	StatusReconciling  Status = "reconciling"
	StatusWriting      Status = "writing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// next - допустимые переходы; failed допустим из любого незавершенного состояния
var next = map[Status]Status{
	StatusPending:      StatusFetching,
	StatusFetching:     StatusCleaning,
	StatusCleaning:     StatusTransforming,
	StatusTransforming: StatusReconciling,
	StatusReconciling:  StatusWriting,
	StatusWriting:      StatusCompleted,
}

// Terminal - завершен ли запуск
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition проверяет переход между состояниями запуска
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return next[from] == to
}

// Stage - стадия конвейера
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageClean     Stage = "clean"
	StageTransform Stage = "transform"
	StageReconcile Stage = "reconcile"
	StageWrite     Stage = "write"
)

// Stages - стадии в порядке выполнения
var Stages = []Stage{StageFetch, StageClean, StageTransform, StageReconcile, StageWrite}

// status возвращает состояние запуска во время стадии
func (s Stage) status() Status {
	switch s {
	case StageFetch:
		return StatusFetching
	case StageClean:
		return StatusCleaning
	case StageTransform:
		return StatusTransforming
	case StageReconcile:
		return StatusReconciling
	default:
		return StatusWriting
	}
}

// StageStatus - состояние стадии
type StageStatus string

const (
	StageInitialized StageStatus = "initialized"
	StageRunning     StageStatus = "running"
	StageCompleted   StageStatus = "completed"
	StageFailed      StageStatus = "failed"
)

// StageResult - результат стадии. После completed/failed не изменяется.
type StageResult struct {
	TaskID    string       `json:"task_id"`
	Stage     Stage        `json:"stage"`
	Status    StageStatus  `json:"status"`
	Skipped   bool         `json:"skipped,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
	Duration  float64      `json:"duration"` // секунды
	Rows      int          `json:"rows"`
	Result    any          `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	ErrorKind syncerr.Kind `json:"error_kind,omitempty"`

	err error
}

// Err возвращает ошибку стадии
func (s *StageResult) Err() error {
	return s.err
}

func (s *StageResult) finish(end time.Time, err error) {
	if s.Status == StageCompleted || s.Status == StageFailed {
		return
	}
	s.EndTime = end
	s.Duration = end.Sub(s.StartTime).Seconds()
	if err != nil {
		s.Status = StageFailed
		s.err = err
		s.Error = err.Error()
		s.ErrorKind = syncerr.KindOf(err)
		return
	}
	s.Status = StageCompleted
}

// Counts - итоговые счетчики строк
type Counts struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Run - запуск конвейера
type Run struct {
	ID          string         `json:"pipeline_id"`
	Pipeline    string         `json:"pipeline"`
	Interface   string         `json:"interface"`
	Table       string         `json:"table,omitempty"`
	Status      Status         `json:"status"`
	Tasks       []*StageResult `json:"tasks"`
	Counts      Counts         `json:"counts"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time"`
	Duration    float64        `json:"duration"` // секунды

	err error
}

func newRun(id, pipeline, iface string, start time.Time) *Run {
	return &Run{
		ID:        id,
		Pipeline:  pipeline,
		Interface: iface,
		Status:    StatusPending,
		Tasks:     make([]*StageResult, 0, len(Stages)),
		StartTime: start,
	}
}

// Err возвращает ошибку, на которой запуск остановился
func (r *Run) Err() error {
	return r.err
}

// Succeeded - запуск завершился без ошибки
func (r *Run) Succeeded() bool {
	return r.Status == StatusCompleted
}

// Task возвращает результат стадии или nil, если стадия не запускалась
func (r *Run) Task(stage Stage) *StageResult {
	for _, t := range r.Tasks {
		if t.Stage == stage {
			return t
		}
	}
	return nil
}

// JSON - сериализованный результат запуска
func (r *Run) JSON() ([]byte, error) {
	return json.Marshal(r)
}

func (r *Run) advance(to Status) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("invalid run transition %s -> %s", r.Status, to)
	}
	r.Status = to
	return nil
}

func (r *Run) begin(stage Stage, start time.Time) *StageResult {
	sr := &StageResult{
		TaskID:    r.ID + "/" + string(stage),
		Stage:     stage,
		Status:    StageInitialized,
		StartTime: start,
	}
	r.Tasks = append(r.Tasks, sr)
	return sr
}

func (r *Run) finish(end time.Time, err error) {
	r.EndTime = end
	r.Duration = end.Sub(r.StartTime).Seconds()
	if err != nil {
		r.err = err
		r.Status = StatusFailed
		return
	}
	r.Status = StatusCompleted
}
