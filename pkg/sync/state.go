// Package sync хранит состояние синхронизации по таблицам: отпечаток
// последнего записанного набора, идентификатор запуска, время и счетчики.
// По отпечатку конвейер пропускает сверку неизменившихся данных.
package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// TableState - состояние синхронизации таблицы
type TableState struct {
	Table        string    `json:"table"`
	Fingerprint  string    `json:"fingerprint,omitempty"` // xxh3 набора, hex
	RunID        string    `json:"run_id,omitempty"`
	LastSyncTime time.Time `json:"last_sync_time"`
	Rows         int       `json:"rows"`
	Inserted     int       `json:"inserted"`
	Updated      int       `json:"updated"`
	Unchanged    int       `json:"unchanged"`
	LastError    string    `json:"last_error,omitempty"`
}

// FormatFingerprint - текстовое представление отпечатка набора
func FormatFingerprint(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}

// StateManager управляет состоянием синхронизации нескольких таблиц
type StateManager struct {
	mu       sync.RWMutex
	states   map[string]*TableState
	path     string
	autoSave bool
	now      func() time.Time
}

// NewStateManager создает менеджер и загружает существующий файл состояния
func NewStateManager(path string, autoSave bool) (*StateManager, error) {
	sm := &StateManager{
		states:   make(map[string]*TableState),
		path:     path,
		autoSave: autoSave && path != "",
		now:      time.Now,
	}
	if path == "" {
		return sm, nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := sm.Load(); err != nil {
			return nil, fmt.Errorf("failed to load state: %w", err)
		}
	}
	return sm, nil
}

// Get возвращает копию состояния таблицы (нулевое, если синхронизаций не было)
func (sm *StateManager) Get(table string) TableState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if st, ok := sm.states[table]; ok {
		return *st
	}
	return TableState{Table: table}
}

// Unchanged - совпадает ли отпечаток с последним успешно записанным
func (sm *StateManager) Unchanged(table string, fp uint64) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	st, ok := sm.states[table]
	return ok && st.LastError == "" && st.Fingerprint == FormatFingerprint(fp)
}

// Record сохраняет результат успешного запуска
func (sm *StateManager) Record(st TableState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if st.LastSyncTime.IsZero() {
		st.LastSyncTime = sm.now()
	}
	st.LastError = ""
	sm.states[st.Table] = &st
	return sm.autoSaveLocked()
}

// RecordError отмечает неудачный запуск. Отпечаток сбрасывается,
// поэтому следующий запуск выполнит сверку полностью.
func (sm *StateManager) RecordError(table, runID string, err error) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	st, ok := sm.states[table]
	if !ok {
		st = &TableState{Table: table}
		sm.states[table] = st
	}
	st.RunID = runID
	st.Fingerprint = ""
	st.LastSyncTime = sm.now()
	st.LastError = err.Error()
	return sm.autoSaveLocked()
}

// Reset сбрасывает состояние таблицы (для полной ре-синхронизации)
func (sm *StateManager) Reset(table string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.states, table)
	return sm.autoSaveLocked()
}

// ResetAll сбрасывает все состояния
func (sm *StateManager) ResetAll() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.states = make(map[string]*TableState)
	return sm.autoSaveLocked()
}

// Tables возвращает отсортированный список таблиц с состоянием
func (sm *StateManager) Tables() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	tables := make([]string, 0, len(sm.states))
	for t := range sm.states {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// Path возвращает путь к файлу состояния
func (sm *StateManager) Path() string {
	return sm.path
}

// Save сохраняет состояние в файл
func (sm *StateManager) Save() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.saveLocked()
}

func (sm *StateManager) autoSaveLocked() error {
	if !sm.autoSave {
		return nil
	}
	return sm.saveLocked()
}

// saveLocked пишет во временный файл и переименовывает его,
// чтобы прерванная запись не портила состояние
func (sm *StateManager) saveLocked() error {
	if sm.path == "" {
		return errors.New("state path is not set")
	}
	data, err := json.MarshalIndent(sm.states, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if dir := filepath.Dir(sm.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	tmp := sm.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, sm.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Load загружает состояние из файла
func (sm *StateManager) Load() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	data, err := os.ReadFile(sm.path)
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}
	states := make(map[string]*TableState)
	if err := json.Unmarshal(data, &states); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}
	sm.states = states
	return nil
}
