package retry

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Причины попадания в DLQ
const (
	FailureMaxAttempts = "max_attempts_exceeded"
	FailureWrite       = "write_failed"
	FailureConflict    = "conflict"
)

// DLQEntry - строка или вызов, от которых пришлось отказаться
type DLQEntry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error"`
	Kind        string    `json:"kind,omitempty"`
	FailureType string    `json:"failure_type"`
	Source      string    `json:"source,omitempty"` // целевая таблица
	Operation   string    `json:"operation,omitempty"`
	Data        any       `json:"data,omitempty"`
}

// DLQStats - сводка по содержимому DLQ
type DLQStats struct {
	TotalEntries int            `json:"total_entries"`
	OldestEntry  time.Time      `json:"oldest_entry"`
	NewestEntry  time.Time      `json:"newest_entry"`
	FailureTypes map[string]int `json:"failure_types"`
	Kinds        map[string]int `json:"kinds"`
}

// DLQ держит записи в памяти и после каждого изменения переписывает
// файл целиком: JSON Lines, для *.zst или Compress - один zstd-фрейм.
type DLQ struct {
	mu      sync.RWMutex
	config  DLQConfig
	entries []DLQEntry
}

// NewDLQ открывает очередь, подхватывая записи из существующего файла
func NewDLQ(config DLQConfig) (*DLQ, error) {
	config.Compress = config.Compress || strings.HasSuffix(config.FilePath, ".zst")
	d := &DLQ{config: config}

	entries, err := readEntries(config.FilePath, config.Compress)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("dlq %s: %w", config.FilePath, err)
	default:
		d.entries = entries
	}
	return d, nil
}

// Add присваивает записи ID, вытесняет старейшие сверх MaxSize и сохраняет файл
func (d *DLQ) Add(entry DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry)
	if limit := d.config.MaxSize; limit > 0 && len(d.entries) > limit {
		d.entries = slices.Clone(d.entries[len(d.entries)-limit:])
	}
	return d.flush()
}

// Get - копия всех записей от старых к новым
func (d *DLQ) Get() []DLQEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.entries)
}

func (d *DLQ) GetByID(id string) *DLQEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i := d.indexOf(id); i >= 0 {
		e := d.entries[i]
		return &e
	}
	return nil
}

// Remove удаляет запись после ручного разбора
func (d *DLQ) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.indexOf(id)
	if i < 0 {
		return false
	}
	d.entries = slices.Delete(d.entries, i, i+1)
	_ = d.flush()
	return true
}

func (d *DLQ) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = nil
	return d.flush()
}

// CleanupOld удаляет записи старше RetentionPeriod и возвращает их число
func (d *DLQ) CleanupOld() int {
	if d.config.RetentionPeriod <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-d.config.RetentionPeriod)

	d.mu.Lock()
	defer d.mu.Unlock()
	before := len(d.entries)
	d.entries = slices.DeleteFunc(d.entries, func(e DLQEntry) bool {
		return !e.Timestamp.After(cutoff)
	})
	removed := before - len(d.entries)
	if removed > 0 {
		_ = d.flush()
	}
	return removed
}

func (d *DLQ) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Save переписывает файл текущим содержимым
func (d *DLQ) Save() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flush()
}

func (d *DLQ) Stats() DLQStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := DLQStats{
		TotalEntries: len(d.entries),
		FailureTypes: make(map[string]int),
		Kinds:        make(map[string]int),
	}
	for i, e := range d.entries {
		if i == 0 {
			stats.OldestEntry = e.Timestamp
		}
		stats.NewestEntry = e.Timestamp
		stats.FailureTypes[e.FailureType]++
		if e.Kind != "" {
			stats.Kinds[e.Kind]++
		}
	}
	return stats
}

func (d *DLQ) indexOf(id string) int {
	return slices.IndexFunc(d.entries, func(e DLQEntry) bool { return e.ID == id })
}

// flush вызывается под d.mu. Файл заменяется через rename.
func (d *DLQ) flush() error {
	tmp := d.config.FilePath + ".tmp"
	if err := writeEntries(tmp, d.entries, d.config.Compress); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("dlq %s: %w", d.config.FilePath, err)
	}
	return os.Rename(tmp, d.config.FilePath)
}

func writeEntries(path string, entries []DLQEntry, compress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var (
		w   io.Writer = f
		enc *zstd.Encoder
	)
	if compress {
		if enc, err = zstd.NewWriter(f); err != nil {
			return err
		}
		w = enc
	}

	je := json.NewEncoder(w)
	for _, e := range entries {
		if err := je.Encode(e); err != nil {
			return fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return err
		}
	}
	return f.Close()
}

func readEntries(path string, compressed bool) ([]DLQEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if compressed {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}

	var entries []DLQEntry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for line := 1; sc.Scan(); line++ {
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		var e DLQEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}
