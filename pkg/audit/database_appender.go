package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/schema"
)

// DefaultTable - таблица журнала по умолчанию
const DefaultTable = "datasync_audit"

var auditColumns = []string{
	"entry_id", "logged_at", "operation", "status", "run_id", "pipeline",
	"interface", "table_name", "records_affected", "duration_ms",
	"error_kind", "error_message", "metadata", "data",
}

// DatabaseAppender пишет записи в таблицу через адаптер хранилища.
// При BatchSize > 0 записи копятся и пишутся одной транзакцией.
type DatabaseAppender struct {
	mu        sync.Mutex
	adapter   adapters.Adapter
	table     string
	batchSize int
	queue     []*Entry
}

// NewDatabaseAppender создает приемник и при необходимости таблицу
func NewDatabaseAppender(ctx context.Context, adapter adapters.Adapter, table string, batchSize int) (*DatabaseAppender, error) {
	if adapter == nil {
		return nil, fmt.Errorf("database adapter is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if err := schema.ValidateIdentifier(table); err != nil {
		return nil, fmt.Errorf("invalid audit table: %w", err)
	}
	da := &DatabaseAppender{adapter: adapter, table: table, batchSize: batchSize}
	if err := da.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}
	return da, nil
}

// AuditTable - структура таблицы журнала
func AuditTable(name string) schema.Table {
	varchar := func(n int) schema.ColumnType { return schema.ColumnType{Type: schema.TypeVarchar, Length: n} }
	return schema.NewBuilder(name).
		AddIdentity(schema.IdentityColumn).
		AddColumn("entry_id", varchar(64)).
		AddColumn("logged_at", schema.ColumnType{Type: schema.TypeTimestamp}).
		AddColumn("operation", varchar(50)).
		AddColumn("status", varchar(20)).
		AddColumn("run_id", varchar(64)).
		AddColumn("pipeline", varchar(255)).
		AddColumn("interface", varchar(255)).
		AddColumn("table_name", varchar(255)).
		AddColumn("records_affected", schema.ColumnType{Type: schema.TypeBigInt}).
		AddColumn("duration_ms", schema.ColumnType{Type: schema.TypeBigInt}).
		AddColumn("error_kind", varchar(50)).
		AddColumn("error_message", schema.ColumnType{Type: schema.TypeText}).
		AddColumn("metadata", schema.ColumnType{Type: schema.TypeText}).
		AddColumn("data", schema.ColumnType{Type: schema.TypeText}).
		Build()
}

func (da *DatabaseAppender) ensureTable(ctx context.Context) error {
	exists, err := da.adapter.TableExists(ctx, da.table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = da.adapter.Exec(ctx, adapters.BuildCreateTable(da.adapter.Dialect(), AuditTable(da.table)))
	return err
}

// Append пишет запись сразу или ставит в очередь пакета
func (da *DatabaseAppender) Append(ctx context.Context, entry *Entry) error {
	da.mu.Lock()
	defer da.mu.Unlock()

	if da.batchSize <= 0 {
		return da.insert(ctx, []*Entry{entry})
	}
	da.queue = append(da.queue, entry)
	if len(da.queue) >= da.batchSize {
		return da.flushLocked(ctx)
	}
	return nil
}

func (da *DatabaseAppender) insert(ctx context.Context, entries []*Entry) (err error) {
	query := adapters.BuildInsert(da.adapter.Dialect(), da.table, auditColumns)

	tx, err := da.adapter.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, e := range entries {
		if _, err = tx.Exec(ctx, query, entryArgs(e)...); err != nil {
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func entryArgs(e *Entry) []any {
	meta := "{}"
	if len(e.Metadata) > 0 {
		if b, err := json.Marshal(e.Metadata); err == nil {
			meta = string(b)
		}
	}
	var data any
	if e.Data != nil {
		if b, err := json.Marshal(e.Data); err == nil {
			data = string(b)
		}
	}
	return []any{
		e.ID, e.Timestamp.UTC(), string(e.Operation), string(e.Status), e.RunID, e.Pipeline,
		e.Interface, e.Table, e.RecordsAffected, e.Duration.Milliseconds(),
		e.ErrorKind, e.ErrorMessage, meta, data,
	}
}

func (da *DatabaseAppender) flushLocked(ctx context.Context) error {
	if len(da.queue) == 0 {
		return nil
	}
	if err := da.insert(ctx, da.queue); err != nil {
		return err
	}
	da.queue = da.queue[:0]
	return nil
}

// Flush пишет накопленный пакет
func (da *DatabaseAppender) Flush() error {
	da.mu.Lock()
	defer da.mu.Unlock()
	return da.flushLocked(context.Background())
}

// Close пишет остаток пакета. Адаптер закрывает его владелец.
func (da *DatabaseAppender) Close() error {
	return da.Flush()
}

// Query читает записи журнала по условиям равенства (run_id, operation, status, ...)
func (da *DatabaseAppender) Query(ctx context.Context, conditions map[string]any, limit int) (*dataset.Dataset, error) {
	for col := range conditions {
		if !contains(auditColumns, col) {
			return nil, fmt.Errorf("unknown audit column: %s", col)
		}
	}
	query, args := adapters.BuildSelect(da.adapter.Dialect(), da.table, adapters.ConditionsFromMap(conditions), limit)
	return da.adapter.Query(ctx, query, args...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
