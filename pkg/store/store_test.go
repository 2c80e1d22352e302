package store

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/adapters/sqlite"
	"github.com/ruslano69/datasync/pkg/catalog"
	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
	"github.com/ruslano69/datasync/pkg/retry"
)

func newTestStore(t *testing.T, keys map[string][]string, opts ...Option) *Store {
	t.Helper()
	ctx := context.Background()
	a, err := adapters.New(ctx, adapters.Config{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "store.db")})
	if err != nil {
		t.Fatalf("Failed to create adapter: %v", err)
	}
	t.Cleanup(func() { a.Close(ctx) })

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cat := catalog.New(a, catalog.WithKeyColumns(keys), catalog.WithRetryCount(cfg.RetryCount))
	return New(a, cat, cfg, opts...)
}

func prices(rows ...[]any) *dataset.Dataset {
	return &dataset.Dataset{
		Columns: []dataset.Column{
			{Name: "id", Category: schema.CategoryInteger},
			{Name: "price", Category: schema.CategoryFloat},
		},
		Rows: rows,
	}
}

func sortedColumns(tbl schema.Table) string {
	names := tbl.ColumnNames()
	sort.Strings(names)
	return strings.Join(names, ",")
}

func TestInsertCreatesTable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, map[string][]string{"t": {"id"}})

	res, err := s.Insert(ctx, prices([]any{int64(1), 10.0}), "t")
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if res.Inserted != 1 || res.Failed != 0 || res.Total != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	tbl, err := s.Catalog().Get(ctx, "t")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := sortedColumns(tbl); got != "id,insert_time,price,update_time" {
		t.Errorf("unexpected columns: %s", got)
	}

	rows, err := s.Query(ctx, "t", nil, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if rows.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", rows.Len())
	}
	if ts, ok := rows.Value(0, "insert_time").(time.Time); !ok || ts.IsZero() {
		t.Errorf("insert_time must be stamped, got %#v", rows.Value(0, "insert_time"))
	}
}

func TestInsertAddsIdentityWithoutIDColumn(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	ds := dataset.FromRecords([]string{"code"}, []map[string]any{{"code": "a"}})
	if _, err := s.Insert(ctx, ds, "codes"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	tbl, _ := s.Catalog().Get(ctx, "codes")
	id, ok := tbl.Column("id")
	if !ok || !id.PrimaryKey {
		t.Errorf("expected identity primary key, got %+v", tbl.Columns)
	}
}

func TestEnsureTableAdditiveGrowth(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	d1 := prices([]any{int64(1), 1.5})
	if _, err := s.EnsureTable(ctx, d1, "growth"); err != nil {
		t.Fatalf("EnsureTable D1 failed: %v", err)
	}

	d2 := d1.WithColumn("note", schema.CategoryText, func(int) any { return "x" })
	tbl, err := s.EnsureTable(ctx, d2, "growth")
	if err != nil {
		t.Fatalf("EnsureTable D1+note failed: %v", err)
	}
	if got := sortedColumns(tbl); got != "id,insert_time,note,price,update_time" {
		t.Errorf("unexpected columns: %s", got)
	}

	// повторный вызов с D1 ничего не удаляет
	tbl, err = s.EnsureTable(ctx, d1, "growth")
	if err != nil || !tbl.HasColumn("note") {
		t.Errorf("columns must only grow, got %s (err %v)", sortedColumns(tbl), err)
	}
}

func TestEnsureTableWithoutAutoCreate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	s.config.AutoCreateTable = false

	_, err := s.EnsureTable(ctx, prices([]any{int64(1), 1.0}), "absent")
	if !syncerr.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestEnsureTableWithoutAutoAddColumns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	if _, err := s.Insert(ctx, prices([]any{int64(1), 1.0}), "fixed"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	s.config.AutoAddColumns = false

	ds := prices([]any{int64(2), 2.0}).WithColumn("extra", schema.CategoryText, func(int) any { return "x" })
	res, err := s.Insert(ctx, ds, "fixed")
	if err != nil || res.Inserted != 1 {
		t.Fatalf("Insert failed: %+v %v", res, err)
	}
	tbl, _ := s.Catalog().Get(ctx, "fixed")
	if tbl.HasColumn("extra") {
		t.Error("extra column must not be added")
	}
}

func TestInsertConflictFallsBackRowByRow(t *testing.T) {
	ctx := context.Background()
	dlq, err := retry.NewDLQ(retry.DLQConfig{Enabled: true, FilePath: filepath.Join(t.TempDir(), "dlq.jsonl")})
	if err != nil {
		t.Fatalf("NewDLQ failed: %v", err)
	}
	s := newTestStore(t, map[string][]string{"u": {"id"}}, WithDLQ(dlq))

	if _, err := s.Insert(ctx, prices([]any{int64(1), 1.0}), "u"); err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}

	// пакет из 2 строк с конфликтом и еще одна строка
	res, err := s.Insert(ctx, prices(
		[]any{int64(2), 2.0},
		[]any{int64(1), 9.0},
		[]any{int64(3), 3.0},
	), "u")
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if res.Inserted != 2 || res.Failed != 1 || res.Total != 3 {
		t.Fatalf("expected 2 inserted / 1 failed, got %+v", res)
	}

	entries := dlq.Get()
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}
	if entries[0].FailureType != retry.FailureConflict || entries[0].Source != "u" {
		t.Errorf("unexpected DLQ entry: %+v", entries[0])
	}

	all, _ := s.Query(ctx, "u", nil, 0)
	if all.Len() != 3 {
		t.Errorf("expected 3 rows, got %d", all.Len())
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	if _, err := s.Insert(ctx, prices([]any{int64(1), 10.0}, []any{int64(2), 20.0}), "p"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if _, err := s.Update(ctx, prices([]any{int64(1), 11.0}), "p", nil); !errors.Is(err, syncerr.ErrConfiguration) {
		t.Fatalf("expected configuration error for empty keys, got %v", err)
	}

	res, err := s.Update(ctx, prices([]any{int64(1), 11.0}, []any{int64(9), 99.0}), "p", []string{"id"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if res.Updated != 1 || res.Failed != 1 {
		t.Fatalf("expected 1 updated / 1 failed, got %+v", res)
	}

	row, _ := s.Query(ctx, "p", map[string]any{"id": int64(1)}, 0)
	if row.Len() != 1 || row.Value(0, "price") != 11.0 {
		t.Errorf("expected price 11, got %v", row.Records())
	}
}

func TestUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	ds := prices([]any{int64(1), 1.0}, []any{int64(2), 2.0}, []any{int64(3), 3.0})

	first, err := s.Upsert(ctx, ds, "up", []string{"id"})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if first.Inserted != 3 || first.Updated != 0 {
		t.Fatalf("first upsert: expected 3 inserts, got %+v", first)
	}

	second, err := s.Upsert(ctx, ds, "up", []string{"id"})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if second.Inserted != 0 || second.Updated != 3 {
		t.Fatalf("second upsert: expected 0 inserts / 3 updates, got %+v", second)
	}

	all, _ := s.Query(ctx, "up", nil, 0)
	if all.Len() != 3 {
		t.Errorf("expected 3 rows, got %d", all.Len())
	}
}

func TestDeleteAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	ds := prices([]any{int64(1), 1.0}, []any{int64(2), 2.0}, []any{int64(3), nil})
	if _, err := s.Insert(ctx, ds, "d"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := s.Query(ctx, "d", map[string]any{"id": []int64{1, 3}}, 0)
	if err != nil || got.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d (err %v)", got.Len(), err)
	}

	n, err := s.Delete(ctx, "d", map[string]any{"id": []any{int64(1), int64(2)}})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 deleted, got %d (err %v)", n, err)
	}

	rest, _ := s.Query(ctx, "d", nil, 0)
	if rest.Len() != 1 {
		t.Errorf("expected 1 remaining row, got %d", rest.Len())
	}
}

func TestLookupReturnsOnlyMatchingKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	if _, err := s.Insert(ctx, prices([]any{int64(1), 1.0}, []any{int64(2), 2.0}, []any{int64(3), 3.0}), "l"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// ключи строкой приводятся к типу колонки
	chunk := dataset.FromRecords([]string{"id"}, []map[string]any{{"id": "1"}, {"id": "3"}, {"id": "7"}})
	got, err := s.Lookup(ctx, "l", []string{"id"}, chunk)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.Len() != 2 {
		t.Fatalf("expected 2 matching rows, got %d", got.Len())
	}

	_, err = s.Lookup(ctx, "absent", []string{"id"}, chunk)
	if !syncerr.IsNotFound(err) {
		t.Errorf("expected NotFound for absent table, got %v", err)
	}
}

// recordingAdapter запоминает все выполненные запросы
type recordingAdapter struct {
	adapters.Adapter
	statements []string
}

func (r *recordingAdapter) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	r.statements = append(r.statements, query)
	return 0, nil
}

func (r *recordingAdapter) Query(ctx context.Context, query string, args ...any) (*dataset.Dataset, error) {
	r.statements = append(r.statements, query)
	return &dataset.Dataset{}, nil
}

func (r *recordingAdapter) BeginTx(ctx context.Context) (adapters.Tx, error) {
	r.statements = append(r.statements, "BEGIN")
	return nil, errors.New("transactions are not recorded")
}

func (r *recordingAdapter) Dialect() adapters.Dialect { return sqlite.NewDialect() }

func (r *recordingAdapter) ClassifyError(err error) syncerr.Kind { return syncerr.KindUnknown }

func TestDeleteRejectsEmptyConditions(t *testing.T) {
	rec := &recordingAdapter{}
	s := New(rec, catalog.New(rec), DefaultConfig())

	for _, conds := range []map[string]any{
		nil,
		{},
		{"a": nil, "b": []any{}, "c": ""},
	} {
		_, err := s.Delete(context.Background(), "t", conds)
		if !errors.Is(err, syncerr.ErrConfiguration) {
			t.Errorf("Delete(%v): expected configuration error, got %v", conds, err)
		}
	}
	if len(rec.statements) != 0 {
		t.Errorf("no statement must be issued, got %v", rec.statements)
	}
}

func TestWriteResultAdd(t *testing.T) {
	var total WriteResult
	total.Add(WriteResult{Inserted: 2, Total: 2})
	total.Add(WriteResult{Updated: 1, Failed: 1, Total: 2, Errors: []string{"boom"}})

	if total.Inserted != 2 || total.Updated != 1 || total.Failed != 1 || total.Total != 4 {
		t.Errorf("unexpected sum: %+v", total)
	}
	if len(total.Errors) != 1 {
		t.Errorf("expected 1 error, got %v", total.Errors)
	}
}
