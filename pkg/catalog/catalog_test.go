package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruslano69/datasync/pkg/adapters"
	_ "github.com/ruslano69/datasync/pkg/adapters/sqlite"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
	"github.com/ruslano69/datasync/pkg/retry"
)

// flakyAdapter возвращает заданные ошибки интроспекции по очереди
type flakyAdapter struct {
	adapters.Adapter
	errs  []error
	calls int
	probe int
}

func (f *flakyAdapter) GetTableSchema(ctx context.Context, table string) (schema.Table, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return schema.Table{}, err
		}
	}
	return schema.NewBuilder(table).AddColumn("a", schema.ColumnType{Type: schema.TypeInteger}).Build(), nil
}

func (f *flakyAdapter) ProbeTableSchema(ctx context.Context, table string) (schema.Table, error) {
	f.probe++
	return schema.NewBuilder(table).AddColumn("probe", schema.ColumnType{Type: schema.TypeText}).Build(), nil
}

func (f *flakyAdapter) ClassifyError(err error) syncerr.Kind {
	return syncerr.KindUnknown
}

func fastRetry(t *testing.T, attempts int) *retry.Retryer {
	t.Helper()
	r, err := retry.NewRetryer(retry.EnableRetry(attempts, time.Millisecond))
	if err != nil {
		t.Fatalf("NewRetryer: %v", err)
	}
	return r
}

func TestRetriesTransientIntrospection(t *testing.T) {
	a := &flakyAdapter{errs: []error{
		syncerr.New(syncerr.KindTransient, "test", "deadlock"),
		syncerr.New(syncerr.KindTransient, "test", "deadlock"),
	}}
	c := New(a, WithStrategies(IntrospectionStrategy{Retryer: fastRetry(t, 3)}, ProbeStrategy{}))

	tbl, err := c.Get(context.Background(), "t")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a.calls != 3 || a.probe != 0 {
		t.Errorf("expected 3 introspection calls and no probe, got %d/%d", a.calls, a.probe)
	}
	if !tbl.HasColumn("a") {
		t.Errorf("expected introspected column, got %v", tbl.ColumnNames())
	}
}

func TestFallsBackToProbe(t *testing.T) {
	a := &flakyAdapter{errs: []error{errors.New("information_schema unavailable")}}
	c := New(a, WithStrategies(IntrospectionStrategy{Retryer: fastRetry(t, 3)}, ProbeStrategy{}))

	tbl, err := c.Get(context.Background(), "t")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// неклассифицированная ошибка - фатальная, не повторяется
	if a.calls != 1 {
		t.Errorf("expected 1 introspection call, got %d", a.calls)
	}
	if !tbl.HasColumn("probe") {
		t.Errorf("expected probe result, got %v", tbl.ColumnNames())
	}
}

func TestNotFoundShortCircuits(t *testing.T) {
	a := &flakyAdapter{errs: []error{syncerr.NotFoundf("test", "table t does not exist")}}
	c := New(a, WithStrategies(IntrospectionStrategy{Retryer: fastRetry(t, 3)}, ProbeStrategy{}))

	_, err := c.Get(context.Background(), "t")
	if !syncerr.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if a.calls != 1 || a.probe != 0 {
		t.Errorf("NotFound must not be retried or probed, got %d/%d", a.calls, a.probe)
	}
}

type failingStrategy struct{}

func (failingStrategy) Name() string { return "failing" }

func (failingStrategy) Reflect(ctx context.Context, a adapters.Adapter, table string) (schema.Table, error) {
	return schema.Table{}, syncerr.New(syncerr.KindTransient, "test", "timeout")
}

func TestAllStrategiesFailIsDatabaseError(t *testing.T) {
	c := New(&flakyAdapter{}, WithStrategies(failingStrategy{}, failingStrategy{}))

	_, err := c.Get(context.Background(), "t")
	if !errors.Is(err, syncerr.ErrDatabase) {
		t.Fatalf("expected database error, got %v", err)
	}
}

func TestRetryExhaustionEscalates(t *testing.T) {
	transient := syncerr.New(syncerr.KindTransient, "test", "busy")
	a := &flakyAdapter{errs: []error{transient, transient}}
	s := IntrospectionStrategy{Retryer: fastRetry(t, 2)}

	_, err := s.Reflect(context.Background(), a, "t")
	if syncerr.KindOf(err) != syncerr.KindDatabase {
		t.Fatalf("expected escalation to database error, got %v", err)
	}
}

func TestCacheAndInvalidate(t *testing.T) {
	ctx := context.Background()
	a, err := adapters.New(ctx, adapters.Config{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "c.db")})
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	defer a.Close(ctx)

	if _, err := a.Exec(ctx, `CREATE TABLE items (id INTEGER, name TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}

	c := New(a)
	tbl, err := c.Get(ctx, "items")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(tbl.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %v", tbl.ColumnNames())
	}

	if _, err := a.Exec(ctx, `ALTER TABLE items ADD COLUMN price REAL`); err != nil {
		t.Fatalf("alter: %v", err)
	}

	// кэш не видит изменения до сброса
	tbl, _ = c.Get(ctx, "ITEMS")
	if tbl.HasColumn("price") {
		t.Error("expected cached schema without price")
	}

	c.Invalidate("items")
	tbl, err = c.Get(ctx, "items")
	if err != nil || !tbl.HasColumn("price") {
		t.Errorf("expected refreshed schema with price, got %v (err %v)", tbl.ColumnNames(), err)
	}

	if _, err := c.Get(ctx, "missing"); !syncerr.IsNotFound(err) {
		t.Errorf("expected NotFound for missing table, got %v", err)
	}
}

func TestResolveKey(t *testing.T) {
	c := New(&flakyAdapter{}, WithKeyColumns(map[string][]string{"Prices": {"code"}}))

	if got := c.ResolveKey("prices", []string{"code", "price"}); len(got) != 1 || got[0] != "code" {
		t.Errorf("expected configured key, got %v", got)
	}

	got := c.ResolveKey("other", []string{"code", "price", "fetch_time", "insert_time"})
	if len(got) != 2 || got[0] != "code" || got[1] != "price" {
		t.Errorf("expected default key without timestamps, got %v", got)
	}

	if got := c.KeyColumns("other"); got != nil {
		t.Errorf("expected no configured key, got %v", got)
	}
}

func TestWithRetryCount(t *testing.T) {
	transient := syncerr.New(syncerr.KindTransient, "test", "deadlock")

	tests := []struct {
		name       string
		retryCount int
		calls      int
		probes     int
	}{
		{"single attempt falls back to probe", 1, 1, 1},
		{"second attempt succeeds", 2, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &flakyAdapter{errs: []error{transient}}
			c := New(a, WithRetryCount(tt.retryCount))

			if _, err := c.Get(context.Background(), "t"); err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if a.calls != tt.calls || a.probe != tt.probes {
				t.Errorf("introspection/probe calls = %d/%d, want %d/%d", a.calls, a.probe, tt.calls, tt.probes)
			}
		})
	}
}
