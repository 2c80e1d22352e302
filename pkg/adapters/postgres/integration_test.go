package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

func connect(t *testing.T) *Adapter {
	t.Helper()
	dsn := os.Getenv("DATASYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DATASYNC_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	a, err := adapters.New(ctx, adapters.Config{Type: "postgres", DSN: dsn})
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	t.Cleanup(func() { a.Close(ctx) })
	return a.(*Adapter)
}

// TestIntegration_BasicConnection проверяет базовое подключение
func TestIntegration_BasicConnection(t *testing.T) {
	a := connect(t)

	version, err := a.GetDatabaseVersion(context.Background())
	if err != nil {
		t.Fatalf("Failed to get version: %v", err)
	}
	if version == "" {
		t.Fatal("Version is empty")
	}
	t.Logf("PostgreSQL version: %s", version)
}

func TestIntegration_SchemaAndErrors(t *testing.T) {
	ctx := context.Background()
	a := connect(t)
	d := a.Dialect()

	tableName := "datasync_it_prices"
	a.Exec(ctx, "DROP TABLE IF EXISTS "+d.QualifiedTable(tableName))
	defer a.Exec(ctx, "DROP TABLE IF EXISTS "+d.QualifiedTable(tableName))

	tbl := schema.NewBuilder(tableName).
		AddIdentity(schema.IdentityColumn).
		AddColumn("code", schema.ColumnType{Type: schema.TypeVarchar, Length: 50}).
		AddColumn("price", schema.ColumnType{Type: schema.TypeDecimal, Precision: 12, Scale: 4}).
		AddAuditColumns().
		AddUnique("code").
		Build()
	if _, err := a.Exec(ctx, adapters.BuildCreateTable(d, tbl)); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	got, err := a.GetTableSchema(ctx, tableName)
	if err != nil {
		t.Fatalf("GetTableSchema failed: %v", err)
	}
	price, ok := got.Column("price")
	if !ok || price.Type.Type != schema.TypeDecimal || price.Type.Precision != 12 {
		t.Errorf("Expected price NUMERIC(12,4), got %+v", price)
	}
	id, _ := got.Column("id")
	if !id.PrimaryKey || !id.AutoIncrement {
		t.Errorf("Expected id BIGSERIAL PK, got %+v", id)
	}

	ins := adapters.BuildInsert(d, tableName, []string{"code", "price"})
	if _, err := a.Exec(ctx, ins, "A", 10.5); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	_, err = a.Exec(ctx, ins, "A", 11.0)
	if kind := a.ClassifyError(err); kind != syncerr.KindConflict {
		t.Errorf("Expected KindConflict, got %s (%v)", kind, err)
	}

	ds, err := a.Query(ctx, "SELECT code, price FROM "+d.QualifiedTable(tableName))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if v, ok := ds.Value(0, "price").(float64); !ok || v != 10.5 {
		t.Errorf("Expected price 10.5, got %#v", ds.Value(0, "price"))
	}

	_, err = a.GetTableSchema(ctx, "datasync_absent")
	if !errors.Is(err, syncerr.ErrNotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
	_, err = a.Query(ctx, "SELECT * FROM datasync_absent")
	if kind := a.ClassifyError(err); kind != syncerr.KindNotFound {
		t.Errorf("Expected KindNotFound for 42P01, got %s", kind)
	}
}
