package adapters_test

import (
	"strings"
	"testing"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/adapters/postgres"
	"github.com/ruslano69/datasync/pkg/adapters/sqlite"
	"github.com/ruslano69/datasync/pkg/core/schema"
)

func TestBuildCreateTable(t *testing.T) {
	tbl := schema.NewBuilder("prices").
		AddIdentity(schema.IdentityColumn).
		AddColumn("code", schema.ColumnType{Type: schema.TypeVarchar, Length: 50}).
		AddColumn("price", schema.ColumnType{Type: schema.TypeDecimal, Precision: 12, Scale: 4}).
		AddAuditColumns().
		AddUnique("code").
		Build()

	got := adapters.BuildCreateTable(postgres.NewDialect("public"), tbl)
	for _, part := range []string{
		`CREATE TABLE "public"."prices"`,
		`"id" BIGSERIAL PRIMARY KEY`,
		`"code" VARCHAR(50)`,
		`"price" NUMERIC(12,4)`,
		`"insert_time" TIMESTAMP DEFAULT CURRENT_TIMESTAMP`,
		`UNIQUE ("code")`,
	} {
		if !strings.Contains(got, part) {
			t.Errorf("CREATE TABLE missing %q:\n%s", part, got)
		}
	}
}

func TestBuildUpdate(t *testing.T) {
	d := postgres.NewDialect("")
	q, args := adapters.BuildUpdate(d, "t",
		[]string{"price", "update_time"}, []any{11.0, "now"},
		[]string{"id", "region"}, []any{int64(1), nil})

	want := `UPDATE "t" SET "price" = $1, "update_time" = $2 WHERE "id" = $3 AND "region" IS NULL`
	if q != want {
		t.Errorf("BuildUpdate:\n got %s\nwant %s", q, want)
	}
	if len(args) != 3 {
		t.Errorf("Expected 3 args, got %d", len(args))
	}
}

func TestBuildSelectConditions(t *testing.T) {
	d := sqlite.NewDialect()
	conds := adapters.ConditionsFromMap(map[string]any{
		"id":   []any{int64(1), int64(2), nil},
		"code": "A",
	})
	q, args := adapters.BuildSelect(d, "t", conds, 10)

	want := `SELECT * FROM "t" WHERE "code" = ? AND ("id" IN (?, ?) OR "id" IS NULL) LIMIT 10`
	if q != want {
		t.Errorf("BuildSelect:\n got %s\nwant %s", q, want)
	}
	if len(args) != 3 {
		t.Errorf("Expected 3 args, got %d", len(args))
	}
}

func TestBuildDeleteRequiresConditions(t *testing.T) {
	d := sqlite.NewDialect()
	if _, _, err := adapters.BuildDelete(d, "t", nil); err == nil {
		t.Error("Expected error for DELETE without conditions")
	}
	if _, _, err := adapters.BuildDelete(d, "t", []adapters.Condition{{Column: "id"}}); err == nil {
		t.Error("Expected error for DELETE with empty value list")
	}

	q, _, err := adapters.BuildDelete(d, "t", adapters.ConditionsFromMap(map[string]any{"id": []int64{1, 2}}))
	if err != nil {
		t.Fatalf("BuildDelete failed: %v", err)
	}
	if q != `DELETE FROM "t" WHERE "id" IN (?, ?)` {
		t.Errorf("BuildDelete = %s", q)
	}
}

func TestQuoteIdentifierEscapes(t *testing.T) {
	d := sqlite.NewDialect()
	if got := d.QuoteIdentifier(`we"ird`); got != `"we""ird"` {
		t.Errorf("QuoteIdentifier = %s", got)
	}
}

func TestBuildInsertBatch(t *testing.T) {
	d := postgres.NewDialect("")
	got := adapters.BuildInsertBatch(d, "t", []string{"a", "b"}, 2)
	want := `INSERT INTO "t" ("a", "b") VALUES ($1, $2), ($3, $4)`
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}

	if n := adapters.RowsPerStatement(sqlite.NewDialect(), 10); n != 99 {
		t.Errorf("sqlite: expected 99 rows per statement, got %d", n)
	}
	if n := adapters.RowsPerStatement(d, 2); n != 1000 {
		t.Errorf("postgres: expected cap of 1000 rows, got %d", n)
	}
}
