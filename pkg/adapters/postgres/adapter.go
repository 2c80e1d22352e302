package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// AdapterType - имя в фабрике адаптеров
const AdapterType = "postgres"

const defaultSchema = "public"

var _ adapters.Adapter = (*Adapter)(nil)

func init() {
	adapters.Register(AdapterType, func() adapters.Adapter { return &Adapter{} })
}

// pgxQuerier - общее у пула и транзакции
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Adapter работает с PostgreSQL через пул pgx.
// Все таблицы ищутся в одной схеме (по умолчанию public).
type Adapter struct {
	pool    *pgxpool.Pool
	schema  string
	dialect adapters.Dialect
}

func (a *Adapter) Connect(ctx context.Context, cfg adapters.Config) error {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return syncerr.Configf("postgres.connect", "parse dsn: %v", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
		pc.MinConns = int32(min(cfg.MinConns, cfg.MaxConns))
	}
	if cfg.Timeout > 0 {
		pc.ConnConfig.ConnectTimeout = cfg.Timeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return err
	}

	a.pool = pool
	a.schema = orDefault(cfg.Schema, defaultSchema)
	a.dialect = NewDialect(a.schema)
	return nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (a *Adapter) Close(context.Context) error {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	if a.pool == nil {
		return errNotConnected
	}
	return a.pool.Ping(ctx)
}

var errNotConnected = errors.New("postgres: adapter not connected")

func (a *Adapter) GetDatabaseType() string { return AdapterType }

func (a *Adapter) Dialect() adapters.Dialect {
	if a.dialect == nil {
		return NewDialect(orDefault(a.schema, defaultSchema))
	}
	return a.dialect
}

func (a *Adapter) GetDatabaseVersion(ctx context.Context) (string, error) {
	var version string
	if err := a.pool.QueryRow(ctx, "SHOW server_version").Scan(&version); err != nil {
		return "", err
	}
	return "PostgreSQL " + version, nil
}

func (a *Adapter) TableExists(ctx context.Context, tableName string) (bool, error) {
	var exists bool
	err := a.pool.QueryRow(ctx,
		`SELECT to_regclass(format('%I.%I', $1::text, $2::text)) IS NOT NULL`,
		a.schema, tableName).Scan(&exists)
	return exists, err
}

func (a *Adapter) GetTableNames(ctx context.Context) ([]string, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT tablename FROM pg_catalog.pg_tables
		WHERE schemaname = $1 ORDER BY tablename`, a.schema)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// columnInfo - строка information_schema.columns с флагом первичного ключа
type columnInfo struct {
	Name      string
	DataType  string
	CharLen   *int32
	Precision *int32
	Scale     *int32
	Nullable  string
	Default   *string
	IsPK      bool
}

func (ci columnInfo) column() schema.Column {
	typ := ci.DataType
	switch {
	case ci.CharLen != nil:
		typ = fmt.Sprintf("%s(%d)", typ, *ci.CharLen)
	case typ == "numeric" && ci.Precision != nil && ci.Scale != nil:
		typ = fmt.Sprintf("numeric(%d,%d)", *ci.Precision, *ci.Scale)
	}
	col := schema.Column{
		Name:       ci.Name,
		Type:       schema.ParseColumnType(typ),
		Nullable:   ci.Nullable == "YES",
		PrimaryKey: ci.IsPK,
	}
	if ci.Default != nil {
		col.Default = *ci.Default
		col.AutoIncrement = strings.HasPrefix(col.Default, "nextval(")
	}
	return col
}

// GetTableSchema читает колонки и первичный ключ одним запросом
// к information_schema
func (a *Adapter) GetTableSchema(ctx context.Context, tableName string) (schema.Table, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT c.column_name, c.data_type, c.character_maximum_length,
		       c.numeric_precision, c.numeric_scale, c.is_nullable, c.column_default,
		       pk.column_name IS NOT NULL
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.table_schema, kcu.table_name, kcu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
			  ON kcu.constraint_name = tc.constraint_name
			 AND kcu.table_schema = tc.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY'
		) pk ON pk.table_schema = c.table_schema
		    AND pk.table_name = c.table_name
		    AND pk.column_name = c.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, a.schema, tableName)
	if err != nil {
		return schema.Table{}, err
	}
	infos, err := pgx.CollectRows(rows, pgx.RowToStructByPos[columnInfo])
	if err != nil {
		return schema.Table{}, err
	}
	if len(infos) == 0 {
		return schema.Table{}, syncerr.NotFoundf("postgres.table_schema", "table %s.%s not found", a.schema, tableName)
	}

	t := schema.Table{Name: tableName, Columns: make([]schema.Column, len(infos))}
	for i, ci := range infos {
		t.Columns[i] = ci.column()
	}
	return t, nil
}

// ProbeTableSchema строит описание по FieldDescriptions пустой выборки.
// Ключи и NOT NULL так не видны.
func (a *Adapter) ProbeTableSchema(ctx context.Context, tableName string) (schema.Table, error) {
	rows, err := a.pool.Query(ctx, "SELECT * FROM "+a.Dialect().QualifiedTable(tableName)+" WHERE 1=0")
	if err != nil {
		return schema.Table{}, err
	}
	defer rows.Close()

	tm := rows.Conn().TypeMap()
	t := schema.Table{Name: tableName}
	for _, fd := range rows.FieldDescriptions() {
		col := schema.Column{Name: fd.Name, Type: schema.ColumnType{Type: schema.TypeText}, Nullable: true}
		if pt, ok := tm.TypeForOID(fd.DataTypeOID); ok {
			col.Type = schema.ParseColumnType(pt.Name)
		}
		t.Columns = append(t.Columns, col)
	}
	rows.Close()
	return t, rows.Err()
}

func (a *Adapter) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if a.pool == nil {
		return 0, errNotConnected
	}
	return execOn(ctx, a.pool, sql, args)
}

func (a *Adapter) Query(ctx context.Context, sql string, args ...any) (*dataset.Dataset, error) {
	if a.pool == nil {
		return nil, errNotConnected
	}
	return queryOn(ctx, a.pool, sql, args)
}

func (a *Adapter) BeginTx(ctx context.Context) (adapters.Tx, error) {
	if a.pool == nil {
		return nil, errNotConnected
	}
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return execOn(ctx, t.tx, sql, args)
}

func (t *pgTx) Query(ctx context.Context, sql string, args ...any) (*dataset.Dataset, error) {
	return queryOn(ctx, t.tx, sql, args)
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func execOn(ctx context.Context, q pgxQuerier, sql string, args []any) (int64, error) {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func queryOn(ctx context.Context, q pgxQuerier, sql string, args []any) (*dataset.Dataset, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

func (a *Adapter) ClassifyError(err error) syncerr.Kind {
	return classifyError(err)
}

// classifyError раскладывает ошибки по SQLSTATE:
// 23505 - конфликт, 42P01 - нет таблицы, классы 08/40/57P0 - временные
func classifyError(err error) syncerr.Kind {
	if err == nil {
		return syncerr.KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return syncerr.KindTransient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch code := pgErr.Code; {
		case code == "23505":
			return syncerr.KindConflict
		case code == "42P01":
			return syncerr.KindNotFound
		case code == "40001", code == "40P01",
			strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P0"):
			return syncerr.KindTransient
		default:
			return syncerr.KindDatabase
		}
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return syncerr.KindTransient
	}
	return syncerr.KindUnknown
}
