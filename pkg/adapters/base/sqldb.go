package base

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/schema"
)

// ArgConverter приводит значение параметра к виду, понятному драйверу
type ArgConverter func(v any) any

// DB - общая реализация запросов, транзакций и probe-схемы поверх *sql.DB
type DB struct {
	SQL     *sql.DB
	SQLDialect adapters.Dialect

	// ConvertArg - необязательная конвертация параметров (например bool для MS SQL)
	ConvertArg ArgConverter
}

// Open открывает пул database/sql и применяет параметры из Config
func Open(ctx context.Context, driverName string, cfg adapters.Config) (*sql.DB, error) {
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}

	pingCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Ping проверяет доступность БД
func (d *DB) Ping(ctx context.Context) error {
	if d.SQL == nil {
		return fmt.Errorf("adapter not connected")
	}
	return d.SQL.PingContext(ctx)
}

// Close закрывает пул
func (d *DB) Close() error {
	if d.SQL == nil {
		return nil
	}
	return d.SQL.Close()
}

// Exec выполняет изменяющий запрос
func (d *DB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if d.SQL == nil {
		return 0, fmt.Errorf("adapter not connected")
	}
	res, err := d.SQL.ExecContext(ctx, query, d.convertArgs(args)...)
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}

// Query выполняет SELECT и читает результат в набор данных
func (d *DB) Query(ctx context.Context, query string, args ...any) (*dataset.Dataset, error) {
	if d.SQL == nil {
		return nil, fmt.Errorf("adapter not connected")
	}
	rows, err := d.SQL.QueryContext(ctx, query, d.convertArgs(args)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return ScanRows(rows)
}

// BeginTx начинает транзакцию
func (d *DB) BeginTx(ctx context.Context) (adapters.Tx, error) {
	if d.SQL == nil {
		return nil, fmt.Errorf("adapter not connected")
	}
	tx, err := d.SQL.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx, convert: d.convertArgs}, nil
}

// ProbeTableSchema читает структуру таблицы по метаданным пустой выборки.
// Nullable берется из драйвера, если он его сообщает.
func (d *DB) ProbeTableSchema(ctx context.Context, tableName string) (schema.Table, error) {
	if d.SQL == nil {
		return schema.Table{}, fmt.Errorf("adapter not connected")
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE 1=0", d.SQLDialect.QualifiedTable(tableName))
	rows, err := d.SQL.QueryContext(ctx, q)
	if err != nil {
		return schema.Table{}, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return schema.Table{}, fmt.Errorf("failed to read column types: %w", err)
	}

	t := schema.Table{Name: tableName}
	for _, ct := range types {
		col := schema.Column{Name: ct.Name(), Type: columnTypeOf(ct), Nullable: true}
		if nullable, ok := ct.Nullable(); ok {
			col.Nullable = nullable
		}
		t.Columns = append(t.Columns, col)
	}
	return t, rows.Err()
}

func (d *DB) convertArgs(args []any) []any {
	if d.ConvertArg == nil {
		return args
	}
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = d.ConvertArg(a)
	}
	return out
}

// Tx - транзакция database/sql, реализующая adapters.Tx
type Tx struct {
	tx      *sql.Tx
	convert func([]any) []any
}

// Exec выполняет запрос в транзакции
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, t.convert(args)...)
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}

// Query выполняет SELECT в транзакции
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*dataset.Dataset, error) {
	rows, err := t.tx.QueryContext(ctx, query, t.convert(args)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return ScanRows(rows)
}

// Commit фиксирует транзакцию
func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

// Rollback откатывает транзакцию
func (t *Tx) Rollback(ctx context.Context) error {
	return t.tx.Rollback()
}

// ScanRows читает все строки в набор данных.
// Категория колонки берется из типа СУБД, а если драйвер его не сообщает -
// определяется по значениям.
func ScanRows(rows *sql.Rows) (*dataset.Dataset, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}

	cols := make([]dataset.Column, len(types))
	known := make([]bool, len(types))
	for i, ct := range types {
		cols[i].Name = ct.Name()
		if ct.DatabaseTypeName() != "" {
			cols[i].Category = columnTypeOf(ct).Category()
			known[i] = true
		}
	}

	ds := dataset.New(cols...)
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make([]any, len(cols))
		for i, v := range raw {
			row[i] = NormalizeValue(v, cols[i].Category, known[i])
		}
		ds.Rows = append(ds.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	for i := range cols {
		if !known[i] {
			ds.Columns[i].Category = schema.Classify(ds.ColumnValues(i))
		}
	}
	return ds, nil
}

// NormalizeValue нормализует значение драйвера и, если категория колонки
// известна, приводит к ней текстовые представления чисел, дат и булевых значений
func NormalizeValue(v any, cat schema.Category, known bool) any {
	v = schema.NormalizeDBValue(v)
	if v == nil || !known {
		return v
	}
	switch cat {
	case schema.CategoryInteger:
		if _, ok := v.(int64); !ok {
			if i, ok := schema.AsInt(v); ok {
				return i
			}
		}
	case schema.CategoryFloat:
		if _, ok := v.(float64); !ok {
			if f, ok := schema.AsFloat(v); ok {
				return f
			}
		}
	case schema.CategoryBoolean:
		if b, ok := schema.AsBool(v); ok {
			return b
		}
	case schema.CategoryTemporal:
		if t, ok := schema.AsTime(v); ok {
			return t
		}
	}
	return v
}

func columnTypeOf(ct *sql.ColumnType) schema.ColumnType {
	out := schema.ParseColumnType(ct.DatabaseTypeName())
	switch out.Type {
	case schema.TypeVarchar:
		if n, ok := ct.Length(); ok && n > 0 && n < 1<<31 {
			out.Length = int(n)
		}
	case schema.TypeDecimal:
		if p, s, ok := ct.DecimalSize(); ok && p > 0 {
			out.Precision, out.Scale = int(p), int(s)
		}
	}
	return out
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
