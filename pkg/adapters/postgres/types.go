package postgres

import (
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ruslano69/datasync/pkg/adapters/base"
	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/schema"
)

// NewDialect создает диалект PostgreSQL для схемы
func NewDialect(schemaName string) *base.Dialect {
	return &base.Dialect{
		DialectName: "postgres",
		QuoteLeft:   `"`,
		QuoteRight:  `"`,
		SchemaName:  schemaName,
		Bind:        func(n int) string { return fmt.Sprintf("$%d", n) },
		TypeSQL:     typeSQL,
		Identity:    "%s BIGSERIAL PRIMARY KEY",
		ParamLimit:  65535,
	}
}

func typeSQL(ct schema.ColumnType) string {
	switch ct.Type {
	case schema.TypeDecimal:
		return base.DecimalSQL("NUMERIC", ct)
	case schema.TypeBlob:
		return "BYTEA"
	default:
		return base.StandardTypeSQL(ct)
	}
}

// scanRows читает pgx.Rows в набор данных.
// Категория колонки определяется по имени типа из TypeMap соединения.
func scanRows(rows pgx.Rows) (*dataset.Dataset, error) {
	defer rows.Close()

	fds := rows.FieldDescriptions()
	tm := rows.Conn().TypeMap()
	cols := make([]dataset.Column, len(fds))
	known := make([]bool, len(fds))
	for i, fd := range fds {
		cols[i].Name = fd.Name
		if pt, ok := tm.TypeForOID(fd.DataTypeOID); ok {
			cols[i].Category = schema.ParseColumnType(pt.Name).Category()
			known[i] = true
		}
	}

	ds := dataset.New(cols...)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}
		row := make([]any, len(cols))
		for i, v := range values {
			row[i] = base.NormalizeValue(pgValue(v), cols[i].Category, known[i])
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

// pgValue разворачивает типы pgtype в простые значения Go
func pgValue(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	case pgtype.Time:
		if !x.Valid {
			return nil
		}
		return time.Duration(x.Microseconds * int64(time.Microsecond)).String()
	case pgtype.Interval:
		if !x.Valid {
			return nil
		}
		v, _ := x.Value()
		return v
	case time.Duration:
		return x.String()
	default:
		return v
	}
}
