package mssql

import (
	"database/sql"
	"fmt"

	"github.com/ruslano69/datasync/pkg/adapters/base"
	"github.com/ruslano69/datasync/pkg/core/schema"
)

// maxParams stays below the 2100 parameter limit of a single request.
const maxParams = 2000

// NewDialect creates the T-SQL dialect for the given schema.
func NewDialect(schemaName string) *base.Dialect {
	return &base.Dialect{
		DialectName:      AdapterType,
		QuoteLeft:        "[",
		QuoteRight:       "]",
		SchemaName:       schemaName,
		Bind:             func(n int) string { return fmt.Sprintf("@p%d", n) },
		TypeSQL:          typeSQL,
		Identity:         "%s BIGINT IDENTITY(1,1) PRIMARY KEY",
		AddColumnKeyword: "ADD",
		TopLimit:         true,
		ParamLimit:       maxParams,
	}
}

func typeSQL(ct schema.ColumnType) string {
	switch ct.Type {
	case schema.TypeInteger:
		return "INT"
	case schema.TypeDouble:
		return "FLOAT"
	case schema.TypeVarchar:
		return base.VarcharSQL("NVARCHAR", ct)
	case schema.TypeText:
		return "NVARCHAR(MAX)"
	case schema.TypeBoolean:
		return "BIT"
	case schema.TypeTimestamp:
		return "DATETIME2"
	case schema.TypeBlob:
		return "VARBINARY(MAX)"
	default:
		return base.StandardTypeSQL(ct)
	}
}

// buildColumnType converts INFORMATION_SCHEMA attributes to a ColumnType.
// CHARACTER_MAXIMUM_LENGTH of -1 means (MAX).
func buildColumnType(dataType string, length, precision, scale sql.NullInt64) schema.ColumnType {
	ct := schema.ColumnType{Type: schema.NormalizeType(dataType)}
	switch ct.Type {
	case schema.TypeVarchar:
		if length.Valid && length.Int64 < 0 {
			ct.Type = schema.TypeText
		} else if length.Valid {
			ct.Length = int(length.Int64)
		}
	case schema.TypeDecimal:
		if precision.Valid {
			ct.Precision = int(precision.Int64)
		}
		if scale.Valid {
			ct.Scale = int(scale.Int64)
		}
	}
	return ct
}
