package mysql

import (
	"strings"

	"github.com/ruslano69/datasync/pkg/adapters/base"
	"github.com/ruslano69/datasync/pkg/core/schema"
)

// NewDialect создает диалект MySQL
func NewDialect() *base.Dialect {
	return &base.Dialect{
		DialectName: AdapterType,
		QuoteLeft:   "`",
		QuoteRight:  "`",
		TypeSQL:     typeSQL,
		Identity:    "%s BIGINT AUTO_INCREMENT PRIMARY KEY",
		OnUpdate:    " ON UPDATE CURRENT_TIMESTAMP",
		ParamLimit:  65535,
	}
}

func typeSQL(ct schema.ColumnType) string {
	switch ct.Type {
	case schema.TypeInteger:
		return "INT"
	case schema.TypeDouble:
		return "DOUBLE"
	case schema.TypeText:
		return "LONGTEXT"
	case schema.TypeBlob:
		return "LONGBLOB"
	case schema.TypeTimestamp:
		// DATETIME без дробной части: DEFAULT и ON UPDATE должны совпадать по точности
		return "DATETIME"
	default:
		return base.StandardTypeSQL(ct)
	}
}

// parseMySQLType разбирает column_type; tinyint(1) - это BOOLEAN
func parseMySQLType(columnType string) schema.ColumnType {
	if strings.HasPrefix(strings.ToLower(columnType), "tinyint(1)") {
		return schema.ColumnType{Type: schema.TypeBoolean}
	}
	return schema.ParseColumnType(columnType)
}
