package sqlite

import (
	"github.com/ruslano69/datasync/pkg/adapters/base"
	"github.com/ruslano69/datasync/pkg/core/schema"
)

// NewDialect создает диалект SQLite.
// Объявленные типы сохраняются как есть: SQLite выводит из них affinity,
// а драйвер по ним разбирает TIMESTAMP обратно в time.Time.
func NewDialect() *base.Dialect {
	return &base.Dialect{
		DialectName: "sqlite",
		QuoteLeft:   `"`,
		QuoteRight:  `"`,
		TypeSQL:     typeSQL,
		Identity:    "%s INTEGER PRIMARY KEY AUTOINCREMENT",
		ParamLimit:  999,
	}
}

func typeSQL(ct schema.ColumnType) string {
	switch ct.Type {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeDouble:
		return "REAL"
	default:
		return base.StandardTypeSQL(ct)
	}
}
