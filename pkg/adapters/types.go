package adapters

import "github.com/ruslano69/datasync/pkg/core/schema"

// Dialect - особенности SQL-синтаксиса конкретной СУБД.
// Каждый адаптер предоставляет свою реализацию.
type Dialect interface {
	// Name возвращает имя диалекта ("sqlite", "postgres", ...)
	Name() string

	// QuoteIdentifier экранирует идентификатор (имя таблицы/колонки)
	// PostgreSQL/SQLite: "table_name"
	// MySQL:             `table_name`
	// MS SQL:            [table_name]
	QuoteIdentifier(identifier string) string

	// QualifiedTable возвращает экранированное имя таблицы со схемой, если она задана
	QualifiedTable(table string) string

	// Placeholder возвращает параметр запроса с порядковым номером n (с 1)
	// PostgreSQL: $1, MS SQL: @p1, остальные: ?
	Placeholder(n int) string

	// ColumnTypeSQL возвращает SQL-тип для диалект-независимого типа
	ColumnTypeSQL(ct schema.ColumnType) string

	// IdentityColumnSQL возвращает определение автоинкрементного первичного ключа
	IdentityColumnSQL(name string) string

	// AddColumnSQL возвращает ALTER TABLE для добавления колонки
	AddColumnSQL(table string, col schema.Column) string

	// OnUpdateTimestamp возвращает суффикс для автоматического обновления
	// колонки update_time (MySQL: ON UPDATE CURRENT_TIMESTAMP) или ""
	OnUpdateTimestamp() string

	// LimitSQL возвращает префикс и суффикс SELECT для ограничения выборки
	// MS SQL: ("TOP n", ""), остальные: ("", "LIMIT n")
	LimitSQL(n int) (prefix, suffix string)

	// MaxParams - максимальное число параметров в одном запросе
	MaxParams() int
}
