package base

import (
	"fmt"
	"strings"

	"github.com/ruslano69/datasync/pkg/core/schema"
)

// Dialect - настраиваемый SQL-диалект.
// Нулевые поля дают стандартное поведение: "?" и LIMIT n.
type Dialect struct {
	DialectName string

	// QuoteLeft/QuoteRight - символы экранирования идентификаторов
	QuoteLeft  string
	QuoteRight string

	// SchemaName - схема по умолчанию, "" - без префикса
	SchemaName string

	// Bind строит плейсхолдер с номером n (nil - "?")
	Bind func(n int) string

	// TypeSQL переводит ColumnType в тип СУБД (nil - StandardTypeSQL)
	TypeSQL func(ct schema.ColumnType) string

	// Identity - шаблон identity-колонки, %s - экранированное имя
	Identity string

	// AddColumnKeyword - "ADD COLUMN" или "ADD"
	AddColumnKeyword string

	// OnUpdate - суффикс автообновления update_time
	OnUpdate string

	// TopLimit - ограничение выборки через SELECT TOP n
	TopLimit bool

	// ParamLimit - максимум параметров в запросе (0 - 999)
	ParamLimit int
}

// Name возвращает имя диалекта
func (d *Dialect) Name() string {
	return d.DialectName
}

// QuoteIdentifier экранирует идентификатор, удваивая закрывающий символ
func (d *Dialect) QuoteIdentifier(identifier string) string {
	left, right := d.QuoteLeft, d.QuoteRight
	if left == "" {
		left, right = `"`, `"`
	}
	return left + strings.ReplaceAll(identifier, right, right+right) + right
}

// QualifiedTable возвращает имя таблицы с префиксом схемы
func (d *Dialect) QualifiedTable(table string) string {
	if d.SchemaName == "" {
		return d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(d.SchemaName) + "." + d.QuoteIdentifier(table)
}

// Placeholder возвращает плейсхолдер параметра
func (d *Dialect) Placeholder(n int) string {
	if d.Bind == nil {
		return "?"
	}
	return d.Bind(n)
}

// ColumnTypeSQL возвращает SQL-тип колонки
func (d *Dialect) ColumnTypeSQL(ct schema.ColumnType) string {
	if d.TypeSQL == nil {
		return StandardTypeSQL(ct)
	}
	return d.TypeSQL(ct)
}

// IdentityColumnSQL возвращает определение автоинкрементного PK
func (d *Dialect) IdentityColumnSQL(name string) string {
	tmpl := d.Identity
	if tmpl == "" {
		tmpl = "%s BIGINT PRIMARY KEY"
	}
	return fmt.Sprintf(tmpl, d.QuoteIdentifier(name))
}

// AddColumnSQL строит ALTER TABLE ... ADD для одной колонки.
// Добавляемая колонка всегда допускает NULL, иначе существующие строки не пройдут.
func (d *Dialect) AddColumnSQL(table string, col schema.Column) string {
	kw := d.AddColumnKeyword
	if kw == "" {
		kw = "ADD COLUMN"
	}
	def := d.QuoteIdentifier(col.Name) + " " + d.ColumnTypeSQL(col.Type)
	if col.Default != "" {
		def += " DEFAULT " + col.Default
	}
	return fmt.Sprintf("ALTER TABLE %s %s %s", d.QualifiedTable(table), kw, def)
}

// OnUpdateTimestamp возвращает суффикс автообновления
func (d *Dialect) OnUpdateTimestamp() string {
	return d.OnUpdate
}

// LimitSQL возвращает префикс и суффикс ограничения выборки
func (d *Dialect) LimitSQL(n int) (prefix, suffix string) {
	if d.TopLimit {
		return fmt.Sprintf("TOP %d", n), ""
	}
	return "", fmt.Sprintf("LIMIT %d", n)
}

// MaxParams возвращает лимит параметров запроса
func (d *Dialect) MaxParams() int {
	if d.ParamLimit <= 0 {
		return 999
	}
	return d.ParamLimit
}

// StandardTypeSQL - маппинг типов, общий для большинства СУБД
func StandardTypeSQL(ct schema.ColumnType) string {
	switch ct.Type {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeBigInt:
		return "BIGINT"
	case schema.TypeDouble:
		return "DOUBLE PRECISION"
	case schema.TypeDecimal:
		return decimalSQL("DECIMAL", ct)
	case schema.TypeVarchar:
		return varcharSQL("VARCHAR", ct)
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeTimestamp:
		return "TIMESTAMP"
	case schema.TypeBlob:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// DecimalSQL форматирует DECIMAL с точностью по умолчанию (18,4)
func DecimalSQL(name string, ct schema.ColumnType) string {
	return decimalSQL(name, ct)
}

// VarcharSQL форматирует VARCHAR с длиной по умолчанию
func VarcharSQL(name string, ct schema.ColumnType) string {
	return varcharSQL(name, ct)
}

func decimalSQL(name string, ct schema.ColumnType) string {
	p, s := ct.Precision, ct.Scale
	if p <= 0 {
		p, s = 18, 4
	}
	return fmt.Sprintf("%s(%d,%d)", name, p, s)
}

func varcharSQL(name string, ct schema.ColumnType) string {
	n := ct.Length
	if n <= 0 {
		n = schema.DefaultVarcharLength
	}
	return fmt.Sprintf("%s(%d)", name, n)
}
