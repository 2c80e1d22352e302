package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DataType представляет тип хранения колонки в целевой таблице
type DataType string

// Поддерживаемые типы хранения (диалект-независимые)
const (
	TypeInteger   DataType = "INTEGER"
	TypeBigInt    DataType = "BIGINT"
	TypeDouble    DataType = "DOUBLE"
	TypeDecimal   DataType = "DECIMAL"
	TypeVarchar   DataType = "VARCHAR"
	TypeText      DataType = "TEXT"
	TypeBoolean   DataType = "BOOLEAN"
	TypeDate      DataType = "DATE"
	TypeTimestamp DataType = "TIMESTAMP"
	TypeBlob      DataType = "BLOB"
)

// Category - грубая категория колонки набора данных.
// Назначается очистителем до того, как данные попадут в инференс типов.
type Category string

const (
	CategoryInteger  Category = "integer"
	CategoryFloat    Category = "float"
	CategoryText     Category = "text"
	CategoryTemporal Category = "temporal"
	CategoryBoolean  Category = "boolean"
)

// Значения по умолчанию для VARCHAR и DECIMAL
const (
	DefaultVarcharLength = 255
	MaxDecimalPrecision  = 38
	MaxDecimalScale      = 10
)

// ColumnType - конкретный тип хранения с параметрами
type ColumnType struct {
	Type      DataType
	Length    int // для VARCHAR
	Precision int // для DECIMAL
	Scale     int // для DECIMAL
}

// String возвращает диалект-независимое представление, например VARCHAR(50) или DECIMAL(12,4)
func (ct ColumnType) String() string {
	switch ct.Type {
	case TypeVarchar:
		if ct.Length > 0 {
			return fmt.Sprintf("%s(%d)", ct.Type, ct.Length)
		}
	case TypeDecimal:
		if ct.Precision > 0 {
			return fmt.Sprintf("%s(%d,%d)", ct.Type, ct.Precision, ct.Scale)
		}
	}
	return string(ct.Type)
}

// Category возвращает грубую категорию для типа хранения
func (ct ColumnType) Category() Category {
	return CategoryOf(ct.Type)
}

// Column - колонка целевой таблицы
type Column struct {
	Name          string
	Type          ColumnType
	Nullable      bool
	PrimaryKey    bool
	AutoIncrement bool
	Default       string
}

// Table - структура целевой таблицы, прочитанная из БД или построенная для CREATE
type Table struct {
	Name       string
	Columns    []Column
	UniqueKeys [][]string
}

// Column ищет колонку по имени без учета регистра
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn проверяет наличие колонки
func (t Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// ColumnNames возвращает имена колонок в порядке объявления
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// MissingColumns возвращает имена из names, которых нет в таблице (порядок сохраняется)
func (t Table) MissingColumns(names []string) []string {
	var missing []string
	for _, n := range names {
		if !t.HasColumn(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// CategoryOf сопоставляет тип хранения с грубой категорией
func CategoryOf(t DataType) Category {
	switch t {
	case TypeInteger, TypeBigInt:
		return CategoryInteger
	case TypeDouble, TypeDecimal:
		return CategoryFloat
	case TypeBoolean:
		return CategoryBoolean
	case TypeDate, TypeTimestamp:
		return CategoryTemporal
	default:
		return CategoryText
	}
}

// IsNumericType проверяет является ли тип числовым
func IsNumericType(t DataType) bool {
	switch t {
	case TypeInteger, TypeBigInt, TypeDouble, TypeDecimal:
		return true
	default:
		return false
	}
}

// IsFloatType проверяет является ли тип дробным
func IsFloatType(t DataType) bool {
	return t == TypeDouble || t == TypeDecimal
}

var typeArgsRe = regexp.MustCompile(`^\s*([a-zA-Z0-9_ ]+?)\s*(?:\(\s*(\d+|max)\s*(?:,\s*(\d+)\s*)?\))?\s*(unsigned)?\s*$`)

// ParseColumnType разбирает SQL-тип, прочитанный из information_schema/PRAGMA,
// в диалект-независимый ColumnType. Неизвестные типы считаются TEXT.
func ParseColumnType(sqlType string) ColumnType {
	m := typeArgsRe.FindStringSubmatch(strings.ToLower(sqlType))
	if m == nil {
		return ColumnType{Type: NormalizeType(sqlType)}
	}

	ct := ColumnType{Type: NormalizeType(m[1])}
	if m[2] != "" && m[2] != "max" {
		n, _ := strconv.Atoi(m[2])
		switch ct.Type {
		case TypeVarchar:
			ct.Length = n
		case TypeDecimal:
			ct.Precision = n
			if m[3] != "" {
				ct.Scale, _ = strconv.Atoi(m[3])
			}
		}
	}
	if m[2] == "max" && ct.Type == TypeVarchar {
		ct.Type = TypeText
	}
	return ct
}

// NormalizeType нормализует имена типов разных СУБД
func NormalizeType(name string) DataType {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "int", "int2", "int4", "integer", "smallint", "mediumint", "tinyint", "serial", "smallserial":
		return TypeInteger
	case "bigint", "int8", "bigserial":
		return TypeBigInt
	case "real", "float", "float4", "float8", "double", "double precision":
		return TypeDouble
	case "numeric", "decimal", "money", "smallmoney", "number":
		return TypeDecimal
	case "varchar", "character varying", "nvarchar", "char", "character", "nchar", "bpchar", "varchar2":
		return TypeVarchar
	case "text", "ntext", "longtext", "mediumtext", "tinytext", "clob", "string", "json", "jsonb", "uuid", "uniqueidentifier":
		return TypeText
	case "bool", "boolean", "bit":
		return TypeBoolean
	case "date":
		return TypeDate
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset", "timestamp", "timestamptz",
		"timestamp with time zone", "timestamp without time zone":
		return TypeTimestamp
	case "blob", "bytea", "binary", "varbinary", "longblob", "image":
		return TypeBlob
	default:
		return TypeText
	}
}
