package schema

import "strings"

// Имена служебных колонок, добавляемых при создании таблицы
const (
	IdentityColumn   = "id"
	InsertTimeColumn = "insert_time"
	UpdateTimeColumn = "update_time"
)

// TimestampColumns - служебные колонки времени.
// Не входят в ключ сравнения по умолчанию и не сравниваются.
var TimestampColumns = []string{InsertTimeColumn, UpdateTimeColumn, "created_at", "updated_at", "fetch_time"}

// IsTimestampColumn проверяет, является ли колонка служебной колонкой времени
func IsTimestampColumn(name string) bool {
	for _, c := range TimestampColumns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// DefaultKey - ключ сравнения по умолчанию: все колонки, кроме служебных колонок времени
func DefaultKey(columns []string) []string {
	var key []string
	for _, col := range columns {
		if !IsTimestampColumn(col) {
			key = append(key, col)
		}
	}
	return key
}

// Builder помогает строить описание таблицы для CREATE TABLE
type Builder struct {
	table Table
}

// NewBuilder создает новый builder для таблицы name
func NewBuilder(name string) *Builder {
	return &Builder{table: Table{Name: name}}
}

// AddIdentity добавляет автоинкрементный первичный ключ
func (b *Builder) AddIdentity(name string) *Builder {
	b.table.Columns = append(b.table.Columns, Column{
		Name:          name,
		Type:          ColumnType{Type: TypeBigInt},
		PrimaryKey:    true,
		AutoIncrement: true,
	})
	return b
}

// AddColumn добавляет nullable колонку данных
func (b *Builder) AddColumn(name string, ct ColumnType) *Builder {
	b.table.Columns = append(b.table.Columns, Column{
		Name:     name,
		Type:     ct,
		Nullable: true,
	})
	return b
}

// AddAuditColumns добавляет insert_time и update_time со значением по умолчанию "сейчас"
func (b *Builder) AddAuditColumns() *Builder {
	for _, name := range []string{InsertTimeColumn, UpdateTimeColumn} {
		b.table.Columns = append(b.table.Columns, Column{
			Name:     name,
			Type:     ColumnType{Type: TypeTimestamp},
			Nullable: true,
			Default:  "CURRENT_TIMESTAMP",
		})
	}
	return b
}

// AddUnique добавляет ограничение уникальности
func (b *Builder) AddUnique(columns ...string) *Builder {
	if len(columns) > 0 {
		b.table.UniqueKeys = append(b.table.UniqueKeys, append([]string(nil), columns...))
	}
	return b
}

// Build возвращает описание таблицы
func (b *Builder) Build() Table {
	t := b.table
	t.Columns = append([]Column(nil), b.table.Columns...)
	return t
}

// ColumnCount возвращает количество колонок
func (b *Builder) ColumnCount() int {
	return len(b.table.Columns)
}
