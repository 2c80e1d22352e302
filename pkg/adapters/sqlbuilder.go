package adapters

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ruslano69/datasync/pkg/core/schema"
)

// Condition - условие равенства или вхождения (IN) для WHERE
type Condition struct {
	Column string
	Values []any // одно значение - равенство, несколько - IN, nil-значение - IS NULL
}

// ConditionsFromMap строит отсортированный список условий из map.
// Срез значений превращается в IN, скаляр - в равенство.
func ConditionsFromMap(m map[string]any) []Condition {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]Condition, 0, len(keys))
	for _, k := range keys {
		switch v := m[k].(type) {
		case []any:
			conds = append(conds, Condition{Column: k, Values: v})
		case []string:
			vals := make([]any, len(v))
			for i := range v {
				vals[i] = v[i]
			}
			conds = append(conds, Condition{Column: k, Values: vals})
		case []int64:
			vals := make([]any, len(v))
			for i := range v {
				vals[i] = v[i]
			}
			conds = append(conds, Condition{Column: k, Values: vals})
		default:
			conds = append(conds, Condition{Column: k, Values: []any{v}})
		}
	}
	return conds
}

// BuildCreateTable строит CREATE TABLE по описанию таблицы
func BuildCreateTable(d Dialect, t schema.Table) string {
	defs := make([]string, 0, len(t.Columns)+len(t.UniqueKeys))
	for _, c := range t.Columns {
		defs = append(defs, ColumnDefinition(d, c))
	}
	for _, uk := range t.UniqueKeys {
		cols := make([]string, len(uk))
		for i, c := range uk {
			cols[i] = d.QuoteIdentifier(c)
		}
		defs = append(defs, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", d.QualifiedTable(t.Name), strings.Join(defs, ",\n  "))
}

// ColumnDefinition строит определение колонки для CREATE/ALTER
func ColumnDefinition(d Dialect, c schema.Column) string {
	if c.PrimaryKey && c.AutoIncrement {
		return d.IdentityColumnSQL(c.Name)
	}
	var sb strings.Builder
	sb.WriteString(d.QuoteIdentifier(c.Name))
	sb.WriteByte(' ')
	sb.WriteString(d.ColumnTypeSQL(c.Type))
	if !c.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(c.Default)
		if c.Name == schema.UpdateTimeColumn {
			sb.WriteString(d.OnUpdateTimestamp())
		}
	}
	return sb.String()
}

// BuildInsert строит INSERT INTO table (cols) VALUES (...) для одной строки
func BuildInsert(d Dialect, table string, columns []string) string {
	cols := make([]string, len(columns))
	ph := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = d.QuoteIdentifier(c)
		ph[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QualifiedTable(table), strings.Join(cols, ", "), strings.Join(ph, ", "))
}

// BuildInsertBatch строит многострочный INSERT на rows строк.
// Аргументы передаются построчно в порядке columns.
func BuildInsertBatch(d Dialect, table string, columns []string, rows int) string {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = d.QuoteIdentifier(c)
	}
	values := make([]string, rows)
	n := 1
	ph := make([]string, len(columns))
	for r := 0; r < rows; r++ {
		for i := range columns {
			ph[i] = d.Placeholder(n)
			n++
		}
		values[r] = "(" + strings.Join(ph, ", ") + ")"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		d.QualifiedTable(table), strings.Join(cols, ", "), strings.Join(values, ", "))
}

// RowsPerStatement возвращает число строк многострочного INSERT,
// укладывающееся в лимит параметров диалекта (не меньше 1)
func RowsPerStatement(d Dialect, columns int) int {
	if columns <= 0 {
		return 1
	}
	n := d.MaxParams() / columns
	if n > 1000 {
		n = 1000 // MS SQL: не более 1000 строк в VALUES
	}
	if n < 1 {
		n = 1
	}
	return n
}

// BuildUpdate строит UPDATE ... SET ... WHERE по ключевым колонкам.
// keyValues нужен, чтобы для NULL-ключей сгенерировать IS NULL.
// Возвращает запрос и порядок аргументов: сначала setValues, потом не-NULL ключи.
func BuildUpdate(d Dialect, table string, setColumns []string, setValues []any,
	keyColumns []string, keyValues []any) (string, []any) {
	sets := make([]string, len(setColumns))
	args := make([]any, 0, len(setColumns)+len(keyColumns))
	n := 1
	for i, c := range setColumns {
		sets[i] = fmt.Sprintf("%s = %s", d.QuoteIdentifier(c), d.Placeholder(n))
		args = append(args, setValues[i])
		n++
	}
	where, whereArgs := buildKeyPredicate(d, keyColumns, keyValues, n)
	args = append(args, whereArgs...)
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		d.QualifiedTable(table), strings.Join(sets, ", "), where), args
}

// BuildExists строит запрос проверки существования строки по ключу
func BuildExists(d Dialect, table string, keyColumns []string, keyValues []any) (string, []any) {
	where, args := buildKeyPredicate(d, keyColumns, keyValues, 1)
	prefix, suffix := d.LimitSQL(1)
	return strings.TrimSpace(fmt.Sprintf("SELECT %s 1 AS found FROM %s WHERE %s %s",
		prefix, d.QualifiedTable(table), where, suffix)), args
}

// BuildSelect строит SELECT * с условиями и необязательным лимитом (0 - без лимита)
func BuildSelect(d Dialect, table string, conds []Condition, limit int) (string, []any) {
	where, args := buildConditions(d, conds, 1)
	prefix, suffix := "", ""
	if limit > 0 {
		prefix, suffix = d.LimitSQL(limit)
	}
	q := "SELECT "
	if prefix != "" {
		q += prefix + " "
	}
	q += "* FROM " + d.QualifiedTable(table)
	if where != "" {
		q += " WHERE " + where
	}
	if suffix != "" {
		q += " " + suffix
	}
	return q, args
}

// BuildDelete строит DELETE с обязательными условиями
func BuildDelete(d Dialect, table string, conds []Condition) (string, []any, error) {
	where, args := buildConditions(d, conds, 1)
	if where == "" {
		return "", nil, fmt.Errorf("delete without conditions is not allowed")
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", d.QualifiedTable(table), where), args, nil
}

func buildKeyPredicate(d Dialect, keyColumns []string, keyValues []any, start int) (string, []any) {
	parts := make([]string, len(keyColumns))
	var args []any
	n := start
	for i, c := range keyColumns {
		if keyValues[i] == nil {
			parts[i] = d.QuoteIdentifier(c) + " IS NULL"
			continue
		}
		parts[i] = fmt.Sprintf("%s = %s", d.QuoteIdentifier(c), d.Placeholder(n))
		args = append(args, keyValues[i])
		n++
	}
	return strings.Join(parts, " AND "), args
}

func buildConditions(d Dialect, conds []Condition, start int) (string, []any) {
	var (
		parts []string
		args  []any
	)
	n := start
	for _, c := range conds {
		if len(c.Values) == 0 {
			continue
		}
		var (
			ph      []string
			hasNull bool
		)
		for _, v := range c.Values {
			if v == nil {
				hasNull = true
				continue
			}
			ph = append(ph, d.Placeholder(n))
			args = append(args, v)
			n++
		}
		col := d.QuoteIdentifier(c.Column)
		var expr string
		switch {
		case len(ph) == 1:
			expr = fmt.Sprintf("%s = %s", col, ph[0])
		case len(ph) > 1:
			expr = fmt.Sprintf("%s IN (%s)", col, strings.Join(ph, ", "))
		}
		if hasNull {
			if expr == "" {
				expr = col + " IS NULL"
			} else {
				expr = fmt.Sprintf("(%s OR %s IS NULL)", expr, col)
			}
		}
		parts = append(parts, expr)
	}
	return strings.Join(parts, " AND "), args
}
