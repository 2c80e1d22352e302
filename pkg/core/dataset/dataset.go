package dataset

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/ruslano69/datasync/pkg/core/schema"
)

// Column - именованная колонка набора данных с грубой категорией
type Column struct {
	Name     string
	Category schema.Category
}

// Dataset - табличный набор данных, которым обмениваются стадии конвейера.
// После создания стадией не изменяется: все операции возвращают новую копию.
type Dataset struct {
	Columns []Column
	Rows    [][]any
}

// New создает пустой набор с заданными колонками
func New(columns ...Column) *Dataset {
	return &Dataset{Columns: append([]Column(nil), columns...)}
}

// FromRecords строит набор из списка записей.
// Порядок колонок задается columns; если columns пуст, используется
// отсортированное объединение ключей. Категории выводятся по значениям.
func FromRecords(columns []string, records []map[string]any) *Dataset {
	if len(columns) == 0 {
		seen := make(map[string]bool)
		for _, r := range records {
			for k := range r {
				if !seen[k] {
					seen[k] = true
					columns = append(columns, k)
				}
			}
		}
		sort.Strings(columns)
	}

	ds := &Dataset{Columns: make([]Column, len(columns)), Rows: make([][]any, len(records))}
	for i, r := range records {
		row := make([]any, len(columns))
		for j, c := range columns {
			row[j] = r[c]
		}
		ds.Rows[i] = row
	}
	for j, c := range columns {
		ds.Columns[j] = Column{Name: c, Category: schema.Classify(ds.ColumnValues(j))}
	}
	return ds
}

// Len возвращает количество строк (nil-безопасно)
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// IsEmpty - нет ни одной строки
func (d *Dataset) IsEmpty() bool {
	return d.Len() == 0
}

// ColumnNames возвращает имена колонок
func (d *Dataset) ColumnNames() []string {
	if d == nil {
		return nil
	}
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Index возвращает позицию колонки или -1
func (d *Dataset) Index(name string) int {
	if d == nil {
		return -1
	}
	for i, c := range d.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// HasColumn проверяет наличие колонки
func (d *Dataset) HasColumn(name string) bool {
	return d.Index(name) >= 0
}

// Value возвращает значение ячейки по имени колонки
func (d *Dataset) Value(row int, column string) any {
	idx := d.Index(column)
	if idx < 0 || row < 0 || row >= d.Len() {
		return nil
	}
	return d.Rows[row][idx]
}

// ColumnValues возвращает копию значений колонки по индексу
func (d *Dataset) ColumnValues(idx int) []any {
	values := make([]any, d.Len())
	for i, row := range d.Rows {
		if idx < len(row) {
			values[i] = row[idx]
		}
	}
	return values
}

// Record возвращает строку как map
func (d *Dataset) Record(row int) map[string]any {
	rec := make(map[string]any, len(d.Columns))
	for j, c := range d.Columns {
		rec[c.Name] = d.Rows[row][j]
	}
	return rec
}

// Records возвращает все строки как список map
func (d *Dataset) Records() []map[string]any {
	out := make([]map[string]any, d.Len())
	for i := range out {
		out[i] = d.Record(i)
	}
	return out
}

// Clone возвращает глубокую копию набора (ячейки копируются по значению)
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	out := &Dataset{
		Columns: append([]Column(nil), d.Columns...),
		Rows:    make([][]any, len(d.Rows)),
	}
	for i, row := range d.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	return out
}

// Empty возвращает набор с теми же колонками без строк
func (d *Dataset) Empty() *Dataset {
	if d == nil {
		return &Dataset{}
	}
	return &Dataset{Columns: append([]Column(nil), d.Columns...)}
}

// Slice возвращает копию строк [start, end)
func (d *Dataset) Slice(start, end int) *Dataset {
	if start < 0 {
		start = 0
	}
	if end > d.Len() {
		end = d.Len()
	}
	out := d.Empty()
	for i := start; i < end; i++ {
		out.Rows = append(out.Rows, append([]any(nil), d.Rows[i]...))
	}
	return out
}

// Select возвращает копию строк с указанными индексами
func (d *Dataset) Select(rows []int) *Dataset {
	out := d.Empty()
	out.Rows = make([][]any, 0, len(rows))
	for _, i := range rows {
		out.Rows = append(out.Rows, append([]any(nil), d.Rows[i]...))
	}
	return out
}

// Project оставляет только указанные колонки в указанном порядке
func (d *Dataset) Project(columns ...string) (*Dataset, error) {
	idx := make([]int, len(columns))
	out := &Dataset{Columns: make([]Column, len(columns)), Rows: make([][]any, d.Len())}
	for j, name := range columns {
		i := d.Index(name)
		if i < 0 {
			return nil, fmt.Errorf("column not found: %s", name)
		}
		idx[j] = i
		out.Columns[j] = d.Columns[i]
	}
	for r, row := range d.Rows {
		nr := make([]any, len(idx))
		for j, i := range idx {
			nr[j] = row[i]
		}
		out.Rows[r] = nr
	}
	return out, nil
}

// Drop удаляет колонки (отсутствующие игнорируются)
func (d *Dataset) Drop(columns ...string) *Dataset {
	drop := make(map[string]bool, len(columns))
	for _, c := range columns {
		drop[c] = true
	}
	var keep []string
	for _, c := range d.Columns {
		if !drop[c.Name] {
			keep = append(keep, c.Name)
		}
	}
	out, _ := d.Project(keep...)
	return out
}

// Rename переименовывает колонки по карте old -> new
func (d *Dataset) Rename(mapping map[string]string) *Dataset {
	out := d.Clone()
	for i, c := range out.Columns {
		if n, ok := mapping[c.Name]; ok && n != "" {
			out.Columns[i].Name = n
		}
	}
	return out
}

// WithColumn добавляет колонку (или заменяет существующую), значения берутся из fill
func (d *Dataset) WithColumn(name string, cat schema.Category, fill func(row int) any) *Dataset {
	out := d.Clone()
	idx := out.Index(name)
	if idx < 0 {
		out.Columns = append(out.Columns, Column{Name: name, Category: cat})
		for i := range out.Rows {
			out.Rows[i] = append(out.Rows[i], fill(i))
		}
		return out
	}
	out.Columns[idx].Category = cat
	for i := range out.Rows {
		out.Rows[i][idx] = fill(i)
	}
	return out
}

// Map применяет fn к каждой ячейке колонки и возвращает новую копию
func (d *Dataset) Map(column string, fn func(v any) (any, error)) (*Dataset, error) {
	idx := d.Index(column)
	if idx < 0 {
		return nil, fmt.Errorf("column not found: %s", column)
	}
	out := d.Clone()
	for i, row := range out.Rows {
		v, err := fn(row[idx])
		if err != nil {
			return nil, fmt.Errorf("column %s row %d: %w", column, i, err)
		}
		row[idx] = v
	}
	return out, nil
}

// Filter возвращает копию строк, для которых keep вернул true
func (d *Dataset) Filter(keep func(row []any) bool) *Dataset {
	out := d.Empty()
	for _, row := range d.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, append([]any(nil), row...))
		}
	}
	return out
}

// Concat объединяет наборы по именам колонок. Колонки, отсутствующие
// в каком-то наборе, заполняются nil. Порядок колонок - по первому появлению.
func Concat(sets ...*Dataset) *Dataset {
	out := &Dataset{}
	pos := make(map[string]int)
	for _, s := range sets {
		if s == nil {
			continue
		}
		for _, c := range s.Columns {
			if _, ok := pos[c.Name]; !ok {
				pos[c.Name] = len(out.Columns)
				out.Columns = append(out.Columns, c)
			}
		}
	}
	for _, s := range sets {
		if s == nil {
			continue
		}
		for _, row := range s.Rows {
			nr := make([]any, len(out.Columns))
			for j, c := range s.Columns {
				nr[pos[c.Name]] = row[j]
			}
			out.Rows = append(out.Rows, nr)
		}
	}
	return out
}

// Fingerprint вычисляет xxh3-хэш содержимого (колонки + строки).
// Одинаковые данные дают одинаковый отпечаток независимо от типа Go числа.
func (d *Dataset) Fingerprint() uint64 {
	h := xxh3.New()
	var buf [8]byte
	for _, c := range d.Columns {
		h.WriteString(c.Name)
		h.Write([]byte{0})
	}
	for _, row := range d.Rows {
		for _, v := range row {
			switch x := v.(type) {
			case nil:
				h.Write([]byte{1})
			case time.Time:
				binary.LittleEndian.PutUint64(buf[:], uint64(x.UnixNano()))
				h.Write([]byte{2})
				h.Write(buf[:])
			default:
				if f, ok := schema.AsFloat(x); ok && schema.IsNumeric(x) {
					binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
					h.Write([]byte{3})
					h.Write(buf[:])
				} else {
					h.Write([]byte{4})
					h.WriteString(schema.AsString(x))
				}
			}
			h.Write([]byte{0xff})
		}
		h.Write([]byte{0xfe})
	}
	return h.Sum64()
}

// InferColumnType выводит тип хранения колонки по ее значениям.
// Колонка без категории классифицируется по значениям.
func (d *Dataset) InferColumnType(idx int) schema.ColumnType {
	values := d.ColumnValues(idx)
	cat := d.Columns[idx].Category
	if cat == "" {
		cat = schema.Classify(values)
	}
	return schema.InferColumnType(values, cat)
}

// InferTable строит описание таблицы из колонок набора: по одной nullable
// колонке данных с выведенным типом, без служебных колонок.
func InferTable(d *Dataset, name string) schema.Table {
	b := schema.NewBuilder(name)
	for i, c := range d.Columns {
		b.AddColumn(c.Name, d.InferColumnType(i))
	}
	return b.Build()
}
