// Package diff сверяет входящий набор данных с уже сохраненными строками.
//
// Comparator делит строки нового набора на три непересекающихся набора:
// ToInsert (ключа нет в хранилище), ToUpdate (ключ есть, значения
// отличаются) и Unchanged.
package diff

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// Значения по умолчанию
const (
	DefaultTolerance = 1e-6
	DefaultBatchSize = 1000
)

// Result - результат сверки
type Result struct {
	ToInsert  *dataset.Dataset // ключа нет среди сохраненных строк
	ToUpdate  *dataset.Dataset // ключ есть, значения отличаются
	Unchanged *dataset.Dataset // ключ есть, значения совпадают
	Changes   []RowChange      // изменения по строкам ToUpdate (в том же порядке)
	Keys      []string         // использованный ключ сравнения
	Stats     Stats
}

// RowChange - изменения одной строки
type RowChange struct {
	Key    string        // составной ключ строки
	Fields []FieldChange // изменившиеся поля
}

// FieldChange представляет изменение одного поля
type FieldChange struct {
	Column   string
	OldValue any
	NewValue any
}

// Stats содержит статистику сверки
type Stats struct {
	New       int `json:"new"`       // строк во входящем наборе
	Existing  int `json:"existing"`  // сохраненных строк, участвовавших в сверке
	Inserted  int `json:"to_insert"` // количество новых
	Updated   int `json:"to_update"` // количество измененных
	Unchanged int `json:"unchanged"` // количество неизмененных
}

// HasChanges - есть ли что записывать
func (r *Result) HasChanges() bool {
	return r.Stats.Inserted > 0 || r.Stats.Updated > 0
}

// Options опции сверки
type Options struct {
	// CompareColumns - сравниваемые колонки по таблицам.
	// По умолчанию общие колонки, кроме ключевых, внутренних ("_...")
	// и служебных колонок времени.
	CompareColumns map[string][]string `yaml:"compare_columns"`

	// Tolerance - допустимая разница дробных значений
	Tolerance float64 `yaml:"tolerance"`

	// BatchSize - строк в одном запросе сохраненных данных (BatchReconcile)
	BatchSize int `yaml:"batch_size"`
}

// DefaultOptions возвращает опции по умолчанию
func DefaultOptions() Options {
	return Options{Tolerance: DefaultTolerance, BatchSize: DefaultBatchSize}
}

// LookupFunc возвращает сохраненные строки таблицы, ключи которых
// встречаются в chunk. Отсутствие таблицы - ошибка syncerr.KindNotFound.
type LookupFunc func(ctx context.Context, table string, keyColumns []string, chunk *dataset.Dataset) (*dataset.Dataset, error)

// KeyResolver выбирает ключ сравнения таблицы. Реализуется catalog.Catalog,
// который хранит сконфигурированные ключи по таблицам.
type KeyResolver interface {
	ResolveKey(table string, columns []string) []string
}

// Comparator выполняет сверку наборов
type Comparator struct {
	options Options
	keys    KeyResolver
	logger  zerolog.Logger
}

// NewComparator создаёт новый Comparator. Без keys для всех таблиц
// используется schema.DefaultKey.
func NewComparator(options Options, keys KeyResolver, logger zerolog.Logger) *Comparator {
	if options.Tolerance <= 0 {
		options.Tolerance = DefaultTolerance
	}
	if options.BatchSize <= 0 {
		options.BatchSize = DefaultBatchSize
	}
	return &Comparator{
		options: options,
		keys:    keys,
		logger:  logger.With().Str("component", "comparator").Logger(),
	}
}

// Options возвращает опции сверки
func (c *Comparator) Options() Options {
	return c.options
}

// KeyColumns возвращает ключ сравнения таблицы для набора колонок
func (c *Comparator) KeyColumns(table string, columns []string) []string {
	if c.keys == nil {
		return schema.DefaultKey(columns)
	}
	return c.keys.ResolveKey(table, columns)
}

// Reconcile сверяет новый набор с сохраненными строками
func (c *Comparator) Reconcile(newData, existing *dataset.Dataset, table string) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, syncerr.Processingf("diff.reconcile", "reconcile %s: %v", table, r)
		}
	}()

	keys := c.KeyColumns(table, newData.ColumnNames())
	result = &Result{
		ToInsert:  newData.Empty(),
		ToUpdate:  newData.Empty(),
		Unchanged: newData.Empty(),
		Keys:      keys,
		Stats:     Stats{New: newData.Len(), Existing: existing.Len()},
	}

	if newData.IsEmpty() {
		return result, nil
	}
	if existing.IsEmpty() {
		result.ToInsert = newData.Clone()
		result.Stats.Inserted = newData.Len()
		return result, nil
	}

	if len(keys) == 0 {
		return nil, syncerr.Configf("diff.reconcile", "no key columns for table %s", table)
	}
	newKeys, err := indices(newData, keys, "new data")
	if err != nil {
		return nil, err
	}
	oldKeys, err := indices(existing, keys, "existing data")
	if err != nil {
		return nil, err
	}

	numeric := make([]bool, len(keys))
	for i := range keys {
		numeric[i] = allNumeric(newData, newKeys[i]) && allNumeric(existing, oldKeys[i])
	}

	index := make(map[string]int, existing.Len())
	for i, row := range existing.Rows {
		k := compositeKey(row, oldKeys, numeric)
		if _, dup := index[k]; !dup {
			index[k] = i
		}
	}

	pairs := c.compareColumns(newData, existing, table, keys)

	var ins, upd, same []int
	for i, row := range newData.Rows {
		k := compositeKey(row, newKeys, numeric)
		j, ok := index[k]
		if !ok {
			ins = append(ins, i)
			continue
		}
		if changes := c.diffRow(row, existing.Rows[j], pairs); len(changes) > 0 {
			upd = append(upd, i)
			result.Changes = append(result.Changes, RowChange{Key: k, Fields: changes})
			continue
		}
		same = append(same, i)
	}

	result.ToInsert = newData.Select(ins)
	result.ToUpdate = newData.Select(upd)
	result.Unchanged = newData.Select(same)
	result.Stats.Inserted = len(ins)
	result.Stats.Updated = len(upd)
	result.Stats.Unchanged = len(same)

	c.logger.Debug().Str("table", table).Strs("keys", keys).
		Int("to_insert", len(ins)).Int("to_update", len(upd)).Int("unchanged", len(same)).
		Msg("reconcile completed")
	return result, nil
}

// BatchReconcile сверяет набор частями по BatchSize строк, запрашивая
// через lookup только сохраненные строки с ключами из текущей части.
// Отсутствующая таблица означает, что все строки новые.
func (c *Comparator) BatchReconcile(ctx context.Context, newData *dataset.Dataset, table string, lookup LookupFunc) (*Result, error) {
	keys := c.KeyColumns(table, newData.ColumnNames())
	total := &Result{
		ToInsert:  newData.Empty(),
		ToUpdate:  newData.Empty(),
		Unchanged: newData.Empty(),
		Keys:      keys,
		Stats:     Stats{New: newData.Len()},
	}
	if newData.IsEmpty() {
		return total, nil
	}
	if len(keys) == 0 {
		return nil, syncerr.Configf("diff.batch_reconcile", "no key columns for table %s", table)
	}
	if _, err := indices(newData, keys, "new data"); err != nil {
		return nil, err
	}

	var ins, upd, same []*dataset.Dataset
	for start := 0; start < newData.Len(); start += c.options.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, syncerr.Wrap(syncerr.KindProcessing, "diff.batch_reconcile", err)
		}

		chunk := newData.Slice(start, start+c.options.BatchSize)
		existing, err := lookup(ctx, table, keys, chunk)
		if err != nil {
			if !syncerr.IsNotFound(err) {
				return nil, err
			}
			existing = nil
		}

		part, err := c.Reconcile(chunk, existing, table)
		if err != nil {
			return nil, err
		}
		ins = append(ins, part.ToInsert)
		upd = append(upd, part.ToUpdate)
		same = append(same, part.Unchanged)
		total.Changes = append(total.Changes, part.Changes...)
		total.Stats.Existing += part.Stats.Existing
	}

	total.ToInsert = concatOrEmpty(newData, ins)
	total.ToUpdate = concatOrEmpty(newData, upd)
	total.Unchanged = concatOrEmpty(newData, same)
	total.Stats.Inserted = total.ToInsert.Len()
	total.Stats.Updated = total.ToUpdate.Len()
	total.Stats.Unchanged = total.Unchanged.Len()

	c.logger.Info().Str("table", table).Int("rows", newData.Len()).
		Int("to_insert", total.Stats.Inserted).Int("to_update", total.Stats.Updated).
		Int("unchanged", total.Stats.Unchanged).Msg("batch reconcile completed")
	return total, nil
}

// columnPair - пара позиций сравниваемой колонки в новом и сохраненном наборах
type columnPair struct {
	name     string
	newIdx   int
	existIdx int
}

func (c *Comparator) compareColumns(newData, existing *dataset.Dataset, table string, keys []string) []columnPair {
	var pairs []columnPair
	if cols := lookupFold(c.options.CompareColumns, table); len(cols) > 0 {
		for _, name := range cols {
			ni, ei := indexFold(newData, name), indexFold(existing, name)
			if ni >= 0 && ei >= 0 {
				pairs = append(pairs, columnPair{name: newData.Columns[ni].Name, newIdx: ni, existIdx: ei})
			}
		}
		return pairs
	}

	for ni, col := range newData.Columns {
		if containsFold(keys, col.Name) || strings.HasPrefix(col.Name, "_") || schema.IsTimestampColumn(col.Name) {
			continue
		}
		if ei := indexFold(existing, col.Name); ei >= 0 {
			pairs = append(pairs, columnPair{name: col.Name, newIdx: ni, existIdx: ei})
		}
	}
	return pairs
}

func (c *Comparator) diffRow(newRow, oldRow []any, pairs []columnPair) []FieldChange {
	var changes []FieldChange
	for _, p := range pairs {
		nv, ov := newRow[p.newIdx], oldRow[p.existIdx]
		if !c.Equal(nv, ov) {
			changes = append(changes, FieldChange{Column: p.name, OldValue: ov, NewValue: nv})
		}
	}
	return changes
}

// Equal сравнивает два значения.
// Если хотя бы одно дробное, сравнение числовое с допуском Tolerance.
// Целое и числовая строка сравниваются как числа, []byte - как строка,
// время - как момент времени.
func (c *Comparator) Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if isFloat(a) || isFloat(b) {
		fa, okA := schema.AsFloat(a)
		fb, okB := schema.AsFloat(b)
		if okA && okB {
			slack := 1e-12 * math.Max(math.Abs(fa), math.Abs(fb))
			return math.Abs(fa-fb) <= c.options.Tolerance+slack
		}
		return schema.AsString(a) == schema.AsString(b)
	}

	if isTime(a) || isTime(b) {
		ta, okA := schema.AsTime(a)
		tb, okB := schema.AsTime(b)
		if okA && okB {
			return ta.Equal(tb)
		}
		return schema.AsString(a) == schema.AsString(b)
	}

	if _, ok := a.(bool); ok {
		bb, okB := schema.AsBool(b)
		return okB && bb == a.(bool)
	}
	if _, ok := b.(bool); ok {
		ba, okA := schema.AsBool(a)
		return okA && ba == b.(bool)
	}

	if isInteger(a) || isInteger(b) {
		ia, okA := schema.AsInt(a)
		ib, okB := schema.AsInt(b)
		if okA && okB {
			return ia == ib
		}
	}

	return schema.AsString(a) == schema.AsString(b)
}

// compositeKey строит ключ строки: числовые колонки в формате %.8f,
// остальные - каноническая строка, части соединяются через "|"
func compositeKey(row []any, idx []int, numeric []bool) string {
	parts := make([]string, len(idx))
	for i, j := range idx {
		v := row[j]
		switch {
		case v == nil:
			parts[i] = ""
		case numeric[i]:
			f, ok := schema.AsFloat(v)
			if !ok {
				parts[i] = ""
				continue
			}
			parts[i] = strconv.FormatFloat(f, 'f', 8, 64)
		default:
			parts[i] = schema.AsString(v)
		}
	}
	return strings.Join(parts, "|")
}

// allNumeric - все непустые значения колонки приводятся к числу
func allNumeric(ds *dataset.Dataset, idx int) bool {
	for _, row := range ds.Rows {
		v := row[idx]
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		if !schema.IsNumeric(v) {
			return false
		}
	}
	return true
}

func indices(ds *dataset.Dataset, keys []string, side string) ([]int, error) {
	out := make([]int, len(keys))
	for i, k := range keys {
		out[i] = indexFold(ds, k)
		if out[i] < 0 {
			return nil, syncerr.Configf("diff.reconcile", "key column %s not found in %s", k, side)
		}
	}
	return out, nil
}

func indexFold(ds *dataset.Dataset, name string) int {
	if ds == nil {
		return -1
	}
	if i := ds.Index(name); i >= 0 {
		return i
	}
	for i, c := range ds.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func lookupFold(m map[string][]string, table string) []string {
	if v, ok := m[table]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, table) {
			return v
		}
	}
	return nil
}

func concatOrEmpty(like *dataset.Dataset, parts []*dataset.Dataset) *dataset.Dataset {
	out := dataset.Concat(parts...)
	if len(out.Columns) == 0 {
		return like.Empty()
	}
	return out
}

func isFloat(v any) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return false
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func isTime(v any) bool {
	_, ok := v.(time.Time)
	return ok
}

// FormatText форматирует результат в текстовый вид
func (r *Result) FormatText() string {
	var sb strings.Builder

	sb.WriteString("=== Reconcile Statistics ===\n")
	sb.WriteString(fmt.Sprintf("New rows:   %d\n", r.Stats.New))
	sb.WriteString(fmt.Sprintf("Existing:   %d\n", r.Stats.Existing))
	sb.WriteString(fmt.Sprintf("To insert:  %d\n", r.Stats.Inserted))
	sb.WriteString(fmt.Sprintf("To update:  %d\n", r.Stats.Updated))
	sb.WriteString(fmt.Sprintf("Unchanged:  %d\n", r.Stats.Unchanged))

	if len(r.Changes) > 0 {
		sb.WriteString(fmt.Sprintf("\n=== Changed (%d) ===\n", len(r.Changes)))
		for _, ch := range r.Changes {
			sb.WriteString(fmt.Sprintf("~ Key: %s\n", ch.Key))
			fields := append([]FieldChange(nil), ch.Fields...)
			sort.Slice(fields, func(i, j int) bool { return fields[i].Column < fields[j].Column })
			for _, f := range fields {
				sb.WriteString(fmt.Sprintf("  %s: '%s' → '%s'\n",
					f.Column, schema.AsString(f.OldValue), schema.AsString(f.NewValue)))
			}
		}
	}

	return sb.String()
}
