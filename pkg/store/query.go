package store

import (
	"context"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// Query читает строки таблицы по условиям (limit 0 - без ограничения).
// Значение-срез в условии превращается в IN (...).
func (s *Store) Query(ctx context.Context, table string, conditions map[string]any, limit int) (*dataset.Dataset, error) {
	if err := schema.ValidateIdentifier(table); err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfiguration, "store.query", err)
	}
	query, args := adapters.BuildSelect(s.adapter.Dialect(), table, adapters.ConditionsFromMap(conditions), limit)
	out, err := s.adapter.Query(ctx, query, args...)
	if err != nil {
		return nil, syncerr.Classify(s.adapter, "store.query", err)
	}
	return out, nil
}

// Lookup читает из таблицы только строки, ключи которых встречаются в chunk.
// По каждой ключевой колонке строится фильтр IN, запросы дробятся так,
// чтобы не превысить лимит параметров диалекта. Результат может содержать
// лишние строки (декартово произведение IN), точное сопоставление
// выполняет компаратор.
//
// Отсутствующая таблица - ошибка syncerr.KindNotFound.
// Если в таблице нет ключевой колонки, возвращается набор без строк.
func (s *Store) Lookup(ctx context.Context, table string, keyColumns []string, chunk *dataset.Dataset) (*dataset.Dataset, error) {
	tbl, err := s.catalog.Get(ctx, table)
	if err != nil {
		return nil, err
	}

	empty := emptyFromTable(tbl)
	if chunk.IsEmpty() || len(keyColumns) == 0 {
		return empty, nil
	}

	keys := make([]writeColumn, 0, len(keyColumns))
	for _, k := range keyColumns {
		idx := indexFold(chunk, k)
		if idx < 0 {
			return nil, syncerr.Configf("store.lookup", "key column %s not found in dataset", k)
		}
		tc, ok := tbl.Column(k)
		if !ok {
			return empty, nil
		}
		keys = append(keys, writeColumn{index: idx, name: tc.Name, col: tc})
	}

	d := s.adapter.Dialect()
	perQuery := d.MaxParams() / len(keys)
	if perQuery < 1 {
		perQuery = 1
	}

	parts := []*dataset.Dataset{empty}
	for _, b := range batches(chunk.Len(), perQuery) {
		conds := make([]adapters.Condition, len(keys))
		for j, k := range keys {
			conds[j] = adapters.Condition{Column: k.name, Values: distinct(k, chunk.Rows[b[0]:b[1]])}
		}
		query, args := adapters.BuildSelect(d, table, conds, 0)
		part, err := s.adapter.Query(ctx, query, args...)
		if err != nil {
			return nil, syncerr.Classify(s.adapter, "store.lookup", err)
		}
		parts = append(parts, part)
	}
	return dataset.Concat(parts...), nil
}

// distinct возвращает уникальные значения ключевой колонки, приведенные
// к типу колонки таблицы. nil сохраняется и дает IS NULL.
func distinct(k writeColumn, rows [][]any) []any {
	seen := make(map[string]bool, len(rows))
	out := make([]any, 0, len(rows))
	hasNull := false
	for _, row := range rows {
		v := prepareValue(k, row[k.index])
		if v == nil {
			if !hasNull {
				hasNull = true
				out = append(out, nil)
			}
			continue
		}
		key := schema.AsString(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func emptyFromTable(tbl schema.Table) *dataset.Dataset {
	cols := make([]dataset.Column, len(tbl.Columns))
	for i, c := range tbl.Columns {
		cols[i] = dataset.Column{Name: c.Name, Category: c.Type.Category()}
	}
	return dataset.New(cols...)
}
