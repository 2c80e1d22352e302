package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// Операции записи (для логов, DLQ и метрик)
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// Insert вставляет строки набора пакетами по BatchSize.
//
// Пакет, упавший на нарушении уникальности, откатывается и повторяется
// построчно, каждая строка в своей транзакции. Пакет с другой ошибкой
// целиком считается неудачным, запись продолжается со следующего пакета.
func (s *Store) Insert(ctx context.Context, ds *dataset.Dataset, table string) (WriteResult, error) {
	result := WriteResult{Total: ds.Len()}
	if ds.IsEmpty() {
		return result, nil
	}

	tbl, err := s.EnsureTable(ctx, ds, table)
	if err != nil {
		return result, err
	}

	cols := stamp(plan(ds, tbl), ds, tbl, schema.InsertTimeColumn, schema.UpdateTimeColumn)
	if len(cols) == 0 {
		return result, syncerr.Configf("store.insert", "no dataset columns match table %s", table)
	}
	names := columnNames(cols)
	d := s.adapter.Dialect()
	perStmt := adapters.RowsPerStatement(d, len(names))
	now := s.now()

	for _, b := range batches(ds.Len(), s.config.BatchSize) {
		if err := ctx.Err(); err != nil {
			return result, syncerr.Wrap(syncerr.KindTransient, "store.insert", err)
		}

		rows := make([][]any, 0, b[1]-b[0])
		for i := b[0]; i < b[1]; i++ {
			rows = append(rows, rowArgs(cols, ds.Rows[i], now))
		}

		err := s.withTx(ctx, "store.insert", func(tx adapters.Tx) error {
			for _, chunk := range batches(len(rows), perStmt) {
				part := rows[chunk[0]:chunk[1]]
				args := make([]any, 0, len(part)*len(names))
				for _, r := range part {
					args = append(args, r...)
				}
				if _, err := tx.Exec(ctx, adapters.BuildInsertBatch(d, table, names, len(part)), args...); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			result.Inserted += len(rows)
			continue
		}

		if syncerr.IsConflict(err) {
			s.logger.Debug().Err(err).Str("table", table).Int("batch_start", b[0]).
				Msg("batch conflict, falling back to row-by-row insert")
			s.insertRows(ctx, ds, table, names, rows, b[0], &result)
			continue
		}

		s.logger.Error().Err(err).Str("table", table).Int("batch_start", b[0]).
			Int("rows", len(rows)).Msg("insert batch failed")
		result.Failed += len(rows)
		result.addError(err)
		for i := b[0]; i < b[1]; i++ {
			s.toDLQ(table, OpInsert, ds.Record(i), err)
		}
	}

	s.logger.Info().Str("table", table).Int("inserted", result.Inserted).
		Int("failed", result.Failed).Int("total", result.Total).Msg("insert completed")
	return result, nil
}

// insertRows вставляет строки по одной, каждую в своей транзакции
func (s *Store) insertRows(ctx context.Context, ds *dataset.Dataset, table string, names []string,
	rows [][]any, offset int, result *WriteResult) {
	query := adapters.BuildInsert(s.adapter.Dialect(), table, names)
	for i, args := range rows {
		err := s.withTx(ctx, "store.insert_row", func(tx adapters.Tx) error {
			_, err := tx.Exec(ctx, query, args...)
			return err
		})
		if err != nil {
			result.Failed++
			result.addError(err)
			s.toDLQ(table, OpInsert, ds.Record(offset+i), err)
			continue
		}
		result.Inserted++
	}
}

// updatePlan - колонки SET и WHERE для UPDATE
type updatePlan struct {
	set  []writeColumn
	keys []writeColumn
}

func (s *Store) planUpdate(ds *dataset.Dataset, tbl schema.Table, keys []string, op string) (updatePlan, error) {
	var p updatePlan
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		idx := indexFold(ds, k)
		if idx < 0 {
			return p, syncerr.Configf(op, "key column %s not found in dataset", k)
		}
		tc, ok := tbl.Column(k)
		if !ok {
			return p, syncerr.Configf(op, "key column %s not found in table %s", k, tbl.Name)
		}
		isKey[strings.ToLower(k)] = true
		p.keys = append(p.keys, writeColumn{index: idx, name: tc.Name, col: tc})
	}

	for _, c := range plan(ds, tbl) {
		if isKey[strings.ToLower(c.name)] || strings.EqualFold(c.name, schema.InsertTimeColumn) {
			continue
		}
		p.set = append(p.set, c)
	}
	p.set = stamp(p.set, ds, tbl, schema.UpdateTimeColumn)
	return p, nil
}

func (p updatePlan) statement(d adapters.Dialect, table string, row []any, now time.Time) (string, []any) {
	setVals := rowArgs(p.set, row, now)
	keyVals := rowArgs(p.keys, row, now)
	return adapters.BuildUpdate(d, table, columnNames(p.set), setVals, columnNames(p.keys), keyVals)
}

// Update обновляет строки по ключевым колонкам.
//
// Каждая строка - отдельный UPDATE, пакет строк выполняется в одной
// транзакции. Строка, не затронувшая ни одной записи, считается неудачной.
// Ошибка выполнения откатывает пакет, все его строки считаются неудачными.
func (s *Store) Update(ctx context.Context, ds *dataset.Dataset, table string, keys []string) (WriteResult, error) {
	result := WriteResult{Total: ds.Len()}
	if len(keys) == 0 {
		return result, syncerr.Configf("store.update", "key columns are required for update of %s", table)
	}
	if ds.IsEmpty() {
		return result, nil
	}

	tbl, err := s.EnsureTable(ctx, ds, table)
	if err != nil {
		return result, err
	}
	p, err := s.planUpdate(ds, tbl, keys, "store.update")
	if err != nil {
		return result, err
	}
	if len(p.set) == 0 {
		s.logger.Warn().Str("table", table).Msg("nothing to update: dataset has only key columns")
		return result, nil
	}

	d := s.adapter.Dialect()
	now := s.now()

	for _, b := range batches(ds.Len(), s.config.BatchSize) {
		if err := ctx.Err(); err != nil {
			return result, syncerr.Wrap(syncerr.KindTransient, "store.update", err)
		}

		var updated, missed []int
		err := s.withTx(ctx, "store.update", func(tx adapters.Tx) error {
			for i := b[0]; i < b[1]; i++ {
				query, args := p.statement(d, table, ds.Rows[i], now)
				n, err := tx.Exec(ctx, query, args...)
				if err != nil {
					return fmt.Errorf("row %d: %w", i, err)
				}
				if n == 0 {
					missed = append(missed, i)
					continue
				}
				updated = append(updated, i)
			}
			return nil
		})
		if err != nil {
			s.logger.Error().Err(err).Str("table", table).Int("batch_start", b[0]).Msg("update batch failed")
			result.Failed += b[1] - b[0]
			result.addError(err)
			for i := b[0]; i < b[1]; i++ {
				s.toDLQ(table, OpUpdate, ds.Record(i), err)
			}
			continue
		}

		result.Updated += len(updated)
		result.Failed += len(missed)
		for _, i := range missed {
			missErr := syncerr.New(syncerr.KindProcessing, "store.update", "no row matched key")
			result.addError(missErr)
			s.toDLQ(table, OpUpdate, ds.Record(i), missErr)
		}
	}

	s.logger.Info().Str("table", table).Int("updated", result.Updated).
		Int("failed", result.Failed).Int("total", result.Total).Msg("update completed")
	return result, nil
}

// Upsert для каждой строки проверяет наличие записи по ключу
// и выполняет UPDATE или INSERT.
// Пакет выполняется в одной транзакции; при ошибке пакет повторяется
// построчно.
func (s *Store) Upsert(ctx context.Context, ds *dataset.Dataset, table string, keys []string) (WriteResult, error) {
	result := WriteResult{Total: ds.Len()}
	if len(keys) == 0 {
		return result, syncerr.Configf("store.upsert", "key columns are required for upsert of %s", table)
	}
	if ds.IsEmpty() {
		return result, nil
	}

	tbl, err := s.EnsureTable(ctx, ds, table)
	if err != nil {
		return result, err
	}
	p, err := s.planUpdate(ds, tbl, keys, "store.upsert")
	if err != nil {
		return result, err
	}
	ins := stamp(plan(ds, tbl), ds, tbl, schema.InsertTimeColumn, schema.UpdateTimeColumn)
	insertSQL := adapters.BuildInsert(s.adapter.Dialect(), table, columnNames(ins))
	now := s.now()

	upsertRow := func(ctx context.Context, tx adapters.Tx, row []any) (inserted bool, err error) {
		exists, err := s.rowExists(ctx, tx, table, p.keys, row, now)
		if err != nil {
			return false, err
		}
		if exists {
			if len(p.set) == 0 {
				return false, nil
			}
			query, args := p.statement(s.adapter.Dialect(), table, row, now)
			_, err := tx.Exec(ctx, query, args...)
			return false, err
		}
		_, err = tx.Exec(ctx, insertSQL, rowArgs(ins, row, now)...)
		return true, err
	}

	for _, b := range batches(ds.Len(), s.config.BatchSize) {
		if err := ctx.Err(); err != nil {
			return result, syncerr.Wrap(syncerr.KindTransient, "store.upsert", err)
		}

		var batch WriteResult
		err := s.withTx(ctx, "store.upsert", func(tx adapters.Tx) error {
			batch = WriteResult{}
			for i := b[0]; i < b[1]; i++ {
				inserted, err := upsertRow(ctx, tx, ds.Rows[i])
				if err != nil {
					return fmt.Errorf("row %d: %w", i, err)
				}
				if inserted {
					batch.Inserted++
				} else {
					batch.Updated++
				}
			}
			return nil
		})
		if err == nil {
			result.Inserted += batch.Inserted
			result.Updated += batch.Updated
			continue
		}

		s.logger.Debug().Err(err).Str("table", table).Int("batch_start", b[0]).
			Msg("upsert batch failed, retrying row by row")
		for i := b[0]; i < b[1]; i++ {
			var inserted bool
			err := s.withTx(ctx, "store.upsert_row", func(tx adapters.Tx) error {
				var err error
				inserted, err = upsertRow(ctx, tx, ds.Rows[i])
				return err
			})
			switch {
			case err != nil:
				result.Failed++
				result.addError(err)
				s.toDLQ(table, OpUpsert, ds.Record(i), err)
			case inserted:
				result.Inserted++
			default:
				result.Updated++
			}
		}
	}

	s.logger.Info().Str("table", table).Int("inserted", result.Inserted).Int("updated", result.Updated).
		Int("failed", result.Failed).Int("total", result.Total).Msg("upsert completed")
	return result, nil
}

func (s *Store) rowExists(ctx context.Context, q adapters.Querier, table string, keys []writeColumn,
	row []any, now time.Time) (bool, error) {
	query, args := adapters.BuildExists(s.adapter.Dialect(), table, columnNames(keys), rowArgs(keys, row, now))
	found, err := q.Query(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return !found.IsEmpty(), nil
}

// Delete удаляет строки по условиям. Значение-срез превращается в IN (...).
// Пустые условия (nil, "", пустой срез) отбрасываются; если не осталось
// ни одного, возвращается ошибка конфигурации до выполнения запроса.
func (s *Store) Delete(ctx context.Context, table string, conditions map[string]any) (int64, error) {
	if err := schema.ValidateIdentifier(table); err != nil {
		return 0, syncerr.Wrap(syncerr.KindConfiguration, "store.delete", err)
	}

	var conds []adapters.Condition
	for _, c := range adapters.ConditionsFromMap(conditions) {
		if isEmptyCondition(c) {
			continue
		}
		conds = append(conds, c)
	}
	if len(conds) == 0 {
		return 0, syncerr.Configf("store.delete", "delete from %s requires at least one non-empty condition", table)
	}

	query, args, err := adapters.BuildDelete(s.adapter.Dialect(), table, conds)
	if err != nil {
		return 0, syncerr.Wrap(syncerr.KindConfiguration, "store.delete", err)
	}

	var deleted int64
	err = s.withTx(ctx, "store.delete", func(tx adapters.Tx) error {
		n, err := tx.Exec(ctx, query, args...)
		deleted = n
		return err
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info().Str("table", table).Int64("deleted", deleted).Msg("delete completed")
	return deleted, nil
}

func isEmptyCondition(c adapters.Condition) bool {
	for _, v := range c.Values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		return false
	}
	return true
}

func indexFold(ds *dataset.Dataset, name string) int {
	for i, c := range ds.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}
