package store

import (
	"context"
	"strings"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// EnsureTable гарантирует, что таблица существует и содержит колонки набора.
//
// Отсутствующая таблица создается (если разрешено AutoCreateTable) с
// автоинкрементным id, колонками набора и insert_time/update_time.
// В существующую таблицу добавляются новые колонки (если разрешено
// AutoAddColumns). Возвращает актуальную структуру таблицы.
func (s *Store) EnsureTable(ctx context.Context, ds *dataset.Dataset, table string) (schema.Table, error) {
	if err := schema.ValidateIdentifier(table); err != nil {
		return schema.Table{}, syncerr.Wrap(syncerr.KindConfiguration, "store.ensure_table", err)
	}

	// решение о создании принимается только по свежей структуре
	tbl, err := s.catalog.Refresh(ctx, table)
	switch {
	case err == nil:
		return s.addMissingColumns(ctx, ds, tbl)
	case !syncerr.IsNotFound(err):
		return schema.Table{}, err
	case !s.config.AutoCreateTable:
		return schema.Table{}, syncerr.Wrapf(syncerr.KindNotFound, "store.ensure_table", err,
			"table %s does not exist and auto_create_table is disabled", table)
	}

	return s.createTable(ctx, ds, table)
}

// NewTableSchema описывает таблицу, которую EnsureTable создаст для набора
func (s *Store) NewTableSchema(ds *dataset.Dataset, table string) schema.Table {
	b := schema.NewBuilder(table)
	if !ds.HasColumn(schema.IdentityColumn) {
		b.AddIdentity(schema.IdentityColumn)
	}
	for i, c := range ds.Columns {
		if strings.EqualFold(c.Name, schema.InsertTimeColumn) || strings.EqualFold(c.Name, schema.UpdateTimeColumn) {
			continue
		}
		b.AddColumn(c.Name, ds.InferColumnType(i))
	}
	b.AddAuditColumns()
	if keys := s.catalog.KeyColumns(table); len(keys) > 0 && hasAllColumns(ds, keys) {
		b.AddUnique(keys...)
	}
	return b.Build()
}

func (s *Store) createTable(ctx context.Context, ds *dataset.Dataset, table string) (schema.Table, error) {
	def := s.NewTableSchema(ds, table)
	if err := schema.ValidateTable(def); err != nil {
		return schema.Table{}, syncerr.Wrap(syncerr.KindConfiguration, "store.create_table", err)
	}

	query := adapters.BuildCreateTable(s.adapter.Dialect(), def)
	s.logger.Info().Str("table", table).Int("columns", len(def.Columns)).Msg("creating table")
	s.logger.Debug().Str("sql", query).Msg("create table statement")

	_, execErr := s.adapter.Exec(ctx, query)
	s.catalog.Invalidate(table)

	tbl, err := s.catalog.Refresh(ctx, table)
	if err != nil {
		if execErr != nil {
			return schema.Table{}, syncerr.Classify(s.adapter, "store.create_table", execErr)
		}
		return schema.Table{}, err
	}
	if execErr != nil {
		// таблицу успел создать кто-то другой
		s.logger.Warn().Err(execErr).Str("table", table).Msg("create table failed, table exists")
		return s.addMissingColumns(ctx, ds, tbl)
	}
	return tbl, nil
}

func (s *Store) addMissingColumns(ctx context.Context, ds *dataset.Dataset, tbl schema.Table) (schema.Table, error) {
	missing := tbl.MissingColumns(ds.ColumnNames())
	if len(missing) == 0 {
		return tbl, nil
	}

	if !s.config.AutoAddColumns {
		s.logger.Warn().Str("table", tbl.Name).Strs("columns", missing).
			Msg("columns missing in table are not written: auto_add_columns is disabled")
		return tbl, nil
	}

	d := s.adapter.Dialect()
	for _, name := range missing {
		if err := schema.ValidateIdentifier(name); err != nil {
			return schema.Table{}, syncerr.Wrap(syncerr.KindConfiguration, "store.add_column", err)
		}
		col := schema.Column{Name: name, Type: ds.InferColumnType(ds.Index(name)), Nullable: true}
		s.logger.Info().Str("table", tbl.Name).Str("column", name).Str("type", col.Type.String()).
			Msg("adding column")
		if _, err := s.adapter.Exec(ctx, d.AddColumnSQL(tbl.Name, col)); err != nil {
			s.catalog.Invalidate(tbl.Name)
			return schema.Table{}, syncerr.Classify(s.adapter, "store.add_column", err)
		}
	}

	s.catalog.Invalidate(tbl.Name)
	return s.catalog.Refresh(ctx, tbl.Name)
}

func hasAllColumns(ds *dataset.Dataset, names []string) bool {
	for _, n := range names {
		if !hasColumnFold(ds, n) {
			return false
		}
	}
	return true
}
