package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/adapters/base"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// AdapterType - имя в фабрике и имя драйвера database/sql
const AdapterType = "sqlite"

var _ adapters.Adapter = (*Adapter)(nil)

func init() {
	adapters.Register(AdapterType, func() adapters.Adapter { return &Adapter{} })
}

// pragmas настраивают файл под пакетную запись. Для :memory: часть
// из них не применяется, ошибки игнорируются.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA temp_store = MEMORY",
}

// Adapter - SQLite через modernc.org/sqlite (без cgo)
type Adapter struct {
	base.DB
}

func (a *Adapter) Connect(ctx context.Context, cfg adapters.Config) error {
	// у каждого соединения с in-memory БД своя база
	if strings.Contains(cfg.DSN, ":memory:") || strings.Contains(cfg.DSN, "mode=memory") {
		cfg.MaxConns, cfg.MinConns = 1, 1
	}
	db, err := base.Open(ctx, AdapterType, cfg)
	if err != nil {
		return err
	}
	for _, p := range pragmas {
		_, _ = db.ExecContext(ctx, p)
	}
	a.SQL = db
	a.SQLDialect = NewDialect()
	return nil
}

func (a *Adapter) Close(context.Context) error { return a.DB.Close() }

func (a *Adapter) GetDatabaseType() string { return AdapterType }

func (a *Adapter) Dialect() adapters.Dialect {
	if a.SQLDialect == nil {
		return NewDialect()
	}
	return a.SQLDialect
}

func (a *Adapter) GetDatabaseVersion(ctx context.Context) (string, error) {
	var v string
	if err := a.SQL.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&v); err != nil {
		return "", err
	}
	return "SQLite " + v, nil
}

func (a *Adapter) TableExists(ctx context.Context, tableName string) (bool, error) {
	var exists bool
	err := a.SQL.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)`,
		tableName).Scan(&exists)
	return exists, err
}

// GetTableNames не включает служебные sqlite_*
func (a *Adapter) GetTableNames(ctx context.Context) ([]string, error) {
	rows, err := a.SQL.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// GetTableSchema читает PRAGMA table_info. Пустой ответ - таблицы нет.
func (a *Adapter) GetTableSchema(ctx context.Context, tableName string) (schema.Table, error) {
	rows, err := a.SQL.QueryContext(ctx, "PRAGMA table_info("+a.Dialect().QuoteIdentifier(tableName)+")")
	if err != nil {
		return schema.Table{}, err
	}
	defer rows.Close()

	t := schema.Table{Name: tableName}
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, declType   string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dflt, &pk); err != nil {
			return schema.Table{}, err
		}
		t.Columns = append(t.Columns, schema.Column{
			Name:       name,
			Type:       schema.ParseColumnType(declType),
			Nullable:   notNull == 0 && pk == 0,
			PrimaryKey: pk > 0,
			Default:    dflt.String,
			// INTEGER PRIMARY KEY - алиас rowid
			AutoIncrement: pk > 0 && strings.EqualFold(declType, "INTEGER"),
		})
	}
	if err := rows.Err(); err != nil {
		return schema.Table{}, err
	}
	if len(t.Columns) == 0 {
		return schema.Table{}, syncerr.NotFoundf("sqlite.table_schema", "table %s not found", tableName)
	}
	return t, nil
}

func (a *Adapter) ClassifyError(err error) syncerr.Kind {
	return classifyError(err)
}

// classifyError: у отсутствующей таблицы нет своего кода (только
// SQLITE_ERROR), поэтому она узнается по тексту
func classifyError(err error) syncerr.Kind {
	if err == nil {
		return syncerr.KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return syncerr.KindTransient
	}
	noSuchTable := strings.Contains(err.Error(), "no such table")

	var se *sqlite.Error
	if !errors.As(err, &se) {
		if noSuchTable {
			return syncerr.KindNotFound
		}
		return syncerr.KindUnknown
	}

	code := se.Code()
	switch {
	case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return syncerr.KindConflict
	case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
		return syncerr.KindTransient
	case code == sqlite3.SQLITE_ERROR && noSuchTable:
		return syncerr.KindNotFound
	default:
		return syncerr.KindDatabase
	}
}
