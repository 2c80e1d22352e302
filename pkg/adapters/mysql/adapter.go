package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/adapters/base"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// AdapterType идентификатор MySQL адаптера
const AdapterType = "mysql"

// Compile-time check
var _ adapters.Adapter = (*Adapter)(nil)

// Adapter реализует adapters.Adapter для MySQL
type Adapter struct {
	base.DB
	config adapters.Config
}

func init() {
	// Регистрируем MySQL адаптер в фабрике
	adapters.Register(AdapterType, func() adapters.Adapter {
		return &Adapter{}
	})
}

// Connect подключается к MySQL базе данных.
// parseTime=true добавляется в DSN, если не задан, чтобы DATETIME читался как time.Time.
// clientFoundRows=true - UPDATE без изменений значений возвращает число найденных строк.
func (a *Adapter) Connect(ctx context.Context, cfg adapters.Config) error {
	cfg.DSN = withParam(cfg.DSN, "parseTime", "true")
	cfg.DSN = withParam(cfg.DSN, "clientFoundRows", "true")

	db, err := base.Open(ctx, "mysql", cfg)
	if err != nil {
		return err
	}

	a.SQL = db
	a.SQLDialect = NewDialect()
	a.config = cfg

	return nil
}

func withParam(dsn, name, value string) string {
	if strings.Contains(dsn, name+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + name + "=" + value
}

// Close закрывает соединение с базой данных
func (a *Adapter) Close(ctx context.Context) error {
	return a.DB.Close()
}

// GetDatabaseType возвращает тип БД
func (a *Adapter) GetDatabaseType() string {
	return AdapterType
}

// Dialect возвращает SQL-диалект MySQL
func (a *Adapter) Dialect() adapters.Dialect {
	if a.SQLDialect == nil {
		return NewDialect()
	}
	return a.SQLDialect
}

// GetDatabaseVersion возвращает версию MySQL
func (a *Adapter) GetDatabaseVersion(ctx context.Context) (string, error) {
	var version string
	err := a.SQL.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version)
	if err != nil {
		return "", fmt.Errorf("failed to get version: %w", err)
	}
	return "MySQL " + version, nil
}

// GetTableNames возвращает список таблиц текущей БД
func (a *Adapter) GetTableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`

	rows, err := a.SQL.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get table names: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}

	return tables, rows.Err()
}

// TableExists проверяет существование таблицы
func (a *Adapter) TableExists(ctx context.Context, tableName string) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_name = ?
	`

	var count int
	if err := a.SQL.QueryRowContext(ctx, query, tableName).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}
	return count > 0, nil
}

// GetTableSchema читает структуру таблицы из information_schema.columns
func (a *Adapter) GetTableSchema(ctx context.Context, tableName string) (schema.Table, error) {
	query := `
		SELECT column_name, column_type, is_nullable, column_key, extra, column_default
		FROM information_schema.columns
		WHERE table_schema = DATABASE()
		  AND table_name = ?
		ORDER BY ordinal_position
	`

	rows, err := a.SQL.QueryContext(ctx, query, tableName)
	if err != nil {
		return schema.Table{}, fmt.Errorf("failed to get table schema: %w", err)
	}
	defer rows.Close()

	t := schema.Table{Name: tableName}
	for rows.Next() {
		var (
			name, columnType, nullable, key, extra string
			dflt                                   *string
		)
		if err := rows.Scan(&name, &columnType, &nullable, &key, &extra, &dflt); err != nil {
			return schema.Table{}, fmt.Errorf("failed to scan column info: %w", err)
		}

		col := schema.Column{
			Name:          name,
			Type:          parseMySQLType(columnType),
			Nullable:      nullable == "YES",
			PrimaryKey:    key == "PRI",
			AutoIncrement: strings.Contains(extra, "auto_increment"),
		}
		if dflt != nil {
			col.Default = *dflt
		}
		t.Columns = append(t.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return schema.Table{}, fmt.Errorf("error iterating columns: %w", err)
	}

	if len(t.Columns) == 0 {
		return schema.Table{}, syncerr.NotFoundf("mysql.table_schema", "table %s not found", tableName)
	}
	return t, nil
}

// ClassifyError определяет категорию ошибки по номеру ошибки MySQL
func (a *Adapter) ClassifyError(err error) syncerr.Kind {
	return classifyError(err)
}

func classifyError(err error) syncerr.Kind {
	if err == nil {
		return syncerr.KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return syncerr.KindTransient
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return syncerr.KindConflict
		case 1146:
			return syncerr.KindNotFound
		case 1205, 1213:
			return syncerr.KindTransient
		}
		return syncerr.KindDatabase
	}
	return syncerr.KindUnknown
}
