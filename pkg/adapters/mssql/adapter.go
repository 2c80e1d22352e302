package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	mssql "github.com/denisenkom/go-mssqldb" // MS SQL Server driver

	"github.com/ruslano69/datasync/pkg/adapters"
	"github.com/ruslano69/datasync/pkg/adapters/base"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// AdapterType is the factory key of the MS SQL Server adapter.
const AdapterType = "mssql"

// Compile-time check
var _ adapters.Adapter = (*Adapter)(nil)

// Adapter implements the adapters.Adapter interface for Microsoft SQL Server.
type Adapter struct {
	base.DB
	schema string

	// Version information
	serverVersion    int    // Major version: 11=2012, 13=2016, 14=2017, 15=2019, 16=2022
	serverVersionStr string // Full version string
}

func init() {
	// Register MS SQL Server adapter in factory
	adapters.Register(AdapterType, func() adapters.Adapter {
		return &Adapter{}
	})
}

// Connect implements adapters.Adapter interface.
// URL-style DSNs (sqlserver://) use the "sqlserver" driver, ADO-style ones the legacy "mssql" driver.
func (a *Adapter) Connect(ctx context.Context, cfg adapters.Config) error {
	driverName := "mssql"
	if strings.HasPrefix(cfg.DSN, "sqlserver://") {
		driverName = "sqlserver"
	}

	db, err := base.Open(ctx, driverName, cfg)
	if err != nil {
		return err
	}

	a.SQL = db
	a.schema = cfg.Schema
	if a.schema == "" {
		a.schema = "dbo"
	}
	a.SQLDialect = NewDialect(a.schema)

	if err := a.detectVersion(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to detect server version: %w", err)
	}

	return nil
}

// detectVersion reads the server product version.
func (a *Adapter) detectVersion(ctx context.Context) error {
	var version string
	err := a.SQL.QueryRowContext(ctx, "SELECT CAST(SERVERPROPERTY('ProductVersion') AS NVARCHAR(128))").Scan(&version)
	if err != nil {
		return err
	}
	a.serverVersionStr = version
	a.serverVersion = parseServerVersion(version)
	return nil
}

// parseServerVersion parses SQL Server version string to major version number.
// Examples:
//   - "11.0.2100.60" → 11 (SQL Server 2012)
//   - "15.0.2000.5"  → 15 (SQL Server 2019)
func parseServerVersion(version string) int {
	parts := strings.Split(version, ".")
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	return major
}

// Close implements adapters.Adapter interface.
func (a *Adapter) Close(ctx context.Context) error {
	return a.DB.Close()
}

// GetDatabaseType implements adapters.Adapter interface.
func (a *Adapter) GetDatabaseType() string {
	return AdapterType
}

// Dialect returns the T-SQL dialect.
func (a *Adapter) Dialect() adapters.Dialect {
	if a.SQLDialect == nil {
		return NewDialect(a.schemaName())
	}
	return a.SQLDialect
}

// GetDatabaseVersion returns the server product version.
func (a *Adapter) GetDatabaseVersion(ctx context.Context) (string, error) {
	if a.serverVersionStr == "" {
		if err := a.detectVersion(ctx); err != nil {
			return "", fmt.Errorf("failed to get version: %w", err)
		}
	}
	return fmt.Sprintf("SQL Server %s (major %d)", a.serverVersionStr, a.serverVersion), nil
}

func (a *Adapter) schemaName() string {
	if a.schema == "" {
		return "dbo"
	}
	return a.schema
}

// GetTableNames returns all table names in the current schema.
func (a *Adapter) GetTableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1
		  AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`

	rows, err := a.SQL.QueryContext(ctx, query, a.schemaName())
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, table)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}

	return tables, nil
}

// TableExists checks if a table exists in the current schema.
func (a *Adapter) TableExists(ctx context.Context, tableName string) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1
		  AND TABLE_NAME = @p2
		  AND TABLE_TYPE = 'BASE TABLE'
	`

	var count int
	err := a.SQL.QueryRowContext(ctx, query, a.schemaName(), tableName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}

	return count > 0, nil
}

// GetTableSchema reads column metadata from INFORMATION_SCHEMA with PK and identity flags.
func (a *Adapter) GetTableSchema(ctx context.Context, tableName string) (schema.Table, error) {
	query := `
		SELECT
			c.COLUMN_NAME,
			c.DATA_TYPE,
			c.CHARACTER_MAXIMUM_LENGTH,
			c.NUMERIC_PRECISION,
			c.NUMERIC_SCALE,
			c.IS_NULLABLE,
			CASE
				WHEN pk.COLUMN_NAME IS NOT NULL THEN 1
				ELSE 0
			END AS IS_PRIMARY_KEY,
			COLUMNPROPERTY(OBJECT_ID(c.TABLE_SCHEMA + '.' + c.TABLE_NAME), c.COLUMN_NAME, 'IsIdentity') AS IS_IDENTITY
		FROM INFORMATION_SCHEMA.COLUMNS c
		LEFT JOIN (
			SELECT ku.TABLE_SCHEMA, ku.TABLE_NAME, ku.COLUMN_NAME
			FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
			INNER JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
				ON tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
				AND tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME
				AND tc.TABLE_SCHEMA = ku.TABLE_SCHEMA
				AND tc.TABLE_NAME = ku.TABLE_NAME
		) pk ON c.TABLE_SCHEMA = pk.TABLE_SCHEMA
			AND c.TABLE_NAME = pk.TABLE_NAME
			AND c.COLUMN_NAME = pk.COLUMN_NAME
		WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
		ORDER BY c.ORDINAL_POSITION
	`

	rows, err := a.SQL.QueryContext(ctx, query, a.schemaName(), tableName)
	if err != nil {
		return schema.Table{}, fmt.Errorf("failed to query table schema: %w", err)
	}
	defer rows.Close()

	t := schema.Table{Name: tableName}
	for rows.Next() {
		var (
			columnName   string
			dataType     string
			length       sql.NullInt64
			precision    sql.NullInt64
			scale        sql.NullInt64
			isNullable   string
			isPrimaryKey int
			isIdentity   sql.NullInt64
		)

		err := rows.Scan(&columnName, &dataType, &length, &precision, &scale,
			&isNullable, &isPrimaryKey, &isIdentity)
		if err != nil {
			return schema.Table{}, fmt.Errorf("failed to scan column info: %w", err)
		}

		t.Columns = append(t.Columns, schema.Column{
			Name:          columnName,
			Type:          buildColumnType(dataType, length, precision, scale),
			Nullable:      isNullable == "YES",
			PrimaryKey:    isPrimaryKey == 1,
			AutoIncrement: isIdentity.Valid && isIdentity.Int64 == 1,
		})
	}

	if err := rows.Err(); err != nil {
		return schema.Table{}, fmt.Errorf("error iterating rows: %w", err)
	}

	if len(t.Columns) == 0 {
		return schema.Table{}, syncerr.NotFoundf("mssql.table_schema", "table %s.%s not found", a.schemaName(), tableName)
	}

	return t, nil
}

// ClassifyError maps SQL Server error numbers to error kinds.
func (a *Adapter) ClassifyError(err error) syncerr.Kind {
	return classifyError(err)
}

func classifyError(err error) syncerr.Kind {
	if err == nil {
		return syncerr.KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return syncerr.KindTransient
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return kindOfNumber(msErr.Number)
	}
	var msErrPtr *mssql.Error
	if errors.As(err, &msErrPtr) {
		return kindOfNumber(msErrPtr.Number)
	}
	return syncerr.KindUnknown
}

func kindOfNumber(n int32) syncerr.Kind {
	switch n {
	case 2627, 2601:
		return syncerr.KindConflict
	case 208:
		return syncerr.KindNotFound
	case 1205, -2:
		return syncerr.KindTransient
	}
	return syncerr.KindDatabase
}
