package mssql

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/johndauphine/mssql-pg-geocopy/internal/driver"
)

// Dialect implements driver.Dialect for SQL Server.
type Dialect struct{}

func (d *Dialect) DBType() string { return "mssql" }

func (d *Dialect) SQLDriverName() string { return "sqlserver" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d *Dialect) QualifyTable(schema, table string) string {
	if schema == "" {
		return d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

func (d *Dialect) BuildDSN(host string, port int, database, user, password string, opts map[string]any) string {
	query := url.Values{}
	query.Set("database", database)
	query.Set("app name", "geocopy")

	if encrypt, ok := opts["encrypt"].(bool); ok {
		query.Set("encrypt", strconv.FormatBool(encrypt))
	}
	if trust, ok := opts["trustServerCertificate"].(bool); ok && trust {
		query.Set("TrustServerCertificate", "true")
	}
	if timeout, ok := opts["connectTimeout"].(time.Duration); ok && timeout > 0 {
		query.Set("connection timeout", strconv.Itoa(int(timeout.Seconds())))
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(user, password),
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		RawQuery: query.Encode(),
	}
	return u.String()
}

func (d *Dialect) ColumnsQuery(schema, table string) (string, []any) {
	query := `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			'' AS COLUMN_TYPE,
			ISNULL(CHARACTER_MAXIMUM_LENGTH, 0),
			ISNULL(CAST(NUMERIC_PRECISION AS INT), 0),
			ISNULL(NUMERIC_SCALE, 0),
			ISNULL(COLLATION_NAME, '')
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @schema AND TABLE_NAME = @table
		ORDER BY ORDINAL_POSITION
	`
	return query, []any{sql.Named("schema", schema), sql.Named("table", table)}
}

// FormatNativeType renders e.g. "nvarchar(50) COLLATE SQL_Latin1_General_CP1_CI_AS".
func (d *Dialect) FormatNativeType(col driver.CatalogColumn) string {
	dataType := strings.ToLower(col.DataType)
	native := dataType

	switch dataType {
	case "char", "varchar", "nchar", "nvarchar", "binary", "varbinary":
		if col.MaxLength == -1 {
			native += "(max)"
		} else if col.MaxLength > 0 {
			native += fmt.Sprintf("(%d)", col.MaxLength)
		}
	case "decimal", "numeric":
		if col.Precision > 0 {
			native += fmt.Sprintf("(%d,%d)", col.Precision, col.Scale)
		}
	}

	if col.Collation != "" {
		native += " COLLATE " + col.Collation
	}
	return native
}

func (d *Dialect) SpatialProjection(column string) string {
	q := d.QuoteIdentifier(column)
	return fmt.Sprintf("%s.STAsText() AS %s", q, q)
}

func (d *Dialect) SRIDQuery(schema, table, column string) string {
	q := d.QuoteIdentifier(column)
	return fmt.Sprintf("SELECT TOP (1) %s.STSrid FROM %s WHERE %s IS NOT NULL",
		q, d.QualifyTable(schema, table), q)
}

// NormalizeValue converts go-mssqldb scan results that PostgreSQL cannot bind
// directly: exact numerics arrive as []byte and uniqueidentifier as the
// mixed-endian 16-byte wire form.
func (d *Dialect) NormalizeValue(v any, dataType string) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}

	switch strings.ToLower(dataType) {
	case "decimal", "numeric", "money", "smallmoney":
		return string(b)
	case "uniqueidentifier":
		var u mssqldb.UniqueIdentifier
		if err := u.Scan(b); err != nil {
			return v
		}
		id, err := uuid.Parse(u.String())
		if err != nil {
			return v
		}
		return id.String()
	}
	return v
}

// DefaultTypeMappings returns the SQL Server → PostgreSQL type table. NULL is
// the sentinel reported for columns with no native spatial type.
func (d *Dialect) DefaultTypeMappings() map[string]string {
	return map[string]string{
		"NVARCHAR":         "VARCHAR",
		"VARCHAR":          "VARCHAR",
		"NCHAR":            "CHAR",
		"CHAR":             "CHAR",
		"NTEXT":            "TEXT",
		"TEXT":             "TEXT",
		"DATETIME":         "TIMESTAMP",
		"DATETIME2":        "TIMESTAMP",
		"SMALLDATETIME":    "TIMESTAMP",
		"DATETIMEOFFSET":   "TIMESTAMPTZ",
		"DATE":             "DATE",
		"TIME":             "TIME",
		"BIT":              "BOOLEAN",
		"TINYINT":          "SMALLINT",
		"SMALLINT":         "SMALLINT",
		"INT":              "INTEGER",
		"BIGINT":           "BIGINT",
		"DECIMAL":          "NUMERIC",
		"NUMERIC":          "NUMERIC",
		"MONEY":            "NUMERIC(19,4)",
		"SMALLMONEY":       "NUMERIC(10,4)",
		"FLOAT":            "DOUBLE PRECISION",
		"REAL":             "REAL",
		"UNIQUEIDENTIFIER": "UUID",
		"VARBINARY":        "BYTEA",
		"BINARY":           "BYTEA",
		"IMAGE":            "BYTEA",
		"XML":              "XML",
		"NULL":             "GEOMETRY",
		"GEOMETRY":         "GEOMETRY",
		"GEOGRAPHY":        "GEOGRAPHY",
	}
}
