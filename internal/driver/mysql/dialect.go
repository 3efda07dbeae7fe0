package mysql

import (
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/johndauphine/mssql-pg-geocopy/internal/driver"
)

// Dialect implements driver.Dialect for MySQL/MariaDB.
type Dialect struct {
	// longLatOption is set for MySQL 8.0.12+, whose ST_AsText writes
	// geographic SRSs (e.g. 4326) in lat-long order unless told otherwise.
	longLatOption bool
}

func (d *Dialect) DBType() string { return "mysql" }

func (d *Dialect) SQLDriverName() string { return "mysql" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *Dialect) QualifyTable(schema, table string) string {
	// MySQL uses database.table, but schema is often empty (database is in DSN)
	if schema == "" {
		return d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

func (d *Dialect) BuildDSN(host string, port int, database, user, password string, opts map[string]any) string {
	// MySQL DSN format: user:password@tcp(host:port)/database?params
	encodedUser := url.QueryEscape(user)
	encodedPassword := url.QueryEscape(password)

	params := url.Values{}
	params.Set("parseTime", "true")
	params.Set("loc", "UTC")

	// Handle SSL/TLS mode
	if sslMode, ok := opts["ssl_mode"].(string); ok && sslMode != "" {
		switch strings.ToLower(sslMode) {
		case "disable", "disabled", "false":
			params.Set("tls", "false")
		case "require", "required", "true", "verify-full", "verify_full":
			params.Set("tls", "true")
		case "verify-ca", "verify_ca":
			params.Set("tls", "skip-verify")
		default:
			params.Set("tls", "preferred")
		}
	} else {
		params.Set("tls", "preferred")
	}

	if charset, ok := opts["charset"].(string); ok && charset != "" {
		params.Set("charset", charset)
	} else {
		params.Set("charset", "utf8mb4")
	}

	if timeout, ok := opts["connectTimeout"].(time.Duration); ok && timeout > 0 {
		params.Set("timeout", timeout.String())
	}

	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		encodedUser, encodedPassword, host, port, database, params.Encode())
}

func (d *Dialect) ColumnsQuery(schema, table string) (string, []any) {
	query := `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			COLUMN_TYPE,
			COALESCE(CHARACTER_MAXIMUM_LENGTH, 0),
			COALESCE(NUMERIC_PRECISION, 0),
			COALESCE(NUMERIC_SCALE, 0),
			COALESCE(COLLATION_NAME, '')
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	return query, []any{schema, table}
}

// FormatNativeType uses COLUMN_TYPE, which already carries length, precision
// and unsigned modifiers.
func (d *Dialect) FormatNativeType(col driver.CatalogColumn) string {
	native := col.ColumnType
	if native == "" {
		native = strings.ToLower(col.DataType)
	}
	if col.Collation != "" {
		native += " COLLATE " + col.Collation
	}
	return native
}

func (d *Dialect) SpatialProjection(column string) string {
	q := d.QuoteIdentifier(column)
	if d.longLatOption {
		return fmt.Sprintf("ST_AsText(%s, 'axis-order=long-lat') AS %s", q, q)
	}
	return fmt.Sprintf("ST_AsText(%s) AS %s", q, q)
}

func (d *Dialect) VersionQuery() string { return "SELECT VERSION()" }

// SetServerVersion enables the axis-order option on MySQL 8.0.12 and later.
// MariaDB and MySQL 5.7 always write x-y order and reject the option.
func (d *Dialect) SetServerVersion(version string) {
	d.longLatOption = supportsAxisOrder(version)
}

func supportsAxisOrder(version string) bool {
	if strings.Contains(strings.ToLower(version), "mariadb") {
		return false
	}
	core := version
	if i := strings.IndexAny(core, "-+ "); i >= 0 {
		core = core[:i]
	}
	parts := strings.SplitN(core, ".", 3)
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return false
		}
		nums[i] = n
	}
	switch {
	case nums[0] != 8:
		return nums[0] > 8
	case nums[1] != 0:
		return nums[1] > 0
	default:
		return nums[2] >= 12
	}
}

func (d *Dialect) SRIDQuery(schema, table, column string) string {
	q := d.QuoteIdentifier(column)
	return fmt.Sprintf("SELECT ST_SRID(%s) FROM %s WHERE %s IS NOT NULL LIMIT 1",
		q, d.QualifyTable(schema, table), q)
}

// NormalizeValue converts text-protocol []byte results into typed values.
// Binary and spatial columns keep their bytes.
func (d *Dialect) NormalizeValue(v any, dataType string) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}

	switch strings.ToLower(dataType) {
	case "binary", "varbinary", "blob", "tinyblob", "mediumblob", "longblob":
		return v
	case "bit":
		padded := make([]byte, 8)
		copy(padded[8-len(b):], b)
		return int64(binary.BigEndian.Uint64(padded))
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint", "year":
		if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n
		}
	case "float", "double", "real":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
	}
	return string(b)
}

// DefaultTypeMappings returns the MySQL → PostgreSQL type table. Every
// spatial type maps to GEOMETRY.
func (d *Dialect) DefaultTypeMappings() map[string]string {
	return map[string]string{
		"VARCHAR":            "VARCHAR",
		"CHAR":               "CHAR",
		"TINYTEXT":           "TEXT",
		"TEXT":               "TEXT",
		"MEDIUMTEXT":         "TEXT",
		"LONGTEXT":           "TEXT",
		"DATETIME":           "TIMESTAMP",
		"TIMESTAMP":          "TIMESTAMPTZ",
		"DATE":               "DATE",
		"TIME":               "TIME",
		"YEAR":               "SMALLINT",
		"TINYINT(1)":         "BOOLEAN",
		"TINYINT":            "SMALLINT",
		"SMALLINT":           "SMALLINT",
		"MEDIUMINT":          "INTEGER",
		"INT":                "INTEGER",
		"BIGINT":             "BIGINT",
		"BIT":                "BIGINT",
		"DECIMAL":            "NUMERIC",
		"FLOAT":              "REAL",
		"DOUBLE":             "DOUBLE PRECISION",
		"BINARY":             "BYTEA",
		"VARBINARY":          "BYTEA",
		"BLOB":               "BYTEA",
		"MEDIUMBLOB":         "BYTEA",
		"LONGBLOB":           "BYTEA",
		"JSON":               "JSONB",
		"GEOMETRY":           "GEOMETRY",
		"POINT":              "GEOMETRY",
		"LINESTRING":         "GEOMETRY",
		"POLYGON":            "GEOMETRY",
		"MULTIPOINT":         "GEOMETRY",
		"MULTILINESTRING":    "GEOMETRY",
		"MULTIPOLYGON":       "GEOMETRY",
		"GEOMETRYCOLLECTION": "GEOMETRY",
	}
}
