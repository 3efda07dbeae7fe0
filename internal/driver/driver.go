// Package driver provides pluggable source database abstractions.
// Each source engine (SQL Server, MySQL) implements the Driver interface and
// supplies a Dialect with the engine-specific SQL the transfer pipeline needs:
// catalog introspection, WKT projection of spatial columns and the SRID lookup.
package driver

// DriverDefaults contains default values for a database driver.
// Used by config.applyDefaults() to set sensible defaults for each database type.
type DriverDefaults struct {
	// Port is the default port (e.g., 1433 for MSSQL).
	Port int

	// Schema is the default schema (e.g., "dbo" for MSSQL).
	Schema string

	// Encrypt is the default encryption setting for MSSQL-style connections.
	Encrypt bool
}

// Driver represents a pluggable source database driver.
//
// To add a new source engine:
// 1. Create a package under internal/driver/<dbname>/
// 2. Implement the Driver interface
// 3. Register via init(): driver.Register(&MyDriver{})
type Driver interface {
	// Name returns the primary driver name (e.g., "mssql", "mysql").
	Name() string

	// Aliases returns alternative names for this driver.
	Aliases() []string

	// Defaults returns the default configuration values for this driver.
	Defaults() DriverDefaults

	// Dialect returns the SQL dialect for this database.
	Dialect() Dialect
}

// Dialect is the source-engine strategy used by introspection, the SRID
// lookup and the source SELECT.
type Dialect interface {
	// DBType returns the engine name ("mssql", "mysql").
	DBType() string

	// SQLDriverName returns the database/sql driver name to open.
	SQLDriverName() string

	QuoteIdentifier(name string) string
	QualifyTable(schema, table string) string
	BuildDSN(host string, port int, database, user, password string, opts map[string]any) string

	// ColumnsQuery returns the catalog query and its arguments. The query
	// yields, in ordinal order: name, data_type, column_type, max_length,
	// precision, scale, collation.
	ColumnsQuery(schema, table string) (string, []any)

	// FormatNativeType renders the native type string of a catalog row.
	FormatNativeType(col CatalogColumn) string

	// SpatialProjection returns the select-list item converting a spatial
	// column to WKT under its own name.
	SpatialProjection(column string) string

	// SRIDQuery returns a single-row query selecting the SRID of a spatial column.
	SRIDQuery(schema, table, column string) string

	// NormalizeValue converts a driver-scanned value into a value the
	// destination driver can bind.
	NormalizeValue(v any, dataType string) any

	// DefaultTypeMappings returns the built-in native → PostgreSQL type table.
	DefaultTypeMappings() map[string]string
}

// ServerVersionAware is implemented by dialects whose SQL depends on the
// server version. The source pool queries the version once after connecting.
type ServerVersionAware interface {
	VersionQuery() string
	SetServerVersion(version string)
}
