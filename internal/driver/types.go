package driver

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// CatalogColumn is one row of a source catalog column query.
type CatalogColumn struct {
	Name       string
	DataType   string // catalog base type, e.g. "nvarchar"
	ColumnType string // full declared type when the engine reports one (MySQL COLUMN_TYPE)
	MaxLength  int64  // -1 means MAX on SQL Server
	Precision  int
	Scale      int
	Collation  string
}

// SourceColumn is an introspected source column: its name and the native
// type string exactly as built from the catalog (including any COLLATE suffix).
type SourceColumn struct {
	Name       string
	NativeType string
	DataType   string
	Ordinal    int
}

// ColumnDescriptor describes one column of a transfer. It is built once from
// introspection, type mapping and the SRID lookup and is not modified after.
type ColumnDescriptor struct {
	Name       string `json:"name"`
	SourceType string `json:"source_type"`
	MappedType string `json:"mapped_type"`
	DataType   string `json:"data_type"`
	Spatial    bool   `json:"spatial"`
	SRID       *int   `json:"srid,omitempty"` // only ever set on spatial columns
}

// Validate checks the SRID invariant.
func (c ColumnDescriptor) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("column descriptor has no name")
	}
	if c.SRID != nil && !c.Spatial {
		return fmt.Errorf("column %s: SRID set on non-spatial type %s", c.Name, c.MappedType)
	}
	return nil
}

// SRIDString renders the SRID for logs.
func (c ColumnDescriptor) SRIDString() string {
	if c.SRID == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *c.SRID)
}

// TableSnapshot is the ordered column list of one source table.
type TableSnapshot struct {
	Schema  string
	Table   string
	Columns []ColumnDescriptor
}

// FullName returns the fully qualified table name (schema.table).
func (t *TableSnapshot) FullName() string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// ColumnNames returns the column names in declared order.
func (t *TableSnapshot) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// SpatialColumns returns the spatial columns in declared order.
func (t *TableSnapshot) SpatialColumns() []ColumnDescriptor {
	var out []ColumnDescriptor
	for _, col := range t.Columns {
		if col.Spatial {
			out = append(out, col)
		}
	}
	return out
}

// IndexSpecs returns one SpatialIndexSpec per spatial column, for the given
// destination schema and table.
func (t *TableSnapshot) IndexSpecs(destSchema, destTable string) []SpatialIndexSpec {
	var specs []SpatialIndexSpec
	for _, col := range t.SpatialColumns() {
		specs = append(specs, SpatialIndexSpec{Schema: destSchema, Table: destTable, Column: col.Name})
	}
	return specs
}

// SourceRow is one fetched source record keyed by source column name.
// Spatial cells hold WKT strings.
type SourceRow map[string]any

// TargetRow maps lower-cased column names to insert-ready values, in
// source snapshot column order. The loader names these keys in the INSERT
// column list, so destination column order does not matter.
type TargetRow = *orderedmap.OrderedMap[string, any]

// NewTargetRow creates an empty TargetRow.
func NewTargetRow() TargetRow {
	return orderedmap.New[string, any]()
}

// SpatialIndexSpec identifies the spatial index of one destination column.
type SpatialIndexSpec struct {
	Schema string
	Table  string
	Column string
}

// Name returns the derived index name {table}_{column}_spatial_index, lower-cased.
func (s SpatialIndexSpec) Name() string {
	return strings.ToLower(s.Table + "_" + s.Column + "_spatial_index")
}

// ValidateIdentifier checks if a database identifier (schema, table, column name)
// is safe to use in SQL queries. Returns an error if the identifier contains
// potentially dangerous characters that could enable SQL injection.
//
// Valid identifiers:
// - Start with letter or underscore
// - Contain only letters, digits, underscores, spaces, $ and #
// - Maximum length of 128 characters (SQL Server limit)
// - Not empty
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	if len(name) > 128 {
		return fmt.Errorf("identifier too long: %d characters (max 128)", len(name))
	}

	first := rune(name[0])
	if !isValidIdentifierStart(first) {
		return fmt.Errorf("identifier must start with letter or underscore: %q", name)
	}

	for i, r := range name {
		if i == 0 {
			continue
		}
		if !isValidIdentifierChar(r) {
			return fmt.Errorf("identifier contains invalid character %q at position %d: %q", r, i, name)
		}
	}

	return nil
}

func isValidIdentifierStart(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isValidIdentifierChar(r rune) bool {
	return isValidIdentifierStart(r) ||
		(r >= '0' && r <= '9') ||
		r == ' ' || // SQL Server allows spaces in identifiers
		r == '$' ||
		r == '#'
}
