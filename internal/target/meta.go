package target

import "strings"

// ColumnMeta is one reflected destination column.
type ColumnMeta struct {
	Name       string
	UDTName    string // e.g. "int4", "varchar", "geometry"
	Nullable   bool
	HasDefault bool
	PrimaryKey bool
}

// IsGeometry reports whether the column is a PostGIS geometry.
func (c ColumnMeta) IsGeometry() bool { return c.UDTName == "geometry" }

// IsGeography reports whether the column is a PostGIS geography.
func (c ColumnMeta) IsGeography() bool { return c.UDTName == "geography" }

// TableMeta is the reflected shape of a destination table.
type TableMeta struct {
	Schema  string
	Name    string
	Columns []ColumnMeta
}

// FullName returns schema.table.
func (t *TableMeta) FullName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Column finds a column by case-insensitive name.
func (t *TableMeta) Column(name string) (ColumnMeta, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnMeta{}, false
}

// PrimaryKey returns the primary key column names in column order.
func (t *TableMeta) PrimaryKey() []string {
	var pk []string
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	return pk
}

// IsPrimaryKey reports whether name (case-insensitive) is part of the primary key.
func (t *TableMeta) IsPrimaryKey(name string) bool {
	c, ok := t.Column(name)
	return ok && c.PrimaryKey
}
