// Package typemap converts source-native column types into PostgreSQL type
// names using an injected lookup table.
package typemap

import (
	"sort"
	"strings"
)

// sizedTypes are target base types that keep the source length/precision suffix.
var sizedTypes = map[string]bool{
	"VARCHAR":           true,
	"CHARACTER VARYING": true,
	"CHAR":              true,
	"CHARACTER":         true,
	"NUMERIC":           true,
	"DECIMAL":           true,
}

// Mapper maps native type strings to target types. It is immutable after New
// and safe for concurrent use.
type Mapper struct {
	table map[string]string
}

// New creates a Mapper from a native → target table. Keys are matched
// case-insensitively; values keep their casing.
func New(table map[string]string) *Mapper {
	m := &Mapper{table: make(map[string]string, len(table))}
	for k, v := range table {
		m.table[normalizeKey(k)] = strings.TrimSpace(v)
	}
	return m
}

// Merge returns defaults overlaid with overrides. Neither input is modified.
func Merge(defaults, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[normalizeKey(k)] = v
	}
	for k, v := range overrides {
		out[normalizeKey(k)] = v
	}
	return out
}

// Map returns the target type for a native type string.
func (m *Mapper) Map(native string) string {
	mapped, _ := m.Lookup(native)
	return mapped
}

// Lookup is Map that also reports whether the table had an entry. When it
// did not, the collation-stripped input is returned unchanged.
func (m *Mapper) Lookup(native string) (string, bool) {
	stripped := StripCollation(native)
	key := normalizeKey(stripped)

	if mapped, ok := m.table[key]; ok {
		return mapped, true
	}

	open := strings.Index(key, "(")
	if open <= 0 {
		return stripped, false
	}
	base := strings.TrimSpace(key[:open])
	mapped, ok := m.table[base]
	if !ok {
		return stripped, false
	}

	suffix := key[open:]
	if end := strings.Index(suffix, ")"); end >= 0 {
		suffix = suffix[:end+1]
	}
	if suffix != "(MAX)" && sizedTypes[strings.ToUpper(mapped)] {
		return mapped + suffix, true
	}
	return mapped, true
}

// Table returns a copy of the lookup table with normalized keys.
func (m *Mapper) Table() map[string]string {
	out := make(map[string]string, len(m.table))
	for k, v := range m.table {
		out[k] = v
	}
	return out
}

// Keys returns the sorted native type keys.
func (m *Mapper) Keys() []string {
	keys := make([]string, 0, len(m.table))
	for k := range m.table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsSpatial reports whether a mapped target type is a PostGIS spatial type.
func IsSpatial(mapped string) bool {
	base := strings.ToUpper(strings.TrimSpace(mapped))
	if i := strings.Index(base, "("); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	return base == "GEOMETRY" || base == "GEOGRAPHY"
}

// IsGeography reports whether a mapped target type is GEOGRAPHY.
func IsGeography(mapped string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(mapped)), "GEOGRAPHY")
}

// StripCollation removes a trailing COLLATE qualifier.
func StripCollation(native string) string {
	upper := strings.ToUpper(native)
	if i := strings.Index(upper, " COLLATE "); i >= 0 {
		native = native[:i]
	}
	return strings.TrimSpace(native)
}

func normalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
