// Package geometry holds the spatial value bound for PostGIS columns: the WKT
// text from the source together with the SRID lookupd for its column.
package geometry

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
)

// decodable are the 2D forms the WKT decoder parses; a decode failure on
// one of these rejects the cell.
var decodable = map[string]bool{
	"POINT":              true,
	"LINESTRING":         true,
	"POLYGON":            true,
	"MULTIPOINT":         true,
	"MULTILINESTRING":    true,
	"MULTIPOLYGON":       true,
	"GEOMETRYCOLLECTION": true,
}

// tagOnly are keywords accepted on the tag alone: curves and surfaces the
// decoder does not know. Z/M and EMPTY forms of decodable kinds are also
// accepted on the tag. PostGIS validates those.
var tagOnly = map[string]bool{
	"CIRCULARSTRING":    true,
	"COMPOUNDCURVE":     true,
	"CURVEPOLYGON":      true,
	"MULTICURVE":        true,
	"MULTISURFACE":      true,
	"TRIANGLE":          true,
	"TIN":               true,
	"POLYHEDRALSURFACE": true,
}

// Value is a geometry ready for insertion. WKT is kept exactly as read from
// the source; SRID is nil when the column's SRID is unknown.
type Value struct {
	WKT  string
	SRID *int
	Kind string
	Geom geom.Geometry // decoded 2D geometry; nil for tag-only forms
}

// Parse validates text as WKT and tags it with srid.
func Parse(text string, srid *int) (Value, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Value{}, fmt.Errorf("empty WKT")
	}

	kind := tag(trimmed)
	v := Value{WKT: text, SRID: srid, Kind: kind}
	switch {
	case tagOnly[kind]:
		return v, nil
	case !decodable[kind]:
		return Value{}, fmt.Errorf("not WKT: %q", truncate(trimmed, 40))
	}

	upper := strings.ToUpper(trimmed)
	if hasDimension(upper[len(kind):]) || strings.Contains(upper, "EMPTY") {
		return v, nil
	}

	g, err := wkt.DecodeString(upper)
	if err != nil {
		return Value{}, fmt.Errorf("invalid %s WKT %q: %w", kind, truncate(trimmed, 40), err)
	}
	v.Geom = g
	return v, nil
}

// hasDimension reports whether the text after the keyword starts with a
// Z, M or ZM qualifier.
func hasDimension(rest string) bool {
	rest = strings.TrimSpace(rest)
	for _, q := range []string{"ZM", "Z", "M"} {
		if strings.HasPrefix(rest, q) {
			after := strings.TrimSpace(rest[len(q):])
			return after == "" || after[0] == '(' || strings.HasPrefix(after, "EMPTY")
		}
	}
	return false
}

// MustParse is Parse for trusted literals; it panics on error.
func MustParse(text string, srid int) Value {
	v, err := Parse(text, &srid)
	if err != nil {
		panic(err)
	}
	return v
}

// EWKT returns "SRID=n;WKT", or the plain WKT when no SRID is known.
func (v Value) EWKT() string {
	if v.SRID == nil {
		return v.WKT
	}
	return "SRID=" + strconv.Itoa(*v.SRID) + ";" + v.WKT
}

// Value implements driver.Valuer so the geometry binds as EWKT text.
func (v Value) Value() (driver.Value, error) {
	return v.EWKT(), nil
}

// String implements fmt.Stringer.
func (v Value) String() string {
	return v.EWKT()
}

// tag returns the upper-cased leading keyword of a WKT string.
func tag(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z')
	})
	if end < 0 {
		end = len(s)
	}
	return strings.ToUpper(s[:end])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
