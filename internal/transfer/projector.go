package transfer

import (
	"fmt"
	"strings"

	"github.com/johndauphine/mssql-pg-geocopy/internal/driver"
	"github.com/johndauphine/mssql-pg-geocopy/internal/geometry"
	"github.com/johndauphine/mssql-pg-geocopy/internal/target"
)

// ColumnRule is one column policy of the projector. Rules are consulted in
// order and the first one that applies converts every cell of the column.
type ColumnRule interface {
	Name() string
	Applies(col driver.ColumnDescriptor, dest *target.TableMeta) bool
	Apply(col driver.ColumnDescriptor, v any) (any, error)
}

// DefaultRules returns primary key, geometry, scalar.
func DefaultRules() []ColumnRule {
	return []ColumnRule{PrimaryKeyRule{}, GeometryRule{}, ScalarRule{}}
}

// PrimaryKeyRule passes destination primary key values through untouched.
type PrimaryKeyRule struct{}

func (PrimaryKeyRule) Name() string { return "primary-key" }

func (PrimaryKeyRule) Applies(col driver.ColumnDescriptor, dest *target.TableMeta) bool {
	return dest.IsPrimaryKey(col.Name)
}

func (PrimaryKeyRule) Apply(_ driver.ColumnDescriptor, v any) (any, error) { return v, nil }

// GeometryRule parses WKT cells of spatial columns and tags them with the
// column SRID.
type GeometryRule struct{}

func (GeometryRule) Name() string { return "geometry" }

func (GeometryRule) Applies(col driver.ColumnDescriptor, _ *target.TableMeta) bool {
	return col.Spatial
}

func (GeometryRule) Apply(col driver.ColumnDescriptor, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return geometry.Parse(t, col.SRID)
	case []byte:
		return geometry.Parse(string(t), col.SRID)
	case geometry.Value:
		return t, nil
	}
	return nil, fmt.Errorf("expected WKT text, got %T", v)
}

// ScalarRule copies the value unchanged.
type ScalarRule struct{}

func (ScalarRule) Name() string { return "scalar" }

func (ScalarRule) Applies(driver.ColumnDescriptor, *target.TableMeta) bool { return true }

func (ScalarRule) Apply(_ driver.ColumnDescriptor, v any) (any, error) { return v, nil }

type projectedColumn struct {
	desc driver.ColumnDescriptor
	key  string
	rule ColumnRule
}

// Projector converts SourceRows into TargetRows. Rules are resolved once per
// column at construction; Project itself does no I/O.
type Projector struct {
	columns []projectedColumn
}

// NewProjector binds snap's columns to rules against the destination table.
// Every source column must exist in the destination.
func NewProjector(snap *driver.TableSnapshot, dest *target.TableMeta, rules []ColumnRule) (*Projector, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	p := &Projector{columns: make([]projectedColumn, 0, len(snap.Columns))}
	var missing []string
	for _, col := range snap.Columns {
		if _, ok := dest.Column(col.Name); !ok {
			missing = append(missing, col.Name)
			continue
		}

		var rule ColumnRule
		for _, r := range rules {
			if r.Applies(col, dest) {
				rule = r
				break
			}
		}
		if rule == nil {
			return nil, fmt.Errorf("no rule applies to column %s", col.Name)
		}
		p.columns = append(p.columns, projectedColumn{desc: col, key: strings.ToLower(col.Name), rule: rule})
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("destination %s has no column(s) %s", dest.FullName(), strings.Join(missing, ", "))
	}
	return p, nil
}

// Columns returns the output keys in order.
func (p *Projector) Columns() []string {
	keys := make([]string, len(p.columns))
	for i, c := range p.columns {
		keys[i] = c.key
	}
	return keys
}

// RuleFor returns the name of the rule bound to a column, or "".
func (p *Projector) RuleFor(column string) string {
	for _, c := range p.columns {
		if strings.EqualFold(c.desc.Name, column) {
			return c.rule.Name()
		}
	}
	return ""
}

// Project converts one row.
func (p *Projector) Project(row driver.SourceRow) (driver.TargetRow, error) {
	out := driver.NewTargetRow()
	for _, c := range p.columns {
		v, err := c.rule.Apply(c.desc, row[c.desc.Name])
		if err != nil {
			return nil, fmt.Errorf("column %s (%s rule): %w", c.desc.Name, c.rule.Name(), err)
		}
		out.Set(c.key, v)
	}
	return out, nil
}
