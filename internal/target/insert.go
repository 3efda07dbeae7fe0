package target

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/johndauphine/mssql-pg-geocopy/internal/geometry"
)

// MaxBindParams is the PostgreSQL wire-protocol limit on bind parameters in
// one statement.
const MaxBindParams = 65535

// Statement is one INSERT with its arguments.
type Statement struct {
	SQL  string
	Args []any
	Rows int
}

// BuildInsert renders rows as multi-row INSERT statements against meta.
// Each statement carries at most MaxBindParams parameters and, when
// maxRows > 0, at most maxRows rows. Geometry and geography columns are
// bound as EWKT text and converted server-side.
func BuildInsert(meta *TableMeta, columns []string, rows [][]any, maxRows int) ([]Statement, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("insert into %s: no columns", meta.FullName())
	}
	if len(columns) > MaxBindParams {
		return nil, fmt.Errorf("insert into %s: %d columns exceeds parameter limit", meta.FullName(), len(columns))
	}

	quoted := make([]string, len(columns))
	exprs := make([]string, len(columns))
	for i, name := range columns {
		col, ok := meta.Column(name)
		if !ok {
			return nil, fmt.Errorf("insert into %s: column %q does not exist", meta.FullName(), name)
		}
		quoted[i] = quotePGIdent(col.Name)
		switch {
		case col.IsGeometry():
			exprs[i] = "ST_GeomFromEWKT($%d)"
		case col.IsGeography():
			exprs[i] = "ST_GeogFromText($%d)"
		default:
			exprs[i] = "$%d"
		}
	}

	perStmt := MaxBindParams / len(columns)
	if maxRows > 0 && maxRows < perStmt {
		perStmt = maxRows
	}

	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ",
		qualifyPGTable(meta.Schema, meta.Name), strings.Join(quoted, ", "))

	var stmts []Statement
	for start := 0; start < len(rows); start += perStmt {
		end := start + perStmt
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		var sb strings.Builder
		sb.WriteString(prefix)
		args := make([]any, 0, len(chunk)*len(columns))
		n := 1
		for r, row := range chunk {
			if len(row) != len(columns) {
				return nil, fmt.Errorf("insert into %s: row %d has %d values, want %d",
					meta.FullName(), start+r, len(row), len(columns))
			}
			if r > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('(')
			for i, v := range row {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(strings.Replace(exprs[i], "%d", strconv.Itoa(n), 1))
				args = append(args, bindValue(v))
				n++
			}
			sb.WriteByte(')')
		}
		stmts = append(stmts, Statement{SQL: sb.String(), Args: args, Rows: len(chunk)})
	}
	return stmts, nil
}

func bindValue(v any) any {
	switch g := v.(type) {
	case geometry.Value:
		return g.EWKT()
	case *geometry.Value:
		if g == nil {
			return nil
		}
		return g.EWKT()
	}
	return v
}
