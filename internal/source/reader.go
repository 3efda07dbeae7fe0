package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/johndauphine/mssql-pg-geocopy/internal/driver"
)

// Reader is one source connection used by a single table transfer.
type Reader struct {
	conn    *sql.Conn
	dialect driver.Dialect
}

// NewReader wraps an already acquired connection.
func NewReader(conn *sql.Conn, dialect driver.Dialect) *Reader {
	return &Reader{conn: conn, dialect: dialect}
}

// Close returns the connection to the pool.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// Columns introspects the table's columns in declared order.
func (r *Reader) Columns(ctx context.Context, schema, table string) ([]driver.SourceColumn, error) {
	if err := driver.ValidateIdentifier(table); err != nil {
		return nil, fmt.Errorf("table name: %w", err)
	}
	if schema != "" {
		if err := driver.ValidateIdentifier(schema); err != nil {
			return nil, fmt.Errorf("schema name: %w", err)
		}
	}

	query, args := r.dialect.ColumnsQuery(schema, table)
	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	var cols []driver.SourceColumn
	for rows.Next() {
		var c driver.CatalogColumn
		if err := rows.Scan(&c.Name, &c.DataType, &c.ColumnType, &c.MaxLength,
			&c.Precision, &c.Scale, &c.Collation); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		cols = append(cols, driver.SourceColumn{
			Name:       c.Name,
			NativeType: r.dialect.FormatNativeType(c),
			DataType:   strings.ToLower(c.DataType),
			Ordinal:    len(cols) + 1,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	return cols, nil
}

// LookupSRID samples one non-null value of a spatial column. It returns nil
// when the column holds no values.
func (r *Reader) LookupSRID(ctx context.Context, schema, table, column string) (*int, error) {
	var srid sql.NullInt64
	err := r.conn.QueryRowContext(ctx, r.dialect.SRIDQuery(schema, table, column)).Scan(&srid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !srid.Valid {
		return nil, nil
	}
	v := int(srid.Int64)
	return &v, nil
}

// Fetch runs the source SELECT and calls fn for every row.
func (r *Reader) Fetch(ctx context.Context, snap *driver.TableSnapshot, fn func(driver.SourceRow) error) error {
	rows, err := r.conn.QueryContext(ctx, BuildSelect(r.dialect, snap))
	if err != nil {
		return fmt.Errorf("querying %s: %w", snap.FullName(), err)
	}
	defer rows.Close()

	n := len(snap.Columns)
	values := make([]any, n)
	ptrs := make([]any, n)
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scanning row of %s: %w", snap.FullName(), err)
		}
		row := make(driver.SourceRow, n)
		for i, col := range snap.Columns {
			row[col.Name] = r.dialect.NormalizeValue(values[i], col.DataType)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// BuildSelect returns the SELECT over the snapshot's columns with spatial
// columns converted to WKT.
func BuildSelect(d driver.Dialect, snap *driver.TableSnapshot) string {
	items := make([]string, len(snap.Columns))
	for i, col := range snap.Columns {
		if col.Spatial {
			items[i] = d.SpatialProjection(col.Name)
		} else {
			items[i] = d.QuoteIdentifier(col.Name)
		}
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(items, ", "), d.QualifyTable(snap.Schema, snap.Table))
}
