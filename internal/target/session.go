package target

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IndexMethods are the access methods accepted for spatial indexes.
var IndexMethods = map[string]bool{
	"gist":   true,
	"spgist": true,
	"brin":   true,
}

// Session is one destination transaction on a dedicated connection. It is
// not safe for concurrent use.
type Session struct {
	conn *pgxpool.Conn
	tx   pgx.Tx
	cur  pgx.Tx // tx, or the open savepoint
	done bool
}

const reflectColumnsQuery = `
	SELECT
		c.column_name,
		c.udt_name,
		c.is_nullable = 'YES',
		c.column_default IS NOT NULL,
		EXISTS (
			SELECT 1
			FROM pg_index i
			JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
			WHERE i.indrelid = format('%I.%I', c.table_schema, c.table_name)::regclass
			  AND i.indisprimary
			  AND a.attname = c.column_name
		)
	FROM information_schema.columns c
	WHERE c.table_schema = $1 AND c.table_name = $2
	ORDER BY c.ordinal_position
`

// Reflect reads the live column metadata of a destination table.
func (s *Session) Reflect(ctx context.Context, schema, table string) (*TableMeta, error) {
	rows, err := s.cur.Query(ctx, reflectColumnsQuery, schema, table)
	if err != nil {
		return nil, fmt.Errorf("reflecting %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	meta := &TableMeta{Schema: schema, Name: table}
	for rows.Next() {
		var c ColumnMeta
		if err := rows.Scan(&c.Name, &c.UDTName, &c.Nullable, &c.HasDefault, &c.PrimaryKey); err != nil {
			return nil, fmt.Errorf("scanning column of %s.%s: %w", schema, table, err)
		}
		meta.Columns = append(meta.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reflecting %s.%s: %w", schema, table, err)
	}
	if len(meta.Columns) == 0 {
		return nil, fmt.Errorf("destination table %s.%s not found", schema, table)
	}
	return meta, nil
}

// DeleteAll removes every row of the table and returns the count removed.
func (s *Session) DeleteAll(ctx context.Context, meta *TableMeta) (int64, error) {
	tag, err := s.cur.Exec(ctx, "DELETE FROM "+qualifyPGTable(meta.Schema, meta.Name))
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", meta.FullName(), err)
	}
	return tag.RowsAffected(), nil
}

// Insert sends rows as one pgx batch of multi-row INSERT statements.
func (s *Session) Insert(ctx context.Context, meta *TableMeta, columns []string, rows [][]any, maxRows int) (int64, error) {
	stmts, err := BuildInsert(meta, columns, rows, maxRows)
	if err != nil {
		return 0, err
	}
	if len(stmts) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, st := range stmts {
		batch.Queue(st.SQL, st.Args...)
	}

	br := s.cur.SendBatch(ctx, batch)
	var total int64
	for i := range stmts {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return total, fmt.Errorf("inserting into %s (statement %d of %d): %w", meta.FullName(), i+1, len(stmts), err)
		}
		total += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return total, fmt.Errorf("inserting into %s: %w", meta.FullName(), err)
	}
	return total, nil
}

// DropIndex drops an index if it exists.
func (s *Session) DropIndex(ctx context.Context, schema, name string) error {
	sql := "DROP INDEX IF EXISTS " + qualifyPGTable(schema, name)
	if _, err := s.cur.Exec(ctx, sql); err != nil {
		return fmt.Errorf("dropping index %s: %w", name, err)
	}
	return nil
}

// CreateIndex creates a spatial index on one column.
func (s *Session) CreateIndex(ctx context.Context, meta *TableMeta, name, column, method string) error {
	method = strings.ToLower(method)
	if !IndexMethods[method] {
		return fmt.Errorf("unsupported index method %q", method)
	}
	sql := fmt.Sprintf("CREATE INDEX %s ON %s USING %s (%s)",
		quotePGIdent(name), qualifyPGTable(meta.Schema, meta.Name), method, quotePGIdent(column))
	if _, err := s.cur.Exec(ctx, sql); err != nil {
		return fmt.Errorf("creating index %s: %w", name, err)
	}
	return nil
}

// WithSavepoint runs fn inside a savepoint. An error from fn rolls back to
// the savepoint and leaves the outer transaction usable.
func (s *Session) WithSavepoint(ctx context.Context, fn func() error) error {
	sp, err := s.cur.Begin(ctx)
	if err != nil {
		return fmt.Errorf("creating savepoint: %w", err)
	}
	outer := s.cur
	s.cur = sp
	defer func() { s.cur = outer }()

	if err := fn(); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back savepoint: %w", rbErr))
		}
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}

// Commit commits the transaction and releases the connection.
func (s *Session) Commit(ctx context.Context) error {
	if s.done {
		return fmt.Errorf("session already closed")
	}
	defer s.release()
	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction and releases the connection. It is a
// no-op after Commit or a previous Rollback.
func (s *Session) Rollback(ctx context.Context) error {
	if s.done {
		return nil
	}
	defer s.release()
	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rolling back: %w", err)
	}
	return nil
}

func (s *Session) release() {
	s.done = true
	s.conn.Release()
}
