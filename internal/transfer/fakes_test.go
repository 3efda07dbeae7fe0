package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/johndauphine/mssql-pg-geocopy/internal/driver"
	"github.com/johndauphine/mssql-pg-geocopy/internal/target"
)

func intPtr(v int) *int { return &v }

// fakeSource serves fixed columns and rows.
type fakeSource struct {
	columns   []driver.SourceColumn
	srids     map[string]*int
	lookupErr error
	rows      []driver.SourceRow
	fetchErr  error
	closed    int
	sampled   []string
}

func (f *fakeSource) Columns(_ context.Context, _, _ string) ([]driver.SourceColumn, error) {
	return f.columns, nil
}

func (f *fakeSource) LookupSRID(_ context.Context, _, _, column string) (*int, error) {
	f.sampled = append(f.sampled, column)
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.srids[column], nil
}

func (f *fakeSource) Fetch(_ context.Context, _ *driver.TableSnapshot, fn func(driver.SourceRow) error) error {
	for _, r := range f.rows {
		cp := make(driver.SourceRow, len(r))
		for k, v := range r {
			cp[k] = v
		}
		if err := fn(cp); err != nil {
			return err
		}
	}
	return f.fetchErr
}

func (f *fakeSource) Close() error {
	f.closed++
	return nil
}

// fakeDB is an in-memory destination shared by sessions.
type fakeDB struct {
	meta    *target.TableMeta
	rows    [][]any
	columns []string
	indexes map[string]string // name -> column

	createErr map[string]error // column -> error
	insertErr error

	deletes  int
	inserts  int
	commits  int
	rollback int
}

func newFakeDB(meta *target.TableMeta) *fakeDB {
	return &fakeDB{meta: meta, indexes: make(map[string]string)}
}

// fakeSession stages changes and applies them on Commit.
type fakeSession struct {
	db      *fakeDB
	rows    [][]any
	columns []string
	indexes map[string]string
	closed  bool
}

func (db *fakeDB) begin(context.Context) (Session, error) {
	s := &fakeSession{db: db, rows: db.rows, columns: db.columns, indexes: make(map[string]string)}
	for k, v := range db.indexes {
		s.indexes[k] = v
	}
	return s, nil
}

func (s *fakeSession) Reflect(_ context.Context, schema, table string) (*target.TableMeta, error) {
	if s.db.meta == nil || s.db.meta.Schema != schema || s.db.meta.Name != table {
		return nil, fmt.Errorf("destination table %s.%s not found", schema, table)
	}
	return s.db.meta, nil
}

func (s *fakeSession) DeleteAll(context.Context, *target.TableMeta) (int64, error) {
	s.db.deletes++
	n := int64(len(s.rows))
	s.rows = nil
	return n, nil
}

func (s *fakeSession) Insert(_ context.Context, meta *target.TableMeta, columns []string, rows [][]any, maxRows int) (int64, error) {
	s.db.inserts++
	if s.db.insertErr != nil {
		return 0, s.db.insertErr
	}
	if _, err := target.BuildInsert(meta, columns, rows, maxRows); err != nil {
		return 0, err
	}
	s.columns = columns
	s.rows = append(s.rows, rows...)
	return int64(len(rows)), nil
}

func (s *fakeSession) DropIndex(_ context.Context, _, name string) error {
	delete(s.indexes, name)
	return nil
}

func (s *fakeSession) CreateIndex(_ context.Context, _ *target.TableMeta, name, column, method string) error {
	if err := s.db.createErr[column]; err != nil {
		return err
	}
	if _, exists := s.indexes[name]; exists {
		return fmt.Errorf("relation %q already exists", name)
	}
	s.indexes[name] = column + " USING " + method
	return nil
}

func (s *fakeSession) WithSavepoint(_ context.Context, fn func() error) error {
	saved := make(map[string]string, len(s.indexes))
	for k, v := range s.indexes {
		saved[k] = v
	}
	if err := fn(); err != nil {
		s.indexes = saved
		return err
	}
	return nil
}

func (s *fakeSession) Commit(context.Context) error {
	if s.closed {
		return errors.New("session closed")
	}
	s.closed = true
	s.db.commits++
	s.db.rows = s.rows
	s.db.columns = s.columns
	s.db.indexes = s.indexes
	return nil
}

func (s *fakeSession) Rollback(context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.db.rollback++
	return nil
}

func (db *fakeDB) indexNames() []string {
	var names []string
	for k := range db.indexes {
		names = append(names, k)
	}
	return names
}

func (db *fakeDB) column(name string) []any {
	for i, c := range db.columns {
		if strings.EqualFold(c, name) {
			out := make([]any, len(db.rows))
			for r, row := range db.rows {
				out[r] = row[i]
			}
			return out
		}
	}
	return nil
}
