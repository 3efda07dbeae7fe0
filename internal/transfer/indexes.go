package transfer

import (
	"context"

	"github.com/johndauphine/mssql-pg-geocopy/internal/driver"
	"github.com/johndauphine/mssql-pg-geocopy/internal/logging"
	"github.com/johndauphine/mssql-pg-geocopy/internal/target"
)

// SpatialIndexManager drops and recreates the derived spatial index of each
// spatial column. Every column is handled in its own savepoint, so a failure
// costs only that column's index.
type SpatialIndexManager struct {
	Method string // gist, spgist or brin
}

func (m *SpatialIndexManager) method() string {
	if m.Method == "" {
		return "gist"
	}
	return m.Method
}

// DropAll drops the derived index name of every column, spatial or not, so
// indexes left from columns that are no longer spatial go away too.
func (m *SpatialIndexManager) DropAll(ctx context.Context, sess Session, snap *driver.TableSnapshot, dest *target.TableMeta) []*IndexError {
	var errs []*IndexError
	for _, col := range snap.Columns {
		spec := driver.SpatialIndexSpec{Schema: dest.Schema, Table: dest.Name, Column: col.Name}
		err := sess.WithSavepoint(ctx, func() error {
			return sess.DropIndex(ctx, spec.Schema, spec.Name())
		})
		if err != nil {
			errs = append(errs, m.record(dest, spec, err))
		}
	}
	return errs
}

// Rebuild drops then creates the index of every spatial column, in column order.
func (m *SpatialIndexManager) Rebuild(ctx context.Context, sess Session, snap *driver.TableSnapshot, dest *target.TableMeta) []*IndexError {
	var errs []*IndexError
	for _, spec := range snap.IndexSpecs(dest.Schema, dest.Name) {
		col, ok := dest.Column(spec.Column)
		if ok {
			spec.Column = col.Name
		}
		err := sess.WithSavepoint(ctx, func() error {
			if err := sess.DropIndex(ctx, spec.Schema, spec.Name()); err != nil {
				return err
			}
			return sess.CreateIndex(ctx, dest, spec.Name(), spec.Column, m.method())
		})
		if err != nil {
			errs = append(errs, m.record(dest, spec, err))
			continue
		}
		logging.Debug("Created %s index %s on %s(%s)", m.method(), spec.Name(), dest.FullName(), spec.Column)
	}
	return errs
}

func (m *SpatialIndexManager) record(dest *target.TableMeta, spec driver.SpatialIndexSpec, err error) *IndexError {
	ie := &IndexError{Table: dest.FullName(), Column: spec.Column, Index: spec.Name(), Err: err}
	logging.Warn("%v", ie)
	return ie
}
