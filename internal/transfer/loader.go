package transfer

import (
	"context"
	"fmt"

	"github.com/johndauphine/mssql-pg-geocopy/internal/driver"
	"github.com/johndauphine/mssql-pg-geocopy/internal/target"
)

// LoadStats reports what BulkLoader did.
type LoadStats struct {
	Deleted  int64
	Inserted int64
}

// BulkLoader replaces the full contents of a destination table.
type BulkLoader struct {
	// MaxRowsPerStatement caps rows per INSERT; 0 lets the parameter limit decide.
	MaxRowsPerStatement int
}

// Load deletes every destination row and, when rows is non-empty, inserts
// rows as one batch.
func (l *BulkLoader) Load(ctx context.Context, sess Session, dest *target.TableMeta, rows []driver.TargetRow) (LoadStats, error) {
	var stats LoadStats

	deleted, err := sess.DeleteAll(ctx, dest)
	if err != nil {
		return stats, err
	}
	stats.Deleted = deleted

	if len(rows) == 0 {
		return stats, nil
	}

	columns := make([]string, 0, rows[0].Len())
	for p := rows[0].Oldest(); p != nil; p = p.Next() {
		columns = append(columns, p.Key)
	}

	values := make([][]any, len(rows))
	for i, row := range rows {
		if row.Len() != len(columns) {
			return stats, fmt.Errorf("row %d has %d columns, want %d", i, row.Len(), len(columns))
		}
		vals := make([]any, len(columns))
		for j, col := range columns {
			v, ok := row.Get(col)
			if !ok {
				return stats, fmt.Errorf("row %d is missing column %s", i, col)
			}
			vals[j] = v
		}
		values[i] = vals
	}

	inserted, err := sess.Insert(ctx, dest, columns, values, l.MaxRowsPerStatement)
	if err != nil {
		return stats, err
	}
	stats.Inserted = inserted
	return stats, nil
}
