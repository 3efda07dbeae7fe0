// Package transfer copies one source table into an existing PostgreSQL
// table: introspect, fetch, project, delete-and-insert, rebuild spatial
// indexes. A run either commits everything or rolls back the destination.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/johndauphine/mssql-pg-geocopy/internal/driver"
	"github.com/johndauphine/mssql-pg-geocopy/internal/logging"
	"github.com/johndauphine/mssql-pg-geocopy/internal/target"
	"github.com/johndauphine/mssql-pg-geocopy/internal/typemap"
)

// State is a pipeline state.
type State int

const (
	Pending State = iota
	Introspecting
	Fetching
	Projecting
	Loading
	Indexing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Introspecting:
		return "introspecting"
	case Fetching:
		return "fetching"
	case Projecting:
		return "projecting"
	case Loading:
		return "loading"
	case Indexing:
		return "indexing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SchemaProvider supplies source metadata.
type SchemaProvider interface {
	Columns(ctx context.Context, schema, table string) ([]driver.SourceColumn, error)
	LookupSRID(ctx context.Context, schema, table, column string) (*int, error)
}

// RowSource is a source connection for one table transfer.
type RowSource interface {
	SchemaProvider
	Fetch(ctx context.Context, snap *driver.TableSnapshot, fn func(driver.SourceRow) error) error
	Close() error
}

// Session is a destination transaction for one table transfer.
type Session interface {
	Reflect(ctx context.Context, schema, table string) (*target.TableMeta, error)
	DeleteAll(ctx context.Context, meta *target.TableMeta) (int64, error)
	Insert(ctx context.Context, meta *target.TableMeta, columns []string, rows [][]any, maxRows int) (int64, error)
	DropIndex(ctx context.Context, schema, name string) error
	CreateIndex(ctx context.Context, meta *target.TableMeta, name, column, method string) error
	WithSavepoint(ctx context.Context, fn func() error) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// SourceFunc opens a source connection.
type SourceFunc func(ctx context.Context) (RowSource, error)

// SessionFunc opens a destination transaction.
type SessionFunc func(ctx context.Context) (Session, error)

// Job names one (source table, destination table) pair.
type Job struct {
	SourceSchema string
	SourceTable  string
	DestSchema   string
	DestTable    string
}

// Source returns the qualified source name.
func (j Job) Source() string {
	if j.SourceSchema == "" {
		return j.SourceTable
	}
	return j.SourceSchema + "." + j.SourceTable
}

// Dest returns the qualified destination name.
func (j Job) Dest() string {
	if j.DestSchema == "" {
		return j.DestTable
	}
	return j.DestSchema + "." + j.DestTable
}

// String implements fmt.Stringer.
func (j Job) String() string {
	return j.Source() + " -> " + j.Dest()
}

// Result is the outcome of one run.
type Result struct {
	Job         Job
	State       State
	FailedIn    State // state entered last before Failed
	Columns     []driver.ColumnDescriptor
	RowsRead    int64
	Deleted     int64
	Inserted    int64
	Duration    time.Duration
	Err         error
	IndexErrors []*IndexError
}

// OK reports whether the run reached Done.
func (r Result) OK() bool {
	return r.State == Done
}

// Message is a one-line human-readable summary.
func (r Result) Message() string {
	if !r.OK() {
		return fmt.Sprintf("%s: FAILED: %v", r.Job, r.Err)
	}
	msg := fmt.Sprintf("%s: %d rows in %s", r.Job, r.Inserted, r.Duration.Round(time.Millisecond))
	if n := len(r.IndexErrors); n > 0 {
		msg += fmt.Sprintf(" (%d index error(s))", n)
	}
	return msg
}

// Options tunes a Pipeline.
type Options struct {
	IndexMethod         string
	MaxRowsPerStatement int
	Timeout             time.Duration    // per table; 0 means none
	Progress            func(rows int64) // called as rows are fetched
	Rules               []ColumnRule     // nil means DefaultRules
}

// Pipeline runs table transfers. It holds no per-run state and may be used
// by several goroutines at once.
type Pipeline struct {
	mapper   *typemap.Mapper
	sources  SourceFunc
	sessions SessionFunc
	opts     Options
	loader   *BulkLoader
	indexes  *SpatialIndexManager
}

// NewPipeline creates a Pipeline.
func NewPipeline(mapper *typemap.Mapper, sources SourceFunc, sessions SessionFunc, opts Options) *Pipeline {
	return &Pipeline{
		mapper:   mapper,
		sources:  sources,
		sessions: sessions,
		opts:     opts,
		loader:   &BulkLoader{MaxRowsPerStatement: opts.MaxRowsPerStatement},
		indexes:  &SpatialIndexManager{Method: opts.IndexMethod},
	}
}

const progressEvery = 1000

// Run transfers one table.
func (p *Pipeline) Run(ctx context.Context, job Job) Result {
	start := time.Now()
	res := Result{Job: job, State: Pending}

	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	var (
		src  RowSource
		sess Session
	)
	closeSource := func() {
		if src != nil {
			if err := src.Close(); err != nil {
				logging.Debug("%s: closing source connection: %v", job, err)
			}
			src = nil
		}
	}
	defer closeSource()

	enter := func(s State) {
		res.State = s
		logging.Debug("%s: %s", job, s)
	}
	fail := func(err error) Result {
		res.FailedIn = res.State
		res.State = Failed
		res.Err = err
		if sess != nil {
			if rbErr := sess.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				logging.Error("%s: rollback: %v", job, rbErr)
			}
		}
		closeSource()
		res.Duration = time.Since(start)
		logging.Error("%v", err)
		return res
	}
	transferErr := func(err error) error {
		return &TransferError{Table: job.Source(), Stage: res.State, Err: err}
	}

	logging.Info("Transferring %s", job)

	enter(Introspecting)
	s, err := p.sources(ctx)
	if err != nil {
		return fail(&SchemaError{Table: job.Source(), Err: err})
	}
	src = s

	snap, err := BuildSnapshot(ctx, src, p.mapper, job.SourceSchema, job.SourceTable)
	if err != nil {
		return fail(err)
	}
	res.Columns = snap.Columns

	enter(Fetching)
	sn, err := p.sessions(ctx)
	if err != nil {
		return fail(transferErr(err))
	}
	sess = sn

	dest, err := sess.Reflect(ctx, job.DestSchema, job.DestTable)
	if err != nil {
		return fail(transferErr(err))
	}

	var (
		fetched []driver.SourceRow
		pending int64
	)
	err = src.Fetch(ctx, snap, func(row driver.SourceRow) error {
		fetched = append(fetched, row)
		pending++
		if pending == progressEvery {
			if p.opts.Progress != nil {
				p.opts.Progress(pending)
			}
			pending = 0
		}
		return ctx.Err()
	})
	if err != nil {
		return fail(transferErr(err))
	}
	if pending > 0 && p.opts.Progress != nil {
		p.opts.Progress(pending)
	}
	res.RowsRead = int64(len(fetched))
	closeSource()

	enter(Projecting)
	proj, err := NewProjector(snap, dest, p.opts.Rules)
	if err != nil {
		return fail(transferErr(err))
	}
	rows := make([]driver.TargetRow, 0, len(fetched))
	for i, row := range fetched {
		tr, err := proj.Project(row)
		if err != nil {
			return fail(transferErr(fmt.Errorf("row %d: %w", i+1, err)))
		}
		rows = append(rows, tr)
	}
	fetched = nil

	enter(Loading)
	res.IndexErrors = append(res.IndexErrors, p.indexes.DropAll(ctx, sess, snap, dest)...)
	stats, err := p.loader.Load(ctx, sess, dest, rows)
	if err != nil {
		return fail(transferErr(err))
	}
	res.Deleted = stats.Deleted
	res.Inserted = stats.Inserted

	enter(Indexing)
	res.IndexErrors = append(res.IndexErrors, p.indexes.Rebuild(ctx, sess, snap, dest)...)

	if err := sess.Commit(ctx); err != nil {
		return fail(transferErr(err))
	}
	sess = nil

	enter(Done)
	res.Duration = time.Since(start)
	logging.Info("%s", res.Message())
	return res
}

// BuildSnapshot introspects a source table, maps every column type and
// samples the SRID of each spatial column. A failed lookup is logged and
// leaves the SRID unset.
func BuildSnapshot(ctx context.Context, src SchemaProvider, mapper *typemap.Mapper, schema, table string) (*driver.TableSnapshot, error) {
	snap := &driver.TableSnapshot{Schema: schema, Table: table}

	cols, err := src.Columns(ctx, schema, table)
	if err != nil {
		return nil, &SchemaError{Table: snap.FullName(), Err: err}
	}
	if len(cols) == 0 {
		return nil, &SchemaError{Table: snap.FullName(), Err: errors.New("table not found or has no columns")}
	}

	warned := make(map[string]bool)
	for _, c := range cols {
		mapped, ok := mapper.Lookup(c.NativeType)
		if !ok && !warned[mapped] {
			warned[mapped] = true
			logging.Warn("%s: no type mapping for %q (column %s), passing it through unchanged", snap.FullName(), c.NativeType, c.Name)
		}

		desc := driver.ColumnDescriptor{
			Name:       c.Name,
			SourceType: c.NativeType,
			MappedType: mapped,
			DataType:   c.DataType,
			Spatial:    typemap.IsSpatial(mapped),
		}

		if desc.Spatial {
			srid, err := src.LookupSRID(ctx, schema, table, c.Name)
			if err != nil {
				perr := &GeometryProbeError{Table: snap.FullName(), Column: c.Name, Err: err}
				logging.Warn("%v; continuing without SRID", perr)
			} else {
				desc.SRID = srid
			}
		}

		if err := desc.Validate(); err != nil {
			return nil, &SchemaError{Table: snap.FullName(), Err: err}
		}
		logging.Debug("%s.%s: %s -> %s (srid %s)", snap.FullName(), desc.Name, desc.SourceType, desc.MappedType, desc.SRIDString())
		snap.Columns = append(snap.Columns, desc)
	}
	return snap, nil
}
