package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/johndauphine/mssql-pg-geocopy/internal/driver"
	"github.com/johndauphine/mssql-pg-geocopy/internal/geometry"
	"github.com/johndauphine/mssql-pg-geocopy/internal/target"
	"github.com/johndauphine/mssql-pg-geocopy/internal/typemap"
)

func parcelsMapper() *typemap.Mapper {
	return typemap.New(map[string]string{
		"INT":      "INTEGER",
		"NVARCHAR": "VARCHAR",
		"GEOMETRY": "GEOMETRY",
		"NULL":     "GEOMETRY",
	})
}

func parcelsSource() *fakeSource {
	return &fakeSource{
		columns: []driver.SourceColumn{
			{Name: "ParcelID", NativeType: "int", DataType: "int"},
			{Name: "Owner", NativeType: "nvarchar(50) COLLATE SQL_Latin1_General_CP1_CI_AS", DataType: "nvarchar"},
			{Name: "Shape", NativeType: "geometry", DataType: "geometry"},
			{Name: "Centroid", NativeType: "geometry", DataType: "geometry"},
		},
		srids: map[string]*int{"Shape": intPtr(4326)},
		rows: []driver.SourceRow{
			{"ParcelID": int64(1), "Owner": "Ann", "Shape": "POINT(1 2)", "Centroid": nil},
			{"ParcelID": int64(2), "Owner": "Bob", "Shape": "POLYGON ((0 0, 1 0, 1 1, 0 0))", "Centroid": "POINT(0.5 0.5)"},
		},
	}
}

func parcelsMeta() *target.TableMeta {
	return &target.TableMeta{
		Schema: "public",
		Name:   "parcels",
		Columns: []target.ColumnMeta{
			{Name: "parcelid", UDTName: "int4", PrimaryKey: true},
			{Name: "owner", UDTName: "varchar", Nullable: true},
			{Name: "shape", UDTName: "geometry", Nullable: true},
			{Name: "centroid", UDTName: "geometry", Nullable: true},
		},
	}
}

func parcelsJob() Job {
	return Job{SourceSchema: "dbo", SourceTable: "Parcels", DestSchema: "public", DestTable: "parcels"}
}

func newTestPipeline(src *fakeSource, db *fakeDB, opts Options) *Pipeline {
	return NewPipeline(parcelsMapper(),
		func(context.Context) (RowSource, error) { return src, nil },
		db.begin,
		opts)
}

func TestPipelineRun(t *testing.T) {
	src := parcelsSource()
	db := newFakeDB(parcelsMeta())

	var progressed int64
	p := newTestPipeline(src, db, Options{Progress: func(n int64) { progressed += n }})
	res := p.Run(context.Background(), parcelsJob())

	if !res.OK() {
		t.Fatalf("Run() state = %s, err = %v", res.State, res.Err)
	}
	if res.Inserted != 2 || res.RowsRead != 2 {
		t.Errorf("Inserted = %d, RowsRead = %d, want 2", res.Inserted, res.RowsRead)
	}
	if progressed != 2 {
		t.Errorf("progress reported %d rows, want 2", progressed)
	}
	if db.commits != 1 || db.rollback != 0 {
		t.Errorf("commits = %d, rollbacks = %d", db.commits, db.rollback)
	}
	if src.closed != 1 {
		t.Errorf("source closed %d times, want 1", src.closed)
	}

	wantCols := []string{"parcelid", "owner", "shape", "centroid"}
	if fmt.Sprint(db.columns) != fmt.Sprint(wantCols) {
		t.Errorf("inserted columns = %v, want %v", db.columns, wantCols)
	}

	shapes := db.column("shape")
	g, ok := shapes[0].(geometry.Value)
	if !ok {
		t.Fatalf("shape value has type %T", shapes[0])
	}
	if g.EWKT() != "SRID=4326;POINT(1 2)" {
		t.Errorf("shape EWKT = %q", g.EWKT())
	}

	centroids := db.column("centroid")
	if centroids[0] != nil {
		t.Errorf("NULL centroid became %#v", centroids[0])
	}
	if c, ok := centroids[1].(geometry.Value); !ok || c.SRID != nil || c.EWKT() != "POINT(0.5 0.5)" {
		t.Errorf("centroid without SRID = %#v", centroids[1])
	}

	names := db.indexNames()
	sort.Strings(names)
	want := []string{"parcels_centroid_spatial_index", "parcels_shape_spatial_index"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("indexes = %v, want %v", names, want)
	}

	if fmt.Sprint(src.sampled) != "[Shape Centroid]" {
		t.Errorf("sampled columns = %v, only spatial columns should be sampled", src.sampled)
	}
	for _, col := range res.Columns {
		if col.SRID != nil && !col.Spatial {
			t.Errorf("column %s has SRID but is not spatial", col.Name)
		}
	}
}

func TestPipelineIdempotent(t *testing.T) {
	db := newFakeDB(parcelsMeta())

	var snapshots []string
	for i := 0; i < 2; i++ {
		res := newTestPipeline(parcelsSource(), db, Options{}).Run(context.Background(), parcelsJob())
		if !res.OK() {
			t.Fatalf("run %d failed: %v", i+1, res.Err)
		}
		if i == 1 && res.Deleted != 2 {
			t.Errorf("second run deleted %d rows, want 2", res.Deleted)
		}
		names := db.indexNames()
		sort.Strings(names)
		snapshots = append(snapshots, fmt.Sprintf("%v|%v", db.rows, names))
	}

	if snapshots[0] != snapshots[1] {
		t.Errorf("destination differs between runs:\n%s\n%s", snapshots[0], snapshots[1])
	}
	if len(db.rows) != 2 || len(db.indexes) != 2 {
		t.Errorf("rows = %d, indexes = %d", len(db.rows), len(db.indexes))
	}
}

func TestPipelineEmptyTable(t *testing.T) {
	src := parcelsSource()
	src.rows = nil
	db := newFakeDB(parcelsMeta())
	db.rows = [][]any{{int64(9), "old", nil, nil}}

	res := newTestPipeline(src, db, Options{}).Run(context.Background(), parcelsJob())

	if !res.OK() {
		t.Fatalf("Run() failed: %v", res.Err)
	}
	if db.deletes != 1 {
		t.Errorf("deletes = %d, want 1", db.deletes)
	}
	if db.inserts != 0 {
		t.Errorf("inserts = %d, want 0 for an empty table", db.inserts)
	}
	if len(db.rows) != 0 {
		t.Errorf("destination has %d rows, want 0", len(db.rows))
	}
	if res.Deleted != 1 || res.Inserted != 0 {
		t.Errorf("Deleted = %d, Inserted = %d", res.Deleted, res.Inserted)
	}
}

func TestPipelineFailureRollsBack(t *testing.T) {
	previous := [][]any{{int64(9), "old", nil, nil}}

	tests := []struct {
		name     string
		setup    func(src *fakeSource, db *fakeDB, job *Job)
		failedIn State
		wantErr  any
	}{
		{
			name: "bad WKT",
			setup: func(src *fakeSource, _ *fakeDB, _ *Job) {
				src.rows[1]["Shape"] = "not a geometry"
			},
			failedIn: Projecting,
			wantErr:  &TransferError{},
		},
		{
			name: "insert error",
			setup: func(_ *fakeSource, db *fakeDB, _ *Job) {
				db.insertErr = errors.New("null value in column violates not-null constraint")
			},
			failedIn: Loading,
			wantErr:  &TransferError{},
		},
		{
			name: "fetch error",
			setup: func(src *fakeSource, _ *fakeDB, _ *Job) {
				src.fetchErr = errors.New("connection reset")
			},
			failedIn: Fetching,
			wantErr:  &TransferError{},
		},
		{
			name: "missing destination table",
			setup: func(_ *fakeSource, _ *fakeDB, job *Job) {
				job.DestTable = "nope"
			},
			failedIn: Fetching,
			wantErr:  &TransferError{},
		},
		{
			name: "source column missing in destination",
			setup: func(src *fakeSource, _ *fakeDB, _ *Job) {
				src.columns = append(src.columns, driver.SourceColumn{Name: "Extra", NativeType: "int", DataType: "int"})
			},
			failedIn: Projecting,
			wantErr:  &TransferError{},
		},
		{
			name: "missing source table",
			setup: func(src *fakeSource, _ *fakeDB, _ *Job) {
				src.columns = nil
			},
			failedIn: Introspecting,
			wantErr:  &SchemaError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := parcelsSource()
			db := newFakeDB(parcelsMeta())
			db.rows = previous
			job := parcelsJob()
			tt.setup(src, db, &job)

			res := newTestPipeline(src, db, Options{}).Run(context.Background(), job)

			if res.State != Failed {
				t.Fatalf("state = %s, want failed", res.State)
			}
			if res.FailedIn != tt.failedIn {
				t.Errorf("FailedIn = %s, want %s", res.FailedIn, tt.failedIn)
			}
			switch tt.wantErr.(type) {
			case *TransferError:
				var te *TransferError
				if !errors.As(res.Err, &te) {
					t.Errorf("error %v is not a TransferError", res.Err)
				}
			case *SchemaError:
				var se *SchemaError
				if !errors.As(res.Err, &se) {
					t.Errorf("error %v is not a SchemaError", res.Err)
				}
			}
			if db.commits != 0 {
				t.Errorf("commits = %d, want 0", db.commits)
			}
			if fmt.Sprint(db.rows) != fmt.Sprint(previous) {
				t.Errorf("destination changed after failure: %v", db.rows)
			}
			if src.closed != 1 {
				t.Errorf("source closed %d times, want 1", src.closed)
			}
			if res.Message() == "" {
				t.Error("empty failure message")
			}
		})
	}
}

func TestPipelineSourceOpenFailure(t *testing.T) {
	db := newFakeDB(parcelsMeta())
	p := NewPipeline(parcelsMapper(),
		func(context.Context) (RowSource, error) { return nil, errors.New("login failed") },
		db.begin, Options{})

	res := p.Run(context.Background(), parcelsJob())
	var se *SchemaError
	if res.State != Failed || !errors.As(res.Err, &se) {
		t.Fatalf("state = %s, err = %v", res.State, res.Err)
	}
	if db.rollback != 0 {
		t.Errorf("no session should have been opened, rollbacks = %d", db.rollback)
	}
}

func TestPipelineSRIDLookupErrorDegrades(t *testing.T) {
	src := parcelsSource()
	src.lookupErr = errors.New("STSrid not supported")
	db := newFakeDB(parcelsMeta())

	res := newTestPipeline(src, db, Options{}).Run(context.Background(), parcelsJob())
	if !res.OK() {
		t.Fatalf("SRID lookup failure should not be fatal: %v", res.Err)
	}
	for _, col := range res.Columns {
		if col.SRID != nil {
			t.Errorf("column %s has SRID %d after failed lookup", col.Name, *col.SRID)
		}
	}
	if g := db.column("shape")[0].(geometry.Value); g.EWKT() != "POINT(1 2)" {
		t.Errorf("shape EWKT = %q", g.EWKT())
	}
}

func TestPipelineIndexErrorKeepsData(t *testing.T) {
	src := parcelsSource()
	db := newFakeDB(parcelsMeta())
	db.createErr = map[string]error{"centroid": errors.New("permission denied")}

	res := newTestPipeline(src, db, Options{IndexMethod: "spgist"}).Run(context.Background(), parcelsJob())
	if !res.OK() {
		t.Fatalf("index failure should not fail the run: %v", res.Err)
	}
	if len(res.IndexErrors) != 1 || res.IndexErrors[0].Column != "centroid" {
		t.Fatalf("IndexErrors = %v", res.IndexErrors)
	}
	if len(db.rows) != 2 {
		t.Errorf("rows = %d, want 2", len(db.rows))
	}
	if got := db.indexes["parcels_shape_spatial_index"]; got != "shape USING spgist" {
		t.Errorf("shape index = %q", got)
	}
	if _, ok := db.indexes["parcels_centroid_spatial_index"]; ok {
		t.Error("centroid index should not exist")
	}
}

func TestPipelineDropsStaleIndexes(t *testing.T) {
	db := newFakeDB(parcelsMeta())
	db.indexes["parcels_owner_spatial_index"] = "owner USING gist"

	res := newTestPipeline(parcelsSource(), db, Options{}).Run(context.Background(), parcelsJob())
	if !res.OK() {
		t.Fatalf("Run() failed: %v", res.Err)
	}
	if _, ok := db.indexes["parcels_owner_spatial_index"]; ok {
		t.Error("stale index on non-spatial column was not dropped")
	}
}

func TestPipelineCanceled(t *testing.T) {
	db := newFakeDB(parcelsMeta())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestPipeline(parcelsSource(), db, Options{}).Run(ctx, parcelsJob())
	if res.State != Failed {
		t.Fatalf("state = %s, want failed", res.State)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("error %v does not wrap context.Canceled", res.Err)
	}
	if db.commits != 0 {
		t.Error("canceled run committed")
	}
}

func TestPipelineTableTimeout(t *testing.T) {
	db := newFakeDB(parcelsMeta())

	res := newTestPipeline(parcelsSource(), db, Options{Timeout: time.Nanosecond}).Run(context.Background(), parcelsJob())
	if res.State != Failed {
		t.Fatalf("state = %s, want failed", res.State)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("error %v does not wrap context.DeadlineExceeded", res.Err)
	}
	if db.commits != 0 {
		t.Error("timed out run committed")
	}
}

func manyParcels(n int) *fakeSource {
	src := parcelsSource()
	src.rows = make([]driver.SourceRow, n)
	for i := range src.rows {
		src.rows[i] = driver.SourceRow{"ParcelID": int64(i + 1), "Owner": "x", "Shape": nil, "Centroid": nil}
	}
	return src
}

func TestPipelineProgressBatches(t *testing.T) {
	tests := []struct {
		name  string
		rows  int
		want  []int64
		track bool
	}{
		{name: "partial final batch", rows: 2500, want: []int64{1000, 1000, 500}, track: true},
		{name: "exact multiple", rows: 2000, want: []int64{1000, 1000}, track: true},
		{name: "no callback", rows: 2500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newFakeDB(parcelsMeta())
			var got []int64
			opts := Options{}
			if tt.track {
				opts.Progress = func(n int64) { got = append(got, n) }
			}

			res := newTestPipeline(manyParcels(tt.rows), db, opts).Run(context.Background(), parcelsJob())
			if !res.OK() {
				t.Fatalf("Run() state = %s, err = %v", res.State, res.Err)
			}
			if res.RowsRead != int64(tt.rows) || res.Inserted != int64(tt.rows) {
				t.Errorf("RowsRead = %d, Inserted = %d, want %d", res.RowsRead, res.Inserted, tt.rows)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("progress batches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildSnapshotUnmappedFallback(t *testing.T) {
	src := &fakeSource{columns: []driver.SourceColumn{
		{Name: "Path", NativeType: "hierarchyid", DataType: "hierarchyid"},
		{Name: "Owner", NativeType: "nvarchar(20)", DataType: "nvarchar"},
	}}

	snap, err := BuildSnapshot(context.Background(), src, parcelsMapper(), "dbo", "Tree")
	if err != nil {
		t.Fatalf("BuildSnapshot() error = %v", err)
	}
	if snap.Columns[0].MappedType != "hierarchyid" {
		t.Errorf("unmapped type = %q, want passthrough", snap.Columns[0].MappedType)
	}
	if snap.Columns[1].MappedType != "VARCHAR(20)" {
		t.Errorf("mapped type = %q", snap.Columns[1].MappedType)
	}
	if len(src.sampled) != 0 {
		t.Errorf("non-spatial columns sampled: %v", src.sampled)
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		Introspecting: "introspecting",
		Fetching:      "fetching",
		Projecting:    "projecting",
		Loading:       "loading",
		Indexing:      "indexing",
		Done:          "done",
		Failed:        "failed",
		State(99):     "state(99)",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

func TestJobNames(t *testing.T) {
	j := parcelsJob()
	if j.String() != "dbo.Parcels -> public.parcels" {
		t.Errorf("String() = %q", j.String())
	}
	j.SourceSchema = ""
	if j.Source() != "Parcels" {
		t.Errorf("Source() = %q", j.Source())
	}
}
