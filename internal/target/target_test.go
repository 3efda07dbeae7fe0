package target

import (
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/mssql-pg-geocopy/internal/dbconfig"
	"github.com/johndauphine/mssql-pg-geocopy/internal/geometry"
)

func parcelsMeta() *TableMeta {
	return &TableMeta{
		Schema: "public",
		Name:   "parcels",
		Columns: []ColumnMeta{
			{Name: "parcelid", UDTName: "int4", PrimaryKey: true},
			{Name: "owner", UDTName: "varchar", Nullable: true},
			{Name: "shape", UDTName: "geometry", Nullable: true},
			{Name: "area", UDTName: "geography", Nullable: true},
		},
	}
}

func TestBuildInsertPlaceholders(t *testing.T) {
	meta := parcelsMeta()
	rows := [][]any{
		{1, "Ann", geometry.MustParse("POINT(1 2)", 4326), nil},
		{2, "Bob", nil, geometry.MustParse("POINT(3 4)", 4326)},
	}

	stmts, err := BuildInsert(meta, []string{"parcelid", "owner", "shape", "area"}, rows, 0)
	if err != nil {
		t.Fatalf("BuildInsert() error = %v", err)
	}
	if len(stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(stmts))
	}

	want := `INSERT INTO "public"."parcels" ("parcelid", "owner", "shape", "area") VALUES ` +
		`($1, $2, ST_GeomFromEWKT($3), ST_GeogFromText($4)), ` +
		`($5, $6, ST_GeomFromEWKT($7), ST_GeogFromText($8))`
	if stmts[0].SQL != want {
		t.Errorf("SQL mismatch\n got: %s\nwant: %s", stmts[0].SQL, want)
	}
	if len(stmts[0].Args) != 8 || stmts[0].Rows != 2 {
		t.Fatalf("args = %d rows = %d", len(stmts[0].Args), stmts[0].Rows)
	}
	if stmts[0].Args[2] != "SRID=4326;POINT(1 2)" {
		t.Errorf("geometry arg = %#v", stmts[0].Args[2])
	}
	if stmts[0].Args[6] != nil {
		t.Errorf("NULL geometry arg = %#v", stmts[0].Args[6])
	}
}

func TestBuildInsertChunking(t *testing.T) {
	meta := parcelsMeta()
	cols := []string{"parcelid", "owner"}

	rows := make([][]any, 2500)
	for i := range rows {
		rows[i] = []any{i, "x"}
	}

	stmts, err := BuildInsert(meta, cols, rows, 1000)
	if err != nil {
		t.Fatalf("BuildInsert() error = %v", err)
	}
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(stmts))
	}
	wantRows := []int{1000, 1000, 500}
	for i, st := range stmts {
		if st.Rows != wantRows[i] {
			t.Errorf("statement %d rows = %d, want %d", i, st.Rows, wantRows[i])
		}
		// numbering restarts per statement
		if !strings.Contains(st.SQL, "VALUES ($1, $2), ($3, $4)") {
			t.Errorf("statement %d placeholders do not restart at $1", i)
		}
	}

	// Without a row cap the parameter limit decides: 65535/2 rows per statement.
	big := make([][]any, 40000)
	for i := range big {
		big[i] = []any{i, "y"}
	}
	stmts, err = BuildInsert(meta, cols, big, 0)
	if err != nil {
		t.Fatalf("BuildInsert() error = %v", err)
	}
	if len(stmts) != 2 || stmts[0].Rows != MaxBindParams/2 {
		t.Errorf("got %d statements, first has %d rows", len(stmts), stmts[0].Rows)
	}
	for _, st := range stmts {
		if len(st.Args) > MaxBindParams {
			t.Errorf("statement has %d args, exceeds limit", len(st.Args))
		}
	}
}

func TestBuildInsertErrors(t *testing.T) {
	meta := parcelsMeta()

	if _, err := BuildInsert(meta, nil, [][]any{{1}}, 0); err == nil {
		t.Error("expected error for no columns")
	}
	if _, err := BuildInsert(meta, []string{"missing"}, [][]any{{1}}, 0); err == nil {
		t.Error("expected error for unknown column")
	}
	if _, err := BuildInsert(meta, []string{"parcelid", "owner"}, [][]any{{1}}, 0); err == nil {
		t.Error("expected error for short row")
	}
	stmts, err := BuildInsert(meta, []string{"parcelid"}, nil, 0)
	if err != nil || len(stmts) != 0 {
		t.Errorf("empty rows: stmts=%d err=%v", len(stmts), err)
	}
}

func TestTableMeta(t *testing.T) {
	meta := parcelsMeta()

	if !meta.IsPrimaryKey("ParcelID") {
		t.Error("ParcelID should be primary key (case-insensitive)")
	}
	if meta.IsPrimaryKey("owner") || meta.IsPrimaryKey("nope") {
		t.Error("non-key columns reported as primary key")
	}
	if pk := meta.PrimaryKey(); len(pk) != 1 || pk[0] != "parcelid" {
		t.Errorf("PrimaryKey() = %v", pk)
	}
	if c, ok := meta.Column("SHAPE"); !ok || !c.IsGeometry() {
		t.Errorf("Column(SHAPE) = %+v, %v", c, ok)
	}
	if meta.FullName() != "public.parcels" {
		t.Errorf("FullName() = %q", meta.FullName())
	}
}

func TestQuoting(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{quotePGIdent("parcels"), `"parcels"`},
		{quotePGIdent(`we"ird`), `"we""ird"`},
		{qualifyPGTable("gis", "Roads"), `"gis"."Roads"`},
		{qualifyPGTable("", "roads"), `"roads"`},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %s, want %s", tt.got, tt.want)
		}
	}
}

func TestBuildDSN(t *testing.T) {
	cfg := &dbconfig.TargetConfig{
		Host:           "pg.local",
		Port:           5433,
		Database:       "gis",
		User:           "loader",
		Password:       "p@ss/word",
		SSLMode:        "require",
		ConnectTimeout: 10 * time.Second,
	}
	dsn := BuildDSN(cfg)

	for _, want := range []string{"postgres://loader:", "@pg.local:5433/gis", "sslmode=require", "connect_timeout=10"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %q", dsn, want)
		}
	}
	if strings.Contains(dsn, "p@ss/word") {
		t.Errorf("password not escaped in %q", dsn)
	}
}

func TestIndexMethods(t *testing.T) {
	for _, m := range []string{"gist", "spgist", "brin"} {
		if !IndexMethods[m] {
			t.Errorf("method %s should be supported", m)
		}
	}
	if IndexMethods["btree"] {
		t.Error("btree is not a spatial method")
	}
}
