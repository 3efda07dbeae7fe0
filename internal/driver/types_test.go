package driver

import (
	"testing"
)

func intPtr(v int) *int { return &v }

func TestColumnDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		col     ColumnDescriptor
		wantErr bool
	}{
		{
			name: "scalar without SRID",
			col:  ColumnDescriptor{Name: "id", MappedType: "INT"},
		},
		{
			name: "spatial with SRID",
			col:  ColumnDescriptor{Name: "shape", MappedType: "GEOMETRY", Spatial: true, SRID: intPtr(4326)},
		},
		{
			name: "spatial without SRID (empty table)",
			col:  ColumnDescriptor{Name: "shape", MappedType: "GEOMETRY", Spatial: true},
		},
		{
			name:    "scalar with SRID",
			col:     ColumnDescriptor{Name: "name", MappedType: "VARCHAR", SRID: intPtr(4326)},
			wantErr: true,
		},
		{
			name:    "no name",
			col:     ColumnDescriptor{MappedType: "VARCHAR"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.col.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSRIDString(t *testing.T) {
	if got := (ColumnDescriptor{Name: "a"}).SRIDString(); got != "none" {
		t.Errorf("SRIDString() = %q, want none", got)
	}
	if got := (ColumnDescriptor{Name: "a", Spatial: true, SRID: intPtr(28992)}).SRIDString(); got != "28992" {
		t.Errorf("SRIDString() = %q, want 28992", got)
	}
}

func TestTableSnapshotSpatial(t *testing.T) {
	snap := TableSnapshot{
		Schema: "dbo",
		Table:  "Parcels",
		Columns: []ColumnDescriptor{
			{Name: "ParcelID", MappedType: "INT"},
			{Name: "Shape", MappedType: "GEOMETRY", Spatial: true, SRID: intPtr(4326)},
			{Name: "Owner", MappedType: "VARCHAR(50)"},
			{Name: "Centroid", MappedType: "GEOMETRY", Spatial: true},
		},
	}

	if got := snap.FullName(); got != "dbo.Parcels" {
		t.Errorf("FullName() = %q", got)
	}

	spatial := snap.SpatialColumns()
	if len(spatial) != 2 || spatial[0].Name != "Shape" || spatial[1].Name != "Centroid" {
		t.Fatalf("SpatialColumns() = %+v", spatial)
	}

	specs := snap.IndexSpecs("public", "parcels")
	want := []string{"parcels_shape_spatial_index", "parcels_centroid_spatial_index"}
	if len(specs) != len(want) {
		t.Fatalf("IndexSpecs() returned %d specs, want %d", len(specs), len(want))
	}
	for i, s := range specs {
		if s.Name() != want[i] {
			t.Errorf("spec %d Name() = %q, want %q", i, s.Name(), want[i])
		}
		if s.Schema != "public" {
			t.Errorf("spec %d Schema = %q", i, s.Schema)
		}
	}
}

func TestTableSnapshotNoSpatial(t *testing.T) {
	snap := TableSnapshot{Table: "Owners", Columns: []ColumnDescriptor{{Name: "id"}}}
	if specs := snap.IndexSpecs("public", "owners"); len(specs) != 0 {
		t.Errorf("IndexSpecs() = %v, want none", specs)
	}
	if got := snap.FullName(); got != "Owners" {
		t.Errorf("FullName() = %q", got)
	}
	if names := snap.ColumnNames(); len(names) != 1 || names[0] != "id" {
		t.Errorf("ColumnNames() = %v", names)
	}
}

func TestTargetRowKeepsInsertionOrder(t *testing.T) {
	row := NewTargetRow()
	row.Set("zeta", 1)
	row.Set("alpha", 2)
	row.Set("mid", 3)

	var keys []string
	for p := row.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	want := []string{"zeta", "alpha", "mid"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		ident   string
		wantErr bool
	}{
		{"simple", "Parcels", false},
		{"underscore start", "_tmp", false},
		{"space", "Land Use", false},
		{"temp table", "tmp#1", false},
		{"empty", "", true},
		{"digit start", "1abc", true},
		{"semicolon", "a;DROP TABLE x", true},
		{"quote", "a'b", true},
		{"too long", string(make([]byte, 129)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.ident)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.ident, err, tt.wantErr)
			}
		})
	}
}
