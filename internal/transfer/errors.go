package transfer

import "fmt"

// SchemaError reports that source table or column metadata is unavailable.
type SchemaError struct {
	Table string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema of %s: %v", e.Table, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// GeometryProbeError reports a failed SRID lookup. It is never fatal.
type GeometryProbeError struct {
	Table  string
	Column string
	Err    error
}

func (e *GeometryProbeError) Error() string {
	return fmt.Sprintf("looking up SRID of %s.%s: %v", e.Table, e.Column, e.Err)
}

func (e *GeometryProbeError) Unwrap() error { return e.Err }

// TransferError reports a failure while fetching, projecting or loading.
type TransferError struct {
	Table string
	Stage State
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s failed while %s: %v", e.Table, e.Stage, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// IndexError reports a failed spatial index drop or create for one column.
type IndexError struct {
	Table  string
	Column string
	Index  string
	Err    error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %s on %s(%s): %v", e.Index, e.Table, e.Column, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }
