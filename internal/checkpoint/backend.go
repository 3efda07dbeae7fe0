package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/johndauphine/mssql-pg-geocopy/internal/driver"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPartial = "partial"
)

// StateBackend defines the interface for run history persistence.
type StateBackend interface {
	CreateRun(id, configPath string, tables int) error
	RecordTable(runID string, r TableResult) error
	CompleteRun(id string, status string, errorMsg string) error

	GetAllRuns(limit int) ([]Run, error)
	GetRunByID(runID string) (*Run, error)
	GetTableResults(runID string) ([]TableResult, error)

	Close() error
}

// Ensure State implements StateBackend
var _ StateBackend = (*State)(nil)

// Run is one invocation of the table list.
type Run struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	ConfigPath  string     `json:"config_path"`
	Tables      int        `json:"tables"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration returns the run's wall time, or time since start while running.
func (r Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// TableResult is the recorded outcome of one table.
type TableResult struct {
	Source      string                    `json:"source"`
	Dest        string                    `json:"dest"`
	Status      string                    `json:"status"`
	Rows        int64                     `json:"rows"`
	IndexErrors int                       `json:"index_errors"`
	Duration    time.Duration             `json:"duration"`
	Error       string                    `json:"error,omitempty"`
	Columns     []driver.ColumnDescriptor `json:"columns,omitempty"`
	FinishedAt  time.Time                 `json:"finished_at"`
}

// ColumnsJSON returns the column descriptors as a JSON string for storage.
func (r TableResult) ColumnsJSON() string {
	if len(r.Columns) == 0 {
		return "[]"
	}
	b, err := json.Marshal(r.Columns)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// ParseColumns parses a JSON string into column descriptors.
func ParseColumns(s string) []driver.ColumnDescriptor {
	var cols []driver.ColumnDescriptor
	if err := json.Unmarshal([]byte(s), &cols); err != nil {
		return nil
	}
	return cols
}
