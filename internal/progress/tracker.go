package progress

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker tracks transfer progress across tables. Rows are counted as they
// are fetched; the bar total is the number of tables.
type Tracker struct {
	bar       *progressbar.ProgressBar
	out       io.Writer
	tables    int64
	done      atomic.Int64
	failed    atomic.Int64
	rows      atomic.Int64
	startTime time.Time
}

// New creates a new progress tracker writing to stderr.
func New() *Tracker {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter creates a tracker rendering to w.
func NewWithWriter(w io.Writer) *Tracker {
	return &Tracker{
		out:       w,
		startTime: time.Now(),
	}
}

// SetTotal sets the number of tables in the run.
func (t *Tracker) SetTotal(tables int) {
	t.tables = int64(tables)
	t.bar = progressbar.NewOptions64(
		t.tables,
		progressbar.OptionSetWriter(t.out),
		progressbar.OptionSetDescription("Copying tables"),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// AddRows increments the row counter. Safe for concurrent use.
func (t *Tracker) AddRows(n int64) {
	total := t.rows.Add(n)
	if t.bar != nil {
		t.bar.Describe(fmt.Sprintf("Copying tables (%d rows)", total))
	}
}

// TableDone records a finished table.
func (t *Tracker) TableDone(ok bool) {
	t.done.Add(1)
	if !ok {
		t.failed.Add(1)
	}
	if t.bar != nil {
		t.bar.Add(1)
	}
}

// Rows returns the number of rows read so far.
func (t *Tracker) Rows() int64 {
	return t.rows.Load()
}

// Tables returns the number of finished and failed tables.
func (t *Tracker) Tables() (done, failed int64) {
	return t.done.Load(), t.failed.Load()
}

// Finish marks the progress as complete and prints a summary line.
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
	}

	elapsed := time.Since(t.startTime)
	rowsPerSec := 0.0
	if elapsed > 0 {
		rowsPerSec = float64(t.rows.Load()) / elapsed.Seconds()
	}

	fmt.Fprintln(t.out)
	fmt.Fprintf(t.out, "Copied %d rows across %d tables (%d failed) in %s (%.0f rows/sec)\n",
		t.rows.Load(), t.done.Load(), t.failed.Load(), elapsed.Round(time.Millisecond), rowsPerSec)
}
