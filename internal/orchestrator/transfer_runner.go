// Package orchestrator runs table lists: it fans tables out over a worker
// pool, records outcomes in the run history and reruns on a schedule.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/johndauphine/mssql-pg-geocopy/internal/checkpoint"
	"github.com/johndauphine/mssql-pg-geocopy/internal/logging"
	"github.com/johndauphine/mssql-pg-geocopy/internal/progress"
	"github.com/johndauphine/mssql-pg-geocopy/internal/transfer"
)

// TableRunner copies one table. *transfer.Pipeline implements it.
type TableRunner interface {
	Run(ctx context.Context, job transfer.Job) transfer.Result
}

// TransferRunner executes transfer jobs with a worker pool.
type TransferRunner struct {
	tables     TableRunner
	state      checkpoint.StateBackend // nil disables history
	workers    int
	progress   *progress.Tracker // nil disables progress output
	configPath string
}

// NewTransferRunner creates a new TransferRunner.
func NewTransferRunner(
	tables TableRunner,
	state checkpoint.StateBackend,
	workers int,
	prog *progress.Tracker,
	configPath string,
) *TransferRunner {
	if workers < 1 {
		workers = 1
	}
	return &TransferRunner{
		tables:     tables,
		state:      state,
		workers:    workers,
		progress:   prog,
		configPath: configPath,
	}
}

// RunResult contains the outcome of a transfer run.
type RunResult struct {
	RunID    string
	Results  []transfer.Result // in job order
	Duration time.Duration
}

// Failed returns the results that did not reach Done.
func (r *RunResult) Failed() []transfer.Result {
	var out []transfer.Result
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// OK reports whether every table succeeded.
func (r *RunResult) OK() bool {
	return len(r.Failed()) == 0
}

// Status returns the run status recorded in the history.
func (r *RunResult) Status() string {
	failed := len(r.Failed())
	switch {
	case failed == 0:
		return checkpoint.StatusSuccess
	case failed == len(r.Results):
		return checkpoint.StatusFailed
	default:
		return checkpoint.StatusPartial
	}
}

// Run executes the jobs and returns one Result per job. A failing table never
// stops the others; the error return is reserved for history failures that
// prevent the run from being recorded at all.
func (r *TransferRunner) Run(ctx context.Context, jobs []transfer.Job) (*RunResult, error) {
	start := time.Now()
	runID := uuid.NewString()

	if r.state != nil {
		if err := r.state.CreateRun(runID, r.configPath, len(jobs)); err != nil {
			return nil, fmt.Errorf("recording run: %w", err)
		}
	}
	if r.progress != nil {
		r.progress.SetTotal(len(jobs))
	}

	logging.Info("Run %s: copying %d table(s) with %d worker(s)", runID, len(jobs), r.workers)

	results := r.executeJobs(ctx, runID, jobs)

	if r.progress != nil {
		r.progress.Finish()
	}

	result := &RunResult{
		RunID:    runID,
		Results:  results,
		Duration: time.Since(start),
	}

	failed := result.Failed()
	for _, f := range failed {
		logging.Error("%s", f.Message())
	}
	logging.Info("Run %s finished in %s: %d succeeded, %d failed",
		runID, result.Duration.Round(time.Millisecond), len(results)-len(failed), len(failed))

	if r.state != nil {
		msg := ""
		if len(failed) > 0 {
			msg = fmt.Sprintf("%d of %d tables failed", len(failed), len(results))
		}
		if err := r.state.CompleteRun(runID, result.Status(), msg); err != nil {
			logging.Warn("Failed to complete run %s in history: %v", runID, err)
		}
	}
	return result, nil
}

// executeJobs runs jobs with a worker pool. Jobs not started because the
// context ended are reported as failed with the context error.
func (r *TransferRunner) executeJobs(ctx context.Context, runID string, jobs []transfer.Job) []transfer.Result {
	results := make([]transfer.Result, len(jobs))
	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	record := func(i int, res transfer.Result) {
		mu.Lock()
		results[i] = res
		mu.Unlock()
		r.record(runID, res)
	}

	for i, job := range jobs {
		select {
		case <-ctx.Done():
			record(i, canceledResult(job, ctx.Err()))
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, j transfer.Job) {
			defer wg.Done()
			defer func() { <-sem }()

			record(i, r.executeJob(ctx, j))
		}(i, job)
	}

	wg.Wait()
	return results
}

// executeJob runs a single table, turning a panic into a failed Result.
func (r *TransferRunner) executeJob(ctx context.Context, j transfer.Job) (res transfer.Result) {
	defer func() {
		if p := recover(); p != nil {
			logging.Error("Table %s panicked: %v", j.Source(), p)
			res = transfer.Result{
				Job:      j,
				State:    transfer.Failed,
				FailedIn: transfer.Pending,
				Err:      &transfer.TransferError{Table: j.Source(), Stage: transfer.Pending, Err: fmt.Errorf("panic: %v", p)},
			}
		}
	}()

	logging.Debug("Starting %s", j)
	return r.tables.Run(ctx, j)
}

func canceledResult(j transfer.Job, err error) transfer.Result {
	return transfer.Result{
		Job:      j,
		State:    transfer.Failed,
		FailedIn: transfer.Pending,
		Err:      &transfer.TransferError{Table: j.Source(), Stage: transfer.Pending, Err: err},
	}
}

// record updates progress and the run history for one finished table.
func (r *TransferRunner) record(runID string, res transfer.Result) {
	if r.progress != nil {
		r.progress.TableDone(res.OK())
	}
	if r.state == nil {
		return
	}

	tr := checkpoint.TableResult{
		Source:      res.Job.Source(),
		Dest:        res.Job.Dest(),
		Status:      checkpoint.StatusSuccess,
		Rows:        res.Inserted,
		IndexErrors: len(res.IndexErrors),
		Duration:    res.Duration,
		Columns:     res.Columns,
		FinishedAt:  time.Now(),
	}
	if !res.OK() {
		tr.Status = checkpoint.StatusFailed
		if res.Err != nil {
			tr.Error = res.Err.Error()
		}
	}
	if err := r.state.RecordTable(runID, tr); err != nil {
		logging.Warn("Failed to record %s in history: %v", res.Job.Source(), err)
	}
}
