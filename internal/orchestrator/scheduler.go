package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/johndauphine/mssql-pg-geocopy/internal/logging"
	"github.com/robfig/cron/v3"
)

// RunFunc performs one run of the table list. trigger describes what
// started it ("startup", "cron", "watch").
type RunFunc func(ctx context.Context, trigger string) error

// Scheduler reruns the table list on a cron expression and/or when the
// table list file changes. Overlapping triggers are skipped.
type Scheduler struct {
	run        RunFunc
	cronExpr   string
	watchPath  string
	RunOnStart bool
	Debounce   time.Duration

	running sync.Mutex
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. Either cronExpr or watchPath must be set.
func NewScheduler(run RunFunc, cronExpr, watchPath string) *Scheduler {
	return &Scheduler{
		run:       run,
		cronExpr:  cronExpr,
		watchPath: watchPath,
		Debounce:  500 * time.Millisecond,
	}
}

// Trigger starts a run unless one is in progress. It blocks until the run
// finishes and reports whether it ran.
func (s *Scheduler) Trigger(ctx context.Context, trigger string) bool {
	if !s.running.TryLock() {
		logging.Warn("Skipping %s run: previous run still in progress", trigger)
		return false
	}
	defer s.running.Unlock()

	logging.Info("Starting scheduled run (%s)", trigger)
	if err := s.run(ctx, trigger); err != nil {
		logging.Error("Scheduled run (%s) failed: %v", trigger, err)
	}
	return true
}

// Start runs the scheduler until ctx is canceled, then waits for an
// in-flight run to finish.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cronExpr == "" && s.watchPath == "" {
		return errors.New("nothing to schedule: set a cron expression or a watched table list")
	}

	if s.cronExpr != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.cronExpr, func() { s.Trigger(ctx, "cron") }); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.cronExpr, err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		logging.Info("Scheduled runs on %q", s.cronExpr)
	}

	if s.watchPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("creating watcher: %w", err)
		}
		defer watcher.Close()

		abs, err := filepath.Abs(s.watchPath)
		if err != nil {
			return fmt.Errorf("bad watch path %q: %w", s.watchPath, err)
		}
		// Editors replace files on save, so watch the directory.
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
		}
		s.wg.Add(1)
		go s.watch(ctx, watcher, abs)
		logging.Info("Watching %s for changes", abs)
	}

	if s.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Trigger(ctx, "startup")
		}()
	}

	<-ctx.Done()
	s.wg.Wait()
	return nil
}

func (s *Scheduler) watch(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer s.wg.Done()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil && timer.Stop() {
			s.wg.Done()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if abs, _ := filepath.Abs(event.Name); abs != path {
				continue
			}
			mu.Lock()
			// A stopped timer never runs its func, so release its slot here.
			if timer != nil && timer.Stop() {
				s.wg.Done()
			}
			s.wg.Add(1)
			timer = time.AfterFunc(s.Debounce, func() {
				defer s.wg.Done()
				if ctx.Err() != nil {
					return
				}
				logging.Info("Table list %s changed", path)
				s.Trigger(ctx, "watch")
			})
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Watcher error: %v", err)
		}
	}
}
