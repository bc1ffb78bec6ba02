// Package backup snapshots the active session on a cron schedule.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule backs up every five minutes.
const DefaultSchedule = "*/5 * * * *"

// SessionBackuper is the subset of sessionctx.Manager the worker drives.
type SessionBackuper interface {
	BackupSessionContext(ctx context.Context, sessionID string) bool
	EndSession(ctx context.Context, sessionID string) bool
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures a Worker. Zero values select defaults.
type Options struct {
	// Schedule is a standard five-field cron expression or descriptor
	// such as "@every 90s". Defaults to DefaultSchedule.
	Schedule string
	Clock    Clock
	Logger   *slog.Logger
	// After replaces time.After in tests.
	After func(time.Duration) <-chan time.Time
}

// Status summarises the worker's activity.
type Status struct {
	SessionID string    `json:"session_id"`
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastOK    bool      `json:"last_ok"`
	NextRun   time.Time `json:"next_run,omitempty"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
}

// Worker periodically backs up one session.
type Worker struct {
	sessions  SessionBackuper
	sessionID string
	spec      string
	schedule  cron.Schedule
	clock     Clock
	after     func(time.Duration) <-chan time.Time
	logger    *slog.Logger

	mu     sync.Mutex
	status Status
}

// NewWorker creates a Worker for sessionID. It fails when the schedule does
// not parse.
func NewWorker(sessions SessionBackuper, sessionID string, opts Options) (*Worker, error) {
	spec := opts.Schedule
	if spec == "" {
		spec = DefaultSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing backup schedule %q: %w", spec, err)
	}
	w := &Worker{
		sessions:  sessions,
		sessionID: sessionID,
		spec:      spec,
		schedule:  schedule,
		clock:     opts.Clock,
		after:     opts.After,
		logger:    opts.Logger,
	}
	if w.clock == nil {
		w.clock = realClock{}
	}
	if w.after == nil {
		w.after = time.After
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.status = Status{SessionID: sessionID, Schedule: spec}
	return w, nil
}

// Run backs up the session at every scheduled time until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		now := w.clock.Now()
		next := w.schedule.Next(now)
		w.mu.Lock()
		w.status.NextRun = next
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-w.after(next.Sub(now)):
		}
		w.RunOnce(ctx)
	}
}

// RunOnce performs a single backup and records the outcome.
func (w *Worker) RunOnce(ctx context.Context) bool {
	ok := w.sessions.BackupSessionContext(ctx, w.sessionID)

	w.mu.Lock()
	w.status.LastRun = w.clock.Now()
	w.status.LastOK = ok
	w.status.Runs++
	if !ok {
		w.status.Failures++
	}
	w.mu.Unlock()

	if ok {
		w.logger.Debug("session backed up", "session_id", w.sessionID)
	} else {
		w.logger.Warn("session backup failed", "session_id", w.sessionID)
	}
	return ok
}

// Shutdown takes a final backup and marks the session ended.
func (w *Worker) Shutdown(ctx context.Context) error {
	backedUp := w.RunOnce(ctx)
	ended := w.sessions.EndSession(ctx, w.sessionID)
	if !ended {
		return fmt.Errorf("ending session %s", w.sessionID)
	}
	if !backedUp {
		return fmt.Errorf("final backup of session %s", w.sessionID)
	}
	w.logger.Info("session closed", "session_id", w.sessionID)
	return nil
}

// Status returns a copy of the worker's current status.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}
