package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// JobTypeExpiryCheck is the job_history type and lock namespace for the
// daily expiry check.
const JobTypeExpiryCheck = "expiry_check"

// DefaultLockTTL bounds how long a crashed run can block the daily lock.
const DefaultLockTTL = 15 * time.Minute

// LockStore acquires the advisory job lock.
type LockStore interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// HistoryStore records run start/finish rows for operational visibility.
type HistoryStore interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}

// Job wraps the Runner with the advisory lock and job history bookkeeping
// shared by every trigger surface (EventBridge, ops API, CLI).
type Job struct {
	runner  *Runner
	locks   LockStore
	history HistoryStore
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewJob creates a new Job. A non-positive lockTTL falls back to
// DefaultLockTTL.
func NewJob(runner *Runner, locks LockStore, history HistoryStore, lockTTL time.Duration, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Job{
		runner:  runner,
		locks:   locks,
		history: history,
		lockTTL: lockTTL,
		logger:  logger,
	}
}

// Run executes one locked, recorded expiry check. The lock ID embeds the
// reference date, so a duplicate same-day trigger returns a report with
// LockSkipped set and touches nothing. Even past a lost lock the run
// would be harmless; the alert dedup key is the real idempotency guard.
func (j *Job) Run(ctx context.Context, reference time.Time) (*RunReport, error) {
	lockID := fmt.Sprintf("%s:%s", JobTypeExpiryCheck, reference.UTC().Format("2006-01-02"))
	workerID := uuid.NewString()

	acquired, err := j.locks.Acquire(ctx, lockID, workerID, j.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		j.logger.InfoContext(ctx, "job lock held by another worker, skipping run",
			"lock_id", lockID,
			"worker_id", workerID,
		)
		return &RunReport{
			ReferenceDate: reference.UTC().Format("2006-01-02"),
			LockSkipped:   true,
		}, nil
	}

	histID, err := j.history.Start(ctx, JobTypeExpiryCheck)
	if err != nil {
		return nil, fmt.Errorf("starting job history: %w", err)
	}

	report, runErr := j.runner.RunOnce(ctx, reference)

	status := "success"
	items := 0
	if report != nil {
		items = report.Items()
	}
	if runErr != nil {
		status = "failed"
	}
	if err := j.history.Finish(ctx, histID, status, items, runErr); err != nil {
		j.logger.ErrorContext(ctx, "failed to finish job history entry",
			"history_id", histID,
			"error", err,
		)
	}

	return report, runErr
}
