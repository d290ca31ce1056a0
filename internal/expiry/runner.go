package expiry

import (
	"context"
	"log/slog"
	"time"
)

// RunMetrics records operational metrics for a job run. Implementations
// must never fail the run; emission errors are their own problem to log.
type RunMetrics interface {
	RecordScan(ctx context.Context, duration time.Duration, candidates int, failedQueries int)
	RecordAlertsCreated(ctx context.Context, created int)
	RecordDispatch(ctx context.Context, success bool, alertCount int)
}

// RunReport summarizes one full run of the expiry check for job history,
// logs, and API responses.
type RunReport struct {
	ReferenceDate string         `json:"reference_date"`
	Candidates    int            `json:"candidates"`
	FailedQueries int            `json:"failed_queries"`
	Created       int            `json:"created"`
	Skipped       int            `json:"skipped"`
	Failed        int            `json:"failed"`
	Dispatch      DispatchResult `json:"dispatch"`
	// LockSkipped is true when another worker held the daily lock and
	// this run did nothing.
	LockSkipped bool `json:"lock_skipped,omitempty"`
}

// Items is the count recorded in job history: alerts newly created plus
// alerts that went out in the digest.
func (r *RunReport) Items() int {
	return r.Created + r.Dispatch.AlertCount
}

// Runner chains the three stages of a run: scan, classify, dispatch.
// Stages run strictly in sequence; a dispatch failure still leaves the
// scan and classification results committed.
type Runner struct {
	scanner    *Scanner
	classifier *Classifier
	dispatcher *Dispatcher
	metrics    RunMetrics
	logger     *slog.Logger
}

// NewRunner creates a new Runner. A nil metrics sink disables metric
// emission.
func NewRunner(scanner *Scanner, classifier *Classifier, dispatcher *Dispatcher, metrics RunMetrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		scanner:    scanner,
		classifier: classifier,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// RunOnce executes one full expiry check relative to the given reference
// time. Scan and classification failures degrade the run (logged,
// counted, skipped) rather than aborting it; only a dispatch failure
// is returned as an error, alongside the partial report.
func (r *Runner) RunOnce(ctx context.Context, reference time.Time) (*RunReport, error) {
	report := &RunReport{
		ReferenceDate: reference.UTC().Format("2006-01-02"),
	}

	scanStart := time.Now()
	scan := r.scanner.Scan(ctx, reference)
	report.Candidates = len(scan.Candidates)
	report.FailedQueries = scan.FailedQueries
	if r.metrics != nil {
		r.metrics.RecordScan(ctx, time.Since(scanStart), report.Candidates, report.FailedQueries)
	}

	classified := r.classifier.Process(ctx, scan.Candidates)
	report.Created = classified.Created
	report.Skipped = classified.Skipped
	report.Failed = classified.Failed
	if r.metrics != nil {
		r.metrics.RecordAlertsCreated(ctx, classified.Created)
	}

	dispatch, err := r.dispatcher.Dispatch(ctx, reference)
	report.Dispatch = dispatch
	if r.metrics != nil {
		r.metrics.RecordDispatch(ctx, err == nil, dispatch.AlertCount)
	}
	if err != nil {
		return report, err
	}

	r.logger.InfoContext(ctx, "expiry check run complete",
		"reference_date", report.ReferenceDate,
		"candidates", report.Candidates,
		"created", report.Created,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"dispatched", report.Dispatch.AlertCount,
	)

	return report, nil
}
