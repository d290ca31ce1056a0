// Package expiry implements the scheduled expiry-check job: scanning the
// shared fleet/HR tables for records approaching expiry, persisting
// deduplicated alerts classified by urgency, and dispatching one batched
// email digest per run.
//
// The job is driven by an external daily trigger (EventBridge, the ops
// API, or the CLI runner) and is idempotent: repeated same-day runs
// create no duplicate alerts and send no duplicate mail.
package expiry

import (
	"context"
	"log/slog"
	"time"

	"fleetops/internal/types"
)

// DefaultLookaheadDays is the window set used when configuration does not
// override it: one month out, mid-month, and final week.
var DefaultLookaheadDays = []int{30, 15, 7}

// ScanSource defines the database operations needed by the Scanner.
// Using an interface allows clean testing without database dependencies.
// Each method returns candidates whose expiry date equals the given
// calendar date exactly.
type ScanSource interface {
	ListVehicleDocumentsExpiringOn(ctx context.Context, on time.Time) ([]types.ExpiryCandidate, error)
	ListVisasExpiringOn(ctx context.Context, on time.Time) ([]types.ExpiryCandidate, error)
	ListEmployeeLicensesExpiringOn(ctx context.Context, on time.Time) ([]types.ExpiryCandidate, error)
	ListEmployeePassportsExpiringOn(ctx context.Context, on time.Time) ([]types.ExpiryCandidate, error)
}

// ScanResult summarizes one full sweep across all windows and record
// variants.
type ScanResult struct {
	// Candidates holds every record found, stamped with the window that
	// matched it.
	Candidates []types.ExpiryCandidate
	// FailedQueries counts (window, variant) pairs whose read failed and
	// was skipped. Failures never abort the sweep.
	FailedQueries int
}

// Scanner sweeps the record tables for expiry dates landing exactly on
// each configured lookahead window.
type Scanner struct {
	source  ScanSource
	windows []int
	logger  *slog.Logger
}

// NewScanner creates a new Scanner. An empty window list falls back to
// DefaultLookaheadDays.
func NewScanner(source ScanSource, windows []int, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if len(windows) == 0 {
		windows = DefaultLookaheadDays
	}
	return &Scanner{
		source:  source,
		windows: windows,
		logger:  logger,
	}
}

// Scan sweeps every (window, variant) pair relative to the given
// reference time. The reference is truncated to its UTC calendar date; a
// record matches window W when its expiry date equals that date plus
// exactly W days.
//
// A read failure on one pair is logged and skipped; all other pairs still
// run. Candidates carry DaysBefore stamped from the window that matched.
func (s *Scanner) Scan(ctx context.Context, reference time.Time) ScanResult {
	today := truncateToDate(reference)

	variants := []struct {
		name string
		list func(ctx context.Context, on time.Time) ([]types.ExpiryCandidate, error)
	}{
		{"vehicle_documents", s.source.ListVehicleDocumentsExpiringOn},
		{"visas", s.source.ListVisasExpiringOn},
		{"employee_licenses", s.source.ListEmployeeLicensesExpiringOn},
		{"employee_passports", s.source.ListEmployeePassportsExpiringOn},
	}

	var result ScanResult
	for _, window := range s.windows {
		target := today.AddDate(0, 0, window)

		for _, v := range variants {
			found, err := v.list(ctx, target)
			if err != nil {
				s.logger.ErrorContext(ctx, "expiry scan query failed, skipping pair",
					"variant", v.name,
					"window_days", window,
					"target_date", target.Format("2006-01-02"),
					"error", err,
				)
				result.FailedQueries++
				continue
			}

			for i := range found {
				found[i].DaysBefore = window
			}
			result.Candidates = append(result.Candidates, found...)
		}
	}

	s.logger.InfoContext(ctx, "expiry scan complete",
		"windows", s.windows,
		"candidates", len(result.Candidates),
		"failed_queries", result.FailedQueries,
	)

	return result
}

// truncateToDate strips the time-of-day component, keeping the UTC
// calendar date at midnight.
func truncateToDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
