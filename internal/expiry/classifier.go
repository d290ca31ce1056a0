package expiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"fleetops/internal/types"
)

// alertIDPrefix namespaces alert IDs in the shared database.
const alertIDPrefix = "alrt_"

// dueDateDisplayLayout is how expiry dates are rendered in alert messages.
const dueDateDisplayLayout = "02 Jan 2006"

// AlertStore defines the database operations needed by the Classifier.
type AlertStore interface {
	// Exists reports whether an alert already covers the dedup key
	// (type, subject, days_before).
	Exists(ctx context.Context, alertType types.AlertType, subject types.SubjectRef, daysBefore int) (bool, error)
	// Create inserts a new alert. A duplicate dedup key must come back
	// as an AppError with ErrCodeConflictDuplicateAlert.
	Create(ctx context.Context, alert *types.Alert) error
}

// PriorityForWindow maps the number of days remaining until expiry to an
// urgency class: urgent within a week, high within roughly two weeks,
// medium beyond that.
func PriorityForWindow(daysBefore int) types.Priority {
	switch {
	case daysBefore <= 7:
		return types.PriorityUrgent
	case daysBefore <= 15:
		return types.PriorityHigh
	default:
		return types.PriorityMedium
	}
}

// ClassifyResult summarizes one classification pass over a candidate set.
type ClassifyResult struct {
	// Created counts alerts newly inserted this pass.
	Created int
	// Skipped counts candidates already covered by an existing alert.
	Skipped int
	// Failed counts candidates whose persistence failed; they will be
	// retried naturally on the next run.
	Failed int
}

// Classifier turns scan candidates into persisted alerts, deduplicating
// against prior runs and assigning priority from the matching window.
type Classifier struct {
	store  AlertStore
	logger *slog.Logger
}

// NewClassifier creates a new Classifier.
func NewClassifier(store AlertStore, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		store:  store,
		logger: logger,
	}
}

// Process walks the candidates sequentially. Each candidate is checked
// against the dedup key and inserted if new; a failure on one candidate
// is logged and does not block the rest. Re-running over the same
// candidates is a no-op.
func (c *Classifier) Process(ctx context.Context, candidates []types.ExpiryCandidate) ClassifyResult {
	var result ClassifyResult

	for _, cand := range candidates {
		exists, err := c.store.Exists(ctx, cand.Type, cand.Subject, cand.DaysBefore)
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to check alert existence, skipping candidate",
				"alert_type", cand.Type,
				"subject_type", cand.Subject.Type,
				"subject_id", cand.Subject.ID,
				"window_days", cand.DaysBefore,
				"error", err,
			)
			result.Failed++
			continue
		}
		if exists {
			result.Skipped++
			continue
		}

		alert := buildAlert(cand)
		if err := c.store.Create(ctx, alert); err != nil {
			// A concurrent run may have inserted the same key between the
			// existence check and the insert. That is the dedup constraint
			// doing its job, not a failure.
			var appErr *types.AppError
			if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictDuplicateAlert {
				result.Skipped++
				continue
			}

			c.logger.ErrorContext(ctx, "failed to create alert, skipping candidate",
				"alert_type", cand.Type,
				"subject_type", cand.Subject.Type,
				"subject_id", cand.Subject.ID,
				"window_days", cand.DaysBefore,
				"error", err,
			)
			result.Failed++
			continue
		}

		result.Created++
	}

	c.logger.InfoContext(ctx, "alert classification complete",
		"created", result.Created,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)

	return result
}

// buildAlert constructs the alert row for a candidate. The title and
// message embed the document category, the subject label, and the expiry
// date so the row reads standalone in any client.
func buildAlert(cand types.ExpiryCandidate) *types.Alert {
	category := cand.Type.Category()

	return &types.Alert{
		ID:       alertIDPrefix + uuid.NewString(),
		Type:     cand.Type,
		Title:    fmt.Sprintf("%s Expiring: %s", category, cand.Label),
		Message: fmt.Sprintf("%s for %s expires on %s (%d days remaining).",
			category, cand.Label, cand.DueDate.Format(dueDateDisplayLayout), cand.DaysBefore),
		Priority:   PriorityForWindow(cand.DaysBefore),
		Subject:    cand.Subject,
		DueDate:    cand.DueDate,
		DaysBefore: cand.DaysBefore,
	}
}
