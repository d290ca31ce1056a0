package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"fleetops/internal/types"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations, raised when two runs race on the alert dedup key.
const uniqueViolation = "23505"

// AlertRepository provides data access for the alerts table. The table
// carries a UNIQUE constraint on (type, subject_type, subject_id,
// days_before); that constraint, not application logic, is the final
// authority on deduplication.
type AlertRepository struct {
	db DBTX
}

// NewAlertRepository creates a new AlertRepository backed by the given
// database connection (pool or transaction).
func NewAlertRepository(db DBTX) *AlertRepository {
	return &AlertRepository{db: db}
}

// Exists reports whether an alert already exists for the given dedup key.
// This is the fast path; Create still maps a concurrent duplicate insert
// to ErrCodeConflictDuplicateAlert.
func (r *AlertRepository) Exists(ctx context.Context, alertType types.AlertType, subject types.SubjectRef, daysBefore int) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM alerts
		   WHERE type = $1 AND subject_type = $2 AND subject_id = $3 AND days_before = $4
		 )`,
		string(alertType),
		string(subject.Type),
		subject.ID,
		daysBefore,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check alert existence", err)
	}
	return exists, nil
}

// Create inserts a new alert row. A unique constraint violation on the
// dedup key is returned as ErrCodeConflictDuplicateAlert so callers can
// treat a lost race the same as a positive Exists check.
func (r *AlertRepository) Create(ctx context.Context, alert *types.Alert) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO alerts
		 (id, type, title, message, priority, subject_type, subject_id,
		  due_date, days_before, is_read, is_sent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date, $9, FALSE, FALSE, NOW())`,
		alert.ID,
		string(alert.Type),
		alert.Title,
		alert.Message,
		string(alert.Priority),
		string(alert.Subject.Type),
		alert.Subject.ID,
		alert.DueDate.Format(dateLayout),
		alert.DaysBefore,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return types.NewAppError(types.ErrCodeConflictDuplicateAlert, "alert already exists for this subject and window", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create alert", err)
	}
	return nil
}

// ListUnsent returns all alerts with is_sent = false, ordered by due date
// ascending (most imminent first) with creation time as a tiebreaker.
// Returns an empty slice (not nil) when nothing is pending.
func (r *AlertRepository) ListUnsent(ctx context.Context) ([]types.Alert, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, type, title, message, priority, subject_type, subject_id,
		        due_date, days_before, is_read, is_sent, sent_at, created_at
		 FROM alerts
		 WHERE is_sent = FALSE
		 ORDER BY due_date ASC, created_at ASC`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query unsent alerts", err)
	}
	defer rows.Close()

	alerts := make([]types.Alert, 0)
	for rows.Next() {
		var (
			a           types.Alert
			alertType   string
			priority    string
			subjectType string
		)
		if err := rows.Scan(
			&a.ID,
			&alertType,
			&a.Title,
			&a.Message,
			&priority,
			&subjectType,
			&a.Subject.ID,
			&a.DueDate,
			&a.DaysBefore,
			&a.IsRead,
			&a.IsSent,
			&a.SentAt,
			&a.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert", err)
		}
		a.Type = types.AlertType(alertType)
		a.Priority = types.Priority(priority)
		a.Subject.Type = types.SubjectType(subjectType)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating unsent alerts", err)
	}

	return alerts, nil
}

// MarkSent flags exactly the given alert IDs as sent, stamping each with
// the same sentAt. The is_sent = FALSE guard makes retries after a
// partial failure safe. Returns the number of rows updated.
func (r *AlertRepository) MarkSent(ctx context.Context, ids []string, sentAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE alerts
		 SET is_sent = TRUE, sent_at = $2
		 WHERE id = ANY($1) AND is_sent = FALSE`,
		ids,
		sentAt,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to mark alerts sent", err)
	}
	return tag.RowsAffected(), nil
}
