package db

import (
	"context"
	"time"

	"fleetops/internal/types"
)

// ExpiryRecordRepository reads the shared fleet/HR tables owned by the
// CRUD backend. All queries are exact-date matches: a record is picked up
// on the day its expiry lands exactly on a lookahead window, never in a
// range. Candidates come back with DaysBefore unset; the scanner stamps
// the window it queried for.
type ExpiryRecordRepository struct {
	db DBTX
}

// NewExpiryRecordRepository creates a new ExpiryRecordRepository backed
// by the given database connection (pool or transaction).
func NewExpiryRecordRepository(db DBTX) *ExpiryRecordRepository {
	return &ExpiryRecordRepository{db: db}
}

// ListVehicleDocumentsExpiringOn returns candidates for active vehicle
// documents (mulkiya and insurance) whose expiry_date equals the given
// calendar date. The vehicle plate number serves as the display label.
func (r *ExpiryRecordRepository) ListVehicleDocumentsExpiringOn(ctx context.Context, on time.Time) ([]types.ExpiryCandidate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT vd.id, vd.doc_type, v.plate_number, vd.expiry_date
		 FROM vehicle_documents vd
		 JOIN vehicles v ON v.id = vd.vehicle_id
		 WHERE vd.is_active = TRUE AND vd.expiry_date = $1::date`,
		on.Format(dateLayout),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query expiring vehicle documents", err)
	}
	defer rows.Close()

	var candidates []types.ExpiryCandidate
	for rows.Next() {
		var (
			c       types.ExpiryCandidate
			docType string
		)
		if err := rows.Scan(&c.Subject.ID, &docType, &c.Label, &c.DueDate); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan vehicle document", err)
		}
		c.Subject.Type = types.SubjectVehicleDocument
		if docType == "insurance" {
			c.Type = types.AlertTypeInsuranceExpiry
		} else {
			c.Type = types.AlertTypeMulkiyaExpiry
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating vehicle documents", err)
	}

	return candidates, nil
}

// ListVisasExpiringOn returns candidates for active visas whose
// expiry_date equals the given calendar date. The employee's full name
// serves as the display label.
func (r *ExpiryRecordRepository) ListVisasExpiringOn(ctx context.Context, on time.Time) ([]types.ExpiryCandidate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT vi.id, e.full_name, vi.expiry_date
		 FROM visas vi
		 JOIN employees e ON e.id = vi.employee_id
		 WHERE vi.status = 'active' AND vi.expiry_date = $1::date`,
		on.Format(dateLayout),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query expiring visas", err)
	}
	defer rows.Close()

	var candidates []types.ExpiryCandidate
	for rows.Next() {
		var c types.ExpiryCandidate
		if err := rows.Scan(&c.Subject.ID, &c.Label, &c.DueDate); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan visa", err)
		}
		c.Type = types.AlertTypeVisaExpiry
		c.Subject.Type = types.SubjectVisa
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating visas", err)
	}

	return candidates, nil
}

// ListEmployeeLicensesExpiringOn returns candidates for active employees
// whose driving license expiry equals the given calendar date. Employees
// without a license date on file are naturally excluded by the equality.
func (r *ExpiryRecordRepository) ListEmployeeLicensesExpiringOn(ctx context.Context, on time.Time) ([]types.ExpiryCandidate, error) {
	return r.listEmployeeDates(ctx, on, "license_expiry", types.AlertTypeLicenseExpiry)
}

// ListEmployeePassportsExpiringOn returns candidates for active employees
// whose passport expiry equals the given calendar date.
func (r *ExpiryRecordRepository) ListEmployeePassportsExpiringOn(ctx context.Context, on time.Time) ([]types.ExpiryCandidate, error) {
	return r.listEmployeeDates(ctx, on, "passport_expiry", types.AlertTypePassportExpiry)
}

// listEmployeeDates is the shared query for the two nullable date columns
// on the employees table. The column name is interpolated from a fixed
// caller-supplied constant, never from input.
func (r *ExpiryRecordRepository) listEmployeeDates(ctx context.Context, on time.Time, column string, alertType types.AlertType) ([]types.ExpiryCandidate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, full_name, `+column+`
		 FROM employees
		 WHERE status = 'active' AND `+column+` = $1::date`,
		on.Format(dateLayout),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query expiring employee documents", err)
	}
	defer rows.Close()

	var candidates []types.ExpiryCandidate
	for rows.Next() {
		var c types.ExpiryCandidate
		if err := rows.Scan(&c.Subject.ID, &c.Label, &c.DueDate); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan employee", err)
		}
		c.Type = alertType
		c.Subject.Type = types.SubjectEmployee
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating employees", err)
	}

	return candidates, nil
}
