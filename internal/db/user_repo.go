package db

import (
	"context"

	"fleetops/internal/types"
)

// UserRepository reads the shared users table to resolve notification
// recipients.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// ListAlertRecipients returns the email recipients for expiry digests:
// all active users with the admin or manager role. Staff never receive
// the digest. Returns an empty slice (not nil) when no one qualifies.
func (r *UserRepository) ListAlertRecipients(ctx context.Context) ([]types.Recipient, error) {
	rows, err := r.db.Query(ctx,
		`SELECT name, email
		 FROM users
		 WHERE role IN ($1, $2) AND status = 'active'
		 ORDER BY email ASC`,
		string(types.RoleAdmin),
		string(types.RoleManager),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query alert recipients", err)
	}
	defer rows.Close()

	recipients := make([]types.Recipient, 0)
	for rows.Next() {
		var rec types.Recipient
		if err := rows.Scan(&rec.Name, &rec.Email); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan recipient", err)
		}
		recipients = append(recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating recipients", err)
	}

	return recipients, nil
}
