package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fleetops/internal/types"
)

func TestUserRepository_ListAlertRecipients(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	rows := newMockRows(
		func(dest ...any) error {
			*dest[0].(*string) = "Amira Hassan"
			*dest[1].(*string) = "amira@fleetops.example.com"
			return nil
		},
		func(dest ...any) error {
			*dest[0].(*string) = "Rami Saleh"
			*dest[1].(*string) = "rami@fleetops.example.com"
			return nil
		},
	)

	var captured []any
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).([]any)
		}).
		Return(rows, nil)

	recipients, err := repo.ListAlertRecipients(context.Background())
	require.NoError(t, err)
	require.Len(t, recipients, 2)
	assert.Equal(t, "amira@fleetops.example.com", recipients[0].Email)

	// Only admin and manager roles qualify.
	require.Len(t, captured, 2)
	assert.Equal(t, "admin", captured[0])
	assert.Equal(t, "manager", captured[1])
}

func TestUserRepository_ListAlertRecipients_EmptyReturnsSliceNotNil(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(), nil)

	recipients, err := repo.ListAlertRecipients(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, recipients)
	assert.Empty(t, recipients)
}

func TestUserRepository_ListAlertRecipients_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.ListAlertRecipients(context.Background())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
