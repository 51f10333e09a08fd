package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/outboxd/internal/database"
	"github.com/allisson/outboxd/internal/outbox/domain"
)

func mustBinary(t *testing.T, id uuid.UUID) []byte {
	t.Helper()
	b, err := id.MarshalBinary()
	require.NoError(t, err)
	return b
}

func TestMySQLOutboxRepository_CreateEntry(t *testing.T) {
	now := time.Now().UTC()

	t.Run("Error_RequiresTransaction", func(t *testing.T) {
		db, mock := newSQLMock(t)
		err := NewMySQLOutboxRepository(db).CreateEntry(context.Background(), newTestEntry(now))
		assert.ErrorIs(t, err, domain.ErrTransactionRequired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Success_InsertsBinaryID", func(t *testing.T) {
		db, mock := newSQLMock(t)
		entry := newTestEntry(now)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO outbox_entries").
			WithArgs(mustBinary(t, entry.ID), entry.EventName, string(entry.Payload), entry.Status, 0, nil,
				entry.NextAttemptAt, entry.CreatedAt, entry.UpdatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		repo := NewMySQLOutboxRepository(db)
		err := database.NewTxManager(db).WithTx(context.Background(), func(ctx context.Context) error {
			return repo.CreateEntry(ctx, entry)
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMySQLOutboxRepository_Claim(t *testing.T) {
	now := time.Now().UTC()
	lease := now.Add(time.Minute)
	token := uuid.Must(uuid.NewV7())

	t.Run("Error_RequiresTransaction", func(t *testing.T) {
		db, _ := newSQLMock(t)
		_, err := NewMySQLOutboxRepository(db).Claim(context.Background(), domain.ClaimParams{
			Token: token, Now: now, LeaseUntil: lease, Limit: 10,
		})
		assert.ErrorIs(t, err, domain.ErrTransactionRequired)
	})

	t.Run("Success_SelectLockUpdate", func(t *testing.T) {
		db, mock := newSQLMock(t)
		id := uuid.Must(uuid.NewV7())

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM outbox_entries (.+) FOR UPDATE SKIP LOCKED").
			WithArgs(domain.EntryStatusPending, domain.EntryStatusFailed, now, domain.EntryStatusProcessing, now, 10).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(mustBinary(t, id)))
		mock.ExpectExec("UPDATE outbox_entries").
			WithArgs(domain.EntryStatusProcessing, mustBinary(t, token), lease, now, now, mustBinary(t, id)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT (.+) FROM outbox_entries WHERE locked_by = \\?").
			WithArgs(mustBinary(t, token)).
			WillReturnRows(sqlmock.NewRows(entryColumnNames).AddRow(
				mustBinary(t, id), "admin.outbox.poke", []byte(`{}`), "processing", 1, nil,
				mustBinary(t, token), lease, now, now, now, now,
			))
		mock.ExpectCommit()

		repo := NewMySQLOutboxRepository(db)
		var entries []*domain.Entry
		err := database.NewTxManager(db).WithTx(context.Background(), func(ctx context.Context) error {
			var err error
			entries, err = repo.Claim(ctx, domain.ClaimParams{Token: token, Now: now, LeaseUntil: lease, Limit: 10})
			return err
		})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, id, entries[0].ID)
		assert.Equal(t, token, entries[0].LockedBy.UUID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Success_NothingDue", func(t *testing.T) {
		db, mock := newSQLMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM outbox_entries").WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectCommit()

		repo := NewMySQLOutboxRepository(db)
		err := database.NewTxManager(db).WithTx(context.Background(), func(ctx context.Context) error {
			entries, err := repo.Claim(ctx, domain.ClaimParams{Token: token, Now: now, LeaseUntil: lease, Limit: 10})
			assert.Empty(t, entries)
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMySQLOutboxRepository_Finalize_ClaimLost(t *testing.T) {
	db, mock := newSQLMock(t)
	now := time.Now().UTC()
	id := uuid.Must(uuid.NewV7())
	token := uuid.Must(uuid.NewV7())

	mock.ExpectExec("UPDATE outbox_entries").
		WithArgs(domain.EntryStatusFailed, now, nil, now, mustBinary(t, id), domain.EntryStatusProcessing,
			mustBinary(t, token)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewMySQLOutboxRepository(db).Finalize(context.Background(), id, token, domain.EntryResult{
		Status:        domain.EntryStatusFailed,
		NextAttemptAt: now,
	}, now)
	assert.ErrorIs(t, err, domain.ErrClaimLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLOutboxRepository_Finalize_InvalidTransition(t *testing.T) {
	db, mock := newSQLMock(t)
	now := time.Now().UTC()

	err := NewMySQLOutboxRepository(db).Finalize(
		context.Background(),
		uuid.Must(uuid.NewV7()),
		uuid.Must(uuid.NewV7()),
		domain.EntryResult{Status: domain.EntryStatusProcessing, NextAttemptAt: now},
		now,
	)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLOutboxRepository_ExtendLease(t *testing.T) {
	now := time.Now().UTC()
	until := now.Add(30 * time.Second)
	id := uuid.Must(uuid.NewV7())
	token := uuid.Must(uuid.NewV7())

	t.Run("Success", func(t *testing.T) {
		db, mock := newSQLMock(t)
		mock.ExpectExec("UPDATE outbox_entries SET locked_until").
			WithArgs(until, now, mustBinary(t, id), domain.EntryStatusProcessing, mustBinary(t, token)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := NewMySQLOutboxRepository(db).ExtendLease(context.Background(), id, token, until, now)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Error_ClaimLost", func(t *testing.T) {
		db, mock := newSQLMock(t)
		mock.ExpectExec("UPDATE outbox_entries SET locked_until").
			WithArgs(until, now, mustBinary(t, id), domain.EntryStatusProcessing, mustBinary(t, token)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := NewMySQLOutboxRepository(db).ExtendLease(context.Background(), id, token, until, now)
		assert.ErrorIs(t, err, domain.ErrClaimLost)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
