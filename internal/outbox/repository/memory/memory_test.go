package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/outboxd/internal/outbox/domain"
)

func newEntry(t *testing.T, createdAt time.Time) *domain.Entry {
	t.Helper()
	return &domain.Entry{
		ID:            uuid.Must(uuid.NewV7()),
		EventName:     "admin.outbox.poke",
		Payload:       json.RawMessage(`{"input":{"message":"hi"},"output":{"reply":"pong"}}`),
		Status:        domain.EntryStatusPending,
		NextAttemptAt: createdAt,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func seed(t *testing.T, repo *OutboxRepository, entries ...*domain.Entry) {
	t.Helper()
	err := repo.WithTx(context.Background(), func(ctx context.Context) error {
		for _, entry := range entries {
			if err := repo.CreateEntry(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestOutboxRepository_CreateEntry(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("Error_RequiresTransaction", func(t *testing.T) {
		repo := NewOutboxRepository()
		err := repo.CreateEntry(ctx, newEntry(t, now))
		assert.ErrorIs(t, err, domain.ErrTransactionRequired)
	})

	t.Run("Success_VisibleAfterCommit", func(t *testing.T) {
		repo := NewOutboxRepository()
		entry := newEntry(t, now)
		seed(t, repo, entry)

		got, err := repo.GetEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, entry.EventName, got.EventName)
	})

	t.Run("Rollback_DiscardsEntry", func(t *testing.T) {
		repo := NewOutboxRepository()
		entry := newEntry(t, now)
		boom := errors.New("business failure")

		err := repo.WithTx(ctx, func(ctx context.Context) error {
			require.NoError(t, repo.CreateEntry(ctx, entry))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = repo.GetEntry(ctx, entry.ID)
		assert.ErrorIs(t, err, domain.ErrEntryNotFound)
	})
}

func TestOutboxRepository_WithTx_RollbackRevertsWrites(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	repo := NewOutboxRepository()
	entry := newEntry(t, now.Add(-time.Minute))
	seed(t, repo, entry)
	boom := errors.New("commit failed")

	err := repo.WithTx(ctx, func(ctx context.Context) error {
		token := uuid.Must(uuid.NewV7())
		claimed, err := repo.Claim(ctx, domain.ClaimParams{
			Token: token, Now: now, LeaseUntil: now.Add(time.Minute), Limit: 1,
		})
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		require.NoError(t, repo.SaveDelivery(ctx, &domain.Delivery{
			EntryID:      entry.ID,
			ConsumerName: "audit",
			Status:       domain.DeliveryStatusCompleted,
			Attempt:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}))
		require.NoError(t, repo.ExtendLease(ctx, entry.ID, token, now.Add(time.Hour), now))
		require.NoError(t, repo.Finalize(ctx, entry.ID, token, domain.EntryResult{
			Status: domain.EntryStatusCompleted,
		}, now))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusPending, got.Status)
	assert.Equal(t, 0, got.Attempt)
	assert.False(t, got.LockedBy.Valid)
	assert.Nil(t, got.LockedUntil)

	deliveries, err := repo.ListDeliveries(ctx, entry.ID)
	require.NoError(t, err)
	assert.Empty(t, deliveries)

	claimed, err := repo.Claim(ctx, domain.ClaimParams{
		Token: uuid.Must(uuid.NewV7()), Now: now, LeaseUntil: now.Add(time.Minute), Limit: 1,
	})
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestOutboxRepository_ExtendLease(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	repo := NewOutboxRepository()
	entry := newEntry(t, now.Add(-time.Hour))
	seed(t, repo, entry)

	first := uuid.Must(uuid.NewV7())
	_, err := repo.Claim(ctx, domain.ClaimParams{
		Token: first, Now: now, LeaseUntil: now.Add(time.Minute), Limit: 1,
	})
	require.NoError(t, err)

	until := now.Add(10 * time.Minute)
	require.NoError(t, repo.ExtendLease(ctx, entry.ID, first, until, now))

	got, err := repo.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LockedUntil)
	assert.True(t, got.LockedUntil.Equal(until))

	// The extended lease keeps other passes away past the original deadline.
	claimed, err := repo.Claim(ctx, domain.ClaimParams{
		Token: uuid.Must(uuid.NewV7()), Now: now.Add(2 * time.Minute), LeaseUntil: until, Limit: 1,
	})
	require.NoError(t, err)
	assert.Empty(t, claimed)

	later := now.Add(11 * time.Minute)
	second := uuid.Must(uuid.NewV7())
	claimed, err = repo.Claim(ctx, domain.ClaimParams{
		Token: second, Now: later, LeaseUntil: later.Add(time.Minute), Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	err = repo.ExtendLease(ctx, entry.ID, first, later.Add(time.Hour), later)
	assert.ErrorIs(t, err, domain.ErrClaimLost)

	err = repo.ExtendLease(ctx, uuid.Must(uuid.NewV7()), second, later, later)
	assert.ErrorIs(t, err, domain.ErrClaimLost)
}

func TestOutboxRepository_Finalize_InvalidTransition(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	repo := NewOutboxRepository()
	entry := newEntry(t, now.Add(-time.Minute))
	seed(t, repo, entry)

	token := uuid.Must(uuid.NewV7())
	_, err := repo.Claim(ctx, domain.ClaimParams{
		Token: token, Now: now, LeaseUntil: now.Add(time.Minute), Limit: 1,
	})
	require.NoError(t, err)

	err = repo.Finalize(ctx, entry.ID, token, domain.EntryResult{Status: domain.EntryStatusPending}, now)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := repo.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusProcessing, got.Status)
	assert.Equal(t, token, got.LockedBy.UUID)
}

func TestOutboxRepository_Claim(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("Success_ClaimsDueEntriesOnly", func(t *testing.T) {
		repo := NewOutboxRepository()
		due := newEntry(t, now.Add(-time.Minute))
		future := newEntry(t, now)
		future.NextAttemptAt = now.Add(time.Hour)
		seed(t, repo, due, future)

		token := uuid.Must(uuid.NewV7())
		claimed, err := repo.Claim(ctx, domain.ClaimParams{
			Token: token, Now: now, LeaseUntil: now.Add(time.Minute), Limit: 10,
		})
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, due.ID, claimed[0].ID)
		assert.Equal(t, domain.EntryStatusProcessing, claimed[0].Status)
		assert.Equal(t, 1, claimed[0].Attempt)
		assert.Equal(t, token, claimed[0].LockedBy.UUID)

		again, err := repo.Claim(ctx, domain.ClaimParams{
			Token: uuid.Must(uuid.NewV7()), Now: now, LeaseUntil: now.Add(time.Minute), Limit: 10,
		})
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("Success_ReclaimsExpiredLease", func(t *testing.T) {
		repo := NewOutboxRepository()
		entry := newEntry(t, now.Add(-time.Hour))
		seed(t, repo, entry)

		first := uuid.Must(uuid.NewV7())
		_, err := repo.Claim(ctx, domain.ClaimParams{
			Token: first, Now: now, LeaseUntil: now.Add(time.Minute), Limit: 1,
		})
		require.NoError(t, err)

		later := now.Add(2 * time.Minute)
		second := uuid.Must(uuid.NewV7())
		claimed, err := repo.Claim(ctx, domain.ClaimParams{
			Token: second, Now: later, LeaseUntil: later.Add(time.Minute), Limit: 1,
		})
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, 2, claimed[0].Attempt)

		err = repo.Finalize(ctx, entry.ID, first, domain.EntryResult{Status: domain.EntryStatusCompleted}, later)
		assert.ErrorIs(t, err, domain.ErrClaimLost)

		err = repo.Finalize(ctx, entry.ID, second, domain.EntryResult{Status: domain.EntryStatusCompleted}, later)
		assert.NoError(t, err)
	})

	t.Run("Concurrent_NoDoubleClaim", func(t *testing.T) {
		repo := NewOutboxRepository()
		entries := make([]*domain.Entry, 0, 100)
		for i := 0; i < 100; i++ {
			entries = append(entries, newEntry(t, now.Add(-time.Minute)))
		}
		seed(t, repo, entries...)

		var mu sync.Mutex
		seen := make(map[uuid.UUID]int)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					claimed, err := repo.Claim(ctx, domain.ClaimParams{
						Token: uuid.Must(uuid.NewV7()), Now: now, LeaseUntil: now.Add(time.Minute), Limit: 7,
					})
					if err != nil || len(claimed) == 0 {
						return
					}
					mu.Lock()
					for _, entry := range claimed {
						seen[entry.ID]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, 100)
		for id, count := range seen {
			assert.Equal(t, 1, count, "entry %s claimed more than once", id)
		}
	})
}

func TestOutboxRepository_ResetDeadLettered(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	repo := NewOutboxRepository()
	entry := newEntry(t, now.Add(-time.Minute))
	pending := newEntry(t, now)
	seed(t, repo, entry, pending)

	token := uuid.Must(uuid.NewV7())
	_, err := repo.Claim(ctx, domain.ClaimParams{Token: token, Now: now, LeaseUntil: now.Add(time.Minute), Limit: 1})
	require.NoError(t, err)

	dead := domain.NewDelivery(entry.ID, "badConsumer", now)
	dead.MarkDeadLettered(now, "kaboom")
	done := domain.NewDelivery(entry.ID, "logGreeting", now)
	done.MarkCompleted(now)
	require.NoError(t, repo.SaveDelivery(ctx, dead))
	require.NoError(t, repo.SaveDelivery(ctx, done))
	require.NoError(t, repo.Finalize(ctx, entry.ID, token, domain.EntryResult{
		Status: domain.EntryStatusDeadLettered, NextAttemptAt: now,
	}, now))

	err = repo.ResetDeadLettered(ctx, pending.ID, now)
	assert.ErrorIs(t, err, domain.ErrEntryNotDeadLettered)

	err = repo.ResetDeadLettered(ctx, uuid.Must(uuid.NewV7()), now)
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)

	require.NoError(t, repo.ResetDeadLettered(ctx, entry.ID, now))

	got, err := repo.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusPending, got.Status)

	deliveries, err := repo.ListDeliveries(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, domain.DeliveryStatusPending, deliveries[0].Status)
	assert.Equal(t, 0, deliveries[0].Attempt)
	assert.Equal(t, domain.DeliveryStatusCompleted, deliveries[1].Status)
}

func TestOutboxRepository_ListAndPurge(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	repo := NewOutboxRepository()
	old := newEntry(t, now.Add(-48*time.Hour))
	recent := newEntry(t, now.Add(-time.Hour))
	seed(t, repo, old, recent)

	for _, entry := range []*domain.Entry{old, recent} {
		token := uuid.Must(uuid.NewV7())
		claimed, err := repo.Claim(ctx, domain.ClaimParams{
			Token: token, Now: now, LeaseUntil: now.Add(time.Minute), Limit: 1,
		})
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		require.NoError(t, repo.Finalize(ctx, claimed[0].ID, token, domain.EntryResult{
			Status: domain.EntryStatusCompleted,
		}, entry.CreatedAt))
	}

	entries, err := repo.ListEntries(ctx, domain.EntryFilter{Status: domain.EntryStatusCompleted, Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, recent.ID, entries[0].ID)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[domain.EntryStatusCompleted])

	cutoff := now.Add(-24 * time.Hour)
	n, err := repo.DeleteCompletedBefore(ctx, cutoff, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeleteCompletedBefore(ctx, cutoff, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetEntry(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}
