package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/outboxd/internal/database"
	apperrors "github.com/allisson/outboxd/internal/errors"
	"github.com/allisson/outboxd/internal/outbox/domain"
)

// adminUseCase implements AdminUseCase.
type adminUseCase struct {
	txManager database.TxManager
	repo      OutboxRepository
	notifier  Notifier
	now       func() time.Time
}

// NewAdminUseCase creates an AdminUseCase. notifier may be nil; when set it is woken
// after a replay so the entry is picked up without waiting for the next poll.
func NewAdminUseCase(txManager database.TxManager, repo OutboxRepository, notifier Notifier) AdminUseCase {
	return &adminUseCase{
		txManager: txManager,
		repo:      repo,
		notifier:  notifier,
		now:       time.Now,
	}
}

// ListEntries returns entries newest first.
func (a *adminUseCase) ListEntries(ctx context.Context, filter domain.EntryFilter) ([]*domain.Entry, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "invalid status: "+string(filter.Status))
	}
	return a.repo.ListEntries(ctx, filter)
}

// GetEntry returns the entry with the delivery state of every consumer.
func (a *adminUseCase) GetEntry(ctx context.Context, id uuid.UUID) (*EntryDetails, error) {
	entry, err := a.repo.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	deliveries, err := a.repo.ListDeliveries(ctx, id)
	if err != nil {
		return nil, err
	}
	return &EntryDetails{Entry: entry, Deliveries: deliveries}, nil
}

// ListDeadLettered returns dead-lettered entries newest first.
func (a *adminUseCase) ListDeadLettered(ctx context.Context, offset, limit int) ([]*domain.Entry, error) {
	return a.repo.ListEntries(ctx, domain.EntryFilter{
		Status: domain.EntryStatusDeadLettered,
		Offset: offset,
		Limit:  limit,
	})
}

// Stats returns the number of entries per status. Every status is present.
func (a *adminUseCase) Stats(ctx context.Context) (map[domain.EntryStatus]int64, error) {
	counts, err := a.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := make(map[domain.EntryStatus]int64, len(domain.EntryStatuses))
	for _, status := range domain.EntryStatuses {
		stats[status] = counts[status]
	}
	return stats, nil
}

// Replay returns a dead-lettered entry to pending. Only its dead-lettered deliveries
// are reset; completed and skipped consumers do not run again.
func (a *adminUseCase) Replay(ctx context.Context, id uuid.UUID) (*EntryDetails, error) {
	err := a.txManager.WithTx(ctx, func(txCtx context.Context) error {
		return a.repo.ResetDeadLettered(txCtx, id, a.now().UTC())
	})
	if err != nil {
		return nil, err
	}

	if a.notifier != nil {
		a.notifier.Notify()
	}
	return a.GetEntry(ctx, id)
}

// PurgeCompleted deletes completed entries last updated more than days ago.
func (a *adminUseCase) PurgeCompleted(ctx context.Context, days int, dryRun bool) (int64, error) {
	if days < 0 {
		return 0, apperrors.Wrap(apperrors.ErrInvalidInput, "days must be zero or positive")
	}
	before := a.now().UTC().AddDate(0, 0, -days)
	return a.repo.DeleteCompletedBefore(ctx, before, dryRun)
}
