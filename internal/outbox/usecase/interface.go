// Package usecase implements the outbox: the writer that stages events inside the
// caller's transaction, the dispatcher that delivers committed events to registered
// consumers with retries and dead-lettering, and the admin operations over both.
package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/outboxd/internal/outbox/domain"
	"github.com/allisson/outboxd/internal/outbox/service"
)

// OutboxRepository defines the persistence operations for entries and deliveries.
type OutboxRepository interface {
	// CreateEntry inserts on the transaction in ctx and fails with domain.ErrTransactionRequired without one.
	CreateEntry(ctx context.Context, entry *domain.Entry) error
	Claim(ctx context.Context, params domain.ClaimParams) ([]*domain.Entry, error)
	ListDeliveries(ctx context.Context, entryID uuid.UUID) ([]*domain.Delivery, error)
	SaveDelivery(ctx context.Context, delivery *domain.Delivery) error
	// ExtendLease moves the lease end of an entry token still holds and fails with
	// domain.ErrClaimLost once another pass reclaimed it.
	ExtendLease(ctx context.Context, entryID, token uuid.UUID, until, now time.Time) error
	// Finalize fails with domain.ErrClaimLost once token no longer holds the entry.
	Finalize(ctx context.Context, entryID, token uuid.UUID, result domain.EntryResult, now time.Time) error
	GetEntry(ctx context.Context, id uuid.UUID) (*domain.Entry, error)
	ListEntries(ctx context.Context, filter domain.EntryFilter) ([]*domain.Entry, error)
	CountByStatus(ctx context.Context) (map[domain.EntryStatus]int64, error)
	ResetDeadLettered(ctx context.Context, id uuid.UUID, now time.Time) error
	DeleteCompletedBefore(ctx context.Context, before time.Time, dryRun bool) (int64, error)
}

// DeadLetterPublisher receives deliveries that exhausted their attempts.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, dl service.DeadLetter) error
}

// Notifier wakes a dispatcher after new entries were committed.
type Notifier interface {
	Notify()
}

// WriterUseCase stages events in the outbox.
type WriterUseCase interface {
	// Send inserts an entry on the transaction carried in ctx.
	Send(ctx context.Context, eventName string, payload domain.Payload) (*domain.Entry, error)
	// SendPayload builds the {input, output} envelope and calls Send.
	SendPayload(ctx context.Context, eventName string, input, output any) (*domain.Entry, error)
}

// DispatcherUseCase delivers committed entries to consumers.
type DispatcherUseCase interface {
	Notifier
	// DispatchOnce claims and processes one batch of due entries.
	DispatchOnce(ctx context.Context) (DispatchResult, error)
	// Start runs dispatch passes until ctx is cancelled.
	Start(ctx context.Context) error
}

// EntryDetails is an entry with the delivery state of every consumer.
type EntryDetails struct {
	Entry      *domain.Entry
	Deliveries []*domain.Delivery
}

// AdminUseCase exposes operator actions over the outbox.
type AdminUseCase interface {
	ListEntries(ctx context.Context, filter domain.EntryFilter) ([]*domain.Entry, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*EntryDetails, error)
	ListDeadLettered(ctx context.Context, offset, limit int) ([]*domain.Entry, error)
	Stats(ctx context.Context) (map[domain.EntryStatus]int64, error)
	// Replay returns a dead-lettered entry to pending with fresh attempts for its
	// dead-lettered deliveries.
	Replay(ctx context.Context, id uuid.UUID) (*EntryDetails, error)
	// PurgeCompleted deletes completed entries older than days. With dryRun it only counts.
	PurgeCompleted(ctx context.Context, days int, dryRun bool) (int64, error)
}
