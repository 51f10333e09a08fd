// Package domain defines the outbox entities: entries written alongside business
// mutations, the per-consumer delivery state the dispatcher keeps for each entry,
// and the consumer registry that resolves event names to handlers.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntryStatus represents the lifecycle status of an outbox entry.
type EntryStatus string

const (
	// EntryStatusPending means the entry was committed and waits for its first dispatch.
	EntryStatusPending EntryStatus = "pending"
	// EntryStatusProcessing means a dispatcher holds the claim lease on the entry.
	EntryStatusProcessing EntryStatus = "processing"
	// EntryStatusCompleted means every consumer either completed or was skipped.
	EntryStatusCompleted EntryStatus = "completed"
	// EntryStatusFailed means at least one consumer is waiting for a retry.
	EntryStatusFailed EntryStatus = "failed"
	// EntryStatusDeadLettered means at least one consumer exhausted its attempts and
	// no consumer is waiting for a retry.
	EntryStatusDeadLettered EntryStatus = "dead-lettered"
)

// EntryStatuses lists every entry status in lifecycle order.
var EntryStatuses = []EntryStatus{
	EntryStatusPending,
	EntryStatusProcessing,
	EntryStatusCompleted,
	EntryStatusFailed,
	EntryStatusDeadLettered,
}

// IsValid reports whether s is a known entry status.
func (s EntryStatus) IsValid() bool {
	for _, status := range EntryStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the dispatcher will never pick the entry again on its own.
func (s EntryStatus) IsTerminal() bool {
	return s == EntryStatusCompleted || s == EntryStatusDeadLettered
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Processing to processing is a lease reclaim after a dispatcher crashed mid-batch.
// Dead-lettered to pending only happens through an operator replay.
func (s EntryStatus) CanTransitionTo(next EntryStatus) bool {
	switch s {
	case EntryStatusPending, EntryStatusFailed:
		return next == EntryStatusProcessing
	case EntryStatusProcessing:
		return next == EntryStatusProcessing ||
			next == EntryStatusCompleted ||
			next == EntryStatusFailed ||
			next == EntryStatusDeadLettered
	case EntryStatusDeadLettered:
		return next == EntryStatusPending
	default:
		return false
	}
}

// Entry is a durable record of a committed event awaiting or having undergone dispatch.
type Entry struct {
	// ID is a time-ordered UUIDv7, assigned when the entry is staged.
	ID uuid.UUID
	// EventName is the procedure name that produced the event (e.g., "admin.outbox.poke").
	EventName string
	// Payload is the serialized {"input": ..., "output": ...} envelope.
	Payload json.RawMessage
	// Status is the entry lifecycle status.
	Status EntryStatus
	// Attempt counts how many times the entry has been claimed by a dispatcher.
	Attempt int
	// LastError is the most recent sanitized consumer failure, if any.
	LastError *string
	// LockedBy is the claim token of the dispatcher pass currently holding the entry.
	LockedBy uuid.NullUUID
	// LockedUntil is the end of the visibility lease; after it another pass may reclaim the entry.
	LockedUntil *time.Time
	// NextAttemptAt is the earliest time the entry is eligible for a claim.
	NextAttemptAt time.Time
	// LastAttemptedAt is the time of the most recent claim.
	LastAttemptedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsClaimable reports whether a dispatcher may claim the entry at now.
func (e *Entry) IsClaimable(now time.Time) bool {
	switch e.Status {
	case EntryStatusPending, EntryStatusFailed:
		return !e.NextAttemptAt.After(now)
	case EntryStatusProcessing:
		return e.LockedUntil != nil && e.LockedUntil.Before(now)
	default:
		return false
	}
}

// DecodePayload parses the stored envelope.
func (e *Entry) DecodePayload() (Payload, error) {
	return ParsePayload(e.Payload)
}

// EntryFilter selects entries for operator listings.
type EntryFilter struct {
	// Status restricts the listing to one status; empty lists every status.
	Status EntryStatus
	// EventName restricts the listing to one event; empty lists every event.
	EventName string
	Offset    int
	Limit     int
}

// EntryResult is the outcome of finalizing an entry after a dispatch pass.
type EntryResult struct {
	Status        EntryStatus
	NextAttemptAt time.Time
	LastError     *string
}

// Validate reports ErrInvalidTransition unless Status is an outcome a
// processing entry can be finalized with.
func (r EntryResult) Validate() error {
	if r.Status == EntryStatusProcessing || !EntryStatusProcessing.CanTransitionTo(r.Status) {
		return ErrInvalidTransition
	}
	return nil
}

// ClaimParams describes one atomic claim of due entries.
type ClaimParams struct {
	// Token identifies the claiming pass; finalization only succeeds while it still holds the lease.
	Token uuid.UUID
	// Now is the reference time for due and lease-expiry checks.
	Now time.Time
	// LeaseUntil is written to locked_until on every claimed entry.
	LeaseUntil time.Time
	// Limit bounds the number of entries claimed.
	Limit int
}
