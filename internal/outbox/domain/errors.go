package domain

import (
	"github.com/allisson/outboxd/internal/errors"
)

// Outbox errors.
var (
	// ErrEntryNotFound indicates an outbox entry with the specified ID was not found.
	ErrEntryNotFound = errors.Wrap(errors.ErrNotFound, "outbox entry not found")

	// ErrInvalidEventName indicates the event name is empty or malformed.
	ErrInvalidEventName = errors.Wrap(errors.ErrInvalidInput, "invalid event name")

	// ErrPayloadNotJSON indicates the payload could not be encoded or decoded as JSON.
	ErrPayloadNotJSON = errors.Wrap(errors.ErrInvalidInput, "payload is not valid JSON")

	// ErrPayloadTooLarge indicates the serialized payload exceeds the configured limit.
	ErrPayloadTooLarge = errors.Wrap(errors.ErrInvalidInput, "payload too large")

	// ErrTransactionRequired indicates an outbox insert was attempted outside a transaction.
	ErrTransactionRequired = errors.New("outbox insert requires a transaction in context")

	// ErrClaimLost indicates the entry lease expired and another dispatcher reclaimed it.
	ErrClaimLost = errors.Wrap(errors.ErrConflict, "outbox claim lost")

	// ErrInvalidTransition indicates an entry status change the lifecycle does not allow.
	ErrInvalidTransition = errors.Wrap(errors.ErrInvalidInput, "invalid outbox entry status transition")

	// ErrEntryNotDeadLettered indicates a replay was requested for an entry that is not dead-lettered.
	ErrEntryNotDeadLettered = errors.Wrap(errors.ErrConflict, "outbox entry is not dead-lettered")

	// ErrConsumerAlreadyRegistered indicates two consumers were registered under the same name.
	ErrConsumerAlreadyRegistered = errors.Wrap(errors.ErrConflict, "consumer already registered")

	// ErrInvalidConsumer indicates a consumer definition failed validation.
	ErrInvalidConsumer = errors.Wrap(errors.ErrInvalidInput, "invalid consumer definition")

	// ErrConsumerTimeout indicates a consumer exceeded its timeout.
	ErrConsumerTimeout = errors.New("consumer timed out")

	// ErrConsumerPanicked indicates a consumer predicate or handler panicked.
	ErrConsumerPanicked = errors.New("consumer panicked")
)
