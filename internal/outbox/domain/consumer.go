package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job describes the current delivery attempt.
type Job struct {
	// Attempt is 1 on the first invocation and increases by one per retry.
	Attempt int
	// IdempotencyKey is stable for an (entry, consumer) pair across redeliveries.
	IdempotencyKey string
}

// Params is what a consumer handler receives for one delivery attempt.
type Params struct {
	EventName    string
	EntryID      uuid.UUID
	ConsumerName string
	Payload      Payload
	Job          Job
}

// Consumer reacts to committed events. Matches decides whether the consumer wants the
// event at all; Handle performs the side effect. Handle may be invoked more than once
// for the same entry and must tolerate redelivery.
type Consumer interface {
	Matches(payload Payload) (bool, error)
	Handle(ctx context.Context, params Params) (any, error)
}

// ConsumerFuncs adapts plain functions to the Consumer interface. A nil When matches
// every event.
type ConsumerFuncs struct {
	When    func(payload Payload) (bool, error)
	Handler func(ctx context.Context, params Params) (any, error)
}

// Matches implements Consumer.
func (f ConsumerFuncs) Matches(payload Payload) (bool, error) {
	if f.When == nil {
		return true, nil
	}
	return f.When(payload)
}

// Handle implements Consumer.
func (f ConsumerFuncs) Handle(ctx context.Context, params Params) (any, error) {
	return f.Handler(ctx, params)
}

// TypedParams carries the decoded envelope to a typed handler.
type TypedParams[In, Out any] struct {
	EventName    string
	EntryID      uuid.UUID
	ConsumerName string
	Input        In
	Output       Out
	Job          Job
}

// TypedConsumer decodes the envelope into concrete input and output types before
// calling the predicate and handler. A decode failure counts as a failed attempt.
type TypedConsumer[In, Out any] struct {
	when    func(input In, output Out) bool
	handler func(ctx context.Context, params TypedParams[In, Out]) (any, error)
}

// NewTypedConsumer returns a consumer bound to the In/Out schema of one procedure.
// when may be nil to match every event.
func NewTypedConsumer[In, Out any](
	when func(input In, output Out) bool,
	handler func(ctx context.Context, params TypedParams[In, Out]) (any, error),
) *TypedConsumer[In, Out] {
	return &TypedConsumer[In, Out]{when: when, handler: handler}
}

// Matches implements Consumer.
func (c *TypedConsumer[In, Out]) Matches(payload Payload) (bool, error) {
	if c.when == nil {
		return true, nil
	}
	in, out, err := decodeTyped[In, Out](payload)
	if err != nil {
		return false, err
	}
	return c.when(in, out), nil
}

// Handle implements Consumer.
func (c *TypedConsumer[In, Out]) Handle(ctx context.Context, params Params) (any, error) {
	in, out, err := decodeTyped[In, Out](params.Payload)
	if err != nil {
		return nil, err
	}
	return c.handler(ctx, TypedParams[In, Out]{
		EventName:    params.EventName,
		EntryID:      params.EntryID,
		ConsumerName: params.ConsumerName,
		Input:        in,
		Output:       out,
		Job:          params.Job,
	})
}

func decodeTyped[In, Out any](payload Payload) (In, Out, error) {
	var in In
	var out Out
	if err := payload.DecodeInput(&in); err != nil {
		return in, out, err
	}
	if err := payload.DecodeOutput(&out); err != nil {
		return in, out, err
	}
	return in, out, nil
}

// Definition binds a named consumer to an event name.
type Definition struct {
	// Name identifies the consumer; it is unique within a registry.
	Name string
	// On is the event name the consumer subscribes to.
	On string
	// Consumer holds the predicate and handler.
	Consumer Consumer
	// Timeout overrides the dispatcher's default per-invocation timeout when positive.
	Timeout time.Duration
}
