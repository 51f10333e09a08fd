// Package procedure runs business mutations together with their outbox event. The
// mutation and the outbox insert share one transaction, so an event exists if and
// only if the mutation committed.
package procedure

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/allisson/outboxd/internal/database"
	apperrors "github.com/allisson/outboxd/internal/errors"
	"github.com/allisson/outboxd/internal/outbox/domain"
	"github.com/allisson/outboxd/internal/outbox/usecase"
)

// Runner executes mutations inside a transaction and enqueues their event.
type Runner struct {
	txManager database.TxManager
	writer    usecase.WriterUseCase
	notifier  usecase.Notifier
}

// NewRunner creates a Runner. notifier may be nil.
func NewRunner(txManager database.TxManager, writer usecase.WriterUseCase, notifier usecase.Notifier) *Runner {
	return &Runner{
		txManager: txManager,
		writer:    writer,
		notifier:  notifier,
	}
}

// Mutate runs fn in a transaction and, in the same transaction, enqueues an event
// named name with payload {input, output}. Any error rolls back both. After a
// successful commit the notifier is woken so the event is dispatched without
// waiting for the next poll.
func Mutate[In, Out any](
	ctx context.Context,
	r *Runner,
	name string,
	input In,
	fn func(ctx context.Context, input In) (Out, error),
) (Out, error) {
	var output Out

	rawInput, err := json.Marshal(input)
	if err != nil {
		return output, apperrors.Wrap(domain.ErrPayloadNotJSON, "input: "+err.Error())
	}

	err = r.txManager.WithTx(ctx, func(txCtx context.Context) error {
		out, err := fn(txCtx, input)
		if err != nil {
			return err
		}

		payload, err := domain.NewPayload(json.RawMessage(rawInput), out)
		if err != nil {
			return err
		}
		if _, err := r.writer.Send(txCtx, name, payload); err != nil {
			return err
		}
		output = out
		return nil
	})
	if err != nil {
		var zero Out
		return zero, err
	}

	if r.notifier != nil {
		r.notifier.Notify()
	}
	return output, nil
}

// Catalog lists the event names procedures emit. It implements domain.EventCatalog.
type Catalog struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewCatalog creates a catalog with the given names.
func NewCatalog(names ...string) *Catalog {
	c := &Catalog{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		c.Declare(name)
	}
	return c
}

// Declare adds an event name.
func (c *Catalog) Declare(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[name] = struct{}{}
}

// Has reports whether name was declared.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.names[name]
	return ok
}

// Names returns the declared names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.names))
	for name := range c.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ domain.EventCatalog = (*Catalog)(nil)
