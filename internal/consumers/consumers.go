// Package consumers declares the event consumers wired into the dispatcher.
package consumers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/allisson/outboxd/internal/outbox/domain"
	pokeDomain "github.com/allisson/outboxd/internal/poke/domain"
)

const (
	// LogGreetingName logs poke events whose message contains a greeting.
	LogGreetingName = "logGreeting"
	// UnstableConsumerName fails on its first two attempts.
	UnstableConsumerName = "unstableConsumer"
	// BadConsumerName always fails and ends up dead-lettered.
	BadConsumerName = "badConsumer"
)

// ErrUnstable is returned by the unstable consumer until its third attempt.
var ErrUnstable = errors.New("unstable consumer failed")

// ErrBadConsumer is returned by every invocation of the bad consumer.
var ErrBadConsumer = errors.New("bad consumer always fails")

type pokeParams = domain.TypedParams[pokeDomain.Input, pokeDomain.Output]

func messageContains(substr string) func(pokeDomain.Input, pokeDomain.Output) bool {
	return func(input pokeDomain.Input, _ pokeDomain.Output) bool {
		return strings.Contains(input.Message, substr)
	}
}

// LogGreeting logs the server reply of poke events that say "hi".
func LogGreeting(logger *slog.Logger) domain.Definition {
	return domain.Definition{
		Name: LogGreetingName,
		On:   pokeDomain.EventName,
		Consumer: domain.NewTypedConsumer(
			messageContains("hi"),
			func(ctx context.Context, params pokeParams) (any, error) {
				logger.InfoContext(ctx, fmt.Sprintf("GOT: %s, server reply: %s", params.EventName, params.Output.Reply),
					slog.String("entry_id", params.EntryID.String()),
					slog.Int("attempt", params.Job.Attempt),
				)
				return "logged it", nil
			},
		),
	}
}

// UnstableConsumer fails while the attempt is at most 2 and succeeds afterwards.
func UnstableConsumer(logger *slog.Logger) domain.Definition {
	return domain.Definition{
		Name: UnstableConsumerName,
		On:   pokeDomain.EventName,
		Consumer: domain.NewTypedConsumer(
			messageContains("unstable"),
			func(ctx context.Context, params pokeParams) (any, error) {
				if params.Job.Attempt <= 2 {
					logger.WarnContext(ctx, "unstable consumer failing",
						slog.String("entry_id", params.EntryID.String()),
						slog.Int("attempt", params.Job.Attempt),
					)
					return nil, fmt.Errorf("%w on attempt %d", ErrUnstable, params.Job.Attempt)
				}
				return "third time lucky", nil
			},
		),
	}
}

// BadConsumer fails on every poke whose message contains "bad".
func BadConsumer() domain.Definition {
	return domain.Definition{
		Name: BadConsumerName,
		On:   pokeDomain.EventName,
		Consumer: domain.NewTypedConsumer(
			messageContains("bad"),
			func(ctx context.Context, params pokeParams) (any, error) {
				return nil, ErrBadConsumer
			},
		),
	}
}

// RegisterConsumers adds the application consumers to builder. The unstable and bad
// consumers exercise the retry and dead-letter paths and are registered only in demo mode.
func RegisterConsumers(builder *domain.RegistryBuilder, logger *slog.Logger, demo bool) error {
	defs := []domain.Definition{LogGreeting(logger)}
	if demo {
		defs = append(defs, UnstableConsumer(logger), BadConsumer())
	}

	for _, def := range defs {
		if err := builder.RegisterConsumer(def); err != nil {
			return err
		}
	}
	return nil
}
