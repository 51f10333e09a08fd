// Package usecase implements the poke procedure.
package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/outboxd/internal/errors"
	"github.com/allisson/outboxd/internal/poke/domain"
	"github.com/allisson/outboxd/internal/procedure"
	appValidation "github.com/allisson/outboxd/internal/validation"
)

// PokeRepository defines poke persistence operations
type PokeRepository interface {
	Create(ctx context.Context, poke *domain.Poke) error
}

// UseCase defines the poke procedure
type UseCase interface {
	// Poke records the message and emits admin.outbox.poke in the same transaction.
	Poke(ctx context.Context, input domain.Input) (*domain.Output, error)
}

// PokeUseCase implements UseCase on top of a procedure runner
type PokeUseCase struct {
	runner   *procedure.Runner
	pokeRepo PokeRepository
}

// NewPokeUseCase creates a new PokeUseCase
func NewPokeUseCase(runner *procedure.Runner, pokeRepo PokeRepository) *PokeUseCase {
	return &PokeUseCase{
		runner:   runner,
		pokeRepo: pokeRepo,
	}
}

func validateInput(input domain.Input) error {
	err := validation.ValidateStruct(&input,
		validation.Field(&input.Message,
			validation.Required.Error("message is required"),
			appValidation.NotBlank,
			validation.RuneLength(1, 1000).Error("message must be between 1 and 1000 characters"),
		),
	)
	return appValidation.WrapValidationError(err)
}

// Poke records the message and enqueues the event
func (uc *PokeUseCase) Poke(ctx context.Context, input domain.Input) (*domain.Output, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	output, err := procedure.Mutate(ctx, uc.runner, domain.EventName, input,
		func(ctx context.Context, input domain.Input) (domain.Output, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return domain.Output{}, apperrors.Wrap(err, "failed to generate poke id")
			}
			poke := &domain.Poke{
				ID:        id,
				Message:   input.Message,
				Reply:     domain.Reply,
				CreatedAt: time.Now().UTC(),
			}
			if err := uc.pokeRepo.Create(ctx, poke); err != nil {
				return domain.Output{}, err
			}
			return domain.Output{Reply: poke.Reply}, nil
		})
	if err != nil {
		return nil, err
	}
	return &output, nil
}
