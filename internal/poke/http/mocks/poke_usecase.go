// Package mocks provides mock implementations for testing the poke handler.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/allisson/outboxd/internal/poke/domain"
)

// MockPokeUseCase is a mock implementation of the poke UseCase.
type MockPokeUseCase struct {
	mock.Mock
}

// Poke mocks the Poke method of UseCase.
func (m *MockPokeUseCase) Poke(ctx context.Context, input domain.Input) (*domain.Output, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Output), args.Error(1)
}
