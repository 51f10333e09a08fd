// Package dto provides data transfer objects for the poke endpoint.
package dto

import (
	validation "github.com/jellydator/validation"

	"github.com/allisson/outboxd/internal/poke/domain"
	customValidation "github.com/allisson/outboxd/internal/validation"
)

// PokeRequest is the body of POST /v1/admin/outbox/poke.
type PokeRequest struct {
	Message string `json:"message"`
}

// Validate checks if the poke request is valid.
func (r *PokeRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Message,
			validation.Required,
			customValidation.NotBlank,
			validation.RuneLength(1, 1000),
		),
	)
}

// ToInput converts the request to the procedure input.
func (r *PokeRequest) ToInput() domain.Input {
	return domain.Input{Message: r.Message}
}
