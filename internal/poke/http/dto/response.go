package dto

import "github.com/allisson/outboxd/internal/poke/domain"

// PokeResponse is the body returned by a successful poke.
type PokeResponse struct {
	Reply string `json:"reply"`
}

// MapOutputToResponse converts the procedure output to an API response.
func MapOutputToResponse(output *domain.Output) PokeResponse {
	return PokeResponse{Reply: output.Reply}
}
