// Package http exposes the poke procedure over HTTP.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/allisson/outboxd/internal/httputil"
	"github.com/allisson/outboxd/internal/poke/http/dto"
	pokeUseCase "github.com/allisson/outboxd/internal/poke/usecase"
	customValidation "github.com/allisson/outboxd/internal/validation"
)

// PokeHandler handles the example admin poke procedure.
type PokeHandler struct {
	pokeUseCase pokeUseCase.UseCase
	logger      *slog.Logger
}

// NewPokeHandler creates a new poke handler.
func NewPokeHandler(pokeUseCase pokeUseCase.UseCase, logger *slog.Logger) *PokeHandler {
	return &PokeHandler{
		pokeUseCase: pokeUseCase,
		logger:      logger,
	}
}

// PokeHandler runs the poke procedure.
// POST /v1/admin/outbox/poke
// Returns 200 OK with {"reply": "pong"} once the poke and its event are committed.
func (h *PokeHandler) PokeHandler(c *gin.Context) {
	var req dto.PokeRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	output, err := h.pokeUseCase.Poke(c.Request.Context(), req.ToInput())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapOutputToResponse(output))
}
