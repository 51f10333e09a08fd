// Package http provides the operator HTTP handlers for the outbox: entry inspection,
// dead-letter replay, status counts and a manual dispatch trigger.
package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/outboxd/internal/httputil"
	"github.com/allisson/outboxd/internal/outbox/http/dto"
	outboxUseCase "github.com/allisson/outboxd/internal/outbox/usecase"
	customValidation "github.com/allisson/outboxd/internal/validation"
)

// OutboxHandler handles the outbox admin endpoints.
type OutboxHandler struct {
	adminUseCase outboxUseCase.AdminUseCase
	dispatcher   outboxUseCase.DispatcherUseCase
	logger       *slog.Logger
}

// NewOutboxHandler creates a new outbox handler.
func NewOutboxHandler(
	adminUseCase outboxUseCase.AdminUseCase,
	dispatcher outboxUseCase.DispatcherUseCase,
	logger *slog.Logger,
) *OutboxHandler {
	return &OutboxHandler{
		adminUseCase: adminUseCase,
		dispatcher:   dispatcher,
		logger:       logger,
	}
}

func (h *OutboxHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.HandleBadRequestGin(c, fmt.Errorf("invalid entry id: %w", err), h.logger)
		return uuid.Nil, false
	}
	return id, true
}

// ListEntriesHandler lists entries, newest first.
// GET /v1/outbox/entries?status=&event_name=&offset=&limit=
func (h *OutboxHandler) ListEntriesHandler(c *gin.Context) {
	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	var req dto.ListEntriesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	entries, err := h.adminUseCase.ListEntries(c.Request.Context(), req.ToFilter(offset, limit))
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapEntriesToListResponse(entries))
}

// GetEntryHandler returns one entry with the delivery state of each consumer.
// GET /v1/outbox/entries/:id
func (h *OutboxHandler) GetEntryHandler(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	details, err := h.adminUseCase.GetEntry(c.Request.Context(), id)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapDetailsToResponse(details))
}

// ReplayHandler returns a dead-lettered entry to pending.
// POST /v1/outbox/entries/:id/replay
// Returns 409 Conflict when the entry is not dead-lettered.
func (h *OutboxHandler) ReplayHandler(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	details, err := h.adminUseCase.Replay(c.Request.Context(), id)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	h.logger.Info("dead-lettered entry replayed",
		slog.String("entry_id", id.String()),
		slog.String("event_name", details.Entry.EventName),
	)
	c.JSON(http.StatusOK, dto.MapDetailsToResponse(details))
}

// ListDeadLettersHandler lists dead-lettered entries.
// GET /v1/outbox/dead-letters?offset=&limit=
func (h *OutboxHandler) ListDeadLettersHandler(c *gin.Context) {
	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	entries, err := h.adminUseCase.ListDeadLettered(c.Request.Context(), offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapEntriesToListResponse(entries))
}

// StatsHandler returns the entry count per status.
// GET /v1/outbox/stats
func (h *OutboxHandler) StatsHandler(c *gin.Context) {
	counts, err := h.adminUseCase.Stats(c.Request.Context())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapStatsToResponse(counts))
}

// DispatchHandler runs one dispatch pass and reports what it did.
// POST /v1/outbox/dispatch
func (h *OutboxHandler) DispatchHandler(c *gin.Context) {
	result, err := h.dispatcher.DispatchOnce(c.Request.Context())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, result)
}
