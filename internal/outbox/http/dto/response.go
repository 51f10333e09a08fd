package dto

import (
	"encoding/json"
	"time"

	"github.com/allisson/outboxd/internal/outbox/domain"
	"github.com/allisson/outboxd/internal/outbox/usecase"
)

// EntryResponse represents an outbox entry in API responses.
type EntryResponse struct {
	ID              string          `json:"id"`
	EventName       string          `json:"event_name"`
	Payload         json.RawMessage `json:"payload"`
	Status          string          `json:"status"`
	Attempt         int             `json:"attempt"`
	LastError       *string         `json:"last_error,omitempty"`
	LockedUntil     *time.Time      `json:"locked_until,omitempty"`
	NextAttemptAt   time.Time       `json:"next_attempt_at"`
	LastAttemptedAt *time.Time      `json:"last_attempted_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// DeliveryResponse represents the state of one consumer for an entry.
type DeliveryResponse struct {
	Consumer        string     `json:"consumer"`
	Status          string     `json:"status"`
	Attempt         int        `json:"attempt"`
	LastError       *string    `json:"last_error,omitempty"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`
	LastAttemptedAt *time.Time `json:"last_attempted_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// EntryDetailsResponse is an entry together with its deliveries.
type EntryDetailsResponse struct {
	EntryResponse
	Deliveries []DeliveryResponse `json:"deliveries"`
}

// ListEntriesResponse represents a paginated list of entries.
type ListEntriesResponse struct {
	Data []EntryResponse `json:"data"`
}

// StatsResponse holds the entry count per status.
type StatsResponse struct {
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

// MapEntryToResponse converts a domain entry to an API response.
func MapEntryToResponse(entry *domain.Entry) EntryResponse {
	return EntryResponse{
		ID:              entry.ID.String(),
		EventName:       entry.EventName,
		Payload:         entry.Payload,
		Status:          string(entry.Status),
		Attempt:         entry.Attempt,
		LastError:       entry.LastError,
		LockedUntil:     entry.LockedUntil,
		NextAttemptAt:   entry.NextAttemptAt,
		LastAttemptedAt: entry.LastAttemptedAt,
		CreatedAt:       entry.CreatedAt,
		UpdatedAt:       entry.UpdatedAt,
	}
}

// MapEntriesToListResponse converts domain entries to a list response.
func MapEntriesToListResponse(entries []*domain.Entry) ListEntriesResponse {
	data := make([]EntryResponse, 0, len(entries))
	for _, entry := range entries {
		data = append(data, MapEntryToResponse(entry))
	}
	return ListEntriesResponse{Data: data}
}

// MapDetailsToResponse converts an entry and its deliveries to an API response.
func MapDetailsToResponse(details *usecase.EntryDetails) EntryDetailsResponse {
	deliveries := make([]DeliveryResponse, 0, len(details.Deliveries))
	for _, d := range details.Deliveries {
		deliveries = append(deliveries, DeliveryResponse{
			Consumer:        d.ConsumerName,
			Status:          string(d.Status),
			Attempt:         d.Attempt,
			LastError:       d.LastError,
			NextAttemptAt:   d.NextAttemptAt,
			LastAttemptedAt: d.LastAttemptedAt,
			CompletedAt:     d.CompletedAt,
		})
	}
	return EntryDetailsResponse{
		EntryResponse: MapEntryToResponse(details.Entry),
		Deliveries:    deliveries,
	}
}

// MapStatsToResponse converts status counts to an API response.
func MapStatsToResponse(counts map[domain.EntryStatus]int64) StatsResponse {
	resp := StatsResponse{Counts: make(map[string]int64, len(domain.EntryStatuses))}
	for _, status := range domain.EntryStatuses {
		n := counts[status]
		resp.Counts[string(status)] = n
		resp.Total += n
	}
	return resp
}
