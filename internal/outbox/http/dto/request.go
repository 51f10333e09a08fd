// Package dto provides data transfer objects for the outbox admin endpoints.
package dto

import (
	validation "github.com/jellydator/validation"

	"github.com/allisson/outboxd/internal/outbox/domain"
	customValidation "github.com/allisson/outboxd/internal/validation"
)

// ListEntriesRequest holds the query filters of GET /v1/outbox/entries.
type ListEntriesRequest struct {
	Status    string `form:"status"`
	EventName string `form:"event_name"`
}

func statusValues() []interface{} {
	values := make([]interface{}, 0, len(domain.EntryStatuses))
	for _, s := range domain.EntryStatuses {
		values = append(values, string(s))
	}
	return values
}

// Validate checks if the list entries request is valid.
func (r *ListEntriesRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Status, validation.In(statusValues()...).Error("must be a valid entry status")),
		validation.Field(&r.EventName, customValidation.EventName, validation.Length(0, 255)),
	)
}

// ToFilter converts the request to a repository filter.
func (r *ListEntriesRequest) ToFilter(offset, limit int) domain.EntryFilter {
	return domain.EntryFilter{
		Status:    domain.EntryStatus(r.Status),
		EventName: r.EventName,
		Offset:    offset,
		Limit:     limit,
	}
}
