// Package domain defines the poke procedure: an admin action that records a message
// and emits the admin.outbox.poke event through the outbox.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventName is the event emitted by every successful poke.
const EventName = "admin.outbox.poke"

// Reply is the fixed server reply to a poke.
const Reply = "pong"

// Poke is a recorded poke.
type Poke struct {
	ID        uuid.UUID
	Message   string
	Reply     string
	CreatedAt time.Time
}

// Input is the procedure input and the "input" half of the event payload.
type Input struct {
	Message string `json:"message"`
}

// Output is the procedure output and the "output" half of the event payload.
type Output struct {
	Reply string `json:"reply"`
}
