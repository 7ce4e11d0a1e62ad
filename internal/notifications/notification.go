// Package notifications implements the notification outbox for Cascade.
// Workflow steps, timeouts, and escalations enqueue notification requests
// here; delivery is left to an external dispatcher draining the outbox.
package notifications

import (
	"time"

	"github.com/google/uuid"
)

// Notification kinds.
const (
	KindStep      = "step"
	KindTimeout   = "timeout"
	KindEscalated = "escalated"
	KindFailure   = "failure"
)

// Request is a queued notification for a target user.
type Request struct {
	ID         uuid.UUID  `json:"id"`
	Kind       string     `json:"kind"`
	TargetUser string     `json:"target_user"`
	Message    string     `json:"message"`
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
	StepIndex  *int       `json:"step_index,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SendCommand carries the data for a new notification request.
type SendCommand struct {
	Kind       string
	TargetUser string
	Message    string
	DocumentID *uuid.UUID
	StepIndex  *int
}
