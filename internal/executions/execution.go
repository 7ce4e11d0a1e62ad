// Package executions implements the workflow runtime for Cascade. An
// execution binds a document to a workflow definition pinned at a specific
// version and walks the step graph from start to completion. At most one
// execution per document may be in progress at a time.
package executions

import (
	"time"

	"github.com/google/uuid"
)

// Execution statuses. A document with no execution row has not started.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCanceled   = "canceled"
)

// Actors recorded for transitions the scheduler performs.
const (
	ActorTimeout = "system:timeout"
)

// Execution is the runtime state of a workflow run against a document.
// DefinitionVersion pins the graph at start time; later definition edits
// never affect a running execution.
type Execution struct {
	ID                uuid.UUID      `json:"id"`
	DocumentID        uuid.UUID      `json:"document_id"`
	DefinitionID      uuid.UUID      `json:"definition_id"`
	DefinitionVersion int            `json:"definition_version"`
	Status            string         `json:"status"`
	CurrentStep       int            `json:"current_step"`
	StepEnteredAt     time.Time      `json:"step_entered_at"`
	StepNotifiedAt    *time.Time     `json:"step_notified_at,omitempty"`
	EscalatedTo       *string        `json:"escalated_to,omitempty"`
	FormValues        map[string]any `json:"form_values"`
	LastError         *string        `json:"last_error,omitempty"`
	StartedBy         string         `json:"started_by"`
	StartedAt         time.Time      `json:"started_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	CancelReason      *string        `json:"cancel_reason,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Running reports whether the execution is still in progress.
func (e *Execution) Running() bool {
	return e.Status == StatusInProgress
}

// StartCommand selects the definition for a new execution.
type StartCommand struct {
	DefinitionID uuid.UUID `json:"definition_id"`
}

// AdvanceCommand carries the input for completing the current step. Step
// names the step the caller believes it is completing; a mismatch against
// the execution's current step rejects the advance, so a replayed request
// cannot act on the wrong step. Decision selects the outgoing connector on
// approval steps. Connector overrides the default edge on other step kinds.
// FormValues supplies field values for form steps.
type AdvanceCommand struct {
	Step       int            `json:"step"`
	Decision   string         `json:"decision,omitempty"`
	Connector  string         `json:"connector,omitempty"`
	FormValues map[string]any `json:"form_values,omitempty"`
	Comment    string         `json:"comment,omitempty"`
}

// CancelCommand aborts an in-progress execution.
type CancelCommand struct {
	Reason string `json:"reason,omitempty"`
}

// State is the runtime view returned to API clients: the execution plus
// the current step and its available outgoing connectors.
type State struct {
	Execution  *Execution `json:"execution"`
	StepName   string     `json:"step_name,omitempty"`
	StepType   string     `json:"step_type,omitempty"`
	Connectors []string   `json:"connectors,omitempty"`
	Terminal   bool       `json:"terminal"`
}
