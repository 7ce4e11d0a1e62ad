package executions

import (
	"encoding/json"
	"net/url"

	"github.com/google/uuid"

	"github.com/JaimeStill/cascade/pkg/query"
	"github.com/JaimeStill/cascade/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "document_workflows", "dw").
	Project("id", "ID").
	Project("document_id", "DocumentID").
	Project("definition_id", "DefinitionID").
	Project("definition_version", "DefinitionVersion").
	Project("status", "Status").
	Project("current_step", "CurrentStep").
	Project("step_entered_at", "StepEnteredAt").
	Project("step_notified_at", "StepNotifiedAt").
	Project("escalated_to", "EscalatedTo").
	Project("form_values", "FormValues").
	Project("last_error", "LastError").
	Project("started_by", "StartedBy").
	Project("started_at", "StartedAt").
	Project("completed_at", "CompletedAt").
	Project("cancel_reason", "CancelReason").
	Project("updated_at", "UpdatedAt")

var defaultSort = query.SortField{
	Field:      "StartedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for execution queries.
type Filters struct {
	Status       *string    `json:"status,omitempty"`
	DocumentID   *uuid.UUID `json:"document_id,omitempty"`
	DefinitionID *uuid.UUID `json:"definition_id,omitempty"`
	StartedBy    *string    `json:"started_by,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Status", f.Status).
		WhereEquals("DocumentID", f.DocumentID).
		WhereEquals("DefinitionID", f.DefinitionID).
		WhereEquals("StartedBy", f.StartedBy)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if s := values.Get("status"); s != "" {
		f.Status = &s
	}

	if d := values.Get("document_id"); d != "" {
		if id, err := uuid.Parse(d); err == nil {
			f.DocumentID = &id
		}
	}

	if d := values.Get("definition_id"); d != "" {
		if id, err := uuid.Parse(d); err == nil {
			f.DefinitionID = &id
		}
	}

	if sb := values.Get("started_by"); sb != "" {
		f.StartedBy = &sb
	}

	return f
}

func scanExecution(s repository.Scanner) (Execution, error) {
	var e Execution
	var formValues []byte

	err := s.Scan(
		&e.ID,
		&e.DocumentID,
		&e.DefinitionID,
		&e.DefinitionVersion,
		&e.Status,
		&e.CurrentStep,
		&e.StepEnteredAt,
		&e.StepNotifiedAt,
		&e.EscalatedTo,
		&formValues,
		&e.LastError,
		&e.StartedBy,
		&e.StartedAt,
		&e.CompletedAt,
		&e.CancelReason,
		&e.UpdatedAt,
	)
	if err != nil {
		return e, err
	}

	if len(formValues) > 0 {
		if err := json.Unmarshal(formValues, &e.FormValues); err != nil {
			return e, err
		}
	}
	if e.FormValues == nil {
		e.FormValues = map[string]any{}
	}
	return e, nil
}

func marshalFormValues(values map[string]any) ([]byte, error) {
	if values == nil {
		values = map[string]any{}
	}
	return json.Marshal(values)
}
