package notifications

import (
	"net/url"

	"github.com/google/uuid"

	"github.com/JaimeStill/cascade/pkg/query"
	"github.com/JaimeStill/cascade/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "notification_requests", "nr").
	Project("id", "ID").
	Project("kind", "Kind").
	Project("target_user", "TargetUser").
	Project("message", "Message").
	Project("document_id", "DocumentID").
	Project("step_index", "StepIndex").
	Project("created_at", "CreatedAt")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for notification queries.
type Filters struct {
	Kind       *string    `json:"kind,omitempty"`
	TargetUser *string    `json:"target_user,omitempty"`
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Kind", f.Kind).
		WhereEquals("TargetUser", f.TargetUser).
		WhereEquals("DocumentID", f.DocumentID)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if k := values.Get("kind"); k != "" {
		f.Kind = &k
	}

	if tu := values.Get("target_user"); tu != "" {
		f.TargetUser = &tu
	}

	if d := values.Get("document_id"); d != "" {
		if id, err := uuid.Parse(d); err == nil {
			f.DocumentID = &id
		}
	}

	return f
}

func scanRequest(s repository.Scanner) (Request, error) {
	var n Request
	err := s.Scan(
		&n.ID,
		&n.Kind,
		&n.TargetUser,
		&n.Message,
		&n.DocumentID,
		&n.StepIndex,
		&n.CreatedAt,
	)
	return n, err
}
