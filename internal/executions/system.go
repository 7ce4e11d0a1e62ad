package executions

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/cascade/internal/documents"
	"github.com/JaimeStill/cascade/internal/identity"
	"github.com/JaimeStill/cascade/pkg/pagination"
)

// AssigneeResolver computes a concrete user for a dynamic assignee at
// execution time, typically from document metadata or form values.
type AssigneeResolver func(ctx context.Context, doc *documents.Document, exec *Execution) (string, error)

// System defines the public contract for the workflow runtime.
type System interface {
	Handler() *Handler

	Start(ctx context.Context, documentID uuid.UUID, cmd StartCommand, actor string) (*Execution, error)
	Advance(ctx context.Context, documentID uuid.UUID, cmd AdvanceCommand, caller *identity.Caller) (*Execution, error)
	Cancel(ctx context.Context, documentID uuid.UUID, cmd CancelCommand, actor string) (*Execution, error)
	State(ctx context.Context, documentID uuid.UUID) (*State, error)

	Find(ctx context.Context, id uuid.UUID) (*Execution, error)
	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Execution], error)
	ListInProgress(ctx context.Context) ([]Execution, error)

	// ApplyTimeout re-checks the step deadline under the document lock and
	// applies the configured action. Stale snapshots are ignored.
	ApplyTimeout(ctx context.Context, e Execution) error

	Scripts() *ScriptRegistry
	RegisterResolver(name string, fn AssigneeResolver) error
}
