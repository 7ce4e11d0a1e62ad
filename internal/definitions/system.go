package definitions

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/cascade/pkg/pagination"
)

// System defines the public contract for workflow definition operations.
type System interface {
	Handler() *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Definition], error)

	Find(ctx context.Context, id uuid.UUID) (*Definition, error)

	// FindVersion returns the pinned historical snapshot for a prior
	// version, or the live definition when version matches the current one.
	FindVersion(ctx context.Context, id uuid.UUID, version int) (*Definition, error)

	// History returns the append-only version history, oldest first.
	History(ctx context.Context, id uuid.UUID) ([]VersionEntry, error)

	Create(ctx context.Context, cmd CreateCommand) (*Definition, error)

	// Update snapshots the current version into history, applies the
	// command, validates the resulting graph, and increments the version
	// in a single transaction.
	Update(ctx context.Context, id uuid.UUID, cmd UpdateCommand, editor string) (*Definition, error)

	// SetActive toggles whether new executions may start from the
	// definition. It does not bump the version.
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*Definition, error)

	// Delete removes the definition and its history. Fails with an
	// InUseError while any document has an in-flight execution pinned to it.
	Delete(ctx context.Context, id uuid.UUID) error
}
