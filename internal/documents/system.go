package documents

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/JaimeStill/cascade/pkg/pagination"
)

// System defines the public contract for document domain operations.
type System interface {
	Handler(maxUploadSize int64) *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Document], error)

	Find(ctx context.Context, id uuid.UUID) (*Document, error)
	Create(ctx context.Context, cmd CreateCommand) (*Document, error)
	Attach(ctx context.Context, id uuid.UUID, cmd AttachCommand) (*Document, error)
	Download(ctx context.Context, id uuid.UUID) (*Document, io.ReadCloser, error)
	SetMetadata(ctx context.Context, id uuid.UUID, patch map[string]any) (*Document, error)
	Archive(ctx context.Context, id uuid.UUID) (*Document, error)
	Attachment(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
