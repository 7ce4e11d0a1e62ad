package notifications

import (
	"context"

	"github.com/JaimeStill/cascade/pkg/pagination"
)

// System defines the public contract for the notification outbox.
type System interface {
	Handler() *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Request], error)

	Send(ctx context.Context, cmd SendCommand) (*Request, error)
}
