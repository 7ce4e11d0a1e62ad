package notifications

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JaimeStill/cascade/pkg/pagination"
	"github.com/JaimeStill/cascade/pkg/query"
	"github.com/JaimeStill/cascade/pkg/repository"
)

const requestColumns = `id, kind, target_user, message, document_id, step_index, created_at`

type repo struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a notification outbox repository implementing the System interface.
func New(
	db *sql.DB,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		logger:     logger.With("system", "notifications"),
		pagination: pagination,
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger, r.pagination)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Request], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "TargetUser", "Message")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	reqs, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanRequest)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}

	result := pagination.NewPageResult(reqs, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Send(ctx context.Context, cmd SendCommand) (*Request, error) {
	if cmd.TargetUser == "" {
		return nil, ErrInvalidTarget
	}
	if cmd.Kind == "" {
		cmd.Kind = KindStep
	}

	q := `
		INSERT INTO notification_requests(id, kind, target_user, message, document_id, step_index)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + requestColumns

	args := []any{uuid.New(), cmd.Kind, cmd.TargetUser, cmd.Message, cmd.DocumentID, cmd.StepIndex}

	n, err := repository.QueryOne(ctx, r.db, q, args, scanRequest)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrInvalidTarget)
	}

	r.logger.Info(
		"notification queued",
		"id", n.ID,
		"kind", n.Kind,
		"target", n.TargetUser,
	)
	return &n, nil
}
