package definitions

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/cascade/pkg/pagination"
	"github.com/JaimeStill/cascade/pkg/query"
	"github.com/JaimeStill/cascade/pkg/repository"
)

const definitionColumns = `id, name, document_type, active, version, steps, connections, created_at, updated_at`

type repo struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a workflow definition repository implementing the System interface.
func New(
	db *sql.DB,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		logger:     logger.With("system", "definitions"),
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
) (*pagination.PageResult[Definition], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Name", "DocumentType")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count definitions: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	defs, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanDefinition)
	if err != nil {
		return nil, fmt.Errorf("query definitions: %w", err)
	}

	result := pagination.NewPageResult(defs, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Definition, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	d, err := repository.QueryOne(ctx, r.db, q, args, scanDefinition)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicateName)
	}
	return &d, nil
}

func (r *repo) FindVersion(ctx context.Context, id uuid.UUID, version int) (*Definition, error) {
	live, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	if version == 0 || version == live.Version {
		return live, nil
	}

	q := `
		SELECT definition_id, version, steps, connections, editor, created_at
		FROM workflow_definition_versions
		WHERE definition_id = $1 AND version = $2`

	entry, err := repository.QueryOne(ctx, r.db, q, []any{id, version}, scanVersionEntry)
	if err != nil {
		return nil, repository.MapError(err, ErrVersionNotFound, ErrDuplicateName)
	}

	// Pinned snapshots keep the live identity but carry the historical graph.
	pinned := *live
	pinned.Version = entry.Version
	pinned.Steps = entry.Steps
	pinned.Connections = entry.Connections
	return &pinned, nil
}

func (r *repo) History(ctx context.Context, id uuid.UUID) ([]VersionEntry, error) {
	if _, err := r.Find(ctx, id); err != nil {
		return nil, err
	}

	q := `
		SELECT definition_id, version, steps, connections, editor, created_at
		FROM workflow_definition_versions
		WHERE definition_id = $1
		ORDER BY version`

	entries, err := repository.QueryMany(ctx, r.db, q, []any{id}, scanVersionEntry)
	if err != nil {
		return nil, fmt.Errorf("query definition history: %w", err)
	}
	return entries, nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Definition, error) {
	if cmd.DocumentType == "" {
		cmd.DocumentType = DocumentTypeAny
	}

	if err := Validate(cmd.Steps, cmd.Connections); err != nil {
		return nil, err
	}

	stepsRaw, connectionsRaw, err := marshalGraph(cmd.Steps, cmd.Connections)
	if err != nil {
		return nil, fmt.Errorf("encode graph: %w", err)
	}

	q := `
		INSERT INTO workflow_definitions(id, name, document_type, steps, connections)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + definitionColumns

	args := []any{uuid.New(), cmd.Name, cmd.DocumentType, stepsRaw, connectionsRaw}

	d, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Definition, error) {
		return repository.QueryOne(ctx, tx, q, args, scanDefinition)
	})

	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicateName)
	}

	r.logger.Info(
		"definition created",
		"id", d.ID,
		"name", d.Name,
		"graph", describeGraph(d.Steps, d.Connections),
	)
	return &d, nil
}

func (r *repo) Update(ctx context.Context, id uuid.UUID, cmd UpdateCommand, editor string) (*Definition, error) {
	d, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Definition, error) {
		current, err := repository.QueryOne(
			ctx, tx,
			`SELECT `+definitionColumns+` FROM workflow_definitions WHERE id = $1 FOR UPDATE`,
			[]any{id},
			scanDefinition,
		)
		if err != nil {
			return Definition{}, err
		}

		if err := snapshotVersion(ctx, tx, &current, editor); err != nil {
			return Definition{}, err
		}

		name := current.Name
		if cmd.Name != nil {
			name = *cmd.Name
		}
		documentType := current.DocumentType
		if cmd.DocumentType != nil {
			documentType = *cmd.DocumentType
		}

		if err := Validate(cmd.Steps, cmd.Connections); err != nil {
			return Definition{}, err
		}

		stepsRaw, connectionsRaw, err := marshalGraph(cmd.Steps, cmd.Connections)
		if err != nil {
			return Definition{}, fmt.Errorf("encode graph: %w", err)
		}

		return repository.QueryOne(
			ctx, tx,
			`UPDATE workflow_definitions
			SET name = $1, document_type = $2, steps = $3, connections = $4,
				version = version + 1, updated_at = now()
			WHERE id = $5
			RETURNING `+definitionColumns,
			[]any{name, documentType, stepsRaw, connectionsRaw, id},
			scanDefinition,
		)
	})

	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicateName)
	}

	r.logger.Info(
		"definition updated",
		"id", d.ID,
		"name", d.Name,
		"version", d.Version,
		"editor", editor,
	)
	return &d, nil
}

func (r *repo) SetActive(ctx context.Context, id uuid.UUID, active bool) (*Definition, error) {
	q := `
		UPDATE workflow_definitions
		SET active = $1, updated_at = now()
		WHERE id = $2
		RETURNING ` + definitionColumns

	d, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Definition, error) {
		return repository.QueryOne(ctx, tx, q, []any{active, id}, scanDefinition)
	})

	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicateName)
	}

	r.logger.Info("definition active flag set", "id", id, "active", active)
	return &d, nil
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		var blocking int
		err := tx.QueryRowContext(
			ctx,
			`SELECT COUNT(DISTINCT document_id) FROM document_workflows
			WHERE definition_id = $1 AND status = 'in_progress'`,
			id,
		).Scan(&blocking)
		if err != nil {
			return struct{}{}, fmt.Errorf("count blocking executions: %w", err)
		}

		if blocking > 0 {
			return struct{}{}, &InUseError{Blocking: blocking}
		}

		if err := repository.ExecExpectOne(
			ctx, tx,
			"DELETE FROM workflow_definitions WHERE id = $1",
			id,
		); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})

	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicateName)
	}

	r.logger.Info("definition deleted", "id", id)
	return nil
}

// snapshotVersion appends the current graph to the version history. It runs
// inside the update transaction, before the patch is applied, so history
// replay always reproduces the live definition.
func snapshotVersion(ctx context.Context, tx *sql.Tx, current *Definition, editor string) error {
	stepsRaw, connectionsRaw, err := marshalGraph(current.Steps, current.Connections)
	if err != nil {
		return fmt.Errorf("encode version snapshot: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO workflow_definition_versions(definition_id, version, steps, connections, editor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		current.ID, current.Version, stepsRaw, connectionsRaw, editor, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append version snapshot: %w", err)
	}
	return nil
}
