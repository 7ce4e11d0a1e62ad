package executions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/JaimeStill/cascade/pkg/pagination"
	"github.com/JaimeStill/cascade/pkg/query"
	"github.com/JaimeStill/cascade/pkg/repository"
)

const executionColumns = `id, document_id, definition_id, definition_version, status, current_step, step_entered_at, step_notified_at, escalated_to, form_values, last_error, started_by, started_at, completed_at, cancel_reason, updated_at`

// store abstracts execution persistence so the runtime can be exercised
// without a database.
type store interface {
	insert(ctx context.Context, e *Execution) (*Execution, error)
	find(ctx context.Context, id uuid.UUID) (*Execution, error)
	findActive(ctx context.Context, documentID uuid.UUID) (*Execution, error)
	findLatest(ctx context.Context, documentID uuid.UUID) (*Execution, error)
	list(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Execution], error)
	listInProgress(ctx context.Context) ([]Execution, error)
	update(ctx context.Context, e *Execution, expectedStep int) (*Execution, error)
}

type pgStore struct {
	db         *sql.DB
	pagination pagination.Config
}

// insert creates the execution row. The partial unique index on
// document_id for in-progress rows rejects a second concurrent start.
func (s *pgStore) insert(ctx context.Context, e *Execution) (*Execution, error) {
	formValues, err := marshalFormValues(e.FormValues)
	if err != nil {
		return nil, fmt.Errorf("encode form values: %w", err)
	}

	q := `
		INSERT INTO document_workflows(id, document_id, definition_id, definition_version, status, current_step, step_entered_at, form_values, started_by)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7, $8)
		RETURNING ` + executionColumns

	args := []any{
		e.ID,
		e.DocumentID,
		e.DefinitionID,
		e.DefinitionVersion,
		e.Status,
		e.CurrentStep,
		formValues,
		e.StartedBy,
	}

	created, err := repository.QueryOne(ctx, s.db, q, args, scanExecution)
	if err != nil {
		return nil, repository.MapError(err, ErrNotRunning, ErrAlreadyRunning)
	}
	return &created, nil
}

func (s *pgStore) find(ctx context.Context, id uuid.UUID) (*Execution, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	e, err := repository.QueryOne(ctx, s.db, q, args, scanExecution)
	if err != nil {
		return nil, repository.MapError(err, ErrNotRunning, ErrAlreadyRunning)
	}
	return &e, nil
}

func (s *pgStore) findActive(ctx context.Context, documentID uuid.UUID) (*Execution, error) {
	q := `
		SELECT ` + executionColumns + `
		FROM document_workflows
		WHERE document_id = $1 AND status = $2`

	e, err := repository.QueryOne(ctx, s.db, q, []any{documentID, StatusInProgress}, scanExecution)
	if err != nil {
		return nil, repository.MapError(err, ErrNotRunning, ErrAlreadyRunning)
	}
	return &e, nil
}

func (s *pgStore) findLatest(ctx context.Context, documentID uuid.UUID) (*Execution, error) {
	q := `
		SELECT ` + executionColumns + `
		FROM document_workflows
		WHERE document_id = $1
		ORDER BY started_at DESC
		LIMIT 1`

	e, err := repository.QueryOne(ctx, s.db, q, []any{documentID}, scanExecution)
	if err != nil {
		return nil, repository.MapError(err, ErrNotRunning, ErrAlreadyRunning)
	}
	return &e, nil
}

func (s *pgStore) list(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Execution], error) {
	page.Normalize(s.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "StartedBy")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count executions: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	execs, err := repository.QueryMany(ctx, s.db, pageSQL, pageArgs, scanExecution)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}

	result := pagination.NewPageResult(execs, total, page.Page, page.PageSize)
	return &result, nil
}

func (s *pgStore) listInProgress(ctx context.Context) ([]Execution, error) {
	q := `
		SELECT ` + executionColumns + `
		FROM document_workflows
		WHERE status = $1
		ORDER BY step_entered_at`

	execs, err := repository.QueryMany(ctx, s.db, q, []any{StatusInProgress}, scanExecution)
	if err != nil {
		return nil, fmt.Errorf("query in-progress executions: %w", err)
	}
	return execs, nil
}

// update persists mutable state with a compare-and-set on current_step.
// When another writer moved the execution first, zero rows match and the
// caller gets ErrStepMismatch.
func (s *pgStore) update(ctx context.Context, e *Execution, expectedStep int) (*Execution, error) {
	formValues, err := marshalFormValues(e.FormValues)
	if err != nil {
		return nil, fmt.Errorf("encode form values: %w", err)
	}

	q := `
		UPDATE document_workflows
		SET status = $1, current_step = $2, step_entered_at = $3, step_notified_at = $4,
			escalated_to = $5, form_values = $6, last_error = $7, completed_at = $8,
			cancel_reason = $9, updated_at = now()
		WHERE id = $10 AND status = $11 AND current_step = $12
		RETURNING ` + executionColumns

	args := []any{
		e.Status,
		e.CurrentStep,
		e.StepEnteredAt,
		e.StepNotifiedAt,
		e.EscalatedTo,
		formValues,
		e.LastError,
		e.CompletedAt,
		e.CancelReason,
		e.ID,
		StatusInProgress,
		expectedStep,
	}

	updated, err := repository.QueryOne(ctx, s.db, q, args, scanExecution)
	if err != nil {
		return nil, repository.MapError(err, ErrStepMismatch, ErrAlreadyRunning)
	}
	return &updated, nil
}
