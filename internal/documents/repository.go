package documents

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/JaimeStill/cascade/pkg/pagination"
	"github.com/JaimeStill/cascade/pkg/query"
	"github.com/JaimeStill/cascade/pkg/repository"
	"github.com/JaimeStill/cascade/pkg/storage"
)

const documentColumns = `id, name, document_type, status, metadata, filename, content_type, size_bytes, page_count, storage_key, attached_at, created_at, updated_at`

type repo struct {
	db         *sql.DB
	storage    storage.System
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a document repository implementing the System interface.
func New(
	db *sql.DB,
	store storage.System,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		storage:    store,
		logger:     logger.With("system", "documents"),
		pagination: pagination,
	}
}

func (r *repo) Handler(maxUploadSize int64) *Handler {
	return NewHandler(r, r.logger, r.pagination, maxUploadSize)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Document], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Name", "Filename")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	docs, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanDocument)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	result := pagination.NewPageResult(docs, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Document, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	d, err := repository.QueryOne(ctx, r.db, q, args, scanDocument)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &d, nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Document, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidFile)
	}
	if cmd.DocumentType == "" {
		return nil, fmt.Errorf("%w: document_type is required", ErrInvalidFile)
	}

	metadata, err := marshalMetadata(cmd.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	q := `
		INSERT INTO documents(id, name, document_type, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + documentColumns

	d, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Document, error) {
		return repository.QueryOne(ctx, tx, q, []any{uuid.New(), cmd.Name, cmd.DocumentType, metadata}, scanDocument)
	})

	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("document registered", "id", d.ID, "name", d.Name, "type", d.DocumentType)
	return &d, nil
}

// Attach uploads the file to blob storage, then records the attachment on the
// document row. A failed row update triggers a compensating blob delete so
// storage never holds orphaned files.
func (r *repo) Attach(ctx context.Context, id uuid.UUID, cmd AttachCommand) (*Document, error) {
	doc, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == StatusArchived {
		return nil, ErrArchived
	}

	key := buildStorageKey(id, sanitizeFilename(cmd.Filename))

	if err := r.storage.Upload(ctx, key, bytes.NewReader(cmd.Data), cmd.ContentType); err != nil {
		return nil, fmt.Errorf("upload document blob: %w", err)
	}

	q := `
		UPDATE documents
		SET filename = $1, content_type = $2, size_bytes = $3, page_count = $4,
			storage_key = $5, attached_at = now(), updated_at = now()
		WHERE id = $6
		RETURNING ` + documentColumns

	args := []any{cmd.Filename, cmd.ContentType, int64(len(cmd.Data)), cmd.PageCount, key, id}

	d, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Document, error) {
		return repository.QueryOne(ctx, tx, q, args, scanDocument)
	})

	if err != nil {
		if delErr := r.storage.Delete(ctx, key); delErr != nil {
			r.logger.Warn("compensating blob delete failed", "key", key, "error", delErr)
		}
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	// Replacing an attachment leaves the prior blob behind; clean it up.
	if doc.StorageKey != nil && *doc.StorageKey != key {
		if delErr := r.storage.Delete(ctx, *doc.StorageKey); delErr != nil {
			r.logger.Warn("stale blob delete failed", "key", *doc.StorageKey, "error", delErr)
		}
	}

	r.logger.Info("file attached", "id", d.ID, "filename", cmd.Filename, "size", len(cmd.Data))
	return &d, nil
}

func (r *repo) Download(ctx context.Context, id uuid.UUID) (*Document, io.ReadCloser, error) {
	doc, err := r.Find(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !doc.Attached() {
		return nil, nil, ErrNoAttachment
	}

	reader, err := r.storage.Download(ctx, *doc.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("download document blob: %w", err)
	}
	return doc, reader, nil
}

// SetMetadata merges the patch into the document metadata. Keys with nil
// values are removed; other keys overwrite or extend the existing map.
func (r *repo) SetMetadata(ctx context.Context, id uuid.UUID, patch map[string]any) (*Document, error) {
	d, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Document, error) {
		current, err := repository.QueryOne(
			ctx, tx,
			`SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`,
			[]any{id},
			scanDocument,
		)
		if err != nil {
			return Document{}, err
		}

		merged := current.Metadata
		if merged == nil {
			merged = map[string]any{}
		}
		for k, v := range patch {
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}

		metadata, err := marshalMetadata(merged)
		if err != nil {
			return Document{}, fmt.Errorf("encode metadata: %w", err)
		}

		return repository.QueryOne(
			ctx, tx,
			`UPDATE documents SET metadata = $1, updated_at = now() WHERE id = $2 RETURNING `+documentColumns,
			[]any{metadata, id},
			scanDocument,
		)
	})

	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("document metadata updated", "id", id, "keys", len(patch))
	return &d, nil
}

func (r *repo) Archive(ctx context.Context, id uuid.UUID) (*Document, error) {
	q := `
		UPDATE documents
		SET status = $1, updated_at = now()
		WHERE id = $2
		RETURNING ` + documentColumns

	d, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Document, error) {
		return repository.QueryOne(ctx, tx, q, []any{StatusArchived, id}, scanDocument)
	})

	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("document archived", "id", id)
	return &d, nil
}

// Attachment reports whether the document has a file present in blob storage.
// It verifies the blob itself, not just the storage key column.
func (r *repo) Attachment(ctx context.Context, id uuid.UUID) (bool, error) {
	doc, err := r.Find(ctx, id)
	if err != nil {
		return false, err
	}
	if !doc.Attached() {
		return false, nil
	}
	return r.storage.Exists(ctx, *doc.StorageKey)
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID) error {
	doc, err := r.Find(ctx, id)
	if err != nil {
		return err
	}

	_, err = repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		if err := repository.ExecExpectOne(
			ctx, tx,
			"DELETE FROM documents WHERE id = $1",
			id,
		); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})

	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	if doc.StorageKey != nil {
		if delErr := r.storage.Delete(ctx, *doc.StorageKey); delErr != nil {
			r.logger.Warn(
				"blob delete failed after DB delete",
				"key", *doc.StorageKey,
				"error", delErr,
			)
		}
	}

	r.logger.Info("document deleted", "id", id)
	return nil
}

func buildStorageKey(id uuid.UUID, filename string) string {
	return fmt.Sprintf("documents/%s/%s", id, filename)
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	if name == "." || name == "" {
		name = "document"
	}
	return url.PathEscape(name)
}
