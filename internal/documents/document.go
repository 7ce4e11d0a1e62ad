// Package documents implements the document domain for Cascade.
// It provides types, data access, and business logic for document
// registration, metadata management, file attachment, and archival.
// Documents are the subjects workflow executions run against.
package documents

import (
	"time"

	"github.com/google/uuid"
)

// Document statuses.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Document represents a registered document with its metadata and an
// optional attached file in blob storage. Attachment fields are nil until
// a file has been attached.
type Document struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	DocumentType string         `json:"document_type"`
	Status       string         `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	Filename     *string        `json:"filename,omitempty"`
	ContentType  *string        `json:"content_type,omitempty"`
	SizeBytes    *int64         `json:"size_bytes,omitempty"`
	PageCount    *int           `json:"page_count,omitempty"`
	StorageKey   *string        `json:"storage_key,omitempty"`
	AttachedAt   *time.Time     `json:"attached_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Attached reports whether the document carries a stored file.
func (d *Document) Attached() bool {
	return d.StorageKey != nil && *d.StorageKey != ""
}

// CreateCommand carries the data needed to register a new document.
type CreateCommand struct {
	Name         string         `json:"name"`
	DocumentType string         `json:"document_type"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// AttachCommand carries the file attached to an existing document.
// Data holds the raw file bytes. PageCount is optional and may be extracted
// by the caller via pdfcpu; nil values are stored as NULL.
type AttachCommand struct {
	Data        []byte
	Filename    string
	ContentType string
	PageCount   *int
}
