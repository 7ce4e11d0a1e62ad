package documents

import (
	"encoding/json"
	"net/url"

	"github.com/JaimeStill/cascade/pkg/query"
	"github.com/JaimeStill/cascade/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "documents", "d").
	Project("id", "ID").
	Project("name", "Name").
	Project("document_type", "DocumentType").
	Project("status", "Status").
	Project("metadata", "Metadata").
	Project("filename", "Filename").
	Project("content_type", "ContentType").
	Project("size_bytes", "SizeBytes").
	Project("page_count", "PageCount").
	Project("storage_key", "StorageKey").
	Project("attached_at", "AttachedAt").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for document queries.
// Nil fields are ignored. DocumentType, Status, and ContentType use exact
// matching. Name and Filename use case-insensitive contains matching.
type Filters struct {
	Name         *string `json:"name,omitempty"`
	DocumentType *string `json:"document_type,omitempty"`
	Status       *string `json:"status,omitempty"`
	Filename     *string `json:"filename,omitempty"`
	ContentType  *string `json:"content_type,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereContains("Name", f.Name).
		WhereEquals("DocumentType", f.DocumentType).
		WhereEquals("Status", f.Status).
		WhereContains("Filename", f.Filename).
		WhereEquals("ContentType", f.ContentType)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if n := values.Get("name"); n != "" {
		f.Name = &n
	}

	if dt := values.Get("document_type"); dt != "" {
		f.DocumentType = &dt
	}

	if s := values.Get("status"); s != "" {
		f.Status = &s
	}

	if fn := values.Get("filename"); fn != "" {
		f.Filename = &fn
	}

	if ct := values.Get("content_type"); ct != "" {
		f.ContentType = &ct
	}

	return f
}

func scanDocument(s repository.Scanner) (Document, error) {
	var d Document
	var metadata []byte

	err := s.Scan(
		&d.ID,
		&d.Name,
		&d.DocumentType,
		&d.Status,
		&metadata,
		&d.Filename,
		&d.ContentType,
		&d.SizeBytes,
		&d.PageCount,
		&d.StorageKey,
		&d.AttachedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return d, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
			return d, err
		}
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	return d, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return json.Marshal(metadata)
}
