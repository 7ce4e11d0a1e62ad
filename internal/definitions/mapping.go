package definitions

import (
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/JaimeStill/cascade/pkg/query"
	"github.com/JaimeStill/cascade/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "workflow_definitions", "wd").
	Project("id", "ID").
	Project("name", "Name").
	Project("document_type", "DocumentType").
	Project("active", "Active").
	Project("version", "Version").
	Project("steps", "Steps").
	Project("connections", "Connections").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var defaultSort = query.SortField{
	Field: "Name",
}

// Filters contains optional filtering criteria for definition queries.
// Nil fields are ignored. Name uses case-insensitive contains matching.
type Filters struct {
	Name         *string `json:"name,omitempty"`
	DocumentType *string `json:"document_type,omitempty"`
	Active       *bool   `json:"active,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereContains("Name", f.Name).
		WhereEquals("DocumentType", f.DocumentType).
		WhereEquals("Active", f.Active)
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

	if a := values.Get("active"); a != "" {
		if v, err := strconv.ParseBool(a); err == nil {
			f.Active = &v
		}
	}

	return f
}

func scanDefinition(s repository.Scanner) (Definition, error) {
	var d Definition
	var steps, connections []byte

	err := s.Scan(
		&d.ID,
		&d.Name,
		&d.DocumentType,
		&d.Active,
		&d.Version,
		&steps,
		&connections,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return d, err
	}

	if err := unmarshalGraph(steps, connections, &d.Steps, &d.Connections); err != nil {
		return d, err
	}
	return d, nil
}

func scanVersionEntry(s repository.Scanner) (VersionEntry, error) {
	var v VersionEntry
	var steps, connections []byte

	err := s.Scan(
		&v.DefinitionID,
		&v.Version,
		&steps,
		&connections,
		&v.Editor,
		&v.CreatedAt,
	)
	if err != nil {
		return v, err
	}

	if err := unmarshalGraph(steps, connections, &v.Steps, &v.Connections); err != nil {
		return v, err
	}
	return v, nil
}

func unmarshalGraph(stepsRaw, connectionsRaw []byte, steps *[]Step, connections *[]Connection) error {
	if err := json.Unmarshal(stepsRaw, steps); err != nil {
		return err
	}
	if len(connectionsRaw) > 0 {
		if err := json.Unmarshal(connectionsRaw, connections); err != nil {
			return err
		}
	}
	return nil
}

func marshalGraph(steps []Step, connections []Connection) ([]byte, []byte, error) {
	if steps == nil {
		steps = []Step{}
	}
	if connections == nil {
		connections = []Connection{}
	}

	stepsRaw, err := json.Marshal(steps)
	if err != nil {
		return nil, nil, err
	}

	connectionsRaw, err := json.Marshal(connections)
	if err != nil {
		return nil, nil, err
	}

	return stepsRaw, connectionsRaw, nil
}
