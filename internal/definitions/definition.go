// Package definitions implements the workflow definition store: named,
// versioned graphs of typed steps and connections. Edits snapshot the
// current version into an append-only history before applying, so in-flight
// executions pinned to a prior version are never affected.
package definitions

import (
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/cascade/internal/conditions"
)

// DocumentTypeAny matches documents of every type.
const DocumentTypeAny = "any"

// StepType identifies the behavior of a workflow step.
type StepType string

const (
	StepUpload       StepType = "upload"
	StepForm         StepType = "form"
	StepApproval     StepType = "approval"
	StepNotification StepType = "notification"
	StepCondition    StepType = "condition"
	StepArchive      StepType = "archive"
	StepScript       StepType = "script"
)

// Valid reports whether the step type is one of the declared behaviors.
func (t StepType) Valid() bool {
	switch t {
	case StepUpload, StepForm, StepApproval, StepNotification,
		StepCondition, StepArchive, StepScript:
		return true
	}
	return false
}

// AssigneeKind distinguishes how an assignee value is interpreted.
type AssigneeKind string

const (
	AssignUser     AssigneeKind = "user"
	AssignRole     AssigneeKind = "role"
	AssignResolver AssigneeKind = "resolver"
)

// Valid reports whether the assignee kind is recognized.
func (k AssigneeKind) Valid() bool {
	switch k {
	case AssignUser, AssignRole, AssignResolver:
		return true
	}
	return false
}

// Assignee names who may act on a step: a user id, a role name, or a key
// resolved dynamically at execution time.
type Assignee struct {
	Kind  AssigneeKind `json:"kind"`
	Value string       `json:"value"`
}

// FieldType identifies the value type of a form field.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"
)

// Valid reports whether the field type is recognized.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldNumber, FieldDate, FieldSelect, FieldCheckbox:
		return true
	}
	return false
}

// FormField declares one field captured by a form step.
type FormField struct {
	Name     string    `json:"name"`
	Label    string    `json:"label,omitempty"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Options  []string  `json:"options,omitempty"`
}

// TimeoutAction is applied by the scheduler when a step's deadline elapses.
type TimeoutAction string

const (
	TimeoutNotify      TimeoutAction = "notify"
	TimeoutEscalate    TimeoutAction = "escalate"
	TimeoutAutoApprove TimeoutAction = "auto_approve"
	TimeoutAutoReject  TimeoutAction = "auto_reject"
)

// Valid reports whether the timeout action is recognized.
func (a TimeoutAction) Valid() bool {
	switch a {
	case TimeoutNotify, TimeoutEscalate, TimeoutAutoApprove, TimeoutAutoReject:
		return true
	}
	return false
}

// Timeout declares a step deadline and the action taken when it elapses.
type Timeout struct {
	Duration   string        `json:"duration"`
	Action     TimeoutAction `json:"action"`
	NotifyUser string        `json:"notify_user,omitempty"`
}

// Window returns Duration as a time.Duration. Validation guarantees the
// value parses for stored definitions.
func (t Timeout) Window() time.Duration {
	d, _ := time.ParseDuration(t.Duration)
	return d
}

// Step is one node in a workflow graph. Index is its position within the
// definition and is the stable step identifier within a version.
type Step struct {
	Index      int                    `json:"index"`
	Name       string                 `json:"name"`
	Type       StepType               `json:"type"`
	AssignedTo *Assignee              `json:"assigned_to,omitempty"`
	Form       []FormField            `json:"form,omitempty"`
	Conditions []conditions.Condition `json:"conditions,omitempty"`
	Timeout    *Timeout               `json:"timeout,omitempty"`
	Script     string                 `json:"script,omitempty"`
}

// DefaultConnector marks the edge taken when no branch outcome applies.
const DefaultConnector = "default"

// Connection is a directed edge between two steps. SourceConnector labels
// the branch outcome it carries; empty means the default edge.
type Connection struct {
	SourceStep      int    `json:"source_step"`
	SourceConnector string `json:"source_connector,omitempty"`
	TargetStep      int    `json:"target_step"`
	TargetConnector string `json:"target_connector,omitempty"`
}

// isDefault reports whether the connection carries the default connector.
func (c Connection) isDefault() bool {
	return c.SourceConnector == "" || c.SourceConnector == DefaultConnector
}

// Definition is a named, versioned workflow template.
type Definition struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	DocumentType string       `json:"document_type"`
	Active       bool         `json:"active"`
	Version      int          `json:"version"`
	Steps        []Step       `json:"steps"`
	Connections  []Connection `json:"connections"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Step returns the step at the given index.
func (d *Definition) Step(index int) (*Step, bool) {
	if index < 0 || index >= len(d.Steps) {
		return nil, false
	}
	return &d.Steps[index], true
}

// Outgoing returns all connections leaving the given step.
func (d *Definition) Outgoing(step int) []Connection {
	var out []Connection
	for _, c := range d.Connections {
		if c.SourceStep == step {
			out = append(out, c)
		}
	}
	return out
}

// Connector returns the connection leaving step with the given connector
// label. An empty label matches the default edge.
func (d *Definition) Connector(step int, connector string) (*Connection, bool) {
	for i, c := range d.Connections {
		if c.SourceStep != step {
			continue
		}
		if c.SourceConnector == connector {
			return &d.Connections[i], true
		}
		if connector == "" && c.isDefault() {
			return &d.Connections[i], true
		}
	}
	return nil, false
}

// DefaultConnection returns the default edge leaving the given step.
func (d *Definition) DefaultConnection(step int) (*Connection, bool) {
	for i, c := range d.Connections {
		if c.SourceStep == step && c.isDefault() {
			return &d.Connections[i], true
		}
	}
	return nil, false
}

// Terminal reports whether the step at index ends the workflow: no outgoing
// connection and a type other than condition.
func (d *Definition) Terminal(index int) bool {
	step, ok := d.Step(index)
	if !ok {
		return false
	}
	return step.Type != StepCondition && len(d.Outgoing(index)) == 0
}

// Matches reports whether the definition's document-type filter accepts the
// given document type.
func (d *Definition) Matches(documentType string) bool {
	return d.DocumentType == DocumentTypeAny || d.DocumentType == documentType
}

// VersionEntry is one append-only history record: the full steps/connections
// snapshot of a prior version, with the editor who replaced it.
type VersionEntry struct {
	DefinitionID uuid.UUID    `json:"definition_id"`
	Version      int          `json:"version"`
	Steps        []Step       `json:"steps"`
	Connections  []Connection `json:"connections"`
	Editor       string       `json:"editor"`
	CreatedAt    time.Time    `json:"created_at"`
}

// CreateCommand carries the data needed to create a new definition.
type CreateCommand struct {
	Name         string       `json:"name"`
	DocumentType string       `json:"document_type"`
	Steps        []Step       `json:"steps"`
	Connections  []Connection `json:"connections"`
}

// UpdateCommand replaces a definition's graph, optionally renaming it or
// changing its document-type filter. Every update bumps the version.
type UpdateCommand struct {
	Name         *string      `json:"name,omitempty"`
	DocumentType *string      `json:"document_type,omitempty"`
	Steps        []Step       `json:"steps"`
	Connections  []Connection `json:"connections"`
}
