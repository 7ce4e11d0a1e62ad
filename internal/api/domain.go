package api

import (
	"github.com/JaimeStill/cascade/internal/definitions"
	"github.com/JaimeStill/cascade/internal/documents"
	"github.com/JaimeStill/cascade/internal/executions"
	"github.com/JaimeStill/cascade/internal/notifications"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Definitions   definitions.System
	Documents     documents.System
	Notifications notifications.System
	Executions    executions.System
}

// NewDomain creates all domain systems from the API runtime. The executions
// runtime sits on top of the other three systems, so they are built first.
func NewDomain(runtime *Runtime) *Domain {
	defsSystem := definitions.New(
		runtime.Database.Connection(),
		runtime.Logger,
		runtime.Pagination,
	)

	docsSystem := documents.New(
		runtime.Database.Connection(),
		runtime.Storage,
		runtime.Logger,
		runtime.Pagination,
	)

	notesSystem := notifications.New(
		runtime.Database.Connection(),
		runtime.Logger,
		runtime.Pagination,
	)

	execSystem := executions.New(
		runtime.Database.Connection(),
		defsSystem,
		docsSystem,
		notesSystem,
		runtime.Logger,
		runtime.Pagination,
	)

	return &Domain{
		Definitions:   defsSystem,
		Documents:     docsSystem,
		Notifications: notesSystem,
		Executions:    execSystem,
	}
}
