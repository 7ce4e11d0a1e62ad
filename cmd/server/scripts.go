package main

import (
	"context"
	"fmt"
	"time"

	"github.com/JaimeStill/cascade/internal/api"
	"github.com/JaimeStill/cascade/internal/documents"
	"github.com/JaimeStill/cascade/internal/executions"
)

// registerScripts installs the built-in script procedures and assignee
// resolvers available to workflow definitions. Definitions reference these
// by name; anything not registered here fails the step at execution time.
func registerScripts(domain *api.Domain) error {
	scripts := domain.Executions.Scripts()

	err := scripts.Register("stamp_review", func(ctx context.Context, sc *executions.ScriptContext) error {
		_, err := domain.Documents.SetMetadata(ctx, sc.Document.ID, map[string]any{
			"reviewed_at": time.Now().UTC().Format(time.RFC3339),
			"reviewed_in": sc.Execution.ID.String(),
		})
		return err
	})
	if err != nil {
		return err
	}

	err = scripts.Register("copy_form_to_metadata", func(ctx context.Context, sc *executions.ScriptContext) error {
		if len(sc.FormValues) == 0 {
			return nil
		}
		patch := make(map[string]any, len(sc.FormValues))
		for k, v := range sc.FormValues {
			patch[k] = v
		}
		_, err := domain.Documents.SetMetadata(ctx, sc.Document.ID, patch)
		return err
	})
	if err != nil {
		return err
	}

	err = domain.Executions.RegisterResolver("started_by", func(_ context.Context, _ *documents.Document, exec *executions.Execution) (string, error) {
		return exec.StartedBy, nil
	})
	if err != nil {
		return err
	}

	return domain.Executions.RegisterResolver("metadata_owner", func(_ context.Context, doc *documents.Document, _ *executions.Execution) (string, error) {
		owner, ok := doc.Metadata["owner"].(string)
		if !ok || owner == "" {
			return "", fmt.Errorf("document %s has no owner metadata", doc.ID)
		}
		return owner, nil
	})
}
