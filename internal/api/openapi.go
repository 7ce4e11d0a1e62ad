package api

import (
	"github.com/JaimeStill/cascade/internal/config"
	"github.com/JaimeStill/cascade/pkg/openapi"
)

// BuildSpec generates the OpenAPI document for the API surface. The spec is
// serialized once at startup and served as static bytes.
func BuildSpec(cfg *config.Config) ([]byte, error) {
	spec := openapi.NewSpec(cfg.API.OpenAPI.Title, cfg.Version)
	spec.SetDescription(cfg.API.OpenAPI.Description)
	spec.AddServer(cfg.API.BasePath)

	spec.Components.AddSchemas(map[string]*openapi.Schema{
		"Definition": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"id":            {Type: "string", Format: "uuid"},
				"name":          {Type: "string"},
				"document_type": {Type: "string"},
				"active":        {Type: "boolean"},
				"version":       {Type: "integer"},
				"steps":         {Type: "array", Items: &openapi.Schema{Type: "object"}},
				"connections":   {Type: "array", Items: &openapi.Schema{Type: "object"}},
			},
		},
		"Document": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"id":            {Type: "string", Format: "uuid"},
				"name":          {Type: "string"},
				"document_type": {Type: "string"},
				"status":        {Type: "string", Enum: []any{"active", "archived"}},
				"metadata":      {Type: "object"},
				"filename":      {Type: "string"},
				"page_count":    {Type: "integer"},
			},
		},
		"Execution": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"id":                 {Type: "string", Format: "uuid"},
				"document_id":        {Type: "string", Format: "uuid"},
				"definition_id":      {Type: "string", Format: "uuid"},
				"definition_version": {Type: "integer"},
				"status":             {Type: "string", Enum: []any{"in_progress", "completed", "canceled"}},
				"current_step":       {Type: "integer"},
				"form_values":        {Type: "object"},
			},
		},
		"Notification": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"id":          {Type: "string", Format: "uuid"},
				"kind":        {Type: "string", Enum: []any{"step", "timeout", "escalated", "failure"}},
				"target_user": {Type: "string"},
				"message":     {Type: "string"},
			},
		},
	})

	addDefinitionPaths(spec)
	addDocumentPaths(spec)
	addWorkflowPaths(spec)
	addNotificationPaths(spec)

	return openapi.MarshalJSON(spec)
}

func addDefinitionPaths(spec *openapi.Spec) {
	tags := []string{"definitions"}

	spec.Paths["/definitions"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary: "List workflow definitions",
			Tags:    tags,
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Paged definitions", "Definition"),
			},
		},
		Post: &openapi.Operation{
			Summary:     "Create a workflow definition",
			Tags:        tags,
			RequestBody: openapi.RequestBodyJSON("Definition", true),
			Responses: map[int]*openapi.Response{
				201: openapi.ResponseJSON("Created definition", "Definition"),
				409: openapi.ResponseRef("Conflict"),
				422: openapi.ResponseRef("BadRequest"),
			},
		},
	}

	spec.Paths["/definitions/{id}"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary:    "Get a workflow definition",
			Tags:       tags,
			Parameters: []*openapi.Parameter{openapi.PathParam("id", "Definition ID")},
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Definition", "Definition"),
				404: openapi.ResponseRef("NotFound"),
			},
		},
		Put: &openapi.Operation{
			Summary:     "Update a definition, bumping its version",
			Tags:        tags,
			Parameters:  []*openapi.Parameter{openapi.PathParam("id", "Definition ID")},
			RequestBody: openapi.RequestBodyJSON("Definition", true),
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Updated definition", "Definition"),
				404: openapi.ResponseRef("NotFound"),
				422: openapi.ResponseRef("BadRequest"),
			},
		},
		Delete: &openapi.Operation{
			Summary:    "Delete a definition and its history",
			Tags:       tags,
			Parameters: []*openapi.Parameter{openapi.PathParam("id", "Definition ID")},
			Responses: map[int]*openapi.Response{
				204: {Description: "Deleted"},
				404: openapi.ResponseRef("NotFound"),
				409: openapi.ResponseRef("Conflict"),
			},
		},
	}

	spec.Paths["/definitions/{id}/history"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary:    "List prior versions of a definition",
			Tags:       tags,
			Parameters: []*openapi.Parameter{openapi.PathParam("id", "Definition ID")},
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Version entries", "Definition"),
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}

	spec.Paths["/definitions/{id}/activate"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:    "Allow new executions to start from the definition",
			Tags:       tags,
			Parameters: []*openapi.Parameter{openapi.PathParam("id", "Definition ID")},
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Definition", "Definition"),
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}

	spec.Paths["/definitions/{id}/deactivate"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:    "Block new executions from the definition",
			Tags:       tags,
			Parameters: []*openapi.Parameter{openapi.PathParam("id", "Definition ID")},
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Definition", "Definition"),
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}
}

func addDocumentPaths(spec *openapi.Spec) {
	tags := []string{"documents"}

	spec.Paths["/documents"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary: "List documents",
			Tags:    tags,
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Paged documents", "Document"),
			},
		},
		Post: &openapi.Operation{
			Summary:     "Create a document record",
			Tags:        tags,
			RequestBody: openapi.RequestBodyJSON("Document", true),
			Responses: map[int]*openapi.Response{
				201: openapi.ResponseJSON("Created document", "Document"),
				422: openapi.ResponseRef("BadRequest"),
			},
		},
	}

	spec.Paths["/documents/{id}"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary:    "Get a document",
			Tags:       tags,
			Parameters: []*openapi.Parameter{openapi.PathParam("id", "Document ID")},
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Document", "Document"),
				404: openapi.ResponseRef("NotFound"),
			},
		},
		Delete: &openapi.Operation{
			Summary:    "Delete a document and its file",
			Tags:       tags,
			Parameters: []*openapi.Parameter{openapi.PathParam("id", "Document ID")},
			Responses: map[int]*openapi.Response{
				204: {Description: "Deleted"},
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}

	spec.Paths["/documents/{id}/file"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:    "Attach a file via multipart upload",
			Tags:       tags,
			Parameters: []*openapi.Parameter{openapi.PathParam("id", "Document ID")},
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Document with attachment", "Document"),
				404: openapi.ResponseRef("NotFound"),
				422: openapi.ResponseRef("BadRequest"),
			},
		},
		Get: &openapi.Operation{
			Summary:    "Download the attached file",
			Tags:       tags,
			Parameters: []*openapi.Parameter{openapi.PathParam("id", "Document ID")},
			Responses: map[int]*openapi.Response{
				200: {Description: "File stream"},
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}

	spec.Paths["/documents/{id}/metadata"] = &openapi.PathItem{
		Patch: &openapi.Operation{
			Summary:    "Merge a metadata patch; null values delete keys",
			Tags:       tags,
			Parameters: []*openapi.Parameter{openapi.PathParam("id", "Document ID")},
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Document", "Document"),
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}
}

func addWorkflowPaths(spec *openapi.Spec) {
	tags := []string{"workflows"}

	spec.Paths["/workflows"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary: "List workflow executions",
			Tags:    tags,
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Paged executions", "Execution"),
			},
		},
	}

	spec.Paths["/workflows/{id}"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary:    "Get a workflow execution",
			Tags:       tags,
			Parameters: []*openapi.Parameter{openapi.PathParam("id", "Execution ID")},
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Execution", "Execution"),
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}

	spec.Paths["/workflows/documents/{documentID}"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary:    "Get the latest execution state for a document",
			Tags:       tags,
			Parameters: []*openapi.Parameter{openapi.PathParam("documentID", "Document ID")},
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Execution state", "Execution"),
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}

	spec.Paths["/workflows/documents/{documentID}/start"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:    "Start a workflow on a document",
			Tags:       tags,
			Parameters: []*openapi.Parameter{openapi.PathParam("documentID", "Document ID")},
			Responses: map[int]*openapi.Response{
				201: openapi.ResponseJSON("Started execution", "Execution"),
				404: openapi.ResponseRef("NotFound"),
				409: openapi.ResponseRef("Conflict"),
			},
		},
	}

	spec.Paths["/workflows/documents/{documentID}/advance"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:    "Complete the current step and move to the next",
			Tags:       tags,
			Parameters: []*openapi.Parameter{openapi.PathParam("documentID", "Document ID")},
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Execution", "Execution"),
				404: openapi.ResponseRef("NotFound"),
				409: openapi.ResponseRef("Conflict"),
				422: openapi.ResponseRef("BadRequest"),
			},
		},
	}

	spec.Paths["/workflows/documents/{documentID}/cancel"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:    "Cancel the in-progress workflow on a document",
			Tags:       tags,
			Parameters: []*openapi.Parameter{openapi.PathParam("documentID", "Document ID")},
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Canceled execution", "Execution"),
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}
}

func addNotificationPaths(spec *openapi.Spec) {
	tags := []string{"notifications"}

	spec.Paths["/notifications"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary: "List notification requests",
			Tags:    tags,
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Paged notifications", "Notification"),
			},
		},
	}
}
