package executions

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/JaimeStill/cascade/internal/conditions"
	"github.com/JaimeStill/cascade/internal/definitions"
	"github.com/JaimeStill/cascade/internal/documents"
	"github.com/JaimeStill/cascade/internal/identity"
	"github.com/JaimeStill/cascade/internal/notifications"
	"github.com/JaimeStill/cascade/pkg/retry"
)

// Approval decisions map directly to outgoing connector labels.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// stepEnv bundles the state a step handler operates on. exec is mutated in
// place; the runtime persists it after the handler returns.
type stepEnv struct {
	rt   *runtime
	exec *Execution
	def  *definitions.Definition
	step *definitions.Step
	doc  *documents.Document
}

// stepRoute is a handler's verdict on where the execution goes next: either
// a connector label resolved against the graph, or an explicit target step
// index for condition branches.
type stepRoute struct {
	connector string
	target    int
	explicit  bool
}

// stepHandler implements the behavior of one step type. auto handlers
// complete on entry without user input; the rest wait for an advance call.
type stepHandler interface {
	auto() bool
	complete(ctx context.Context, env *stepEnv, cmd AdvanceCommand, caller *identity.Caller) (stepRoute, error)
}

func stepHandlers() map[definitions.StepType]stepHandler {
	return map[definitions.StepType]stepHandler{
		definitions.StepUpload:       uploadStep{},
		definitions.StepForm:         formStep{},
		definitions.StepApproval:     approvalStep{},
		definitions.StepNotification: notificationStep{},
		definitions.StepCondition:    conditionStep{},
		definitions.StepArchive:      archiveStep{},
		definitions.StepScript:       scriptStep{},
	}
}

// uploadStep waits until a file has been attached to the document since the
// step was entered. A file carried over from before step entry does not
// satisfy the step; the blob itself must also be present in storage.
type uploadStep struct{}

func (uploadStep) auto() bool { return false }

func (uploadStep) complete(ctx context.Context, env *stepEnv, cmd AdvanceCommand, _ *identity.Caller) (stepRoute, error) {
	if env.doc.AttachedAt == nil || env.doc.AttachedAt.Before(env.exec.StepEnteredAt) {
		return stepRoute{}, fmt.Errorf("%w: no file attached since entering step %d",
			ErrMissingAttachment, env.step.Index)
	}

	var attached bool
	err := retry.Do(ctx, env.rt.retry, func(ctx context.Context) error {
		var err error
		attached, err = env.rt.documents.Attachment(ctx, env.exec.DocumentID)
		return err
	})
	if err != nil {
		return stepRoute{}, fmt.Errorf("verify attachment: %w", err)
	}
	if !attached {
		return stepRoute{}, ErrMissingAttachment
	}
	return stepRoute{connector: cmd.Connector}, nil
}

// formStep validates submitted values against the declared fields and merges
// them into the execution's accumulated form state.
type formStep struct{}

func (formStep) auto() bool { return false }

func (formStep) complete(_ context.Context, env *stepEnv, cmd AdvanceCommand, _ *identity.Caller) (stepRoute, error) {
	merged := env.exec.FormValues
	if merged == nil {
		merged = map[string]any{}
	}

	declared := make(map[string]definitions.FormField, len(env.step.Form))
	for _, field := range env.step.Form {
		declared[field.Name] = field
	}

	for name, value := range cmd.FormValues {
		field, ok := declared[name]
		if !ok {
			return stepRoute{}, fmt.Errorf("%w: unknown field %q", ErrInvalidForm, name)
		}
		coerced, err := coerceFieldValue(field, value)
		if err != nil {
			return stepRoute{}, err
		}
		merged[name] = coerced
	}

	for _, field := range env.step.Form {
		if !field.Required {
			continue
		}
		if _, ok := merged[field.Name]; !ok {
			return stepRoute{}, fmt.Errorf("%w: missing required field %q", ErrInvalidForm, field.Name)
		}
	}

	env.exec.FormValues = merged
	return stepRoute{connector: cmd.Connector}, nil
}

func coerceFieldValue(field definitions.FormField, value any) (any, error) {
	switch field.Type {
	case definitions.FieldText:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: field %q expects text", ErrInvalidForm, field.Name)
		}
		return s, nil

	case definitions.FieldNumber:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q expects a number", ErrInvalidForm, field.Name)
			}
			return f, nil
		}
		return nil, fmt.Errorf("%w: field %q expects a number", ErrInvalidForm, field.Name)

	case definitions.FieldDate:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: field %q expects a date", ErrInvalidForm, field.Name)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			if _, err := time.Parse("2006-01-02", s); err != nil {
				return nil, fmt.Errorf("%w: field %q expects an ISO date", ErrInvalidForm, field.Name)
			}
		}
		return s, nil

	case definitions.FieldSelect:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: field %q expects a selection", ErrInvalidForm, field.Name)
		}
		for _, opt := range field.Options {
			if opt == s {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%w: field %q: %q is not an option", ErrInvalidForm, field.Name, s)

	case definitions.FieldCheckbox:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: field %q expects a boolean", ErrInvalidForm, field.Name)
		}
		return b, nil
	}

	return nil, fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidForm, field.Name, field.Type)
}

// approvalStep requires an explicit decision from an authorized caller. A
// nil caller is a scheduler-driven transition and bypasses the assignee
// check.
type approvalStep struct{}

func (approvalStep) auto() bool { return false }

func (approvalStep) complete(ctx context.Context, env *stepEnv, cmd AdvanceCommand, caller *identity.Caller) (stepRoute, error) {
	if cmd.Decision == "" {
		return stepRoute{}, ErrDecisionRequired
	}

	if caller != nil {
		authorized, err := env.rt.authorizedApprover(ctx, env, caller)
		if err != nil {
			return stepRoute{}, err
		}
		if !authorized {
			return stepRoute{}, ErrNotAssignee
		}
	}

	return stepRoute{connector: cmd.Decision}, nil
}

// notificationStep queues a message for the step assignee and advances.
type notificationStep struct{}

func (notificationStep) auto() bool { return true }

func (notificationStep) complete(ctx context.Context, env *stepEnv, cmd AdvanceCommand, _ *identity.Caller) (stepRoute, error) {
	target, err := env.rt.resolveAssignee(ctx, env)
	if err != nil {
		return stepRoute{}, fmt.Errorf("resolve notification target: %w", err)
	}

	if err := env.rt.notify(ctx, notifications.SendCommand{
		Kind:       notifications.KindStep,
		TargetUser: target,
		Message:    fmt.Sprintf("%s: %s", env.def.Name, env.step.Name),
		DocumentID: &env.exec.DocumentID,
		StepIndex:  &env.step.Index,
	}); err != nil {
		return stepRoute{}, err
	}

	return stepRoute{connector: cmd.Connector}, nil
}

// conditionStep routes by the first matching condition in declaration
// order, falling back to the default edge when nothing matches.
type conditionStep struct{}

func (conditionStep) auto() bool { return true }

func (conditionStep) complete(_ context.Context, env *stepEnv, _ AdvanceCommand, _ *identity.Caller) (stepRoute, error) {
	evalCtx := buildContext(env.doc, env.exec)

	if target, ok := conditions.FirstMatch(env.step.Conditions, evalCtx); ok {
		return stepRoute{target: target, explicit: true}, nil
	}

	if _, ok := env.def.DefaultConnection(env.step.Index); ok {
		return stepRoute{}, nil
	}

	return stepRoute{}, fmt.Errorf("%w: no condition matched and no default edge", ErrNoRoute)
}

// archiveStep archives the document and advances.
type archiveStep struct{}

func (archiveStep) auto() bool { return true }

func (archiveStep) complete(ctx context.Context, env *stepEnv, cmd AdvanceCommand, _ *identity.Caller) (stepRoute, error) {
	err := retry.Do(ctx, env.rt.retry, func(ctx context.Context) error {
		_, err := env.rt.documents.Archive(ctx, env.exec.DocumentID)
		return err
	})
	if err != nil {
		return stepRoute{}, fmt.Errorf("archive document: %w", err)
	}
	return stepRoute{connector: cmd.Connector}, nil
}

// scriptStep invokes the registered procedure named by the step.
type scriptStep struct{}

func (scriptStep) auto() bool { return true }

func (scriptStep) complete(ctx context.Context, env *stepEnv, cmd AdvanceCommand, _ *identity.Caller) (stepRoute, error) {
	fn, ok := env.rt.scripts.resolve(env.step.Script)
	if !ok {
		return stepRoute{}, fmt.Errorf("%w: script %q is not registered", ErrScriptFailed, env.step.Script)
	}

	sc := &ScriptContext{
		Document:   env.doc,
		Execution:  env.exec,
		FormValues: env.exec.FormValues,
	}

	err := retry.Do(ctx, env.rt.retry, func(ctx context.Context) error {
		return fn(ctx, sc)
	})
	if err != nil {
		return stepRoute{}, fmt.Errorf("%w: %s: %v", ErrScriptFailed, env.step.Script, err)
	}

	return stepRoute{connector: cmd.Connector}, nil
}

// buildContext assembles the evaluation context for condition steps:
// document metadata first, then accumulated form values, which win on key
// collisions, plus a few document builtins.
func buildContext(doc *documents.Document, exec *Execution) conditions.Context {
	evalCtx := conditions.Context{}

	for k, v := range doc.Metadata {
		evalCtx[k] = v
	}
	for k, v := range exec.FormValues {
		evalCtx[k] = v
	}

	evalCtx["document_type"] = doc.DocumentType
	evalCtx["document_name"] = doc.Name
	evalCtx["document_status"] = doc.Status
	if doc.PageCount != nil {
		evalCtx["page_count"] = *doc.PageCount
	}

	return evalCtx
}
