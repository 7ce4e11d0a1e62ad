package executions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/cascade/internal/definitions"
	"github.com/JaimeStill/cascade/internal/documents"
	"github.com/JaimeStill/cascade/internal/identity"
	"github.com/JaimeStill/cascade/internal/notifications"
	"github.com/JaimeStill/cascade/pkg/pagination"
	"github.com/JaimeStill/cascade/pkg/retry"
)

type runtime struct {
	store         store
	definitions   definitions.System
	documents     documents.System
	notifications notifications.System
	scripts       *ScriptRegistry
	steps         map[definitions.StepType]stepHandler
	locks         *docLocks
	retry         retry.Policy
	logger        *slog.Logger
	pagination    pagination.Config

	mu        sync.RWMutex
	resolvers map[string]AssigneeResolver
}

// New creates the workflow runtime implementing the System interface.
func New(
	db *sql.DB,
	defs definitions.System,
	docs documents.System,
	notes notifications.System,
	logger *slog.Logger,
	pg pagination.Config,
) System {
	return newRuntime(&pgStore{db: db, pagination: pg}, defs, docs, notes, logger, pg)
}

func newRuntime(
	st store,
	defs definitions.System,
	docs documents.System,
	notes notifications.System,
	logger *slog.Logger,
	pg pagination.Config,
) *runtime {
	return &runtime{
		store:         st,
		definitions:   defs,
		documents:     docs,
		notifications: notes,
		scripts:       NewScriptRegistry(),
		steps:         stepHandlers(),
		locks:         newDocLocks(),
		retry:         retry.Default,
		logger:        logger.With("system", "executions"),
		pagination:    pg,
		resolvers:     make(map[string]AssigneeResolver),
	}
}

func (rt *runtime) Handler() *Handler {
	return NewHandler(rt, rt.logger, rt.pagination)
}

func (rt *runtime) Scripts() *ScriptRegistry {
	return rt.scripts
}

func (rt *runtime) RegisterResolver(name string, fn AssigneeResolver) error {
	if name == "" {
		return fmt.Errorf("resolver name is required")
	}
	if fn == nil {
		return fmt.Errorf("resolver %q: func is nil", name)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, exists := rt.resolvers[name]; exists {
		return fmt.Errorf("resolver %q already registered", name)
	}
	rt.resolvers[name] = fn
	return nil
}

func (rt *runtime) resolver(name string) (AssigneeResolver, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	fn, ok := rt.resolvers[name]
	return fn, ok
}

// Start binds the document to the definition's current version and enters
// the first step. The insert collides with any in-progress execution for
// the same document, surfacing ErrAlreadyRunning.
func (rt *runtime) Start(ctx context.Context, documentID uuid.UUID, cmd StartCommand, actor string) (*Execution, error) {
	unlock := rt.locks.lock(documentID)
	defer unlock()

	doc, err := rt.documents.Find(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == documents.StatusArchived {
		return nil, documents.ErrArchived
	}

	def, err := rt.definitions.Find(ctx, cmd.DefinitionID)
	if err != nil {
		return nil, err
	}
	if !def.Active {
		return nil, ErrDefinitionInactive
	}
	if !def.Matches(doc.DocumentType) {
		return nil, fmt.Errorf("%w: definition accepts %q, document is %q",
			ErrTypeMismatch, def.DocumentType, doc.DocumentType)
	}

	e, err := rt.store.insert(ctx, &Execution{
		ID:                uuid.New(),
		DocumentID:        documentID,
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		Status:            StatusInProgress,
		CurrentStep:       0,
		FormValues:        map[string]any{},
		StartedBy:         actor,
	})
	if err != nil {
		return nil, err
	}

	rt.logger.Info(
		"workflow started",
		"execution", e.ID,
		"document", documentID,
		"definition", def.ID,
		"version", def.Version,
		"actor", actor,
	)

	return rt.enter(ctx, e, def, doc)
}

// Advance completes the current step with the given input and moves the
// execution along the resolved connection.
func (rt *runtime) Advance(ctx context.Context, documentID uuid.UUID, cmd AdvanceCommand, caller *identity.Caller) (*Execution, error) {
	unlock := rt.locks.lock(documentID)
	defer unlock()

	e, err := rt.store.findActive(ctx, documentID)
	if err != nil {
		return nil, err
	}

	def, err := rt.definitions.FindVersion(ctx, e.DefinitionID, e.DefinitionVersion)
	if err != nil {
		return nil, err
	}

	doc, err := rt.documents.Find(ctx, documentID)
	if err != nil {
		return nil, err
	}

	return rt.advanceLocked(ctx, e, def, doc, cmd, caller)
}

func (rt *runtime) advanceLocked(
	ctx context.Context,
	e *Execution,
	def *definitions.Definition,
	doc *documents.Document,
	cmd AdvanceCommand,
	caller *identity.Caller,
) (*Execution, error) {
	if cmd.Step != e.CurrentStep {
		return nil, fmt.Errorf("%w: request targets step %d, execution is at step %d",
			ErrStepMismatch, cmd.Step, e.CurrentStep)
	}

	step, ok := def.Step(e.CurrentStep)
	if !ok {
		return nil, fmt.Errorf("execution %s references missing step %d", e.ID, e.CurrentStep)
	}

	env := &stepEnv{rt: rt, exec: e, def: def, step: step, doc: doc}

	route, err := rt.steps[step.Type].complete(ctx, env, cmd, caller)
	if err != nil {
		return nil, err
	}

	return rt.move(ctx, e, def, doc, step, route)
}

// move applies one resolved transition, then chases any auto steps.
func (rt *runtime) move(
	ctx context.Context,
	e *Execution,
	def *definitions.Definition,
	doc *documents.Document,
	step *definitions.Step,
	route stepRoute,
) (*Execution, error) {
	target, terminal, err := rt.resolveRoute(def, step, route)
	if err != nil {
		return nil, err
	}

	expected := e.CurrentStep

	if terminal {
		return rt.complete(ctx, e, expected)
	}

	e.CurrentStep = target
	e.StepEnteredAt = time.Now().UTC()
	e.StepNotifiedAt = nil
	e.EscalatedTo = nil
	e.LastError = nil

	updated, err := rt.store.update(ctx, e, expected)
	if err != nil {
		return nil, err
	}

	rt.logger.Info(
		"workflow advanced",
		"execution", updated.ID,
		"from", expected,
		"to", updated.CurrentStep,
	)

	return rt.enter(ctx, updated, def, doc)
}

// resolveRoute turns a handler verdict into a target step. Condition
// branches carry explicit targets; everything else resolves a connector
// label against the graph. A missing edge on a terminal step completes the
// workflow.
func (rt *runtime) resolveRoute(def *definitions.Definition, step *definitions.Step, route stepRoute) (int, bool, error) {
	if route.explicit {
		return route.target, false, nil
	}

	if conn, ok := def.Connector(step.Index, route.connector); ok {
		return conn.TargetStep, false, nil
	}

	if route.connector == "" && def.Terminal(step.Index) {
		return 0, true, nil
	}

	return 0, false, fmt.Errorf("%w: step %d has no %q edge", ErrNoRoute, step.Index, route.connector)
}

// enter runs the auto-step chain from the execution's current step until a
// manual step or terminal completion. Handler failures are recorded on the
// execution rather than propagated; the run stays on the failing step for
// retry after the underlying problem is fixed.
func (rt *runtime) enter(
	ctx context.Context,
	e *Execution,
	def *definitions.Definition,
	doc *documents.Document,
) (*Execution, error) {
	visited := map[int]bool{}

	for {
		step, ok := def.Step(e.CurrentStep)
		if !ok {
			return nil, fmt.Errorf("execution %s references missing step %d", e.ID, e.CurrentStep)
		}

		handler := rt.steps[step.Type]
		env := &stepEnv{rt: rt, exec: e, def: def, step: step, doc: doc}

		if !handler.auto() {
			rt.announceStep(ctx, env)
			return e, nil
		}

		if visited[step.Index] {
			return rt.recordFailure(ctx, e,
				fmt.Errorf("%w: auto-step cycle at step %d", ErrNoRoute, step.Index))
		}
		visited[step.Index] = true

		route, err := handler.complete(ctx, env, AdvanceCommand{}, nil)
		if err != nil {
			return rt.recordFailure(ctx, e, err)
		}

		target, terminal, err := rt.resolveRoute(def, step, route)
		if err != nil {
			return rt.recordFailure(ctx, e, err)
		}

		expected := e.CurrentStep

		if terminal {
			return rt.complete(ctx, e, expected)
		}

		e.CurrentStep = target
		e.StepEnteredAt = time.Now().UTC()
		e.StepNotifiedAt = nil
		e.EscalatedTo = nil
		e.LastError = nil

		updated, err := rt.store.update(ctx, e, expected)
		if err != nil {
			return nil, err
		}
		e = updated
	}
}

func (rt *runtime) complete(ctx context.Context, e *Execution, expectedStep int) (*Execution, error) {
	now := time.Now().UTC()
	e.Status = StatusCompleted
	e.CompletedAt = &now
	e.LastError = nil

	updated, err := rt.store.update(ctx, e, expectedStep)
	if err != nil {
		return nil, err
	}

	rt.logger.Info("workflow completed", "execution", updated.ID, "document", updated.DocumentID)
	return updated, nil
}

// recordFailure persists the failure on the execution and alerts whoever
// started the run. The execution remains in progress on the failing step.
func (rt *runtime) recordFailure(ctx context.Context, e *Execution, cause error) (*Execution, error) {
	msg := cause.Error()
	e.LastError = &msg

	updated, err := rt.store.update(ctx, e, e.CurrentStep)
	if err != nil {
		rt.logger.Error("failed to record step failure", "execution", e.ID, "cause", msg, "error", err)
		return nil, err
	}

	rt.logger.Error("workflow step failed", "execution", updated.ID, "step", updated.CurrentStep, "error", msg)

	if notifyErr := rt.notify(ctx, notifications.SendCommand{
		Kind:       notifications.KindFailure,
		TargetUser: updated.StartedBy,
		Message:    fmt.Sprintf("workflow step %d failed: %s", updated.CurrentStep, msg),
		DocumentID: &updated.DocumentID,
		StepIndex:  &updated.CurrentStep,
	}); notifyErr != nil {
		rt.logger.Warn("failure notification not queued", "execution", updated.ID, "error", notifyErr)
	}

	return updated, nil
}

// announceStep queues a best-effort notification to the assignee of a
// manual step on entry.
func (rt *runtime) announceStep(ctx context.Context, env *stepEnv) {
	if env.step.AssignedTo == nil {
		return
	}

	target, err := rt.resolveAssignee(ctx, env)
	if err != nil {
		rt.logger.Warn("assignee resolution failed", "execution", env.exec.ID, "step", env.step.Index, "error", err)
		return
	}

	if err := rt.notify(ctx, notifications.SendCommand{
		Kind:       notifications.KindStep,
		TargetUser: target,
		Message:    fmt.Sprintf("%s awaits your action on step %q", env.def.Name, env.step.Name),
		DocumentID: &env.exec.DocumentID,
		StepIndex:  &env.step.Index,
	}); err != nil {
		rt.logger.Warn("step notification not queued", "execution", env.exec.ID, "error", err)
	}
}

// Cancel aborts the in-progress execution for the document. Canceling an
// execution that already reached a terminal state is a no-op returning the
// terminal execution unchanged; only a document with no execution at all
// surfaces ErrNotRunning.
func (rt *runtime) Cancel(ctx context.Context, documentID uuid.UUID, cmd CancelCommand, actor string) (*Execution, error) {
	unlock := rt.locks.lock(documentID)
	defer unlock()

	e, err := rt.store.findActive(ctx, documentID)
	if err != nil {
		if errors.Is(err, ErrNotRunning) {
			if latest, latestErr := rt.store.findLatest(ctx, documentID); latestErr == nil && !latest.Running() {
				return latest, nil
			}
		}
		return nil, err
	}

	now := time.Now().UTC()
	e.Status = StatusCanceled
	e.CompletedAt = &now
	if cmd.Reason != "" {
		e.CancelReason = &cmd.Reason
	}

	updated, err := rt.store.update(ctx, e, e.CurrentStep)
	if err != nil {
		return nil, err
	}

	rt.logger.Info(
		"workflow canceled",
		"execution", updated.ID,
		"document", documentID,
		"actor", actor,
		"reason", cmd.Reason,
	)
	return updated, nil
}

// State reports the most recent execution for the document along with the
// current step and its available connectors.
func (rt *runtime) State(ctx context.Context, documentID uuid.UUID) (*State, error) {
	e, err := rt.store.findLatest(ctx, documentID)
	if err != nil {
		return nil, err
	}

	def, err := rt.definitions.FindVersion(ctx, e.DefinitionID, e.DefinitionVersion)
	if err != nil {
		return nil, err
	}

	state := &State{Execution: e}

	step, ok := def.Step(e.CurrentStep)
	if !ok {
		return state, nil
	}

	state.StepName = step.Name
	state.StepType = string(step.Type)
	state.Terminal = def.Terminal(step.Index)

	for _, conn := range def.Outgoing(step.Index) {
		label := conn.SourceConnector
		if label == "" {
			label = definitions.DefaultConnector
		}
		state.Connectors = append(state.Connectors, label)
	}

	return state, nil
}

func (rt *runtime) Find(ctx context.Context, id uuid.UUID) (*Execution, error) {
	return rt.store.find(ctx, id)
}

func (rt *runtime) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Execution], error) {
	return rt.store.list(ctx, page, filters)
}

func (rt *runtime) ListInProgress(ctx context.Context) ([]Execution, error) {
	return rt.store.listInProgress(ctx)
}

// ApplyTimeout re-validates the snapshot under the document lock and applies
// the step's timeout action. Executions that moved since the scan are left
// alone.
func (rt *runtime) ApplyTimeout(ctx context.Context, snapshot Execution) error {
	unlock := rt.locks.lock(snapshot.DocumentID)
	defer unlock()

	e, err := rt.store.find(ctx, snapshot.ID)
	if err != nil {
		return err
	}
	if !e.Running() || e.CurrentStep != snapshot.CurrentStep {
		return nil
	}

	def, err := rt.definitions.FindVersion(ctx, e.DefinitionID, e.DefinitionVersion)
	if err != nil {
		return err
	}

	step, ok := def.Step(e.CurrentStep)
	if !ok || step.Timeout == nil {
		return nil
	}

	if time.Now().UTC().Before(e.StepEnteredAt.Add(step.Timeout.Window())) {
		return nil
	}

	doc, err := rt.documents.Find(ctx, e.DocumentID)
	if err != nil {
		return err
	}

	env := &stepEnv{rt: rt, exec: e, def: def, step: step, doc: doc}

	switch step.Timeout.Action {
	case definitions.TimeoutNotify:
		return rt.timeoutNotify(ctx, env)
	case definitions.TimeoutEscalate:
		return rt.timeoutEscalate(ctx, env)
	case definitions.TimeoutAutoApprove:
		return rt.timeoutDecide(ctx, env, DecisionApproved)
	case definitions.TimeoutAutoReject:
		return rt.timeoutDecide(ctx, env, DecisionRejected)
	}

	return fmt.Errorf("unknown timeout action %q", step.Timeout.Action)
}

// timeoutNotify alerts the configured user once per step entry;
// step_notified_at dedupes repeat scans.
func (rt *runtime) timeoutNotify(ctx context.Context, env *stepEnv) error {
	if env.exec.StepNotifiedAt != nil {
		return nil
	}

	target, err := rt.timeoutTarget(ctx, env)
	if err != nil {
		return err
	}

	if err := rt.notify(ctx, notifications.SendCommand{
		Kind:       notifications.KindTimeout,
		TargetUser: target,
		Message:    fmt.Sprintf("step %q has exceeded its deadline", env.step.Name),
		DocumentID: &env.exec.DocumentID,
		StepIndex:  &env.step.Index,
	}); err != nil {
		return err
	}

	now := time.Now().UTC()
	env.exec.StepNotifiedAt = &now

	_, err = rt.store.update(ctx, env.exec, env.exec.CurrentStep)
	return err
}

func (rt *runtime) timeoutEscalate(ctx context.Context, env *stepEnv) error {
	if env.exec.EscalatedTo != nil {
		return nil
	}

	target, err := rt.timeoutTarget(ctx, env)
	if err != nil {
		return err
	}

	if err := rt.notify(ctx, notifications.SendCommand{
		Kind:       notifications.KindEscalated,
		TargetUser: target,
		Message:    fmt.Sprintf("step %q escalated to you after its deadline elapsed", env.step.Name),
		DocumentID: &env.exec.DocumentID,
		StepIndex:  &env.step.Index,
	}); err != nil {
		return err
	}

	now := time.Now().UTC()
	env.exec.EscalatedTo = &target
	env.exec.StepNotifiedAt = &now

	_, err = rt.store.update(ctx, env.exec, env.exec.CurrentStep)
	if err != nil {
		return err
	}

	rt.logger.Info("step escalated", "execution", env.exec.ID, "step", env.step.Index, "target", target)
	return nil
}

func (rt *runtime) timeoutDecide(ctx context.Context, env *stepEnv, decision string) error {
	cmd := AdvanceCommand{Step: env.exec.CurrentStep, Decision: decision}

	_, err := rt.advanceLocked(ctx, env.exec, env.def, env.doc, cmd, nil)
	if err != nil {
		_, recordErr := rt.recordFailure(ctx, env.exec, fmt.Errorf("timeout %s: %w", decision, err))
		return recordErr
	}

	rt.logger.Info("step auto-decided on timeout", "execution", env.exec.ID, "step", env.step.Index, "decision", decision)
	return nil
}

// timeoutTarget prefers the explicit notify_user, falling back to the step
// assignee.
func (rt *runtime) timeoutTarget(ctx context.Context, env *stepEnv) (string, error) {
	if env.step.Timeout != nil && env.step.Timeout.NotifyUser != "" {
		return env.step.Timeout.NotifyUser, nil
	}
	return rt.resolveAssignee(ctx, env)
}

// resolveAssignee turns the step's assignee declaration into a concrete
// target: a user id directly, a role name for dispatcher fan-out, or the
// output of a registered resolver.
func (rt *runtime) resolveAssignee(ctx context.Context, env *stepEnv) (string, error) {
	assignee := env.step.AssignedTo
	if assignee == nil {
		return "", fmt.Errorf("step %d has no assignee", env.step.Index)
	}

	switch assignee.Kind {
	case definitions.AssignUser, definitions.AssignRole:
		return assignee.Value, nil
	case definitions.AssignResolver:
		fn, ok := rt.resolver(assignee.Value)
		if !ok {
			return "", fmt.Errorf("assignee resolver %q is not registered", assignee.Value)
		}
		return fn(ctx, env.doc, env.exec)
	}

	return "", fmt.Errorf("unknown assignee kind %q", assignee.Kind)
}

// authorizedApprover checks that the caller may decide the approval step.
// Admins always may; an escalation target may; otherwise the assignee
// declaration governs.
func (rt *runtime) authorizedApprover(ctx context.Context, env *stepEnv, caller *identity.Caller) (bool, error) {
	if caller.HasRole(identity.RoleAdmin) {
		return true, nil
	}

	if env.exec.EscalatedTo != nil && *env.exec.EscalatedTo == caller.Subject {
		return true, nil
	}

	assignee := env.step.AssignedTo
	if assignee == nil {
		return false, nil
	}

	switch assignee.Kind {
	case definitions.AssignUser:
		return assignee.Value == caller.Subject, nil
	case definitions.AssignRole:
		return caller.HasRole(assignee.Value), nil
	case definitions.AssignResolver:
		fn, ok := rt.resolver(assignee.Value)
		if !ok {
			return false, fmt.Errorf("assignee resolver %q is not registered", assignee.Value)
		}
		resolved, err := fn(ctx, env.doc, env.exec)
		if err != nil {
			return false, err
		}
		return resolved == caller.Subject, nil
	}

	return false, nil
}

func (rt *runtime) notify(ctx context.Context, cmd notifications.SendCommand) error {
	return retry.Do(ctx, rt.retry, func(ctx context.Context) error {
		_, err := rt.notifications.Send(ctx, cmd)
		return err
	})
}
