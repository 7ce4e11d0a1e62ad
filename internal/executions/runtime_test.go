package executions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/cascade/internal/conditions"
	"github.com/JaimeStill/cascade/internal/definitions"
	"github.com/JaimeStill/cascade/internal/documents"
	"github.com/JaimeStill/cascade/internal/identity"
	"github.com/JaimeStill/cascade/internal/notifications"
	"github.com/JaimeStill/cascade/pkg/pagination"
	"github.com/JaimeStill/cascade/pkg/retry"
)

// fakeStore is an in-memory store with the same single-active-per-document
// and compare-and-set semantics as the postgres implementation.
type fakeStore struct {
	mu    sync.Mutex
	execs map[uuid.UUID]*Execution
}

func newFakeStore() *fakeStore {
	return &fakeStore{execs: make(map[uuid.UUID]*Execution)}
}

func (s *fakeStore) insert(_ context.Context, e *Execution) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.execs {
		if existing.DocumentID == e.DocumentID && existing.Status == StatusInProgress {
			return nil, ErrAlreadyRunning
		}
	}

	stored := *e
	stored.StepEnteredAt = time.Now().UTC()
	stored.StartedAt = stored.StepEnteredAt
	stored.UpdatedAt = stored.StepEnteredAt
	s.execs[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (s *fakeStore) find(_ context.Context, id uuid.UUID) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.execs[id]
	if !ok {
		return nil, ErrNotRunning
	}
	out := *e
	return &out, nil
}

func (s *fakeStore) findActive(_ context.Context, documentID uuid.UUID) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.execs {
		if e.DocumentID == documentID && e.Status == StatusInProgress {
			out := *e
			return &out, nil
		}
	}
	return nil, ErrNotRunning
}

func (s *fakeStore) findLatest(_ context.Context, documentID uuid.UUID) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *Execution
	for _, e := range s.execs {
		if e.DocumentID != documentID {
			continue
		}
		if latest == nil || e.StartedAt.After(latest.StartedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, ErrNotRunning
	}
	out := *latest
	return &out, nil
}

func (s *fakeStore) list(_ context.Context, page pagination.PageRequest, _ Filters) (*pagination.PageResult[Execution], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Execution, 0, len(s.execs))
	for _, e := range s.execs {
		items = append(items, *e)
	}
	result := pagination.NewPageResult(items, len(items), page.Page, page.PageSize)
	return &result, nil
}

func (s *fakeStore) listInProgress(_ context.Context) ([]Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []Execution
	for _, e := range s.execs {
		if e.Status == StatusInProgress {
			items = append(items, *e)
		}
	}
	return items, nil
}

func (s *fakeStore) update(_ context.Context, e *Execution, expectedStep int) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.execs[e.ID]
	if !ok || current.Status != StatusInProgress || current.CurrentStep != expectedStep {
		return nil, ErrStepMismatch
	}

	stored := *e
	stored.UpdatedAt = time.Now().UTC()
	s.execs[stored.ID] = &stored

	out := stored
	return &out, nil
}

// setStep mutates stored state out-of-band to simulate a concurrent writer.
func (s *fakeStore) setStep(id uuid.UUID, step int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[id].CurrentStep = step
}

func (s *fakeStore) setEnteredAt(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[id].StepEnteredAt = at
}

type fakeDefinitions struct {
	defs map[uuid.UUID]*definitions.Definition
}

func (f *fakeDefinitions) Handler() *definitions.Handler { return nil }

func (f *fakeDefinitions) List(context.Context, pagination.PageRequest, definitions.Filters) (*pagination.PageResult[definitions.Definition], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDefinitions) Find(_ context.Context, id uuid.UUID) (*definitions.Definition, error) {
	def, ok := f.defs[id]
	if !ok {
		return nil, definitions.ErrNotFound
	}
	return def, nil
}

func (f *fakeDefinitions) FindVersion(ctx context.Context, id uuid.UUID, _ int) (*definitions.Definition, error) {
	return f.Find(ctx, id)
}

func (f *fakeDefinitions) History(context.Context, uuid.UUID) ([]definitions.VersionEntry, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDefinitions) Create(context.Context, definitions.CreateCommand) (*definitions.Definition, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDefinitions) Update(context.Context, uuid.UUID, definitions.UpdateCommand, string) (*definitions.Definition, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDefinitions) SetActive(context.Context, uuid.UUID, bool) (*definitions.Definition, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDefinitions) Delete(context.Context, uuid.UUID) error {
	return errors.New("not implemented")
}

type fakeDocuments struct {
	mu       sync.Mutex
	docs     map[uuid.UUID]*documents.Document
	attached map[uuid.UUID]bool
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{
		docs:     make(map[uuid.UUID]*documents.Document),
		attached: make(map[uuid.UUID]bool),
	}
}

func (f *fakeDocuments) add(documentType string, metadata map[string]any) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := uuid.New()
	f.docs[id] = &documents.Document{
		ID:           id,
		Name:         "doc",
		DocumentType: documentType,
		Status:       documents.StatusActive,
		Metadata:     metadata,
	}
	return id
}

// attach records a file on the document, stamped at the current time so the
// attachment postdates any step already entered.
func (f *fakeDocuments) attach(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	f.docs[id].AttachedAt = &now
	f.attached[id] = true
}

func (f *fakeDocuments) Handler(int64) *documents.Handler { return nil }

func (f *fakeDocuments) List(context.Context, pagination.PageRequest, documents.Filters) (*pagination.PageResult[documents.Document], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDocuments) Find(_ context.Context, id uuid.UUID) (*documents.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, ok := f.docs[id]
	if !ok {
		return nil, documents.ErrNotFound
	}
	out := *doc
	return &out, nil
}

func (f *fakeDocuments) Create(context.Context, documents.CreateCommand) (*documents.Document, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDocuments) Attach(context.Context, uuid.UUID, documents.AttachCommand) (*documents.Document, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDocuments) Download(context.Context, uuid.UUID) (*documents.Document, io.ReadCloser, error) {
	return nil, nil, errors.New("not implemented")
}

func (f *fakeDocuments) SetMetadata(context.Context, uuid.UUID, map[string]any) (*documents.Document, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDocuments) Archive(_ context.Context, id uuid.UUID) (*documents.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, ok := f.docs[id]
	if !ok {
		return nil, documents.ErrNotFound
	}
	doc.Status = documents.StatusArchived
	out := *doc
	return &out, nil
}

func (f *fakeDocuments) Attachment(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached[id], nil
}

func (f *fakeDocuments) Delete(context.Context, uuid.UUID) error {
	return errors.New("not implemented")
}

type fakeNotifications struct {
	mu   sync.Mutex
	sent []notifications.SendCommand
}

func (f *fakeNotifications) Handler() *notifications.Handler { return nil }

func (f *fakeNotifications) List(context.Context, pagination.PageRequest, notifications.Filters) (*pagination.PageResult[notifications.Request], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeNotifications) Send(_ context.Context, cmd notifications.SendCommand) (*notifications.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return &notifications.Request{ID: uuid.New(), Kind: cmd.Kind, TargetUser: cmd.TargetUser}, nil
}

func (f *fakeNotifications) byKind(kind string) []notifications.SendCommand {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []notifications.SendCommand
	for _, cmd := range f.sent {
		if cmd.Kind == kind {
			out = append(out, cmd)
		}
	}
	return out
}

type fixture struct {
	rt    *runtime
	store *fakeStore
	defs  *fakeDefinitions
	docs  *fakeDocuments
	notes *fakeNotifications
}

func newFixture(def *definitions.Definition) *fixture {
	f := &fixture{
		store: newFakeStore(),
		defs:  &fakeDefinitions{defs: map[uuid.UUID]*definitions.Definition{def.ID: def}},
		docs:  newFakeDocuments(),
		notes: &fakeNotifications{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.rt = newRuntime(f.store, f.defs, f.docs, f.notes, logger, pagination.Config{})
	f.rt.retry = retry.Policy{Attempts: 1, Delay: time.Millisecond}
	return f
}

func contractDefinition() *definitions.Definition {
	return &definitions.Definition{
		ID:           uuid.New(),
		Name:         "Contract Approval",
		DocumentType: definitions.DocumentTypeAny,
		Active:       true,
		Version:      1,
		Steps: []definitions.Step{
			{Index: 0, Name: "Upload", Type: definitions.StepUpload},
			{Index: 1, Name: "Details", Type: definitions.StepForm, Form: []definitions.FormField{
				{Name: "amount", Type: definitions.FieldNumber, Required: true},
				{Name: "category", Type: definitions.FieldSelect, Options: []string{"standard", "priority"}},
			}},
			{Index: 2, Name: "Manager Approval", Type: definitions.StepApproval, AssignedTo: &definitions.Assignee{
				Kind: definitions.AssignRole, Value: "manager",
			}},
			{Index: 3, Name: "Archive", Type: definitions.StepArchive},
			{Index: 4, Name: "Rejection Notice", Type: definitions.StepNotification, AssignedTo: &definitions.Assignee{
				Kind: definitions.AssignUser, Value: "submitter",
			}},
		},
		Connections: []definitions.Connection{
			{SourceStep: 0, TargetStep: 1},
			{SourceStep: 1, TargetStep: 2},
			{SourceStep: 2, SourceConnector: "approved", TargetStep: 3},
			{SourceStep: 2, SourceConnector: "rejected", TargetStep: 4},
		},
	}
}

func manager() *identity.Caller {
	return &identity.Caller{Subject: "mallory", Roles: []string{"manager"}}
}

func TestStartEntersFirstStep(t *testing.T) {
	def := contractDefinition()
	f := newFixture(def)
	docID := f.docs.add("contract", nil)

	e, err := f.rt.Start(context.Background(), docID, StartCommand{DefinitionID: def.ID}, "alice")
	if err != nil {
		t.Fatalf("Start returned %v", err)
	}

	if e.Status != StatusInProgress || e.CurrentStep != 0 {
		t.Errorf("execution = %s step %d, want in_progress step 0", e.Status, e.CurrentStep)
	}
	if e.DefinitionVersion != 1 {
		t.Errorf("DefinitionVersion = %d, want pinned 1", e.DefinitionVersion)
	}
}

func TestStartRejectsSecondExecution(t *testing.T) {
	def := contractDefinition()
	f := newFixture(def)
	docID := f.docs.add("contract", nil)
	ctx := context.Background()

	if _, err := f.rt.Start(ctx, docID, StartCommand{DefinitionID: def.ID}, "alice"); err != nil {
		t.Fatalf("first Start returned %v", err)
	}

	if _, err := f.rt.Start(ctx, docID, StartCommand{DefinitionID: def.ID}, "bob"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestStartInactiveDefinition(t *testing.T) {
	def := contractDefinition()
	def.Active = false
	f := newFixture(def)
	docID := f.docs.add("contract", nil)

	if _, err := f.rt.Start(context.Background(), docID, StartCommand{DefinitionID: def.ID}, "alice"); !errors.Is(err, ErrDefinitionInactive) {
		t.Errorf("Start = %v, want ErrDefinitionInactive", err)
	}
}

func TestStartDocumentTypeMismatch(t *testing.T) {
	def := contractDefinition()
	def.DocumentType = "invoice"
	f := newFixture(def)
	docID := f.docs.add("contract", nil)

	if _, err := f.rt.Start(context.Background(), docID, StartCommand{DefinitionID: def.ID}, "alice"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Start = %v, want ErrTypeMismatch", err)
	}
}

func TestUploadStepRequiresAttachment(t *testing.T) {
	def := contractDefinition()
	f := newFixture(def)
	docID := f.docs.add("contract", nil)
	ctx := context.Background()

	if _, err := f.rt.Start(ctx, docID, StartCommand{DefinitionID: def.ID}, "alice"); err != nil {
		t.Fatalf("Start returned %v", err)
	}

	if _, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 0}, manager()); !errors.Is(err, ErrMissingAttachment) {
		t.Fatalf("Advance = %v, want ErrMissingAttachment", err)
	}

	f.docs.attach(docID)

	e, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 0}, manager())
	if err != nil {
		t.Fatalf("Advance after attach returned %v", err)
	}
	if e.CurrentStep != 1 {
		t.Errorf("CurrentStep = %d, want 1", e.CurrentStep)
	}
}

func TestUploadStepIgnoresPriorAttachment(t *testing.T) {
	def := contractDefinition()
	f := newFixture(def)
	docID := f.docs.add("contract", nil)
	ctx := context.Background()

	// A file from before the workflow started does not satisfy the step.
	f.docs.attach(docID)
	stale := time.Now().UTC().Add(-time.Hour)
	f.docs.docs[docID].AttachedAt = &stale

	if _, err := f.rt.Start(ctx, docID, StartCommand{DefinitionID: def.ID}, "alice"); err != nil {
		t.Fatalf("Start returned %v", err)
	}

	if _, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 0}, manager()); !errors.Is(err, ErrMissingAttachment) {
		t.Fatalf("Advance with stale attachment = %v, want ErrMissingAttachment", err)
	}

	f.docs.attach(docID)

	e, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 0}, manager())
	if err != nil {
		t.Fatalf("Advance after re-attach returned %v", err)
	}
	if e.CurrentStep != 1 {
		t.Errorf("CurrentStep = %d, want 1", e.CurrentStep)
	}
}

func TestFormStepValidatesAndMerges(t *testing.T) {
	def := contractDefinition()
	f := newFixture(def)
	docID := f.docs.add("contract", nil)
	ctx := context.Background()

	if _, err := f.rt.Start(ctx, docID, StartCommand{DefinitionID: def.ID}, "alice"); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	f.docs.attach(docID)
	if _, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 0}, manager()); err != nil {
		t.Fatalf("upload Advance returned %v", err)
	}

	t.Run("missing required field", func(t *testing.T) {
		_, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 1, FormValues: map[string]any{"category": "standard"}}, manager())
		if !errors.Is(err, ErrInvalidForm) {
			t.Errorf("Advance = %v, want ErrInvalidForm", err)
		}
	})

	t.Run("invalid select option", func(t *testing.T) {
		_, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 1, FormValues: map[string]any{
			"amount": 250.0, "category": "express",
		}}, manager())
		if !errors.Is(err, ErrInvalidForm) {
			t.Errorf("Advance = %v, want ErrInvalidForm", err)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 1, FormValues: map[string]any{
			"amount": 250.0, "priority": true,
		}}, manager())
		if !errors.Is(err, ErrInvalidForm) {
			t.Errorf("Advance = %v, want ErrInvalidForm", err)
		}
	})

	t.Run("valid submission merges values", func(t *testing.T) {
		e, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 1, FormValues: map[string]any{
			"amount": "250", "category": "priority",
		}}, manager())
		if err != nil {
			t.Fatalf("Advance returned %v", err)
		}
		if e.CurrentStep != 2 {
			t.Errorf("CurrentStep = %d, want 2", e.CurrentStep)
		}
		if e.FormValues["amount"] != 250.0 {
			t.Errorf("amount = %v, want coerced 250", e.FormValues["amount"])
		}
	})
}

func TestApprovalStep(t *testing.T) {
	setup := func(t *testing.T) (*fixture, uuid.UUID) {
		def := contractDefinition()
		f := newFixture(def)
		docID := f.docs.add("contract", nil)
		ctx := context.Background()

		if _, err := f.rt.Start(ctx, docID, StartCommand{DefinitionID: def.ID}, "alice"); err != nil {
			t.Fatalf("Start returned %v", err)
		}
		f.docs.attach(docID)
		if _, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 0}, manager()); err != nil {
			t.Fatalf("upload Advance returned %v", err)
		}
		if _, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 1, FormValues: map[string]any{"amount": 100.0}}, manager()); err != nil {
			t.Fatalf("form Advance returned %v", err)
		}
		return f, docID
	}

	t.Run("decision required", func(t *testing.T) {
		f, docID := setup(t)
		_, err := f.rt.Advance(context.Background(), docID, AdvanceCommand{Step: 2}, manager())
		if !errors.Is(err, ErrDecisionRequired) {
			t.Errorf("Advance = %v, want ErrDecisionRequired", err)
		}
	})

	t.Run("caller without role is rejected", func(t *testing.T) {
		f, docID := setup(t)
		intern := &identity.Caller{Subject: "ivy", Roles: []string{"viewer"}}
		_, err := f.rt.Advance(context.Background(), docID, AdvanceCommand{Step: 2, Decision: DecisionApproved}, intern)
		if !errors.Is(err, ErrNotAssignee) {
			t.Errorf("Advance = %v, want ErrNotAssignee", err)
		}
	})

	t.Run("admin may decide", func(t *testing.T) {
		f, docID := setup(t)
		admin := &identity.Caller{Subject: "root", Roles: []string{identity.RoleAdmin}}
		e, err := f.rt.Advance(context.Background(), docID, AdvanceCommand{Step: 2, Decision: DecisionApproved}, admin)
		if err != nil {
			t.Fatalf("Advance returned %v", err)
		}
		if e.Status != StatusCompleted {
			t.Errorf("Status = %s, want completed", e.Status)
		}
	})

	t.Run("approval archives and completes", func(t *testing.T) {
		f, docID := setup(t)
		e, err := f.rt.Advance(context.Background(), docID, AdvanceCommand{Step: 2, Decision: DecisionApproved}, manager())
		if err != nil {
			t.Fatalf("Advance returned %v", err)
		}

		if e.Status != StatusCompleted || e.CompletedAt == nil {
			t.Errorf("execution = %s, want completed with timestamp", e.Status)
		}

		doc, _ := f.docs.Find(context.Background(), docID)
		if doc.Status != documents.StatusArchived {
			t.Errorf("document status = %s, want archived", doc.Status)
		}
	})

	t.Run("rejection notifies submitter and completes", func(t *testing.T) {
		f, docID := setup(t)
		e, err := f.rt.Advance(context.Background(), docID, AdvanceCommand{Step: 2, Decision: DecisionRejected}, manager())
		if err != nil {
			t.Fatalf("Advance returned %v", err)
		}

		if e.Status != StatusCompleted {
			t.Errorf("Status = %s, want completed", e.Status)
		}

		steps := f.notes.byKind(notifications.KindStep)
		found := false
		for _, cmd := range steps {
			if cmd.TargetUser == "submitter" {
				found = true
			}
		}
		if !found {
			t.Error("no step notification queued for submitter")
		}
	})
}

func TestConditionRouting(t *testing.T) {
	def := &definitions.Definition{
		ID:           uuid.New(),
		Name:         "Invoice Triage",
		DocumentType: definitions.DocumentTypeAny,
		Active:       true,
		Version:      1,
		Steps: []definitions.Step{
			{Index: 0, Name: "Details", Type: definitions.StepForm, Form: []definitions.FormField{
				{Name: "amount", Type: definitions.FieldNumber, Required: true},
			}},
			{Index: 1, Name: "Route", Type: definitions.StepCondition, Conditions: []conditions.Condition{
				{Field: "amount", Operator: conditions.GreaterThan, Value: 1000, TargetStep: 3},
			}},
			{Index: 2, Name: "Fast Archive", Type: definitions.StepArchive},
			{Index: 3, Name: "Review", Type: definitions.StepApproval, AssignedTo: &definitions.Assignee{
				Kind: definitions.AssignUser, Value: "reviewer",
			}},
		},
		Connections: []definitions.Connection{
			{SourceStep: 0, TargetStep: 1},
			{SourceStep: 1, TargetStep: 2},
			{SourceStep: 3, SourceConnector: "approved", TargetStep: 2},
		},
	}

	t.Run("matching condition takes explicit branch", func(t *testing.T) {
		f := newFixture(def)
		docID := f.docs.add("invoice", nil)
		ctx := context.Background()

		if _, err := f.rt.Start(ctx, docID, StartCommand{DefinitionID: def.ID}, "alice"); err != nil {
			t.Fatalf("Start returned %v", err)
		}

		e, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 0, FormValues: map[string]any{"amount": 5000.0}}, manager())
		if err != nil {
			t.Fatalf("Advance returned %v", err)
		}
		if e.CurrentStep != 3 || e.Status != StatusInProgress {
			t.Errorf("execution at step %d status %s, want step 3 in_progress", e.CurrentStep, e.Status)
		}
	})

	t.Run("no match falls through default edge", func(t *testing.T) {
		f := newFixture(def)
		docID := f.docs.add("invoice", nil)
		ctx := context.Background()

		if _, err := f.rt.Start(ctx, docID, StartCommand{DefinitionID: def.ID}, "alice"); err != nil {
			t.Fatalf("Start returned %v", err)
		}

		e, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 0, FormValues: map[string]any{"amount": 200.0}}, manager())
		if err != nil {
			t.Fatalf("Advance returned %v", err)
		}
		if e.Status != StatusCompleted {
			t.Errorf("Status = %s, want completed via archive", e.Status)
		}
	})
}

func TestScriptFailureRecorded(t *testing.T) {
	def := &definitions.Definition{
		ID:           uuid.New(),
		Name:         "Stamp",
		DocumentType: definitions.DocumentTypeAny,
		Active:       true,
		Version:      1,
		Steps: []definitions.Step{
			{Index: 0, Name: "Stamp", Type: definitions.StepScript, Script: "stamp-received"},
			{Index: 1, Name: "Archive", Type: definitions.StepArchive},
		},
		Connections: []definitions.Connection{
			{SourceStep: 0, TargetStep: 1},
		},
	}

	f := newFixture(def)
	docID := f.docs.add("contract", nil)

	e, err := f.rt.Start(context.Background(), docID, StartCommand{DefinitionID: def.ID}, "alice")
	if err != nil {
		t.Fatalf("Start returned %v", err)
	}

	if e.Status != StatusInProgress || e.CurrentStep != 0 {
		t.Fatalf("execution = %s step %d, want stuck in_progress at step 0", e.Status, e.CurrentStep)
	}
	if e.LastError == nil {
		t.Fatal("LastError not recorded for unregistered script")
	}

	if len(f.notes.byKind(notifications.KindFailure)) == 0 {
		t.Error("no failure notification queued")
	}

	// Registering the script and retrying the step recovers the run.
	if err := f.rt.Scripts().Register("stamp-received", func(context.Context, *ScriptContext) error {
		return nil
	}); err != nil {
		t.Fatalf("Register returned %v", err)
	}

	recovered, err := f.rt.Advance(context.Background(), docID, AdvanceCommand{Step: 0}, manager())
	if err != nil {
		t.Fatalf("Advance returned %v", err)
	}
	if recovered.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed after recovery", recovered.Status)
	}
}

func TestConcurrentAdvanceDetected(t *testing.T) {
	def := contractDefinition()
	f := newFixture(def)
	docID := f.docs.add("contract", nil)
	ctx := context.Background()

	e, err := f.rt.Start(ctx, docID, StartCommand{DefinitionID: def.ID}, "alice")
	if err != nil {
		t.Fatalf("Start returned %v", err)
	}
	f.docs.attach(docID)

	// A concurrent writer moves the execution between our read and write.
	rt := f.rt
	st := f.store
	rt.steps[definitions.StepUpload] = racingStep{inner: uploadStep{}, fire: func() {
		st.setStep(e.ID, 1)
	}}

	if _, err := rt.Advance(ctx, docID, AdvanceCommand{Step: 0}, manager()); !errors.Is(err, ErrStepMismatch) {
		t.Errorf("Advance = %v, want ErrStepMismatch", err)
	}
}

// A double-submitted request names the step it was issued against, so the
// second delivery is rejected instead of acting on the step the first one
// advanced to.
func TestAdvanceRejectsReplayedRequest(t *testing.T) {
	def := &definitions.Definition{
		ID:           uuid.New(),
		Name:         "Two Stage Review",
		DocumentType: definitions.DocumentTypeAny,
		Active:       true,
		Version:      1,
		Steps: []definitions.Step{
			{Index: 0, Name: "First Review", Type: definitions.StepApproval, AssignedTo: &definitions.Assignee{
				Kind: definitions.AssignRole, Value: "manager",
			}},
			{Index: 1, Name: "Second Review", Type: definitions.StepApproval, AssignedTo: &definitions.Assignee{
				Kind: definitions.AssignRole, Value: "manager",
			}},
			{Index: 2, Name: "Archive", Type: definitions.StepArchive},
		},
		Connections: []definitions.Connection{
			{SourceStep: 0, SourceConnector: "approved", TargetStep: 1},
			{SourceStep: 1, SourceConnector: "approved", TargetStep: 2},
		},
	}

	f := newFixture(def)
	docID := f.docs.add("contract", nil)
	ctx := context.Background()

	if _, err := f.rt.Start(ctx, docID, StartCommand{DefinitionID: def.ID}, "alice"); err != nil {
		t.Fatalf("Start returned %v", err)
	}

	cmd := AdvanceCommand{Step: 0, Decision: DecisionApproved}

	e, err := f.rt.Advance(ctx, docID, cmd, manager())
	if err != nil {
		t.Fatalf("Advance returned %v", err)
	}
	if e.CurrentStep != 1 {
		t.Fatalf("CurrentStep = %d, want 1", e.CurrentStep)
	}

	if _, err := f.rt.Advance(ctx, docID, cmd, manager()); !errors.Is(err, ErrStepMismatch) {
		t.Errorf("replayed Advance = %v, want ErrStepMismatch", err)
	}

	// The replay must not have decided the second review.
	state, err := f.rt.State(ctx, docID)
	if err != nil {
		t.Fatalf("State returned %v", err)
	}
	if state.Execution.CurrentStep != 1 || state.Execution.Status != StatusInProgress {
		t.Errorf("execution at step %d status %s, want step 1 in_progress",
			state.Execution.CurrentStep, state.Execution.Status)
	}
}

// racingStep runs a callback after the wrapped handler completes, before
// the runtime persists the transition.
type racingStep struct {
	inner stepHandler
	fire  func()
}

func (r racingStep) auto() bool { return r.inner.auto() }

func (r racingStep) complete(ctx context.Context, env *stepEnv, cmd AdvanceCommand, caller *identity.Caller) (stepRoute, error) {
	route, err := r.inner.complete(ctx, env, cmd, caller)
	r.fire()
	return route, err
}

func TestCancel(t *testing.T) {
	def := contractDefinition()
	f := newFixture(def)
	docID := f.docs.add("contract", nil)
	ctx := context.Background()

	if _, err := f.rt.Start(ctx, docID, StartCommand{DefinitionID: def.ID}, "alice"); err != nil {
		t.Fatalf("Start returned %v", err)
	}

	e, err := f.rt.Cancel(ctx, docID, CancelCommand{Reason: "duplicate submission"}, "alice")
	if err != nil {
		t.Fatalf("Cancel returned %v", err)
	}

	if e.Status != StatusCanceled || e.CancelReason == nil || *e.CancelReason != "duplicate submission" {
		t.Errorf("execution = %s reason %v, want canceled with reason", e.Status, e.CancelReason)
	}

	if _, err := f.rt.Advance(ctx, docID, AdvanceCommand{}, manager()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Advance after cancel = %v, want ErrNotRunning", err)
	}

	// Canceling again is a no-op returning the terminal execution unchanged.
	again, err := f.rt.Cancel(ctx, docID, CancelCommand{Reason: "retry"}, "alice")
	if err != nil {
		t.Fatalf("second Cancel returned %v", err)
	}
	if again.ID != e.ID || again.Status != StatusCanceled {
		t.Errorf("second Cancel = %s %s, want the canceled execution", again.ID, again.Status)
	}
	if again.CancelReason == nil || *again.CancelReason != "duplicate submission" {
		t.Errorf("second Cancel reason = %v, want original reason preserved", again.CancelReason)
	}

	// A fresh run may start once the prior one is canceled.
	if _, err := f.rt.Start(ctx, docID, StartCommand{DefinitionID: def.ID}, "bob"); err != nil {
		t.Errorf("restart after cancel returned %v", err)
	}
}

func TestCancelWithoutExecution(t *testing.T) {
	def := contractDefinition()
	f := newFixture(def)
	docID := f.docs.add("contract", nil)

	if _, err := f.rt.Cancel(context.Background(), docID, CancelCommand{}, "alice"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Cancel without execution = %v, want ErrNotRunning", err)
	}
}

func timeoutFixture(t *testing.T, action definitions.TimeoutAction, notifyUser string) (*fixture, uuid.UUID, *Execution) {
	t.Helper()

	def := contractDefinition()
	def.Steps[2].Timeout = &definitions.Timeout{
		Duration:   "1h",
		Action:     action,
		NotifyUser: notifyUser,
	}

	f := newFixture(def)
	docID := f.docs.add("contract", nil)
	ctx := context.Background()

	if _, err := f.rt.Start(ctx, docID, StartCommand{DefinitionID: def.ID}, "alice"); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	f.docs.attach(docID)
	if _, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 0}, manager()); err != nil {
		t.Fatalf("upload Advance returned %v", err)
	}
	e, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 1, FormValues: map[string]any{"amount": 100.0}}, manager())
	if err != nil {
		t.Fatalf("form Advance returned %v", err)
	}

	f.store.setEnteredAt(e.ID, time.Now().UTC().Add(-2*time.Hour))
	e, err = f.rt.Find(ctx, e.ID)
	if err != nil {
		t.Fatalf("Find returned %v", err)
	}
	return f, docID, e
}

func TestApplyTimeoutNotify(t *testing.T) {
	f, _, e := timeoutFixture(t, definitions.TimeoutNotify, "ops")
	ctx := context.Background()

	if err := f.rt.ApplyTimeout(ctx, *e); err != nil {
		t.Fatalf("ApplyTimeout returned %v", err)
	}

	sent := f.notes.byKind(notifications.KindTimeout)
	if len(sent) != 1 || sent[0].TargetUser != "ops" {
		t.Fatalf("timeout notifications = %+v, want one for ops", sent)
	}

	// A second scan is a no-op; step_notified_at dedupes.
	updated, err := f.rt.Find(ctx, e.ID)
	if err != nil {
		t.Fatalf("Find returned %v", err)
	}
	if err := f.rt.ApplyTimeout(ctx, *updated); err != nil {
		t.Fatalf("second ApplyTimeout returned %v", err)
	}
	if got := len(f.notes.byKind(notifications.KindTimeout)); got != 1 {
		t.Errorf("timeout notifications after rescan = %d, want 1", got)
	}
}

func TestApplyTimeoutEscalate(t *testing.T) {
	f, docID, e := timeoutFixture(t, definitions.TimeoutEscalate, "supervisor")
	ctx := context.Background()

	if err := f.rt.ApplyTimeout(ctx, *e); err != nil {
		t.Fatalf("ApplyTimeout returned %v", err)
	}

	updated, err := f.rt.Find(ctx, e.ID)
	if err != nil {
		t.Fatalf("Find returned %v", err)
	}
	if updated.EscalatedTo == nil || *updated.EscalatedTo != "supervisor" {
		t.Fatalf("EscalatedTo = %v, want supervisor", updated.EscalatedTo)
	}

	// The escalation target may now decide despite lacking the manager role.
	supervisor := &identity.Caller{Subject: "supervisor", Roles: []string{"viewer"}}
	final, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 2, Decision: DecisionApproved}, supervisor)
	if err != nil {
		t.Fatalf("Advance by escalation target returned %v", err)
	}
	if final.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", final.Status)
	}
}

func TestApplyTimeoutAutoReject(t *testing.T) {
	f, _, e := timeoutFixture(t, definitions.TimeoutAutoReject, "")
	ctx := context.Background()

	if err := f.rt.ApplyTimeout(ctx, *e); err != nil {
		t.Fatalf("ApplyTimeout returned %v", err)
	}

	updated, err := f.rt.Find(ctx, e.ID)
	if err != nil {
		t.Fatalf("Find returned %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed via rejection branch", updated.Status)
	}
}

func TestApplyTimeoutSkipsStaleSnapshot(t *testing.T) {
	f, docID, e := timeoutFixture(t, definitions.TimeoutAutoReject, "")
	ctx := context.Background()

	stale := *e
	final, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 2, Decision: DecisionApproved}, manager())
	if err != nil {
		t.Fatalf("Advance returned %v", err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("Status = %s, want completed", final.Status)
	}

	if err := f.rt.ApplyTimeout(ctx, stale); err != nil {
		t.Errorf("ApplyTimeout on stale snapshot = %v, want nil no-op", err)
	}
}

func TestApplyTimeoutBeforeDeadline(t *testing.T) {
	f, _, e := timeoutFixture(t, definitions.TimeoutNotify, "ops")
	ctx := context.Background()

	f.store.setEnteredAt(e.ID, time.Now().UTC())
	fresh, err := f.rt.Find(ctx, e.ID)
	if err != nil {
		t.Fatalf("Find returned %v", err)
	}

	if err := f.rt.ApplyTimeout(ctx, *fresh); err != nil {
		t.Fatalf("ApplyTimeout returned %v", err)
	}
	if got := len(f.notes.byKind(notifications.KindTimeout)); got != 0 {
		t.Errorf("timeout notifications = %d, want 0 before deadline", got)
	}
}

func TestState(t *testing.T) {
	def := contractDefinition()
	f := newFixture(def)
	docID := f.docs.add("contract", nil)
	ctx := context.Background()

	if _, err := f.rt.State(ctx, docID); !errors.Is(err, ErrNotRunning) {
		t.Errorf("State before start = %v, want ErrNotRunning", err)
	}

	if _, err := f.rt.Start(ctx, docID, StartCommand{DefinitionID: def.ID}, "alice"); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	f.docs.attach(docID)
	if _, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 0}, manager()); err != nil {
		t.Fatalf("upload Advance returned %v", err)
	}
	if _, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 1, FormValues: map[string]any{"amount": 100.0}}, manager()); err != nil {
		t.Fatalf("form Advance returned %v", err)
	}

	state, err := f.rt.State(ctx, docID)
	if err != nil {
		t.Fatalf("State returned %v", err)
	}

	if state.StepType != string(definitions.StepApproval) {
		t.Errorf("StepType = %s, want approval", state.StepType)
	}
	if len(state.Connectors) != 2 {
		t.Errorf("Connectors = %v, want approved and rejected", state.Connectors)
	}
}

func TestResolverAssignee(t *testing.T) {
	def := contractDefinition()
	def.Steps[2].AssignedTo = &definitions.Assignee{Kind: definitions.AssignResolver, Value: "document-owner"}

	f := newFixture(def)
	docID := f.docs.add("contract", map[string]any{"owner": "olive"})
	ctx := context.Background()

	err := f.rt.RegisterResolver("document-owner", func(_ context.Context, doc *documents.Document, _ *Execution) (string, error) {
		owner, _ := doc.Metadata["owner"].(string)
		return owner, nil
	})
	if err != nil {
		t.Fatalf("RegisterResolver returned %v", err)
	}

	if _, err := f.rt.Start(ctx, docID, StartCommand{DefinitionID: def.ID}, "alice"); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	f.docs.attach(docID)
	if _, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 0}, manager()); err != nil {
		t.Fatalf("upload Advance returned %v", err)
	}
	if _, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 1, FormValues: map[string]any{"amount": 100.0}}, manager()); err != nil {
		t.Fatalf("form Advance returned %v", err)
	}

	stranger := &identity.Caller{Subject: "sam", Roles: []string{"manager"}}
	if _, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 2, Decision: DecisionApproved}, stranger); !errors.Is(err, ErrNotAssignee) {
		t.Errorf("Advance by non-owner = %v, want ErrNotAssignee", err)
	}

	owner := &identity.Caller{Subject: "olive"}
	e, err := f.rt.Advance(ctx, docID, AdvanceCommand{Step: 2, Decision: DecisionApproved}, owner)
	if err != nil {
		t.Fatalf("Advance by owner returned %v", err)
	}
	if e.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", e.Status)
	}
}
