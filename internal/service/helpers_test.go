package service

import (
	"context"
	"sync"
	"testing"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
)

var (
	owner   = Caller{ID: "emp-owner", Type: CallerEmployee}
	lead    = Caller{ID: "emp-lead", Type: CallerEmployee}
	finance = Caller{ID: "emp-fin", Role: "finance", Type: CallerEmployee}
	client  = Caller{ID: "client-1", Type: CallerClient}
	admin   = Caller{ID: "emp-admin", Role: RoleAdmin, Type: CallerEmployee}
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, n)
	return nil
}

func (r *recordingNotifier) of(e Event) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.events {
		if n.Event == e {
			out = append(out, n)
		}
	}
	return out
}

type fixture struct {
	store     *repository.MemoryStore
	versions  *VersionStore
	gate      *ChecklistGate
	engine    *LevelEngine
	tracker   *RevisionTracker
	templates *TemplateService
	orch      *Orchestrator
	notes     *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	log := logger.NewNop()
	f := &fixture{
		store:     store,
		versions:  NewVersionStore(store, log),
		gate:      NewChecklistGate(store, log),
		engine:    NewLevelEngine(store, log),
		tracker:   NewRevisionTracker(store, log),
		templates: NewTemplateService(store, log),
		notes:     &recordingNotifier{},
	}
	f.orch = NewOrchestrator(store, f.engine, f.tracker, f.templates, f.notes, log)
	return f
}

// quoteContent prices one selected phase and one unselected phase that must
// never count.
func quoteContent(hours float64, rate int64) repository.Content {
	return repository.QuoteContentOf(repository.QuoteContent{
		Phases: []repository.QuotePhase{
			{Name: "Build", Hours: hours, Rate: rate, Selected: true},
			{Name: "Optional extras", Hours: 40, Rate: 100, Selected: false},
		},
	})
}

func deliverableContent(ref string) repository.Content {
	return repository.DeliverableContentOf(repository.DeliverableContent{FileRef: ref})
}

func (f *fixture) newQuote(t *testing.T, content repository.Content) (*repository.Artifact, *repository.Version) {
	t.Helper()
	art, v, err := f.versions.CreateArtifact(context.Background(), owner, CreateArtifactInput{
		Kind:      repository.ArtifactQuote,
		ProjectID: "proj-1",
		Title:     "Website rebuild",
		Currency:  "eur",
		Content:   content,
		ChangeLog: "initial quote",
	})
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}
	return art, v
}

func (f *fixture) newDeliverable(t *testing.T) (*repository.Artifact, *repository.Version) {
	t.Helper()
	art, v, err := f.versions.CreateArtifact(context.Background(), owner, CreateArtifactInput{
		Kind:      repository.ArtifactDeliverable,
		ProjectID: "proj-1",
		Title:     "Homepage mockups",
		Content:   deliverableContent("files/mockups-v1.pdf"),
		ChangeLog: "first cut",
	})
	if err != nil {
		t.Fatalf("create deliverable: %v", err)
	}
	return art, v
}

// twoLevelDefs is an internal review (lead + finance role) followed by a
// client sign-off.
func twoLevelDefs() []repository.ApprovalTemplateLevel {
	return []repository.ApprovalTemplateLevel{
		{
			Name:     "Internal review",
			Required: true,
			Approvers: []repository.ApprovalTemplateApprover{
				{Type: repository.ApproverEmployee, Ref: lead.ID, DisplayName: "Team lead", Required: true},
				{Type: repository.ApproverRole, Ref: "finance", Required: true},
			},
		},
		{
			Name:     "Client sign-off",
			Required: true,
			Approvers: []repository.ApprovalTemplateApprover{
				{Type: repository.ApproverClient, Ref: client.ID, DisplayName: "Client", Required: true},
			},
		},
	}
}

func simpleDefs() []repository.ApprovalTemplateLevel {
	return []repository.ApprovalTemplateLevel{{
		Name:     "Client sign-off",
		Required: true,
		Approvers: []repository.ApprovalTemplateApprover{
			{Type: repository.ApproverClient, Ref: client.ID, Required: true},
		},
	}}
}

func (f *fixture) createWorkflow(t *testing.T, artifactID string, defs []repository.ApprovalTemplateLevel) *WorkflowView {
	t.Helper()
	view, err := f.orch.CreateWorkflow(context.Background(), owner, CreateWorkflowInput{ArtifactID: artifactID, Levels: defs})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	return view
}

func (f *fixture) submit(t *testing.T, workflowID string) *WorkflowView {
	t.Helper()
	view, err := f.orch.SubmitForReview(context.Background(), owner, workflowID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return view
}

// submittedTwoLevel returns an in-review two-level quote workflow.
func (f *fixture) submittedTwoLevel(t *testing.T) *WorkflowView {
	t.Helper()
	art, _ := f.newQuote(t, quoteContent(10, 100))
	view := f.createWorkflow(t, art.ID, twoLevelDefs())
	return f.submit(t, view.Workflow.ID)
}

func approverOn(t *testing.T, view *WorkflowView, step int, ref string) *repository.Approver {
	t.Helper()
	for _, lv := range view.Levels {
		if lv.Level.StepNumber != step {
			continue
		}
		for _, a := range lv.Approvers {
			if a.Ref == ref {
				return a
			}
		}
	}
	t.Fatalf("approver %q not found on step %d", ref, step)
	return nil
}

func levelOn(t *testing.T, view *WorkflowView, step int) *LevelView {
	t.Helper()
	for _, lv := range view.Levels {
		if lv.Level.StepNumber == step {
			return lv
		}
	}
	t.Fatalf("level %d not found", step)
	return nil
}

func (f *fixture) decide(
	t *testing.T,
	caller Caller,
	view *WorkflowView,
	step int,
	ref string,
	d repository.Decision,
) (*DecisionResult, error) {
	t.Helper()
	a := approverOn(t, view, step, ref)
	return f.orch.Decide(context.Background(), caller, DecisionInput{
		WorkflowID: view.Workflow.ID,
		LevelID:    a.LevelID,
		ApproverID: a.ID,
		Decision:   d,
	})
}

func (f *fixture) mustDecide(
	t *testing.T,
	caller Caller,
	view *WorkflowView,
	step int,
	ref string,
	d repository.Decision,
) *WorkflowView {
	t.Helper()
	res, err := f.decide(t, caller, view, step, ref, d)
	if err != nil {
		t.Fatalf("decide %s on step %d: %v", ref, step, err)
	}
	return res.Workflow
}

func (f *fixture) reload(t *testing.T, workflowID string) *WorkflowView {
	t.Helper()
	view, err := f.orch.GetWorkflow(context.Background(), workflowID)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	return view
}

func expectCode(t *testing.T, err error, code errors.Code) {
	t.Helper()
	if !errors.Is(err, code) {
		t.Fatalf("expected %s error, got %v", code, err)
	}
}
