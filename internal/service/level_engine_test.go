package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
)

func levels(statuses ...repository.LevelStatus) []*repository.Level {
	out := make([]*repository.Level, len(statuses))
	for i, s := range statuses {
		out[i] = &repository.Level{StepNumber: i + 1, Status: s}
	}
	return out
}

func TestDeriveStatus(t *testing.T) {
	const (
		P = repository.LevelPending
		A = repository.LevelApproved
		R = repository.LevelRejected
		S = repository.LevelSkipped
	)
	tests := []struct {
		name     string
		phase    repository.WorkflowStatus
		levels   []*repository.Level
		wantStat repository.WorkflowStatus
		wantStep int
	}{
		{"draft untouched", repository.WorkflowDraft, levels(P, P), repository.WorkflowDraft, 1},
		{"in review first level", repository.WorkflowInReview, levels(P, P), repository.WorkflowInReview, 1},
		{"advanced", repository.WorkflowInReview, levels(A, P), repository.WorkflowInReview, 2},
		{"skipped counts as resolved", repository.WorkflowInReview, levels(S, P), repository.WorkflowInReview, 2},
		{"all approved", repository.WorkflowInReview, levels(A, A), repository.WorkflowApproved, 2},
		{"approved and skipped", repository.WorkflowInReview, levels(A, S), repository.WorkflowApproved, 2},
		{"rejection wins", repository.WorkflowInReview, levels(A, R), repository.WorkflowRejected, 2},
		{"rejection before pending", repository.WorkflowInReview, levels(R, P), repository.WorkflowRejected, 1},
		{"revision phase kept", repository.WorkflowRevisionRequested, levels(A, P), repository.WorkflowRevisionRequested, 2},
		{"drifted approved repaired", repository.WorkflowApproved, levels(A, P), repository.WorkflowInReview, 2},
		{"drifted rejected repaired", repository.WorkflowRejected, levels(P), repository.WorkflowInReview, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, step := DeriveStatus(tt.phase, tt.levels)
			if status != tt.wantStat || step != tt.wantStep {
				t.Fatalf("expected %s at step %d, got %s at step %d", tt.wantStat, tt.wantStep, status, step)
			}
		})
	}
}

func TestEvaluateLevelAnyDecisionOrder(t *testing.T) {
	level := &repository.Level{ID: "l1", Status: repository.LevelPending}
	refs := []string{"a", "b", "c"}
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	for _, perm := range perms {
		approvers := []*repository.Approver{
			{LevelID: "l1", Ref: "a", Required: true, Decision: repository.DecisionPending},
			{LevelID: "l1", Ref: "b", Required: true, Decision: repository.DecisionPending},
			{LevelID: "l1", Ref: "c", Required: true, Decision: repository.DecisionPending},
		}
		for n, idx := range perm {
			approvers[idx].Decision = repository.DecisionApproved
			got := evaluateLevel(level, approvers, nil)
			want := repository.LevelPending
			if n == len(refs)-1 {
				want = repository.LevelApproved
			}
			if got != want {
				t.Fatalf("order %v after %d decisions: expected %s, got %s", perm, n+1, want, got)
			}
		}
	}
}

func TestEvaluateLevel(t *testing.T) {
	level := &repository.Level{ID: "l1", Status: repository.LevelPending}
	approver := func(required bool, d repository.Decision) *repository.Approver {
		return &repository.Approver{LevelID: "l1", Required: required, Decision: d}
	}
	item := func(required, satisfied bool) *repository.ChecklistItem {
		return &repository.ChecklistItem{LevelID: "l1", Required: required, Satisfied: satisfied}
	}

	tests := []struct {
		name      string
		approvers []*repository.Approver
		items     []*repository.ChecklistItem
		want      repository.LevelStatus
	}{
		{
			name:      "any rejection rejects",
			approvers: []*repository.Approver{approver(true, repository.DecisionApproved), approver(false, repository.DecisionRejected)},
			want:      repository.LevelRejected,
		},
		{
			name:      "optional approver does not block",
			approvers: []*repository.Approver{approver(true, repository.DecisionApproved), approver(false, repository.DecisionPending)},
			want:      repository.LevelApproved,
		},
		{
			name:      "required checklist blocks",
			approvers: []*repository.Approver{approver(true, repository.DecisionApproved)},
			items:     []*repository.ChecklistItem{item(true, false)},
			want:      repository.LevelPending,
		},
		{
			name:      "optional checklist never blocks",
			approvers: []*repository.Approver{approver(true, repository.DecisionApproved)},
			items:     []*repository.ChecklistItem{item(true, true), item(false, false)},
			want:      repository.LevelApproved,
		},
		{
			name:      "no required approvers needs one approval",
			approvers: []*repository.Approver{approver(false, repository.DecisionPending)},
			want:      repository.LevelPending,
		},
		{
			name: "other levels ignored",
			approvers: []*repository.Approver{
				approver(true, repository.DecisionApproved),
				{LevelID: "l2", Required: true, Decision: repository.DecisionRejected},
			},
			items: []*repository.ChecklistItem{{LevelID: "l2", Required: true}},
			want:  repository.LevelApproved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evaluateLevel(level, tt.approvers, tt.items); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRecordApproverDecisionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.submittedTwoLevel(t)
	leadApprover := approverOn(t, view, 1, lead.ID)
	clientApprover := approverOn(t, view, 2, client.ID)

	_, err := f.engine.RecordApproverDecision(ctx, lead, DecisionInput{
		LevelID: leadApprover.LevelID, ApproverID: leadApprover.ID, Decision: repository.DecisionPending,
	})
	expectCode(t, err, errors.ErrCodeValidation)

	_, err = f.engine.RecordApproverDecision(ctx, lead, DecisionInput{
		LevelID: leadApprover.LevelID, ApproverID: clientApprover.ID, Decision: repository.DecisionApproved,
	})
	expectCode(t, err, errors.ErrCodeValidation)

	_, err = f.engine.RecordApproverDecision(ctx, lead, DecisionInput{
		LevelID: leadApprover.LevelID, ApproverID: "unknown", Decision: repository.DecisionApproved,
	})
	expectCode(t, err, errors.ErrCodeValidation)

	_, err = f.engine.RecordApproverDecision(ctx, client, DecisionInput{
		LevelID: clientApprover.LevelID, ApproverID: clientApprover.ID, Decision: repository.DecisionApproved,
	})
	expectCode(t, err, errors.ErrCodeInvalidState)

	_, err = f.engine.RecordApproverDecision(ctx, client, DecisionInput{
		LevelID: leadApprover.LevelID, ApproverID: leadApprover.ID, Decision: repository.DecisionApproved,
	})
	expectCode(t, err, errors.ErrCodeForbidden)

	eval, err := f.engine.RecordApproverDecision(ctx, lead, DecisionInput{
		LevelID: leadApprover.LevelID, ApproverID: leadApprover.ID, Decision: repository.DecisionApproved,
	})
	if err != nil {
		t.Fatalf("record decision: %v", err)
	}
	if eval.Status != repository.LevelPending || eval.Changed() {
		t.Fatalf("expected level to stay pending, got %+v", eval)
	}

	_, err = f.engine.RecordApproverDecision(ctx, lead, DecisionInput{
		LevelID: leadApprover.LevelID, ApproverID: leadApprover.ID, Decision: repository.DecisionRejected,
	})
	expectCode(t, err, errors.ErrCodeInvalidState)
}

func TestRoleApproverAndAdminOverride(t *testing.T) {
	f := newFixture(t)
	view := f.submittedTwoLevel(t)

	_, err := f.decide(t, Caller{ID: "emp-other", Role: "sales"}, view, 1, "finance", repository.DecisionApproved)
	expectCode(t, err, errors.ErrCodeForbidden)

	view = f.mustDecide(t, finance, view, 1, "finance", repository.DecisionApproved)
	view = f.mustDecide(t, admin, view, 1, lead.ID, repository.DecisionApproved)
	if view.Workflow.CurrentStep != 2 {
		t.Fatalf("expected step 2 after level 1 approval, got %d", view.Workflow.CurrentStep)
	}
	if got := *approverOn(t, view, 1, lead.ID).DecidedBy; got != admin.ID {
		t.Fatalf("expected decision recorded by admin, got %s", got)
	}
}

func TestFinalizedWorkflowReportedBeforeBadDecision(t *testing.T) {
	f := newFixture(t)
	view := f.submittedTwoLevel(t)
	view = f.mustDecide(t, finance, view, 1, "finance", repository.DecisionRejected)

	_, err := f.decide(t, lead, view, 1, lead.ID, repository.Decision("maybe"))
	expectCode(t, err, errors.ErrCodeInvalidState)
	if msg := errors.UserMessage(err); !strings.Contains(msg, "finalized") {
		t.Fatalf("expected an already finalized message, got %q", msg)
	}
}

func TestCanAdvance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.submittedTwoLevel(t)

	ok, err := f.engine.CanAdvance(ctx, view.Workflow.ID)
	if err != nil || ok {
		t.Fatalf("expected no advance before decisions, got %v, %v", ok, err)
	}

	// Approve level 1 in the store directly, bypassing the workflow cascade.
	err = f.store.InTx(ctx, func(tx repository.Tx) error {
		l, err := tx.GetLevel(ctx, levelOn(t, view, 1).Level.ID)
		if err != nil {
			return err
		}
		l.Status = repository.LevelApproved
		return tx.UpdateLevel(ctx, l)
	})
	if err != nil {
		t.Fatalf("approve level: %v", err)
	}
	ok, err = f.engine.CanAdvance(ctx, view.Workflow.ID)
	if err != nil || !ok {
		t.Fatalf("expected advance after approval, got %v, %v", ok, err)
	}
}

func TestConcurrentDecisionsOnOneLevel(t *testing.T) {
	f := newFixture(t)
	view := f.submittedTwoLevel(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []struct {
		caller Caller
		ref    string
	}{{lead, lead.ID}, {finance, "finance"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.decide(t, c.caller, view, 1, c.ref, repository.DecisionApproved)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("decision %d: %v", i, err)
		}
	}
	got := f.reload(t, view.Workflow.ID)
	if levelOn(t, got, 1).Level.Status != repository.LevelApproved || got.Workflow.CurrentStep != 2 {
		t.Fatalf("expected level 1 approved and step 2, got %s at step %d",
			levelOn(t, got, 1).Level.Status, got.Workflow.CurrentStep)
	}
}

func TestConcurrentDuplicateDecision(t *testing.T) {
	f := newFixture(t)
	view := f.submittedTwoLevel(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.decide(t, lead, view, 1, lead.ID, repository.DecisionApproved)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, errors.ErrCodeInvalidState), errors.Is(err, errors.ErrCodeConcurrencyConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one decision to succeed, got %d", succeeded)
	}
}
