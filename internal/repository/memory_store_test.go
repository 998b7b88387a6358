package repository

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
)

func seedWorkflow(t *testing.T, s *MemoryStore) *Workflow {
	t.Helper()
	wf := &Workflow{ArtifactID: "a1", VersionID: "v1", VersionNumber: 1, Type: WorkflowSimple, Status: WorkflowDraft, CurrentStep: 1, TotalSteps: 1, IsCurrent: true}
	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.InsertWorkflow(context.Background(), wf)
	})
	if err != nil {
		t.Fatalf("insert workflow: %v", err)
	}
	return wf
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	boom := stderrors.New("boom")
	err := s.InTx(ctx, func(tx Tx) error {
		got, err := tx.GetWorkflow(ctx, wf.ID)
		if err != nil {
			return err
		}
		got.Status = WorkflowInReview
		if err := tx.UpdateWorkflow(ctx, got); err != nil {
			return err
		}
		if err := tx.InsertArtifact(ctx, &Artifact{Kind: ArtifactQuote, Title: "x"}); err != nil {
			return err
		}
		return boom
	})
	if !stderrors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = s.InTx(ctx, func(tx Tx) error {
		got, err := tx.GetWorkflow(ctx, wf.ID)
		if err != nil {
			t.Fatalf("get workflow: %v", err)
		}
		if got.Status != WorkflowDraft || got.Revision != 1 {
			t.Fatalf("expected untouched draft at revision 1, got %s at %d", got.Status, got.Revision)
		}
		return nil
	})
	if n := len(s.state.artifacts); n != 0 {
		t.Fatalf("expected the artifact insert rolled back, got %d artifacts", n)
	}
}

func TestMemoryStoreOptimisticConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	stale := *wf
	err := s.InTx(ctx, func(tx Tx) error {
		fresh, err := tx.GetWorkflow(ctx, wf.ID)
		if err != nil {
			return err
		}
		fresh.Status = WorkflowInReview
		if err := tx.UpdateWorkflow(ctx, fresh); err != nil {
			return err
		}
		if fresh.Revision != 2 {
			t.Fatalf("expected revision bumped to 2, got %d", fresh.Revision)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = s.InTx(ctx, func(tx Tx) error {
		stale.Status = WorkflowRejected
		return tx.UpdateWorkflow(ctx, &stale)
	})
	if !errors.Is(err, errors.ErrCodeConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
}

func TestMemoryStoreApproverDecisionOnlyOverPending(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := &Approver{WorkflowID: "w1", LevelID: "l1", Type: ApproverEmployee, Ref: "u1", Required: true, Decision: DecisionPending}
	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertApprover(ctx, a); err != nil {
			return err
		}
		a.Decision = DecisionApproved
		return tx.UpdateApproverDecision(ctx, a)
	})
	if err != nil {
		t.Fatalf("first decision: %v", err)
	}

	err = s.InTx(ctx, func(tx Tx) error {
		a.Decision = DecisionRejected
		return tx.UpdateApproverDecision(ctx, a)
	})
	if !errors.Is(err, errors.ErrCodeConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
}

func TestMemoryStoreOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.InTx(ctx, func(tx Tx) error {
		for _, step := range []int{3, 1, 2} {
			if err := tx.InsertLevel(ctx, &Level{WorkflowID: "w1", StepNumber: step, Name: "L", Status: LevelPending}); err != nil {
				return err
			}
		}
		for _, ref := range []string{"c", "a", "b"} {
			if err := tx.InsertApprover(ctx, &Approver{WorkflowID: "w1", LevelID: "l", Ref: ref, Decision: DecisionPending}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_ = s.InTx(ctx, func(tx Tx) error {
		levels, _ := tx.ListLevels(ctx, "w1")
		for i, l := range levels {
			if l.StepNumber != i+1 {
				t.Fatalf("expected step %d at %d, got %d", i+1, i, l.StepNumber)
			}
		}
		approvers, _ := tx.ListApprovers(ctx, "w1")
		for i, want := range []string{"c", "a", "b"} {
			if approvers[i].Ref != want {
				t.Fatalf("expected insertion order, got %q at %d", approvers[i].Ref, i)
			}
		}
		return nil
	})
}

func TestMemoryStoreDuplicateStepNumber(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertLevel(ctx, &Level{WorkflowID: "w1", StepNumber: 1}); err != nil {
			return err
		}
		return tx.InsertLevel(ctx, &Level{WorkflowID: "w1", StepNumber: 1})
	})
	if !errors.Is(err, errors.ErrCodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.InTx(ctx, func(Tx) error {
		called = true
		return nil
	})
	if !stderrors.Is(err, context.Canceled) || called {
		t.Fatalf("expected canceled without running fn, got %v (called=%v)", err, called)
	}
}
