package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
)

// DeriveStatus computes the workflow status and current step from its level
// statuses. phase is the stored status; only its lifecycle part (draft or
// revision_requested) survives when no level outcome overrides it.
//
//   - any rejected level: rejected, current step at that level
//   - every level approved or skipped: approved, current step at the last level
//   - otherwise: the stored draft/revision_requested phase, else in_review,
//     current step at the first unresolved level
func DeriveStatus(phase repository.WorkflowStatus, levels []*repository.Level) (repository.WorkflowStatus, int) {
	if len(levels) == 0 {
		return phase, 0
	}

	firstOpen := 0
	for _, l := range levels {
		if l.Status == repository.LevelRejected {
			return repository.WorkflowRejected, l.StepNumber
		}
		if firstOpen == 0 && !l.Status.Resolved() {
			firstOpen = l.StepNumber
		}
	}
	if firstOpen == 0 {
		return repository.WorkflowApproved, levels[len(levels)-1].StepNumber
	}

	switch phase {
	case repository.WorkflowDraft, repository.WorkflowRevisionRequested:
		return phase, firstOpen
	default:
		return repository.WorkflowInReview, firstOpen
	}
}

// settlement describes what settleWorkflow changed.
type settlement struct {
	Before    repository.WorkflowStatus
	After     repository.WorkflowStatus
	Activated *repository.Level // level that just became current in review
	Levels    []*repository.Level
}

func (s *settlement) StatusChanged() bool { return s.Before != s.After }

// settleWorkflow re-derives status and current step after the levels (or the
// stored phase on wf) changed, stamps terminal timestamps, mirrors the status
// onto the version and records the accepted snapshot on approval. before is
// the status read when the workflow was locked.
func settleWorkflow(
	ctx context.Context,
	tx repository.Tx,
	wf *repository.Workflow,
	before repository.WorkflowStatus,
	actor string,
	now time.Time,
) (*settlement, error) {
	levels, err := tx.ListLevels(ctx, wf.ID)
	if err != nil {
		return nil, err
	}

	prevStep := wf.CurrentStep
	status, step := DeriveStatus(wf.Status, levels)
	wf.Status = status
	wf.CurrentStep = step

	if status.Terminal() && !before.Terminal() {
		wf.CompletedAt = &now
	}
	if status == repository.WorkflowApproved && wf.ApprovedAt == nil {
		wf.ApprovedAt = &now
		wf.ApprovedBy = &actor
	}

	if err := tx.UpdateWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	st := &settlement{Before: before, After: status, Levels: levels}
	if status != before {
		if err := tx.UpdateVersionStatus(ctx, wf.VersionID, status); err != nil {
			return nil, err
		}
	}
	if status == repository.WorkflowApproved && before != repository.WorkflowApproved {
		if err := acceptVersion(ctx, tx, wf); err != nil {
			return nil, err
		}
	}
	if status == repository.WorkflowInReview && (before != repository.WorkflowInReview || step != prevStep) {
		st.Activated = levelAt(levels, step)
	}
	return st, nil
}

// acceptVersion records the approved version (and quote total) on the artifact.
func acceptVersion(ctx context.Context, tx repository.Tx, wf *repository.Workflow) error {
	artifact, err := tx.GetArtifact(ctx, wf.ArtifactID)
	if err != nil {
		return err
	}
	version, err := tx.GetVersion(ctx, wf.VersionID)
	if err != nil {
		return err
	}

	number := version.VersionNumber
	artifact.AcceptedVersion = &number
	artifact.AcceptedTotal = nil
	if version.Content.Quote != nil {
		total := ComputeQuoteTotals(version.Content.Quote).Total
		artifact.AcceptedTotal = &total
	}
	return tx.UpdateArtifact(ctx, artifact)
}

// requireCurrent refuses transitions on a workflow that no longer governs the
// artifact's latest version.
func requireCurrent(ctx context.Context, tx repository.Tx, wf *repository.Workflow) error {
	if !wf.IsCurrent {
		return errors.InvalidState("workflow %s has been superseded", wf.ID)
	}
	highest, err := tx.MaxVersionNumber(ctx, wf.ArtifactID)
	if err != nil {
		return err
	}
	if wf.VersionNumber != highest {
		return errors.InvalidState("workflow %s covers version %d but the current version is %d",
			wf.ID, wf.VersionNumber, highest)
	}
	return nil
}

func levelAt(levels []*repository.Level, step int) *repository.Level {
	for _, l := range levels {
		if l.StepNumber == step {
			return l
		}
	}
	return nil
}
