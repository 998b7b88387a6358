package service

import (
	"context"
	"strings"
	"time"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
)

// LevelEngine records approver decisions and evaluates level outcomes.
// Levels are strictly sequential; approvers within a level decide in any order.
type LevelEngine struct {
	store repository.Store
	log   *logger.Logger
}

// NewLevelEngine creates a new LevelEngine.
func NewLevelEngine(store repository.Store, log *logger.Logger) *LevelEngine {
	return &LevelEngine{store: store, log: log}
}

// LevelEvaluation is the outcome of re-evaluating one level.
type LevelEvaluation struct {
	LevelID    string                 `json:"level_id"`
	StepNumber int                    `json:"step_number"`
	Previous   repository.LevelStatus `json:"previous"`
	Status     repository.LevelStatus `json:"status"`
}

// Changed reports whether the evaluation moved the level.
func (e *LevelEvaluation) Changed() bool { return e.Previous != e.Status }

// DecisionInput identifies one approver decision.
type DecisionInput struct {
	WorkflowID string
	LevelID    string
	ApproverID string
	Decision   repository.Decision
	Note       string
}

// evaluateLevel is the pure level rule: any rejection rejects the level; it
// is approved once every required approver approved and the checklist is
// satisfied. A level without required approvers needs one approval.
func evaluateLevel(
	level *repository.Level,
	approvers []*repository.Approver,
	items []*repository.ChecklistItem,
) repository.LevelStatus {
	if level.Status == repository.LevelSkipped {
		return repository.LevelSkipped
	}

	required, approvedRequired, approvedAny := 0, 0, 0
	for _, a := range approvers {
		if a.LevelID != level.ID {
			continue
		}
		switch a.Decision {
		case repository.DecisionRejected:
			return repository.LevelRejected
		case repository.DecisionApproved:
			approvedAny++
			if a.Required {
				approvedRequired++
			}
		}
		if a.Required {
			required++
		}
	}

	approversDone := approvedRequired == required
	if required == 0 {
		approversDone = approvedAny > 0
	}
	if approversDone && checklistSatisfied(items, level.ID) {
		return repository.LevelApproved
	}
	return repository.LevelPending
}

// RecordApproverDecision records a decision and settles the workflow in one
// transaction. The orchestrator's Decide adds audit and notifications on top.
func (e *LevelEngine) RecordApproverDecision(
	ctx context.Context,
	caller Caller,
	in DecisionInput,
) (*LevelEvaluation, error) {
	var eval *LevelEvaluation
	err := e.store.InTx(ctx, func(tx repository.Tx) error {
		level, err := tx.GetLevel(ctx, in.LevelID)
		if err != nil {
			return err
		}
		wf, err := tx.LockWorkflow(ctx, level.WorkflowID)
		if err != nil {
			return err
		}
		before := wf.Status
		now := time.Now().UTC()
		if eval, err = e.decide(ctx, tx, caller, wf, in, now); err != nil {
			return err
		}
		_, err = settleWorkflow(ctx, tx, wf, before, caller.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return eval, nil
}

// decide validates and records one approver decision on a locked workflow and
// re-evaluates the level. The caller settles the workflow afterwards.
func (e *LevelEngine) decide(
	ctx context.Context,
	tx repository.Tx,
	caller Caller,
	wf *repository.Workflow,
	in DecisionInput,
	now time.Time,
) (*LevelEvaluation, error) {
	if wf.Status.Terminal() {
		return nil, errors.Finalized(wf.ID, string(wf.Status))
	}
	if in.Decision != repository.DecisionApproved && in.Decision != repository.DecisionRejected {
		return nil, errors.InvalidInput("decision", "must be approved or rejected")
	}
	if wf.Status != repository.WorkflowInReview {
		return nil, errors.InvalidState("workflow %s is not in review (status: %s)", wf.ID, wf.Status)
	}
	if err := requireCurrent(ctx, tx, wf); err != nil {
		return nil, err
	}

	level, err := tx.GetLevel(ctx, in.LevelID)
	if err != nil {
		return nil, err
	}
	if level.WorkflowID != wf.ID {
		return nil, errors.InvalidInput("level_id", "level does not belong to this workflow")
	}
	if level.Status.Terminal() {
		return nil, errors.InvalidInput("level_id", "level is already "+string(level.Status))
	}
	if level.StepNumber != wf.CurrentStep {
		return nil, errors.InvalidState("level %d is not the current step (current: %d)", level.StepNumber, wf.CurrentStep)
	}

	approver, err := tx.GetApprover(ctx, in.ApproverID)
	if err != nil {
		if errors.Is(err, errors.ErrCodeNotFound) {
			return nil, errors.InvalidInput("approver_id", "approver is not registered on this level")
		}
		return nil, err
	}
	if approver.LevelID != level.ID {
		return nil, errors.InvalidInput("approver_id", "approver is not registered on this level")
	}
	if approver.Decision != repository.DecisionPending {
		return nil, errors.InvalidState("approver has already decided (%s)", approver.Decision)
	}
	if err := assertCanAct(caller, approver); err != nil {
		return nil, err
	}

	approver.Decision = in.Decision
	approver.DecidedBy = &caller.ID
	approver.DecidedAt = &now
	if note := strings.TrimSpace(in.Note); note != "" {
		approver.DecisionNote = &note
	}
	if err := tx.UpdateApproverDecision(ctx, approver); err != nil {
		return nil, err
	}

	return e.reevaluate(ctx, tx, level, now)
}

// reevaluate applies evaluateLevel to a pending level and persists a change.
func (e *LevelEngine) reevaluate(
	ctx context.Context,
	tx repository.Tx,
	level *repository.Level,
	now time.Time,
) (*LevelEvaluation, error) {
	approvers, err := tx.ListApprovers(ctx, level.WorkflowID)
	if err != nil {
		return nil, err
	}
	items, err := tx.ListChecklistItems(ctx, level.WorkflowID)
	if err != nil {
		return nil, err
	}

	eval := &LevelEvaluation{LevelID: level.ID, StepNumber: level.StepNumber, Previous: level.Status}
	eval.Status = evaluateLevel(level, approvers, items)
	if !eval.Changed() {
		return eval, nil
	}

	level.Status = eval.Status
	level.DecidedAt = &now
	if err := tx.UpdateLevel(ctx, level); err != nil {
		return nil, err
	}

	e.log.Debug().
		Str("level_id", level.ID).
		Int("step_number", level.StepNumber).
		Str("status", string(level.Status)).
		Msg("Level evaluated")

	return eval, nil
}

// CanAdvance reports whether the level at the workflow's current step is
// approved or skipped.
func (e *LevelEngine) CanAdvance(ctx context.Context, workflowID string) (bool, error) {
	var ok bool
	err := e.store.InTx(ctx, func(tx repository.Tx) error {
		wf, err := tx.GetWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		levels, err := tx.ListLevels(ctx, workflowID)
		if err != nil {
			return err
		}
		if l := levelAt(levels, wf.CurrentStep); l != nil {
			ok = l.Status.Resolved()
		}
		return nil
	})
	return ok, err
}

// skip marks a non-required pending level skipped on a locked workflow.
func (e *LevelEngine) skip(
	ctx context.Context,
	tx repository.Tx,
	wf *repository.Workflow,
	levelID, reason string,
	now time.Time,
) (*LevelEvaluation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.InvalidInput("reason", "skip reason is required")
	}
	if wf.Status.Terminal() {
		return nil, errors.Finalized(wf.ID, string(wf.Status))
	}
	if wf.Status != repository.WorkflowInReview {
		return nil, errors.InvalidState("workflow %s is not in review (status: %s)", wf.ID, wf.Status)
	}
	if err := requireCurrent(ctx, tx, wf); err != nil {
		return nil, err
	}

	level, err := tx.GetLevel(ctx, levelID)
	if err != nil {
		return nil, err
	}
	if level.WorkflowID != wf.ID {
		return nil, errors.InvalidInput("level_id", "level does not belong to this workflow")
	}
	if level.Required {
		return nil, errors.InvalidInput("level_id", "required levels cannot be skipped")
	}
	if level.Status != repository.LevelPending {
		return nil, errors.InvalidState("level %d is already %s", level.StepNumber, level.Status)
	}

	eval := &LevelEvaluation{
		LevelID:    level.ID,
		StepNumber: level.StepNumber,
		Previous:   level.Status,
		Status:     repository.LevelSkipped,
	}
	level.Status = repository.LevelSkipped
	level.SkipReason = &reason
	level.DecidedAt = &now
	if err := tx.UpdateLevel(ctx, level); err != nil {
		return nil, err
	}
	return eval, nil
}
