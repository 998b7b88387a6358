package service

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
)

const tracerName = "github.com/pesio-ai/be-ops-approvals/internal/service"

// Orchestrator drives a workflow through draft → in_review →
// {approved | rejected | revision_requested}. Every mutating operation runs in
// one store transaction that locks the workflow first; audit entries and
// notifications follow the commit and never undo it.
type Orchestrator struct {
	store     repository.Store
	engine    *LevelEngine
	tracker   *RevisionTracker
	templates *TemplateService
	notifier  Notifier
	log       *logger.Logger
	tracer    trace.Tracer
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	store repository.Store,
	engine *LevelEngine,
	tracker *RevisionTracker,
	templates *TemplateService,
	notifier Notifier,
	log *logger.Logger,
) *Orchestrator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Orchestrator{
		store:     store,
		engine:    engine,
		tracker:   tracker,
		templates: templates,
		notifier:  notifier,
		log:       log,
		tracer:    otel.Tracer(tracerName),
	}
}

// WorkflowView is a workflow with its levels, approvers and checklist.
type WorkflowView struct {
	Workflow *repository.Workflow `json:"workflow"`
	Levels   []*LevelView         `json:"levels"`
}

// LevelView is one level with its approvers and checklist items.
type LevelView struct {
	Level              *repository.Level           `json:"level"`
	Approvers          []*repository.Approver      `json:"approvers"`
	Checklist          []*repository.ChecklistItem `json:"checklist"`
	ChecklistSatisfied bool                        `json:"checklist_satisfied"`
}

func (v *WorkflowView) level(id string) *LevelView {
	for _, l := range v.Levels {
		if l.Level.ID == id {
			return l
		}
	}
	return nil
}

func loadView(ctx context.Context, tx repository.Tx, wf *repository.Workflow) (*WorkflowView, error) {
	levels, err := tx.ListLevels(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	approvers, err := tx.ListApprovers(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	items, err := tx.ListChecklistItems(ctx, wf.ID)
	if err != nil {
		return nil, err
	}

	view := &WorkflowView{Workflow: wf, Levels: make([]*LevelView, 0, len(levels))}
	for _, l := range levels {
		lv := &LevelView{Level: l, ChecklistSatisfied: checklistSatisfied(items, l.ID)}
		for _, a := range approvers {
			if a.LevelID == l.ID {
				lv.Approvers = append(lv.Approvers, a)
			}
		}
		for _, item := range items {
			if item.LevelID == l.ID {
				lv.Checklist = append(lv.Checklist, item)
			}
		}
		view.Levels = append(view.Levels, lv)
	}
	return view, nil
}

// ── Create ────────────────────────────────────────────────────────────────────

// CreateWorkflowInput describes a new workflow for an artifact's current
// version. Without Levels the best matching approval template applies.
type CreateWorkflowInput struct {
	ArtifactID string
	Type       repository.WorkflowType
	Levels     []repository.ApprovalTemplateLevel
}

// CreateWorkflow binds a new draft workflow to the artifact's current version.
func (o *Orchestrator) CreateWorkflow(ctx context.Context, caller Caller, in CreateWorkflowInput) (view *WorkflowView, err error) {
	ctx, span := o.startSpan(ctx, "CreateWorkflow", "")
	defer func() { finishSpan(span, err) }()

	if err := requireStaff(caller); err != nil {
		return nil, err
	}

	var templateID string
	err = o.store.InTx(ctx, func(tx repository.Tx) error {
		artifact, err := tx.GetArtifact(ctx, in.ArtifactID)
		if err != nil {
			return err
		}
		if artifact.ArchivedAt != nil {
			return errors.InvalidState("artifact %s is archived", artifact.ID)
		}
		version, err := currentVersion(ctx, tx, artifact.ID)
		if err != nil {
			return err
		}

		if _, err := tx.GetWorkflowByVersion(ctx, version.ID); err == nil {
			return errors.InvalidState("version %d already has a workflow", version.VersionNumber)
		} else if !errors.Is(err, errors.ErrCodeNotFound) {
			return err
		}

		prev, err := tx.GetCurrentWorkflow(ctx, artifact.ID)
		switch {
		case err == nil:
			if !prev.Status.Terminal() {
				return errors.InvalidState("artifact %s has an open workflow %s (status: %s)", artifact.ID, prev.ID, prev.Status)
			}
			prev.IsCurrent = false
			if err := tx.UpdateWorkflow(ctx, prev); err != nil {
				return err
			}
		case !errors.Is(err, errors.ErrCodeNotFound):
			return err
		}

		typ, defs := in.Type, in.Levels
		if len(defs) == 0 {
			var tpl *repository.ApprovalTemplate
			typ, defs, tpl, err = o.templates.resolveLevels(ctx, tx, artifact, version)
			if err != nil {
				return err
			}
			if tpl != nil {
				templateID = tpl.ID
			}
		} else if typ == "" {
			typ = repository.WorkflowMultiLevel
			if len(defs) == 1 {
				typ = repository.WorkflowSimple
			}
		}
		if err := validateLevels(typ, defs); err != nil {
			return err
		}

		wf := &repository.Workflow{
			ArtifactID:    artifact.ID,
			VersionID:     version.ID,
			VersionNumber: version.VersionNumber,
			Type:          typ,
			Status:        repository.WorkflowDraft,
			CurrentStep:   1,
			TotalSteps:    len(defs),
			IsCurrent:     true,
			CreatedBy:     caller.ID,
		}
		if err := tx.InsertWorkflow(ctx, wf); err != nil {
			return err
		}
		if err := insertStructure(ctx, tx, wf, defs); err != nil {
			return err
		}
		view, err = loadView(ctx, tx, wf)
		return err
	})
	if err != nil {
		return nil, err
	}

	wf := view.Workflow
	meta := map[string]any{"total_steps": wf.TotalSteps, "workflow_type": string(wf.Type)}
	if templateID != "" {
		meta["template_id"] = templateID
	}
	o.appendAudit(ctx, auditFor(wf, "created", caller.ID, "", wf.Status, "", meta))

	o.log.Info().
		Str("artifact_id", wf.ArtifactID).
		Str("workflow_id", wf.ID).
		Int("version_number", wf.VersionNumber).
		Int("total_steps", wf.TotalSteps).
		Msg("Approval workflow created")

	return view, nil
}

// ── Submit ────────────────────────────────────────────────────────────────────

// SubmitForReview moves a draft workflow to in_review and activates its first
// open level.
func (o *Orchestrator) SubmitForReview(ctx context.Context, caller Caller, workflowID string) (view *WorkflowView, err error) {
	ctx, span := o.startSpan(ctx, "SubmitForReview", workflowID)
	defer func() { finishSpan(span, err) }()

	if err := requireStaff(caller); err != nil {
		return nil, err
	}

	var st *settlement
	err = o.store.InTx(ctx, func(tx repository.Tx) error {
		wf, err := tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if wf.Status.Terminal() {
			return errors.Finalized(wf.ID, string(wf.Status))
		}
		if wf.Status != repository.WorkflowDraft {
			return errors.InvalidState("workflow %s cannot be submitted from %s", wf.ID, wf.Status)
		}
		if err := requireCurrent(ctx, tx, wf); err != nil {
			return err
		}

		now := time.Now().UTC()
		before := wf.Status
		wf.Status = repository.WorkflowInReview
		wf.SubmittedBy = &caller.ID
		wf.SubmittedAt = &now
		if st, err = settleWorkflow(ctx, tx, wf, before, caller.ID, now); err != nil {
			return err
		}
		view, err = loadView(ctx, tx, wf)
		return err
	})
	if err != nil {
		return nil, err
	}

	wf := view.Workflow
	o.appendAudit(ctx, auditFor(wf, "submitted", caller.ID, st.Before, st.After, "", nil))
	o.notify(ctx, EventSubmitted, wf, "", caller.ID, ownerRecipient(wf), nil)
	o.announce(ctx, view, st, caller.ID)

	o.log.Info().
		Str("workflow_id", wf.ID).
		Str("submitted_by", caller.ID).
		Int("current_step", wf.CurrentStep).
		Msg("Workflow submitted for review")

	return view, nil
}

// ── Decide ────────────────────────────────────────────────────────────────────

// DecisionResult is the level evaluation and the settled workflow.
type DecisionResult struct {
	Evaluation *LevelEvaluation `json:"evaluation"`
	Workflow   *WorkflowView    `json:"workflow"`
}

// Decide records one approver decision on the current level. A rejected
// level rejects the workflow; the last approved level approves it; otherwise
// the workflow advances to the next open level.
func (o *Orchestrator) Decide(ctx context.Context, caller Caller, in DecisionInput) (res *DecisionResult, err error) {
	ctx, span := o.startSpan(ctx, "Decide", in.WorkflowID)
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("approval.decision", string(in.Decision)))

	var st *settlement
	res = &DecisionResult{}
	err = o.store.InTx(ctx, func(tx repository.Tx) error {
		wf, err := tx.LockWorkflow(ctx, in.WorkflowID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		before := wf.Status
		if res.Evaluation, err = o.engine.decide(ctx, tx, caller, wf, in, now); err != nil {
			return err
		}
		if st, err = settleWorkflow(ctx, tx, wf, before, caller.ID, now); err != nil {
			return err
		}
		res.Workflow, err = loadView(ctx, tx, wf)
		return err
	})
	if err != nil {
		return nil, err
	}

	wf := res.Workflow.Workflow
	o.appendAudit(ctx, auditFor(wf, "decision_recorded", caller.ID, st.Before, st.After, in.LevelID, map[string]any{
		"approver_id":  in.ApproverID,
		"decision":     string(in.Decision),
		"level_status": string(res.Evaluation.Status),
		"step_number":  res.Evaluation.StepNumber,
	}))
	o.announce(ctx, res.Workflow, st, caller.ID)

	o.log.Info().
		Str("workflow_id", wf.ID).
		Str("level_id", in.LevelID).
		Str("approver_id", in.ApproverID).
		Str("decision", string(in.Decision)).
		Str("level_status", string(res.Evaluation.Status)).
		Str("workflow_status", string(wf.Status)).
		Msg("Approver decision recorded")

	return res, nil
}

// ── Revision ──────────────────────────────────────────────────────────────────

// RequestRevision opens the next revision round on a draft or in-review
// workflow.
func (o *Orchestrator) RequestRevision(
	ctx context.Context,
	caller Caller,
	workflowID, summary string,
) (round *repository.RevisionRound, err error) {
	ctx, span := o.startSpan(ctx, "RequestRevision", workflowID)
	defer func() { finishSpan(span, err) }()

	var (
		st   *settlement
		view *WorkflowView
	)
	err = o.store.InTx(ctx, func(tx repository.Tx) error {
		wf, err := tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if round, st, err = o.tracker.request(ctx, tx, caller, wf, summary, time.Now().UTC()); err != nil {
			return err
		}
		view, err = loadView(ctx, tx, wf)
		return err
	})
	if err != nil {
		return nil, err
	}

	wf := view.Workflow
	o.appendAudit(ctx, auditFor(wf, "revision_requested", caller.ID, st.Before, st.After, "", map[string]any{
		"round_number": round.RoundNumber,
		"summary":      round.Summary,
	}))
	o.announce(ctx, view, st, caller.ID)

	o.log.Info().
		Str("workflow_id", wf.ID).
		Str("artifact_id", wf.ArtifactID).
		Int("round_number", round.RoundNumber).
		Msg("Revision requested")

	return round, nil
}

// ── Reject ────────────────────────────────────────────────────────────────────

// Reject ends the workflow from the owner's side by rejecting its current
// level.
func (o *Orchestrator) Reject(ctx context.Context, caller Caller, workflowID, reason string) (view *WorkflowView, err error) {
	ctx, span := o.startSpan(ctx, "Reject", workflowID)
	defer func() { finishSpan(span, err) }()

	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.InvalidInput("reason", "rejection reason is required")
	}

	var (
		st    *settlement
		level *repository.Level
	)
	err = o.store.InTx(ctx, func(tx repository.Tx) error {
		wf, err := tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if wf.Status.Terminal() {
			return errors.Finalized(wf.ID, string(wf.Status))
		}
		if err := requireCurrent(ctx, tx, wf); err != nil {
			return err
		}

		levels, err := tx.ListLevels(ctx, wf.ID)
		if err != nil {
			return err
		}
		level = levelAt(levels, wf.CurrentStep)
		if level == nil || level.Status != repository.LevelPending {
			return errors.InvalidState("workflow %s has no open level to reject", wf.ID)
		}

		now := time.Now().UTC()
		before := wf.Status
		level.Status = repository.LevelRejected
		level.DecidedAt = &now
		if err := tx.UpdateLevel(ctx, level); err != nil {
			return err
		}
		if st, err = settleWorkflow(ctx, tx, wf, before, caller.ID, now); err != nil {
			return err
		}
		view, err = loadView(ctx, tx, wf)
		return err
	})
	if err != nil {
		return nil, err
	}

	wf := view.Workflow
	o.appendAudit(ctx, auditFor(wf, "rejected", caller.ID, st.Before, st.After, level.ID, map[string]any{
		"reason":      reason,
		"step_number": level.StepNumber,
	}))
	o.announce(ctx, view, st, caller.ID)

	o.log.Info().
		Str("workflow_id", wf.ID).
		Str("rejected_by", caller.ID).
		Int("step_number", level.StepNumber).
		Msg("Workflow rejected")

	return view, nil
}

// ── Clone ─────────────────────────────────────────────────────────────────────

// CloneInput carries the content of the next version.
type CloneInput struct {
	WorkflowID      string
	Content         repository.Content
	ChangeLog       string
	AllowMultiLevel bool
}

// CloneResult is the new version and its fresh workflow.
type CloneResult struct {
	Version       *repository.Version       `json:"version"`
	Workflow      *WorkflowView             `json:"workflow"`
	ResolvedRound *repository.RevisionRound `json:"resolved_round,omitempty"`
}

// CloneForNextVersion creates the next version and a workflow with the same
// levels, approvers and checklist, all reset. The source stops being current
// and its open revision round is resolved by the new version number. A clone
// of a workflow awaiting revision is resubmitted straight into review.
func (o *Orchestrator) CloneForNextVersion(ctx context.Context, caller Caller, in CloneInput) (res *CloneResult, err error) {
	ctx, span := o.startSpan(ctx, "CloneForNextVersion", in.WorkflowID)
	defer func() { finishSpan(span, err) }()

	if err := requireStaff(caller); err != nil {
		return nil, err
	}

	var st *settlement
	res = &CloneResult{}
	err = o.store.InTx(ctx, func(tx repository.Tx) error {
		src, err := tx.LockWorkflow(ctx, in.WorkflowID)
		if err != nil {
			return err
		}
		switch src.Status {
		case repository.WorkflowInReview, repository.WorkflowApproved:
			return errors.InvalidState("workflow %s cannot be cloned while %s", src.ID, src.Status)
		}
		if !src.IsCurrent {
			return errors.InvalidState("workflow %s has already been superseded", src.ID)
		}
		if src.Type == repository.WorkflowMultiLevel && !in.AllowMultiLevel {
			return errors.InvalidInput("allow_multi_level", "multi-level workflows are cloned only when explicitly allowed")
		}

		artifact, err := tx.GetArtifact(ctx, src.ArtifactID)
		if err != nil {
			return err
		}
		levels, err := tx.ListLevels(ctx, src.ID)
		if err != nil {
			return err
		}
		approvers, err := tx.ListApprovers(ctx, src.ID)
		if err != nil {
			return err
		}
		items, err := tx.ListChecklistItems(ctx, src.ID)
		if err != nil {
			return err
		}

		if res.Version, err = nextVersion(ctx, tx, artifact, in.Content, in.ChangeLog, caller.ID); err != nil {
			return err
		}

		src.IsCurrent = false
		if err := tx.UpdateWorkflow(ctx, src); err != nil {
			return err
		}

		defs := structureOf(levels, approvers, items)
		wf := &repository.Workflow{
			ArtifactID:       artifact.ID,
			VersionID:        res.Version.ID,
			VersionNumber:    res.Version.VersionNumber,
			Type:             src.Type,
			Status:           repository.WorkflowDraft,
			CurrentStep:      1,
			TotalSteps:       len(defs),
			IsCurrent:        true,
			SourceWorkflowID: &src.ID,
			CreatedBy:        caller.ID,
		}
		if err := tx.InsertWorkflow(ctx, wf); err != nil {
			return err
		}
		if err := insertStructure(ctx, tx, wf, defs); err != nil {
			return err
		}

		now := time.Now().UTC()
		if src.Status == repository.WorkflowRevisionRequested {
			wf.Status = repository.WorkflowInReview
			wf.SubmittedBy = &caller.ID
			wf.SubmittedAt = &now
			if st, err = settleWorkflow(ctx, tx, wf, repository.WorkflowDraft, caller.ID, now); err != nil {
				return err
			}
		}

		round, err := tx.OpenRevisionRound(ctx, src.ID)
		if err != nil {
			return err
		}
		if round != nil {
			if err := resolveRound(ctx, tx, round, res.Version.VersionNumber, now); err != nil {
				return err
			}
			res.ResolvedRound = round
		}

		res.Workflow, err = loadView(ctx, tx, wf)
		return err
	})
	if err != nil {
		return nil, err
	}

	wf := res.Workflow.Workflow
	meta := map[string]any{
		"source_workflow_id": in.WorkflowID,
		"version_number":     wf.VersionNumber,
	}
	if res.ResolvedRound != nil {
		meta["resolved_round"] = res.ResolvedRound.RoundNumber
	}
	o.appendAudit(ctx, auditFor(wf, "cloned", caller.ID, "", wf.Status, "", meta))
	if st != nil {
		o.notify(ctx, EventSubmitted, wf, "", caller.ID, ownerRecipient(wf), nil)
		o.announce(ctx, res.Workflow, st, caller.ID)
	}

	o.log.Info().
		Str("source_workflow_id", in.WorkflowID).
		Str("workflow_id", wf.ID).
		Int("version_number", wf.VersionNumber).
		Str("status", string(wf.Status)).
		Msg("Workflow cloned for next version")

	return res, nil
}

// ── Approve and release ───────────────────────────────────────────────────────

// ApproveAndRelease approves every open level of a quote workflow at once,
// recording each pending approver as decided by the caller, and when release
// is set stamps it as sent to the counterparty. Open levels must have their
// required checklist items satisfied.
func (o *Orchestrator) ApproveAndRelease(
	ctx context.Context,
	caller Caller,
	workflowID string,
	release bool,
) (view *WorkflowView, err error) {
	ctx, span := o.startSpan(ctx, "ApproveAndRelease", workflowID)
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.Bool("approval.release", release))

	if err := requireStaff(caller); err != nil {
		return nil, err
	}

	var st *settlement
	err = o.store.InTx(ctx, func(tx repository.Tx) error {
		wf, err := tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if wf.Status.Terminal() {
			return errors.Finalized(wf.ID, string(wf.Status))
		}
		if wf.Status == repository.WorkflowRevisionRequested {
			return errors.InvalidState("workflow %s awaits a revision", wf.ID)
		}
		if err := requireCurrent(ctx, tx, wf); err != nil {
			return err
		}
		artifact, err := tx.GetArtifact(ctx, wf.ArtifactID)
		if err != nil {
			return err
		}
		if artifact.Kind != repository.ArtifactQuote {
			return errors.InvalidInput("workflow_id", "only quote workflows can be approved and released")
		}

		levels, err := tx.ListLevels(ctx, wf.ID)
		if err != nil {
			return err
		}
		approvers, err := tx.ListApprovers(ctx, wf.ID)
		if err != nil {
			return err
		}
		items, err := tx.ListChecklistItems(ctx, wf.ID)
		if err != nil {
			return err
		}
		open := make(map[string]*repository.Level)
		for _, l := range levels {
			if l.Status != repository.LevelPending {
				continue
			}
			if !checklistSatisfied(items, l.ID) {
				return errors.InvalidState("level %d has unsatisfied required checklist items", l.StepNumber)
			}
			open[l.ID] = l
		}

		now := time.Now().UTC()
		note := "approved and released on behalf of the approver"
		for _, a := range approvers {
			if open[a.LevelID] == nil || a.Decision != repository.DecisionPending {
				continue
			}
			a.Decision = repository.DecisionApproved
			a.DecidedBy = &caller.ID
			a.DecidedAt = &now
			a.DecisionNote = &note
			if err := tx.UpdateApproverDecision(ctx, a); err != nil {
				return err
			}
		}
		for _, l := range levels {
			if open[l.ID] == nil {
				continue
			}
			l.Status = repository.LevelApproved
			l.DecidedAt = &now
			if err := tx.UpdateLevel(ctx, l); err != nil {
				return err
			}
		}

		before := wf.Status
		wf.Status = repository.WorkflowApproved
		wf.ApprovedBy = &caller.ID
		wf.ApprovedAt = &now
		if wf.SubmittedAt == nil {
			wf.SubmittedBy = &caller.ID
			wf.SubmittedAt = &now
		}
		if release {
			wf.SentAt = &now
		}
		if st, err = settleWorkflow(ctx, tx, wf, before, caller.ID, now); err != nil {
			return err
		}
		view, err = loadView(ctx, tx, wf)
		return err
	})
	if err != nil {
		return nil, err
	}

	wf := view.Workflow
	o.appendAudit(ctx, auditFor(wf, "approved_and_released", caller.ID, st.Before, st.After, "", map[string]any{
		"released": release,
	}))
	o.announce(ctx, view, st, caller.ID)

	o.log.Info().
		Str("workflow_id", wf.ID).
		Str("approved_by", caller.ID).
		Bool("released", release).
		Msg("Workflow approved")

	return view, nil
}

// ── Skip ──────────────────────────────────────────────────────────────────────

// SkipLevel skips a non-required pending level of an in-review workflow.
func (o *Orchestrator) SkipLevel(
	ctx context.Context,
	caller Caller,
	workflowID, levelID, reason string,
) (view *WorkflowView, err error) {
	ctx, span := o.startSpan(ctx, "SkipLevel", workflowID)
	defer func() { finishSpan(span, err) }()

	if err := requireStaff(caller); err != nil {
		return nil, err
	}

	var (
		st   *settlement
		eval *LevelEvaluation
	)
	err = o.store.InTx(ctx, func(tx repository.Tx) error {
		wf, err := tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		before := wf.Status
		if eval, err = o.engine.skip(ctx, tx, wf, levelID, reason, now); err != nil {
			return err
		}
		if st, err = settleWorkflow(ctx, tx, wf, before, caller.ID, now); err != nil {
			return err
		}
		view, err = loadView(ctx, tx, wf)
		return err
	})
	if err != nil {
		return nil, err
	}

	wf := view.Workflow
	o.appendAudit(ctx, auditFor(wf, "level_skipped", caller.ID, st.Before, st.After, levelID, map[string]any{
		"reason":      strings.TrimSpace(reason),
		"step_number": eval.StepNumber,
	}))
	o.announce(ctx, view, st, caller.ID)

	o.log.Info().
		Str("workflow_id", wf.ID).
		Str("level_id", levelID).
		Int("step_number", eval.StepNumber).
		Msg("Level skipped")

	return view, nil
}

// ── Checklist ─────────────────────────────────────────────────────────────────

// UpdateChecklistItem sets an item and re-evaluates its level when the level
// is the one under review, so that satisfying the last item of a fully
// approved level advances the workflow.
func (o *Orchestrator) UpdateChecklistItem(
	ctx context.Context,
	caller Caller,
	workflowID, itemID string,
	satisfied bool,
) (view *WorkflowView, err error) {
	ctx, span := o.startSpan(ctx, "UpdateChecklistItem", workflowID)
	defer func() { finishSpan(span, err) }()

	if err := requireIdentity(caller); err != nil {
		return nil, err
	}

	var (
		st      *settlement
		item    *repository.ChecklistItem
		changed bool
	)
	err = o.store.InTx(ctx, func(tx repository.Tx) error {
		wf, err := tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if wf.Status.Terminal() {
			return errors.Finalized(wf.ID, string(wf.Status))
		}
		if err := requireCurrent(ctx, tx, wf); err != nil {
			return err
		}
		if item, err = tx.GetChecklistItem(ctx, itemID); err != nil {
			return err
		}
		if item.WorkflowID != wf.ID {
			return errors.InvalidInput("item_id", "checklist item does not belong to this workflow")
		}
		level, err := tx.GetLevel(ctx, item.LevelID)
		if err != nil {
			return err
		}
		if level.Status != repository.LevelPending {
			return errors.InvalidState("level %d is already %s", level.StepNumber, level.Status)
		}

		now := time.Now().UTC()
		before := wf.Status
		if changed, err = setItemStatus(ctx, tx, item, satisfied, caller.ID, now); err != nil {
			return err
		}
		if wf.Status == repository.WorkflowInReview && level.StepNumber == wf.CurrentStep {
			if _, err := o.engine.reevaluate(ctx, tx, level, now); err != nil {
				return err
			}
		}
		if st, err = settleWorkflow(ctx, tx, wf, before, caller.ID, now); err != nil {
			return err
		}
		view, err = loadView(ctx, tx, wf)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		wf := view.Workflow
		o.appendAudit(ctx, auditFor(wf, "checklist_updated", caller.ID, st.Before, st.After, item.LevelID, map[string]any{
			"item_id":   item.ID,
			"item_name": item.Name,
			"satisfied": satisfied,
		}))
	}
	o.announce(ctx, view, st, caller.ID)
	return view, nil
}

// ── Comments ──────────────────────────────────────────────────────────────────

// CommentInput is feedback on a version, optionally tied to one of its levels
// or replying to a top-level comment.
type CommentInput struct {
	VersionID  string
	LevelID    *string
	ParentID   *string
	AuthorName string
	Body       string
}

// AddComment records feedback on a version. Replies are one level deep.
func (o *Orchestrator) AddComment(ctx context.Context, caller Caller, in CommentInput) (c *repository.Comment, err error) {
	ctx, span := o.startSpan(ctx, "AddComment", "")
	defer func() { finishSpan(span, err) }()

	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, errors.InvalidInput("body", "comment body is required")
	}

	var artifactID string
	err = o.store.InTx(ctx, func(tx repository.Tx) error {
		version, err := tx.GetVersion(ctx, in.VersionID)
		if err != nil {
			return err
		}
		artifactID = version.ArtifactID

		if in.LevelID != nil {
			level, err := tx.GetLevel(ctx, *in.LevelID)
			if err != nil {
				return err
			}
			wf, err := tx.GetWorkflowByVersion(ctx, version.ID)
			if err != nil && !errors.Is(err, errors.ErrCodeNotFound) {
				return err
			}
			if wf == nil || level.WorkflowID != wf.ID {
				return errors.InvalidInput("level_id", "level does not belong to this version's workflow")
			}
		}
		if in.ParentID != nil {
			parent, err := tx.GetComment(ctx, *in.ParentID)
			if err != nil {
				return err
			}
			if parent.VersionID != version.ID {
				return errors.InvalidInput("parent_id", "parent comment is on another version")
			}
			if parent.ParentID != nil {
				return errors.InvalidInput("parent_id", "replies cannot be nested")
			}
		}

		c = &repository.Comment{
			VersionID:  version.ID,
			LevelID:    in.LevelID,
			ParentID:   in.ParentID,
			AuthorType: caller.AuthorType(),
			AuthorID:   caller.ID,
			AuthorName: in.AuthorName,
			Body:       body,
		}
		return tx.InsertComment(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	o.log.Debug().
		Str("artifact_id", artifactID).
		Str("version_id", c.VersionID).
		Str("comment_id", c.ID).
		Str("author_type", string(c.AuthorType)).
		Msg("Comment added")

	return c, nil
}

// ResolveComment marks a comment resolved. Resolving twice is a no-op.
func (o *Orchestrator) ResolveComment(ctx context.Context, caller Caller, commentID string) (*repository.Comment, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}

	var c *repository.Comment
	err := o.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		if c, err = tx.GetComment(ctx, commentID); err != nil {
			return err
		}
		if c.Resolved {
			return nil
		}
		now := time.Now().UTC()
		c.Resolved = true
		c.ResolvedBy = &caller.ID
		c.ResolvedAt = &now
		return tx.UpdateComment(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListComments returns a version's comments, oldest first.
func (o *Orchestrator) ListComments(ctx context.Context, versionID string) ([]*repository.Comment, error) {
	var out []*repository.Comment
	err := o.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetVersion(ctx, versionID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListComments(ctx, versionID)
		return err
	})
	return out, err
}

// ── Read ──────────────────────────────────────────────────────────────────────

// GetWorkflow returns the workflow view. The stored status is a cache of the
// level statuses; when it has drifted it is repaired before returning.
func (o *Orchestrator) GetWorkflow(ctx context.Context, workflowID string) (view *WorkflowView, err error) {
	ctx, span := o.startSpan(ctx, "GetWorkflow", workflowID)
	defer func() { finishSpan(span, err) }()

	drifted := false
	err = o.store.InTx(ctx, func(tx repository.Tx) error {
		wf, err := tx.GetWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if view, err = loadView(ctx, tx, wf); err != nil {
			return err
		}
		levels := make([]*repository.Level, 0, len(view.Levels))
		for _, l := range view.Levels {
			levels = append(levels, l.Level)
		}
		status, step := DeriveStatus(wf.Status, levels)
		drifted = status != wf.Status || step != wf.CurrentStep
		return nil
	})
	if err != nil || !drifted {
		return view, err
	}

	stored := view.Workflow.Status
	err = o.store.InTx(ctx, func(tx repository.Tx) error {
		wf, err := tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if _, err := settleWorkflow(ctx, tx, wf, wf.Status, "system", time.Now().UTC()); err != nil {
			return err
		}
		view, err = loadView(ctx, tx, wf)
		return err
	})
	if err != nil {
		return nil, err
	}

	o.log.Warn().
		Str("workflow_id", workflowID).
		Str("stored_status", string(stored)).
		Str("derived_status", string(view.Workflow.Status)).
		Msg("Repaired drifted workflow status")

	return view, nil
}

// CurrentWorkflow returns the artifact's current workflow.
func (o *Orchestrator) CurrentWorkflow(ctx context.Context, artifactID string) (*WorkflowView, error) {
	var id string
	err := o.store.InTx(ctx, func(tx repository.Tx) error {
		wf, err := tx.GetCurrentWorkflow(ctx, artifactID)
		if err != nil {
			return err
		}
		id = wf.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o.GetWorkflow(ctx, id)
}

// History returns the workflow's audit trail, oldest first.
func (o *Orchestrator) History(ctx context.Context, workflowID string) ([]*repository.AuditEntry, error) {
	var entries []*repository.AuditEntry
	err := o.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetWorkflow(ctx, workflowID); err != nil {
			return err
		}
		var err error
		entries, err = tx.ListAudit(ctx, workflowID)
		return err
	})
	return entries, err
}

// RevisionRounds returns the artifact's revision rounds in order.
func (o *Orchestrator) RevisionRounds(ctx context.Context, artifactID string) ([]*repository.RevisionRound, error) {
	return o.tracker.ListRounds(ctx, artifactID)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// announce sends the notifications implied by a settlement.
func (o *Orchestrator) announce(ctx context.Context, view *WorkflowView, st *settlement, actor string) {
	if st == nil {
		return
	}
	wf := view.Workflow

	if st.StatusChanged() {
		switch st.After {
		case repository.WorkflowApproved:
			o.notify(ctx, EventApproved, wf, "", actor, ownerRecipient(wf), nil)
		case repository.WorkflowRejected:
			o.notify(ctx, EventRejected, wf, "", actor, ownerRecipient(wf), nil)
		case repository.WorkflowRevisionRequested:
			o.notify(ctx, EventRevisionRequested, wf, "", actor, ownerRecipient(wf), nil)
		}
	}

	if st.Activated != nil {
		if lv := view.level(st.Activated.ID); lv != nil {
			o.notify(ctx, EventApprovalRequired, wf, lv.Level.ID, actor, recipientsOf(lv.Approvers), map[string]string{
				"level_name": lv.Level.Name,
			})
		}
	}
}

// notify hands a notification to the notifier and logs failures.
func (o *Orchestrator) notify(
	ctx context.Context,
	event Event,
	wf *repository.Workflow,
	levelID, actor string,
	recipients []Recipient,
	payload map[string]string,
) {
	if len(recipients) == 0 {
		return
	}
	n := Notification{
		Event:         event,
		WorkflowID:    wf.ID,
		ArtifactID:    wf.ArtifactID,
		VersionNumber: wf.VersionNumber,
		LevelID:       levelID,
		ActorID:       actor,
		Recipients:    recipients,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	}
	if err := o.notifier.Notify(ctx, n); err != nil {
		o.log.Warn().Err(err).
			Str("event", string(event)).
			Str("workflow_id", wf.ID).
			Msg("Failed to send notification")
	}
}

// appendAudit writes an audit entry and logs a warning on failure (never returns error).
func (o *Orchestrator) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	err := o.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.AppendAudit(ctx, entry)
	})
	if err != nil {
		o.log.Warn().Err(err).
			Str("artifact_id", entry.ArtifactID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

func auditFor(
	wf *repository.Workflow,
	action, actor string,
	before, after repository.WorkflowStatus,
	levelID string,
	meta map[string]any,
) *repository.AuditEntry {
	e := &repository.AuditEntry{
		ArtifactID:  wf.ArtifactID,
		WorkflowID:  &wf.ID,
		Action:      action,
		PerformedBy: actor,
		Metadata:    meta,
	}
	if levelID != "" {
		e.LevelID = &levelID
	}
	if before != "" {
		s := string(before)
		e.StatusBefore = &s
	}
	if after != "" {
		s := string(after)
		e.StatusAfter = &s
	}
	return e
}

func (o *Orchestrator) startSpan(ctx context.Context, op, workflowID string) (context.Context, trace.Span) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator."+op)
	if workflowID != "" {
		span.SetAttributes(attribute.String("workflow.id", workflowID))
	}
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
