package repository

import (
	"context"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
)

// Workflow rows carry a revision column; every update is conditional on it.

const workflowColumns = `
	id, artifact_id, version_id, version_number, workflow_type, status,
	current_step, total_steps, is_current, source_workflow_id,
	created_by, submitted_by, submitted_at, completed_at,
	approved_by, approved_at, sent_at, revision,
	created_at, updated_at`

func (t *pgTx) InsertWorkflow(ctx context.Context, wf *Workflow) error {
	query := `
		INSERT INTO approval_workflows
		    (artifact_id, version_id, version_number, workflow_type, status,
		     current_step, total_steps, is_current, source_workflow_id,
		     created_by, submitted_by, submitted_at)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9,
		        $10, $11, $12)
		RETURNING id, revision, created_at, updated_at
	`

	err := t.tx.QueryRow(ctx, query,
		wf.ArtifactID,
		wf.VersionID,
		wf.VersionNumber,
		wf.Type,
		wf.Status,
		wf.CurrentStep,
		wf.TotalSteps,
		wf.IsCurrent,
		wf.SourceWorkflowID,
		wf.CreatedBy,
		wf.SubmittedBy,
		wf.SubmittedAt,
	).Scan(&wf.ID, &wf.Revision, &wf.CreatedAt, &wf.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.Conflict("workflow", wf.ArtifactID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval workflow")
	}
	return nil
}

func (t *pgTx) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows WHERE id = $1`

	wf, err := scanWorkflow(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "workflow", id, "failed to get workflow")
	}
	return wf, nil
}

// LockWorkflow takes a row lock so concurrent decisions on the same workflow
// queue behind each other until commit.
func (t *pgTx) LockWorkflow(ctx context.Context, id string) (*Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows WHERE id = $1 FOR UPDATE`

	wf, err := scanWorkflow(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "workflow", id, "failed to lock workflow")
	}
	return wf, nil
}

func (t *pgTx) GetWorkflowByVersion(ctx context.Context, versionID string) (*Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows WHERE version_id = $1`

	wf, err := scanWorkflow(t.tx.QueryRow(ctx, query, versionID))
	if err != nil {
		return nil, notFoundOr(err, "workflow for version", versionID, "failed to get workflow by version")
	}
	return wf, nil
}

func (t *pgTx) GetCurrentWorkflow(ctx context.Context, artifactID string) (*Workflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM approval_workflows
		WHERE artifact_id = $1 AND is_current`

	wf, err := scanWorkflow(t.tx.QueryRow(ctx, query, artifactID))
	if err != nil {
		return nil, notFoundOr(err, "current workflow for artifact", artifactID, "failed to get current workflow")
	}
	return wf, nil
}

func (t *pgTx) UpdateWorkflow(ctx context.Context, wf *Workflow) error {
	query := `
		UPDATE approval_workflows
		SET status       = $3,
		    current_step = $4,
		    is_current   = $5,
		    submitted_by = $6,
		    submitted_at = $7,
		    completed_at = $8,
		    approved_by  = $9,
		    approved_at  = $10,
		    sent_at      = $11,
		    revision     = revision + 1,
		    updated_at   = NOW()
		WHERE id = $1 AND revision = $2
	`

	tag, err := t.tx.Exec(ctx, query,
		wf.ID,
		wf.Revision,
		wf.Status,
		wf.CurrentStep,
		wf.IsCurrent,
		wf.SubmittedBy,
		wf.SubmittedAt,
		wf.CompletedAt,
		wf.ApprovedBy,
		wf.ApprovedAt,
		wf.SentAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update workflow")
	}
	if err := t.expectOne(ctx, tag, "approval_workflows", "workflow", wf.ID); err != nil {
		return err
	}
	wf.Revision++
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

func scanWorkflow(row rowScanner) (*Workflow, error) {
	wf := &Workflow{}
	err := row.Scan(
		&wf.ID,
		&wf.ArtifactID,
		&wf.VersionID,
		&wf.VersionNumber,
		&wf.Type,
		&wf.Status,
		&wf.CurrentStep,
		&wf.TotalSteps,
		&wf.IsCurrent,
		&wf.SourceWorkflowID,
		&wf.CreatedBy,
		&wf.SubmittedBy,
		&wf.SubmittedAt,
		&wf.CompletedAt,
		&wf.ApprovedBy,
		&wf.ApprovedAt,
		&wf.SentAt,
		&wf.Revision,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return wf, nil
}
