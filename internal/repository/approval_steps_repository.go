package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
)

// Levels, their approvers and their checklist items. All three are created
// together with the workflow (or its clone) inside one transaction.

// ── levels ───────────────────────────────────────────────────────────────────

const levelColumns = `
	id, workflow_id, step_number, name, description, is_required,
	status, skip_reason, decided_at, revision, created_at, updated_at`

func (t *pgTx) InsertLevel(ctx context.Context, l *Level) error {
	query := `
		INSERT INTO approval_levels
		    (workflow_id, step_number, name, description, is_required, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, revision, created_at, updated_at
	`
	err := t.tx.QueryRow(ctx, query,
		l.WorkflowID,
		l.StepNumber,
		l.Name,
		l.Description,
		l.Required,
		l.Status,
	).Scan(&l.ID, &l.Revision, &l.CreatedAt, &l.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.InvalidInput("step_number", "step number already used in workflow")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval level")
	}
	return nil
}

func (t *pgTx) GetLevel(ctx context.Context, id string) (*Level, error) {
	query := `SELECT ` + levelColumns + ` FROM approval_levels WHERE id = $1`

	l, err := scanLevel(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "level", id, "failed to get level")
	}
	return l, nil
}

func (t *pgTx) ListLevels(ctx context.Context, workflowID string) ([]*Level, error) {
	query := `SELECT ` + levelColumns + `
		FROM approval_levels
		WHERE workflow_id = $1
		ORDER BY step_number ASC`

	rows, err := t.tx.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list levels")
	}
	return collect(rows, scanLevel, "failed to scan level")
}

func (t *pgTx) UpdateLevel(ctx context.Context, l *Level) error {
	query := `
		UPDATE approval_levels
		SET status      = $3,
		    skip_reason = $4,
		    decided_at  = $5,
		    revision    = revision + 1,
		    updated_at  = NOW()
		WHERE id = $1 AND revision = $2
	`
	tag, err := t.tx.Exec(ctx, query, l.ID, l.Revision, l.Status, l.SkipReason, l.DecidedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update level")
	}
	if err := t.expectOne(ctx, tag, "approval_levels", "level", l.ID); err != nil {
		return err
	}
	l.Revision++
	return nil
}

func scanLevel(row rowScanner) (*Level, error) {
	l := &Level{}
	err := row.Scan(
		&l.ID,
		&l.WorkflowID,
		&l.StepNumber,
		&l.Name,
		&l.Description,
		&l.Required,
		&l.Status,
		&l.SkipReason,
		&l.DecidedAt,
		&l.Revision,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ── approvers ────────────────────────────────────────────────────────────────

const approverColumns = `
	id, workflow_id, level_id, approver_type, ref, display_name, is_required,
	decision, decision_note, decided_by, decided_at, created_at`

func (t *pgTx) InsertApprover(ctx context.Context, a *Approver) error {
	query := `
		INSERT INTO approval_approvers
		    (workflow_id, level_id, approver_type, ref, display_name, is_required, decision)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := t.tx.QueryRow(ctx, query,
		a.WorkflowID,
		a.LevelID,
		a.Type,
		a.Ref,
		a.DisplayName,
		a.Required,
		a.Decision,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approver")
	}
	return nil
}

func (t *pgTx) GetApprover(ctx context.Context, id string) (*Approver, error) {
	query := `SELECT ` + approverColumns + ` FROM approval_approvers WHERE id = $1`

	a, err := scanApprover(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "approver", id, "failed to get approver")
	}
	return a, nil
}

func (t *pgTx) ListApprovers(ctx context.Context, workflowID string) ([]*Approver, error) {
	query := `SELECT ` + approverColumns + `
		FROM approval_approvers
		WHERE workflow_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := t.tx.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approvers")
	}
	return collect(rows, scanApprover, "failed to scan approver")
}

// UpdateApproverDecision only overwrites a pending decision.
func (t *pgTx) UpdateApproverDecision(ctx context.Context, a *Approver) error {
	query := `
		UPDATE approval_approvers
		SET decision      = $2,
		    decision_note = $3,
		    decided_by    = $4,
		    decided_at    = $5
		WHERE id = $1
		  AND decision = 'pending'
	`
	tag, err := t.tx.Exec(ctx, query, a.ID, a.Decision, a.DecisionNote, a.DecidedBy, a.DecidedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to record approver decision")
	}
	return t.expectOne(ctx, tag, "approval_approvers", "approver", a.ID)
}

func scanApprover(row rowScanner) (*Approver, error) {
	a := &Approver{}
	err := row.Scan(
		&a.ID,
		&a.WorkflowID,
		&a.LevelID,
		&a.Type,
		&a.Ref,
		&a.DisplayName,
		&a.Required,
		&a.Decision,
		&a.DecisionNote,
		&a.DecidedBy,
		&a.DecidedAt,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ── checklist items ──────────────────────────────────────────────────────────

const checklistColumns = `
	id, workflow_id, level_id, name, category, is_required,
	satisfied, satisfied_by, satisfied_at, created_at`

func (t *pgTx) InsertChecklistItem(ctx context.Context, item *ChecklistItem) error {
	query := `
		INSERT INTO approval_checklist_items
		    (workflow_id, level_id, name, category, is_required, satisfied)
		SELECT $1, l.id, $3, $4, $5, $6
		FROM approval_levels l
		WHERE l.id = $2
		RETURNING id, created_at
	`
	err := t.tx.QueryRow(ctx, query,
		item.WorkflowID,
		item.LevelID,
		item.Name,
		item.Category,
		item.Required,
		item.Satisfied,
	).Scan(&item.ID, &item.CreatedAt)
	if err == pgx.ErrNoRows {
		return errors.InvalidInput("level_id", "checklist item references an unknown level")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create checklist item")
	}
	return nil
}

func (t *pgTx) GetChecklistItem(ctx context.Context, id string) (*ChecklistItem, error) {
	query := `SELECT ` + checklistColumns + ` FROM approval_checklist_items WHERE id = $1`

	item, err := scanChecklistItem(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "checklist item", id, "failed to get checklist item")
	}
	return item, nil
}

func (t *pgTx) ListChecklistItems(ctx context.Context, workflowID string) ([]*ChecklistItem, error) {
	query := `SELECT ` + checklistColumns + `
		FROM approval_checklist_items
		WHERE workflow_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := t.tx.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list checklist items")
	}
	return collect(rows, scanChecklistItem, "failed to scan checklist item")
}

func (t *pgTx) UpdateChecklistItem(ctx context.Context, item *ChecklistItem) error {
	query := `
		UPDATE approval_checklist_items
		SET satisfied    = $2,
		    satisfied_by = $3,
		    satisfied_at = $4
		WHERE id = $1
	`
	tag, err := t.tx.Exec(ctx, query, item.ID, item.Satisfied, item.SatisfiedBy, item.SatisfiedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update checklist item")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("checklist item", item.ID)
	}
	return nil
}

func scanChecklistItem(row rowScanner) (*ChecklistItem, error) {
	item := &ChecklistItem{}
	err := row.Scan(
		&item.ID,
		&item.WorkflowID,
		&item.LevelID,
		&item.Name,
		&item.Category,
		&item.Required,
		&item.Satisfied,
		&item.SatisfiedBy,
		&item.SatisfiedAt,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// collect drains rows through scan and closes them.
func collect[T any](rows pgx.Rows, scan func(rowScanner) (*T, error), msg string) ([]*T, error) {
	defer rows.Close()

	var out []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, msg)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, msg)
	}
	return out, nil
}
