package repository

import (
	"context"
	"encoding/json"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
)

// Approval templates are the routing rules that supply level definitions
// when a workflow is created without explicit levels.

const templateColumns = `
	id, kind, name, is_active, priority,
	min_amount, max_amount, workflow_type, levels,
	created_at, updated_at`

func (t *pgTx) InsertTemplate(ctx context.Context, tpl *ApprovalTemplate) error {
	levelsJSON, err := json.Marshal(tpl.Levels)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal template levels")
	}

	query := `
		INSERT INTO approval_templates
		    (kind, name, is_active, priority,
		     min_amount, max_amount, workflow_type, levels)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err = t.tx.QueryRow(ctx, query,
		tpl.Kind,
		tpl.Name,
		tpl.IsActive,
		tpl.Priority,
		tpl.MinAmount,
		tpl.MaxAmount,
		tpl.WorkflowType,
		levelsJSON,
	).Scan(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval template")
	}
	return nil
}

func (t *pgTx) ListTemplates(ctx context.Context, kind ArtifactKind, activeOnly bool) ([]*ApprovalTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM approval_templates WHERE kind = $1`
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY priority ASC, name ASC"

	rows, err := t.tx.Query(ctx, query, kind)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval templates")
	}
	return collect(rows, scanTemplate, "failed to scan approval template")
}

// Matches reports whether the template's amount bounds admit amount.
// MinAmount is inclusive and MaxAmount exclusive. Templates without bounds
// match everything, including artifacts that carry no amount.
func (tpl *ApprovalTemplate) Matches(amount *int64) bool {
	if tpl.MinAmount == nil && tpl.MaxAmount == nil {
		return true
	}
	if amount == nil {
		return false
	}
	if tpl.MinAmount != nil && *amount < *tpl.MinAmount {
		return false
	}
	if tpl.MaxAmount != nil && *amount >= *tpl.MaxAmount {
		return false
	}
	return true
}

func scanTemplate(row rowScanner) (*ApprovalTemplate, error) {
	tpl := &ApprovalTemplate{}
	var levelsJSON []byte

	err := row.Scan(
		&tpl.ID,
		&tpl.Kind,
		&tpl.Name,
		&tpl.IsActive,
		&tpl.Priority,
		&tpl.MinAmount,
		&tpl.MaxAmount,
		&tpl.WorkflowType,
		&levelsJSON,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(levelsJSON, &tpl.Levels); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal template levels")
	}
	return tpl, nil
}
