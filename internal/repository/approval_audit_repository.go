package repository

import (
	"context"
	"encoding/json"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
)

// AppendAudit inserts one audit entry. Entries are never updated or deleted.
func (t *pgTx) AppendAudit(ctx context.Context, e *AuditEntry) error {
	var metadataJSON []byte
	if e.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO approval_audit_log
		    (artifact_id, workflow_id, level_id,
		     action, performed_by,
		     status_before, status_after,
		     metadata)
		VALUES ($1, $2, $3,
		        $4, $5,
		        $6, $7,
		        $8)
		RETURNING id, performed_at
	`
	err := t.tx.QueryRow(ctx, query,
		e.ArtifactID,
		e.WorkflowID,
		e.LevelID,
		e.Action,
		e.PerformedBy,
		e.StatusBefore,
		e.StatusAfter,
		metadataJSON,
	).Scan(&e.ID, &e.PerformedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// ListAudit returns the trail of one workflow, oldest first.
func (t *pgTx) ListAudit(ctx context.Context, workflowID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, artifact_id, workflow_id, level_id,
		       action, performed_by, performed_at,
		       status_before, status_after,
		       metadata
		FROM approval_audit_log
		WHERE workflow_id = $1
		ORDER BY performed_at ASC, id ASC
	`
	rows, err := t.tx.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow audit log")
	}
	return collect(rows, scanAuditEntry, "failed to scan audit entry")
}

func scanAuditEntry(row rowScanner) (*AuditEntry, error) {
	e := &AuditEntry{}
	var metadataJSON []byte

	err := row.Scan(
		&e.ID,
		&e.ArtifactID,
		&e.WorkflowID,
		&e.LevelID,
		&e.Action,
		&e.PerformedBy,
		&e.PerformedAt,
		&e.StatusBefore,
		&e.StatusAfter,
		&metadataJSON,
	)
	if err != nil {
		return nil, err
	}
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}
	return e, nil
}
