package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
)

const roundColumns = `
	id, artifact_id, workflow_id, round_number, summary,
	requested_by, requested_at, resolved_by_version, resolved_at`

func (t *pgTx) InsertRevisionRound(ctx context.Context, r *RevisionRound) error {
	query := `
		INSERT INTO revision_rounds
		    (artifact_id, workflow_id, round_number, summary, requested_by, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := t.tx.QueryRow(ctx, query,
		r.ArtifactID,
		r.WorkflowID,
		r.RoundNumber,
		r.Summary,
		r.RequestedBy,
		r.RequestedAt,
	).Scan(&r.ID)
	if isUniqueViolation(err) {
		return errors.Conflict("revision round", r.ArtifactID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create revision round")
	}
	return nil
}

func (t *pgTx) GetRevisionRound(ctx context.Context, id string) (*RevisionRound, error) {
	query := `SELECT ` + roundColumns + ` FROM revision_rounds WHERE id = $1`

	r, err := scanRound(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "revision round", id, "failed to get revision round")
	}
	return r, nil
}

func (t *pgTx) LastRoundNumber(ctx context.Context, artifactID string) (int, error) {
	var last int
	query := `SELECT COALESCE(MAX(round_number), 0) FROM revision_rounds WHERE artifact_id = $1`
	if err := t.tx.QueryRow(ctx, query, artifactID).Scan(&last); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to read last revision round")
	}
	return last, nil
}

func (t *pgTx) OpenRevisionRound(ctx context.Context, workflowID string) (*RevisionRound, error) {
	query := `SELECT ` + roundColumns + `
		FROM revision_rounds
		WHERE workflow_id = $1 AND resolved_at IS NULL
		ORDER BY round_number DESC
		LIMIT 1`

	r, err := scanRound(t.tx.QueryRow(ctx, query, workflowID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get open revision round")
	}
	return r, nil
}

func (t *pgTx) ListRevisionRounds(ctx context.Context, artifactID string) ([]*RevisionRound, error) {
	query := `SELECT ` + roundColumns + `
		FROM revision_rounds
		WHERE artifact_id = $1
		ORDER BY round_number ASC`

	rows, err := t.tx.Query(ctx, query, artifactID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list revision rounds")
	}
	return collect(rows, scanRound, "failed to scan revision round")
}

func (t *pgTx) UpdateRevisionRound(ctx context.Context, r *RevisionRound) error {
	query := `
		UPDATE revision_rounds
		SET resolved_by_version = $2,
		    resolved_at         = $3
		WHERE id = $1
	`
	tag, err := t.tx.Exec(ctx, query, r.ID, r.ResolvedByVersion, r.ResolvedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update revision round")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("revision round", r.ID)
	}
	return nil
}

func scanRound(row rowScanner) (*RevisionRound, error) {
	r := &RevisionRound{}
	err := row.Scan(
		&r.ID,
		&r.ArtifactID,
		&r.WorkflowID,
		&r.RoundNumber,
		&r.Summary,
		&r.RequestedBy,
		&r.RequestedAt,
		&r.ResolvedByVersion,
		&r.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}
