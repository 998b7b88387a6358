package repository

import (
	"context"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
)

const commentColumns = `
	id, version_id, level_id, parent_id, author_type, author_id, author_name,
	body, resolved, resolved_by, resolved_at, created_at`

func (t *pgTx) InsertComment(ctx context.Context, c *Comment) error {
	query := `
		INSERT INTO version_comments
		    (version_id, level_id, parent_id, author_type, author_id, author_name, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := t.tx.QueryRow(ctx, query,
		c.VersionID,
		c.LevelID,
		c.ParentID,
		c.AuthorType,
		c.AuthorID,
		c.AuthorName,
		c.Body,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create comment")
	}
	return nil
}

func (t *pgTx) GetComment(ctx context.Context, id string) (*Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM version_comments WHERE id = $1`

	c, err := scanComment(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "comment", id, "failed to get comment")
	}
	return c, nil
}

func (t *pgTx) ListComments(ctx context.Context, versionID string) ([]*Comment, error) {
	query := `SELECT ` + commentColumns + `
		FROM version_comments
		WHERE version_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := t.tx.Query(ctx, query, versionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list comments")
	}
	return collect(rows, scanComment, "failed to scan comment")
}

func (t *pgTx) UpdateComment(ctx context.Context, c *Comment) error {
	query := `
		UPDATE version_comments
		SET body        = $2,
		    resolved    = $3,
		    resolved_by = $4,
		    resolved_at = $5
		WHERE id = $1
	`
	tag, err := t.tx.Exec(ctx, query, c.ID, c.Body, c.Resolved, c.ResolvedBy, c.ResolvedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update comment")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("comment", c.ID)
	}
	return nil
}

func scanComment(row rowScanner) (*Comment, error) {
	c := &Comment{}
	err := row.Scan(
		&c.ID,
		&c.VersionID,
		&c.LevelID,
		&c.ParentID,
		&c.AuthorType,
		&c.AuthorID,
		&c.AuthorName,
		&c.Body,
		&c.Resolved,
		&c.ResolvedBy,
		&c.ResolvedAt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
