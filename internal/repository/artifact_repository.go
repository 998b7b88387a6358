package repository

import (
	"context"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
)

// ── artifacts ────────────────────────────────────────────────────────────────

const artifactColumns = `
	id, kind, project_id, title, currency,
	accepted_version, accepted_total, created_by, archived_at,
	created_at, updated_at`

func (t *pgTx) InsertArtifact(ctx context.Context, a *Artifact) error {
	query := `
		INSERT INTO artifacts (kind, project_id, title, currency, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := t.tx.QueryRow(ctx, query, a.Kind, a.ProjectID, a.Title, a.Currency, a.CreatedBy).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create artifact")
	}
	return nil
}

func (t *pgTx) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE id = $1`

	a := &Artifact{}
	err := t.tx.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.Kind, &a.ProjectID, &a.Title, &a.Currency,
		&a.AcceptedVersion, &a.AcceptedTotal, &a.CreatedBy, &a.ArchivedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, notFoundOr(err, "artifact", id, "failed to get artifact")
	}
	return a, nil
}

func (t *pgTx) UpdateArtifact(ctx context.Context, a *Artifact) error {
	query := `
		UPDATE artifacts
		SET title            = $2,
		    accepted_version = $3,
		    accepted_total   = $4,
		    archived_at      = $5,
		    updated_at       = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := t.tx.QueryRow(ctx, query, a.ID, a.Title, a.AcceptedVersion, a.AcceptedTotal, a.ArchivedAt).
		Scan(&a.UpdatedAt)
	if err != nil {
		return notFoundOr(err, "artifact", a.ID, "failed to update artifact")
	}
	return nil
}

// ── versions ─────────────────────────────────────────────────────────────────

const versionColumns = `
	id, artifact_id, version_number, content, change_log,
	status, created_by, created_at`

func (t *pgTx) InsertVersion(ctx context.Context, v *Version) error {
	content, err := MarshalContent(v.Content)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal version content")
	}

	query := `
		INSERT INTO artifact_versions
		    (artifact_id, version_number, content, change_log, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err = t.tx.QueryRow(ctx, query,
		v.ArtifactID,
		v.VersionNumber,
		content,
		v.ChangeLog,
		v.Status,
		v.CreatedBy,
	).Scan(&v.ID, &v.CreatedAt)
	if isUniqueViolation(err) {
		return errors.Conflict("version", v.ArtifactID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create version")
	}
	return nil
}

func (t *pgTx) GetVersion(ctx context.Context, id string) (*Version, error) {
	query := `SELECT ` + versionColumns + ` FROM artifact_versions WHERE id = $1`

	v, err := scanVersion(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "version", id, "failed to get version")
	}
	return v, nil
}

func (t *pgTx) MaxVersionNumber(ctx context.Context, artifactID string) (int, error) {
	var highest int
	query := `SELECT COALESCE(MAX(version_number), 0) FROM artifact_versions WHERE artifact_id = $1`
	if err := t.tx.QueryRow(ctx, query, artifactID).Scan(&highest); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to read highest version number")
	}
	return highest, nil
}

func (t *pgTx) ListVersions(ctx context.Context, artifactID string) ([]*Version, error) {
	query := `SELECT ` + versionColumns + `
		FROM artifact_versions
		WHERE artifact_id = $1
		ORDER BY version_number ASC`

	rows, err := t.tx.Query(ctx, query, artifactID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list versions")
	}
	defer rows.Close()

	var versions []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan version")
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (t *pgTx) UpdateVersionStatus(ctx context.Context, id string, status WorkflowStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE artifact_versions SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update version status")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("version", id)
	}
	return nil
}

func scanVersion(row rowScanner) (*Version, error) {
	v := &Version{}
	var content []byte
	err := row.Scan(
		&v.ID,
		&v.ArtifactID,
		&v.VersionNumber,
		&content,
		&v.ChangeLog,
		&v.Status,
		&v.CreatedBy,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if v.Content, err = UnmarshalContent(content); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal version content")
	}
	return v, nil
}
