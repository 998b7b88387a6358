package service

import (
	"context"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
)

// VersionStore owns artifacts and their immutable, sequentially numbered
// versions.
type VersionStore struct {
	store repository.Store
	log   *logger.Logger
}

// NewVersionStore creates a new VersionStore.
func NewVersionStore(store repository.Store, log *logger.Logger) *VersionStore {
	return &VersionStore{store: store, log: log}
}

// CreateArtifactInput holds the fields of a new artifact and its first version.
type CreateArtifactInput struct {
	Kind      repository.ArtifactKind
	ProjectID string
	Title     string
	Currency  string
	Content   repository.Content
	ChangeLog string
}

// CreateArtifact creates the artifact together with version 1.
func (s *VersionStore) CreateArtifact(
	ctx context.Context,
	caller Caller,
	in CreateArtifactInput,
) (*repository.Artifact, *repository.Version, error) {
	if err := requireStaff(caller); err != nil {
		return nil, nil, err
	}
	if !in.Kind.Valid() {
		return nil, nil, errors.InvalidInput("kind", "must be quote or deliverable")
	}
	if strings.TrimSpace(in.ProjectID) == "" {
		return nil, nil, errors.InvalidInput("project_id", "project is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, nil, errors.InvalidInput("title", "title is required")
	}
	if in.Kind == repository.ArtifactQuote && len(in.Currency) != 3 {
		return nil, nil, errors.InvalidInput("currency", "must be a three-letter currency code")
	}

	artifact := &repository.Artifact{
		Kind:      in.Kind,
		ProjectID: in.ProjectID,
		Title:     in.Title,
		Currency:  strings.ToUpper(in.Currency),
		CreatedBy: caller.ID,
	}
	var version *repository.Version

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertArtifact(ctx, artifact); err != nil {
			return err
		}
		v, err := nextVersion(ctx, tx, artifact, in.Content, in.ChangeLog, caller.ID)
		if err != nil {
			return err
		}
		version = v
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("artifact_id", artifact.ID).
		Str("kind", string(artifact.Kind)).
		Str("project_id", artifact.ProjectID).
		Msg("Artifact created")

	return artifact, version, nil
}

// CreateVersion appends the next version to an artifact that has no approval
// workflow yet. Once a workflow exists, new versions come only from
// Orchestrator.CloneForNextVersion, which retires the old workflow in the same
// transaction.
func (s *VersionStore) CreateVersion(
	ctx context.Context,
	caller Caller,
	artifactID string,
	content repository.Content,
	changeLog string,
) (*repository.Version, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}

	var version *repository.Version
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		artifact, err := tx.GetArtifact(ctx, artifactID)
		if err != nil {
			return err
		}
		wf, err := tx.GetCurrentWorkflow(ctx, artifactID)
		switch {
		case err == nil:
			return errors.InvalidState("artifact %s is governed by workflow %s; clone it to create the next version",
				artifactID, wf.ID)
		case !errors.Is(err, errors.ErrCodeNotFound):
			return err
		}
		version, err = nextVersion(ctx, tx, artifact, content, changeLog, caller.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("artifact_id", artifactID).
		Int("version_number", version.VersionNumber).
		Msg("Version created")

	return version, nil
}

// nextVersion inserts version max+1 (1 for a new artifact). Archived
// artifacts accept no new versions.
func nextVersion(
	ctx context.Context,
	tx repository.Tx,
	artifact *repository.Artifact,
	content repository.Content,
	changeLog, createdBy string,
) (*repository.Version, error) {
	if artifact.ArchivedAt != nil {
		return nil, errors.InvalidState("artifact %s is archived", artifact.ID)
	}
	if content.Kind != artifact.Kind {
		return nil, errors.InvalidInput("content", "content kind does not match artifact kind "+string(artifact.Kind))
	}
	if err := content.Validate(); err != nil {
		return nil, errors.InvalidInput("content", err.Error())
	}

	highest, err := tx.MaxVersionNumber(ctx, artifact.ID)
	if err != nil {
		return nil, err
	}

	v := &repository.Version{
		ArtifactID:    artifact.ID,
		VersionNumber: highest + 1,
		Content:       content.Clone(),
		ChangeLog:     changeLog,
		Status:        repository.WorkflowDraft,
		CreatedBy:     createdBy,
	}
	if err := tx.InsertVersion(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// GetArtifact returns an artifact by id.
func (s *VersionStore) GetArtifact(ctx context.Context, id string) (*repository.Artifact, error) {
	var artifact *repository.Artifact
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		artifact, err = tx.GetArtifact(ctx, id)
		return err
	})
	return artifact, err
}

// GetVersion returns a version by id.
func (s *VersionStore) GetVersion(ctx context.Context, id string) (*repository.Version, error) {
	var version *repository.Version
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		version, err = tx.GetVersion(ctx, id)
		return err
	})
	return version, err
}

// ListVersions returns every version of an artifact, oldest first.
func (s *VersionStore) ListVersions(ctx context.Context, artifactID string) ([]*repository.Version, error) {
	var versions []*repository.Version
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetArtifact(ctx, artifactID); err != nil {
			return err
		}
		var err error
		versions, err = tx.ListVersions(ctx, artifactID)
		return err
	})
	return versions, err
}

// CurrentVersion returns the highest-numbered version of an artifact.
func (s *VersionStore) CurrentVersion(ctx context.Context, artifactID string) (*repository.Version, error) {
	var version *repository.Version
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		version, err = currentVersion(ctx, tx, artifactID)
		return err
	})
	return version, err
}

func currentVersion(ctx context.Context, tx repository.Tx, artifactID string) (*repository.Version, error) {
	if _, err := tx.GetArtifact(ctx, artifactID); err != nil {
		return nil, err
	}
	versions, err := tx.ListVersions(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, errors.NotFound("version for artifact", artifactID)
	}
	return versions[len(versions)-1], nil
}

// ArchiveArtifact ends the artifact's lifecycle. Archiving twice is a no-op.
func (s *VersionStore) ArchiveArtifact(ctx context.Context, caller Caller, id string) (*repository.Artifact, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}

	var artifact *repository.Artifact
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		artifact, err = tx.GetArtifact(ctx, id)
		if err != nil {
			return err
		}
		if artifact.ArchivedAt != nil {
			return nil
		}
		now := time.Now().UTC()
		artifact.ArchivedAt = &now
		return tx.UpdateArtifact(ctx, artifact)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("artifact_id", id).Str("archived_by", caller.ID).Msg("Artifact archived")
	return artifact, nil
}

// ── Money ─────────────────────────────────────────────────────────────────────

// QuoteTotals are computed over selected phases, in minor units.
type QuoteTotals struct {
	Subtotal int64 `json:"subtotal"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

// ComputeQuoteTotals sums round(hours × rate) over selected phases and applies
// the tax rate, rounding half up.
func ComputeQuoteTotals(q *repository.QuoteContent) QuoteTotals {
	if q == nil {
		return QuoteTotals{}
	}
	var subtotal int64
	for _, p := range q.Phases {
		if !p.Selected {
			continue
		}
		subtotal += int64(math.Round(p.Hours * float64(p.Rate)))
	}
	tax := (subtotal*q.TaxRateBps + 5000) / 10000
	return QuoteTotals{Subtotal: subtotal, Tax: tax, Total: subtotal + tax}
}

// ── Diff ──────────────────────────────────────────────────────────────────────

// DiffResult compares version B against version A. Deltas are B − A, so
// swapping the arguments negates them.
type DiffResult struct {
	Kind           repository.ArtifactKind `json:"kind"`
	FromVersion    int                     `json:"from_version"`
	ToVersion      int                     `json:"to_version"`
	From           *QuoteTotals            `json:"from,omitempty"`
	To             *QuoteTotals            `json:"to,omitempty"`
	SubtotalDelta  int64                   `json:"subtotal_delta"`
	TaxDelta       int64                   `json:"tax_delta"`
	TotalDelta     int64                   `json:"total_delta"`
	ContentChanged bool                    `json:"content_changed"`
	ChangeLog      string                  `json:"change_log"`
}

// Diff compares two versions of the same artifact. It never writes.
func (s *VersionStore) Diff(ctx context.Context, versionAID, versionBID string) (*DiffResult, error) {
	var a, b *repository.Version
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		if a, err = tx.GetVersion(ctx, versionAID); err != nil {
			return err
		}
		b, err = tx.GetVersion(ctx, versionBID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return DiffVersions(a, b)
}

// DiffVersions is the pure comparison behind Diff.
func DiffVersions(a, b *repository.Version) (*DiffResult, error) {
	if a.ArtifactID != b.ArtifactID {
		return nil, errors.InvalidInput("version_id", "versions belong to different artifacts")
	}
	if a.Content.Kind != b.Content.Kind {
		return nil, errors.InvalidInput("version_id", "versions carry different content kinds")
	}

	res := &DiffResult{
		Kind:           b.Content.Kind,
		FromVersion:    a.VersionNumber,
		ToVersion:      b.VersionNumber,
		ContentChanged: !contentEqual(a.Content, b.Content),
		ChangeLog:      b.ChangeLog,
	}
	if b.Content.Kind == repository.ArtifactQuote {
		from := ComputeQuoteTotals(a.Content.Quote)
		to := ComputeQuoteTotals(b.Content.Quote)
		res.From, res.To = &from, &to
		res.SubtotalDelta = to.Subtotal - from.Subtotal
		res.TaxDelta = to.Tax - from.Tax
		res.TotalDelta = to.Total - from.Total
	}
	return res, nil
}

func contentEqual(a, b repository.Content) bool {
	switch {
	case a.Quote != nil && b.Quote != nil:
		return a.Quote.TaxRateBps == b.Quote.TaxRateBps &&
			a.Quote.Notes == b.Quote.Notes &&
			slices.Equal(a.Quote.Phases, b.Quote.Phases)
	case a.Deliverable != nil && b.Deliverable != nil:
		return *a.Deliverable == *b.Deliverable
	default:
		return false
	}
}
