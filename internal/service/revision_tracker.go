package service

import (
	"context"
	"strings"
	"time"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
)

// RevisionTracker numbers feedback rounds across an artifact's lineage.
// Round numbers grow by exactly one per request, whichever workflow of the
// artifact the request lands on.
type RevisionTracker struct {
	store repository.Store
	log   *logger.Logger
}

// NewRevisionTracker creates a new RevisionTracker.
func NewRevisionTracker(store repository.Store, log *logger.Logger) *RevisionTracker {
	return &RevisionTracker{store: store, log: log}
}

// RequestRevision opens the next round and moves the workflow to
// revision_requested.
func (t *RevisionTracker) RequestRevision(
	ctx context.Context,
	caller Caller,
	workflowID, summary string,
) (*repository.RevisionRound, error) {
	var round *repository.RevisionRound
	err := t.store.InTx(ctx, func(tx repository.Tx) error {
		wf, err := tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		round, _, err = t.request(ctx, tx, caller, wf, summary, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return round, nil
}

func (t *RevisionTracker) request(
	ctx context.Context,
	tx repository.Tx,
	caller Caller,
	wf *repository.Workflow,
	summary string,
	now time.Time,
) (*repository.RevisionRound, *settlement, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, nil, err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, nil, errors.InvalidInput("summary", "revision summary is required")
	}
	switch wf.Status {
	case repository.WorkflowApproved, repository.WorkflowRejected:
		return nil, nil, errors.Finalized(wf.ID, string(wf.Status))
	case repository.WorkflowRevisionRequested:
		return nil, nil, errors.InvalidState("workflow %s already awaits a revision", wf.ID)
	}
	if err := requireCurrent(ctx, tx, wf); err != nil {
		return nil, nil, err
	}

	last, err := tx.LastRoundNumber(ctx, wf.ArtifactID)
	if err != nil {
		return nil, nil, err
	}
	round := &repository.RevisionRound{
		ArtifactID:  wf.ArtifactID,
		WorkflowID:  wf.ID,
		RoundNumber: last + 1,
		Summary:     summary,
		RequestedBy: caller.ID,
		RequestedAt: now,
	}
	if err := tx.InsertRevisionRound(ctx, round); err != nil {
		return nil, nil, err
	}

	before := wf.Status
	wf.Status = repository.WorkflowRevisionRequested
	st, err := settleWorkflow(ctx, tx, wf, before, caller.ID, now)
	if err != nil {
		return nil, nil, err
	}
	return round, st, nil
}

// ResolveRound stamps the version number that answered a round. It does not
// change any workflow status.
func (t *RevisionTracker) ResolveRound(
	ctx context.Context,
	roundID string,
	resolvingVersion int,
) (*repository.RevisionRound, error) {
	var round *repository.RevisionRound
	err := t.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		round, err = tx.GetRevisionRound(ctx, roundID)
		if err != nil {
			return err
		}
		return resolveRound(ctx, tx, round, resolvingVersion, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}
	return round, nil
}

func resolveRound(
	ctx context.Context,
	tx repository.Tx,
	round *repository.RevisionRound,
	resolvingVersion int,
	now time.Time,
) error {
	if round.ResolvedByVersion != nil {
		return errors.InvalidState("revision round %d already resolved by version %d",
			round.RoundNumber, *round.ResolvedByVersion)
	}
	if resolvingVersion < 1 {
		return errors.InvalidInput("version_number", "must be positive")
	}
	round.ResolvedByVersion = &resolvingVersion
	round.ResolvedAt = &now
	return tx.UpdateRevisionRound(ctx, round)
}

// ListRounds returns the artifact's rounds in order.
func (t *RevisionTracker) ListRounds(ctx context.Context, artifactID string) ([]*repository.RevisionRound, error) {
	var rounds []*repository.RevisionRound
	err := t.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetArtifact(ctx, artifactID); err != nil {
			return err
		}
		var err error
		rounds, err = tx.ListRevisionRounds(ctx, artifactID)
		return err
	})
	return rounds, err
}
