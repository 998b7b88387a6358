package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
)

// ChecklistGate answers whether a level's checklist permits approval.
// Optional items never block.
type ChecklistGate struct {
	store repository.Store
	log   *logger.Logger
}

// NewChecklistGate creates a new ChecklistGate.
func NewChecklistGate(store repository.Store, log *logger.Logger) *ChecklistGate {
	return &ChecklistGate{store: store, log: log}
}

// IsSatisfied reports whether every required item of the level is satisfied.
func (g *ChecklistGate) IsSatisfied(ctx context.Context, levelID string) (bool, error) {
	var ok bool
	err := g.store.InTx(ctx, func(tx repository.Tx) error {
		level, err := tx.GetLevel(ctx, levelID)
		if err != nil {
			return err
		}
		items, err := tx.ListChecklistItems(ctx, level.WorkflowID)
		if err != nil {
			return err
		}
		ok = checklistSatisfied(items, levelID)
		return nil
	})
	return ok, err
}

// SetItemStatus marks an item satisfied or not. It is idempotent and does not
// touch the level; re-evaluation is the orchestrator's job.
func (g *ChecklistGate) SetItemStatus(
	ctx context.Context,
	caller Caller,
	itemID string,
	satisfied bool,
) (*repository.ChecklistItem, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}

	var item *repository.ChecklistItem
	err := g.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		item, err = tx.GetChecklistItem(ctx, itemID)
		if err != nil {
			return err
		}
		_, err = setItemStatus(ctx, tx, item, satisfied, caller.ID, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// setItemStatus writes the item only when the flag actually changes.
func setItemStatus(
	ctx context.Context,
	tx repository.Tx,
	item *repository.ChecklistItem,
	satisfied bool,
	by string,
	now time.Time,
) (bool, error) {
	if item.Satisfied == satisfied {
		return false, nil
	}
	item.Satisfied = satisfied
	if satisfied {
		item.SatisfiedBy = &by
		item.SatisfiedAt = &now
	} else {
		item.SatisfiedBy = nil
		item.SatisfiedAt = nil
	}
	if err := tx.UpdateChecklistItem(ctx, item); err != nil {
		return false, err
	}
	return true, nil
}

func checklistSatisfied(items []*repository.ChecklistItem, levelID string) bool {
	for _, item := range items {
		if item.LevelID == levelID && item.Required && !item.Satisfied {
			return false
		}
	}
	return true
}
