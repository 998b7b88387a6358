package repository

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
)

// MemoryStore is an in-process Store. InTx holds a store-wide lock for the
// whole transaction and restores a snapshot when fn fails, so it gives the
// same serialization and rollback behaviour as the PostgreSQL store.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
	now   func() time.Time
}

type memState struct {
	seq       int64
	order     map[string]int64
	artifacts map[string]Artifact
	versions  map[string]Version
	workflows map[string]Workflow
	levels    map[string]Level
	approvers map[string]Approver
	checklist map[string]ChecklistItem
	rounds    map[string]RevisionRound
	comments  map[string]Comment
	templates map[string]ApprovalTemplate
	audit     map[string]AuditEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memState{
			order:     map[string]int64{},
			artifacts: map[string]Artifact{},
			versions:  map[string]Version{},
			workflows: map[string]Workflow{},
			levels:    map[string]Level{},
			approvers: map[string]Approver{},
			checklist: map[string]ChecklistItem{},
			rounds:    map[string]RevisionRound{},
			comments:  map[string]Comment{},
			templates: map[string]ApprovalTemplate{},
			audit:     map[string]AuditEntry{},
		},
		now: time.Now,
	}
}

// Records are stored by value and never mutated through shared pointers, so
// a shallow copy of every map is a complete snapshot.
func (s memState) clone() memState {
	return memState{
		seq:       s.seq,
		order:     maps.Clone(s.order),
		artifacts: maps.Clone(s.artifacts),
		versions:  maps.Clone(s.versions),
		workflows: maps.Clone(s.workflows),
		levels:    maps.Clone(s.levels),
		approvers: maps.Clone(s.approvers),
		checklist: maps.Clone(s.checklist),
		rounds:    maps.Clone(s.rounds),
		comments:  maps.Clone(s.comments),
		templates: maps.Clone(s.templates),
		audit:     maps.Clone(s.audit),
	}
}

// InTx runs fn under the store lock.
func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.state.clone()
	if err := fn(&memTx{store: m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

type memTx struct {
	store *MemoryStore
}

func (t *memTx) st() *memState { return &t.store.state }

func (t *memTx) newID() string {
	id := uuid.NewString()
	s := t.st()
	s.seq++
	s.order[id] = s.seq
	return id
}

func sortedBySeq[T any](s *memState, items []T, id func(T) string) []T {
	sort.SliceStable(items, func(i, j int) bool {
		return s.order[id(items[i])] < s.order[id(items[j])]
	})
	return items
}

// ── artifacts ────────────────────────────────────────────────────────────────

func (t *memTx) InsertArtifact(_ context.Context, a *Artifact) error {
	now := t.store.now()
	a.ID = t.newID()
	a.CreatedAt, a.UpdatedAt = now, now
	t.st().artifacts[a.ID] = *a
	return nil
}

func (t *memTx) GetArtifact(_ context.Context, id string) (*Artifact, error) {
	a, ok := t.st().artifacts[id]
	if !ok {
		return nil, errors.NotFound("artifact", id)
	}
	return &a, nil
}

func (t *memTx) UpdateArtifact(_ context.Context, a *Artifact) error {
	if _, ok := t.st().artifacts[a.ID]; !ok {
		return errors.NotFound("artifact", a.ID)
	}
	a.UpdatedAt = t.store.now()
	t.st().artifacts[a.ID] = *a
	return nil
}

// ── versions ─────────────────────────────────────────────────────────────────

func (t *memTx) InsertVersion(_ context.Context, v *Version) error {
	for _, existing := range t.st().versions {
		if existing.ArtifactID == v.ArtifactID && existing.VersionNumber == v.VersionNumber {
			return errors.Conflict("version", v.ArtifactID)
		}
	}
	v.ID = t.newID()
	v.CreatedAt = t.store.now()
	stored := *v
	stored.Content = v.Content.Clone()
	t.st().versions[v.ID] = stored
	return nil
}

func (t *memTx) GetVersion(_ context.Context, id string) (*Version, error) {
	v, ok := t.st().versions[id]
	if !ok {
		return nil, errors.NotFound("version", id)
	}
	v.Content = v.Content.Clone()
	return &v, nil
}

func (t *memTx) MaxVersionNumber(_ context.Context, artifactID string) (int, error) {
	highest := 0
	for _, v := range t.st().versions {
		if v.ArtifactID == artifactID && v.VersionNumber > highest {
			highest = v.VersionNumber
		}
	}
	return highest, nil
}

func (t *memTx) ListVersions(_ context.Context, artifactID string) ([]*Version, error) {
	var out []*Version
	for _, v := range t.st().versions {
		if v.ArtifactID == artifactID {
			v.Content = v.Content.Clone()
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (t *memTx) UpdateVersionStatus(_ context.Context, id string, status WorkflowStatus) error {
	v, ok := t.st().versions[id]
	if !ok {
		return errors.NotFound("version", id)
	}
	v.Status = status
	t.st().versions[id] = v
	return nil
}

// ── workflows ────────────────────────────────────────────────────────────────

func (t *memTx) InsertWorkflow(_ context.Context, wf *Workflow) error {
	now := t.store.now()
	wf.ID = t.newID()
	wf.Revision = 1
	wf.CreatedAt, wf.UpdatedAt = now, now
	t.st().workflows[wf.ID] = *wf
	return nil
}

func (t *memTx) GetWorkflow(_ context.Context, id string) (*Workflow, error) {
	wf, ok := t.st().workflows[id]
	if !ok {
		return nil, errors.NotFound("workflow", id)
	}
	return &wf, nil
}

func (t *memTx) LockWorkflow(ctx context.Context, id string) (*Workflow, error) {
	return t.GetWorkflow(ctx, id)
}

func (t *memTx) GetWorkflowByVersion(_ context.Context, versionID string) (*Workflow, error) {
	for _, wf := range t.st().workflows {
		if wf.VersionID == versionID {
			return &wf, nil
		}
	}
	return nil, errors.NotFound("workflow for version", versionID)
}

func (t *memTx) GetCurrentWorkflow(_ context.Context, artifactID string) (*Workflow, error) {
	for _, wf := range t.st().workflows {
		if wf.ArtifactID == artifactID && wf.IsCurrent {
			return &wf, nil
		}
	}
	return nil, errors.NotFound("current workflow for artifact", artifactID)
}

func (t *memTx) UpdateWorkflow(_ context.Context, wf *Workflow) error {
	stored, ok := t.st().workflows[wf.ID]
	if !ok {
		return errors.NotFound("workflow", wf.ID)
	}
	if stored.Revision != wf.Revision {
		return errors.Conflict("workflow", wf.ID)
	}
	wf.Revision++
	wf.UpdatedAt = t.store.now()
	t.st().workflows[wf.ID] = *wf
	return nil
}

// ── levels, approvers, checklist ─────────────────────────────────────────────

func (t *memTx) InsertLevel(_ context.Context, l *Level) error {
	for _, existing := range t.st().levels {
		if existing.WorkflowID == l.WorkflowID && existing.StepNumber == l.StepNumber {
			return errors.InvalidInput("step_number", "step number already used in workflow")
		}
	}
	now := t.store.now()
	l.ID = t.newID()
	l.Revision = 1
	l.CreatedAt, l.UpdatedAt = now, now
	t.st().levels[l.ID] = *l
	return nil
}

func (t *memTx) GetLevel(_ context.Context, id string) (*Level, error) {
	l, ok := t.st().levels[id]
	if !ok {
		return nil, errors.NotFound("level", id)
	}
	return &l, nil
}

func (t *memTx) ListLevels(_ context.Context, workflowID string) ([]*Level, error) {
	var out []*Level
	for _, l := range t.st().levels {
		if l.WorkflowID == workflowID {
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

func (t *memTx) UpdateLevel(_ context.Context, l *Level) error {
	stored, ok := t.st().levels[l.ID]
	if !ok {
		return errors.NotFound("level", l.ID)
	}
	if stored.Revision != l.Revision {
		return errors.Conflict("level", l.ID)
	}
	l.Revision++
	l.UpdatedAt = t.store.now()
	t.st().levels[l.ID] = *l
	return nil
}

func (t *memTx) InsertApprover(_ context.Context, a *Approver) error {
	a.ID = t.newID()
	a.CreatedAt = t.store.now()
	t.st().approvers[a.ID] = *a
	return nil
}

func (t *memTx) GetApprover(_ context.Context, id string) (*Approver, error) {
	a, ok := t.st().approvers[id]
	if !ok {
		return nil, errors.NotFound("approver", id)
	}
	return &a, nil
}

func (t *memTx) ListApprovers(_ context.Context, workflowID string) ([]*Approver, error) {
	var out []*Approver
	for _, a := range t.st().approvers {
		if a.WorkflowID == workflowID {
			out = append(out, &a)
		}
	}
	return sortedBySeq(t.st(), out, func(a *Approver) string { return a.ID }), nil
}

func (t *memTx) UpdateApproverDecision(_ context.Context, a *Approver) error {
	stored, ok := t.st().approvers[a.ID]
	if !ok {
		return errors.NotFound("approver", a.ID)
	}
	if stored.Decision != DecisionPending {
		return errors.Conflict("approver", a.ID)
	}
	t.st().approvers[a.ID] = *a
	return nil
}

func (t *memTx) InsertChecklistItem(_ context.Context, item *ChecklistItem) error {
	if _, ok := t.st().levels[item.LevelID]; !ok {
		return errors.InvalidInput("level_id", "checklist item references an unknown level")
	}
	item.ID = t.newID()
	item.CreatedAt = t.store.now()
	t.st().checklist[item.ID] = *item
	return nil
}

func (t *memTx) GetChecklistItem(_ context.Context, id string) (*ChecklistItem, error) {
	item, ok := t.st().checklist[id]
	if !ok {
		return nil, errors.NotFound("checklist item", id)
	}
	return &item, nil
}

func (t *memTx) ListChecklistItems(_ context.Context, workflowID string) ([]*ChecklistItem, error) {
	var out []*ChecklistItem
	for _, item := range t.st().checklist {
		if item.WorkflowID == workflowID {
			out = append(out, &item)
		}
	}
	return sortedBySeq(t.st(), out, func(i *ChecklistItem) string { return i.ID }), nil
}

func (t *memTx) UpdateChecklistItem(_ context.Context, item *ChecklistItem) error {
	if _, ok := t.st().checklist[item.ID]; !ok {
		return errors.NotFound("checklist item", item.ID)
	}
	t.st().checklist[item.ID] = *item
	return nil
}

// ── revision rounds ──────────────────────────────────────────────────────────

func (t *memTx) InsertRevisionRound(_ context.Context, r *RevisionRound) error {
	for _, existing := range t.st().rounds {
		if existing.ArtifactID == r.ArtifactID && existing.RoundNumber == r.RoundNumber {
			return errors.Conflict("revision round", r.ArtifactID)
		}
	}
	r.ID = t.newID()
	t.st().rounds[r.ID] = *r
	return nil
}

func (t *memTx) GetRevisionRound(_ context.Context, id string) (*RevisionRound, error) {
	r, ok := t.st().rounds[id]
	if !ok {
		return nil, errors.NotFound("revision round", id)
	}
	return &r, nil
}

func (t *memTx) LastRoundNumber(_ context.Context, artifactID string) (int, error) {
	last := 0
	for _, r := range t.st().rounds {
		if r.ArtifactID == artifactID && r.RoundNumber > last {
			last = r.RoundNumber
		}
	}
	return last, nil
}

func (t *memTx) OpenRevisionRound(_ context.Context, workflowID string) (*RevisionRound, error) {
	var open *RevisionRound
	for _, r := range t.st().rounds {
		if r.WorkflowID == workflowID && r.ResolvedByVersion == nil {
			if open == nil || r.RoundNumber > open.RoundNumber {
				open = &r
			}
		}
	}
	return open, nil
}

func (t *memTx) ListRevisionRounds(_ context.Context, artifactID string) ([]*RevisionRound, error) {
	var out []*RevisionRound
	for _, r := range t.st().rounds {
		if r.ArtifactID == artifactID {
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundNumber < out[j].RoundNumber })
	return out, nil
}

func (t *memTx) UpdateRevisionRound(_ context.Context, r *RevisionRound) error {
	if _, ok := t.st().rounds[r.ID]; !ok {
		return errors.NotFound("revision round", r.ID)
	}
	t.st().rounds[r.ID] = *r
	return nil
}

// ── comments ─────────────────────────────────────────────────────────────────

func (t *memTx) InsertComment(_ context.Context, c *Comment) error {
	c.ID = t.newID()
	c.CreatedAt = t.store.now()
	t.st().comments[c.ID] = *c
	return nil
}

func (t *memTx) GetComment(_ context.Context, id string) (*Comment, error) {
	c, ok := t.st().comments[id]
	if !ok {
		return nil, errors.NotFound("comment", id)
	}
	return &c, nil
}

func (t *memTx) ListComments(_ context.Context, versionID string) ([]*Comment, error) {
	var out []*Comment
	for _, c := range t.st().comments {
		if c.VersionID == versionID {
			out = append(out, &c)
		}
	}
	return sortedBySeq(t.st(), out, func(c *Comment) string { return c.ID }), nil
}

func (t *memTx) UpdateComment(_ context.Context, c *Comment) error {
	if _, ok := t.st().comments[c.ID]; !ok {
		return errors.NotFound("comment", c.ID)
	}
	t.st().comments[c.ID] = *c
	return nil
}

// ── templates ────────────────────────────────────────────────────────────────

func (t *memTx) InsertTemplate(_ context.Context, tpl *ApprovalTemplate) error {
	now := t.store.now()
	tpl.ID = t.newID()
	tpl.CreatedAt, tpl.UpdatedAt = now, now
	stored := *tpl
	stored.Levels = append([]ApprovalTemplateLevel(nil), tpl.Levels...)
	t.st().templates[tpl.ID] = stored
	return nil
}

func (t *memTx) ListTemplates(_ context.Context, kind ArtifactKind, activeOnly bool) ([]*ApprovalTemplate, error) {
	var out []*ApprovalTemplate
	for _, tpl := range t.st().templates {
		if tpl.Kind != kind || (activeOnly && !tpl.IsActive) {
			continue
		}
		out = append(out, &tpl)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ── audit ────────────────────────────────────────────────────────────────────

func (t *memTx) AppendAudit(_ context.Context, e *AuditEntry) error {
	e.ID = t.newID()
	e.PerformedAt = t.store.now()
	t.st().audit[e.ID] = *e
	return nil
}

func (t *memTx) ListAudit(_ context.Context, workflowID string) ([]*AuditEntry, error) {
	var out []*AuditEntry
	for _, e := range t.st().audit {
		if e.WorkflowID != nil && *e.WorkflowID == workflowID {
			out = append(out, &e)
		}
	}
	return sortedBySeq(t.st(), out, func(e *AuditEntry) string { return e.ID }), nil
}
