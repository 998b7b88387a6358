package repository

import "context"

// Store is the transactional persistence boundary of the approval engine.
// Every operation that must be atomic (version + workflow creation, a level
// decision and its workflow cascade) runs inside one InTx call.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes available inside a transaction.
//
// Get* methods return an errors.ErrCodeNotFound error for unknown ids.
// Update methods on workflows and levels compare the record's Revision with
// the stored one and fail with errors.ErrCodeConcurrencyConflict on mismatch;
// on success they bump Revision on the passed record.
type Tx interface {
	InsertArtifact(ctx context.Context, a *Artifact) error
	GetArtifact(ctx context.Context, id string) (*Artifact, error)
	UpdateArtifact(ctx context.Context, a *Artifact) error

	InsertVersion(ctx context.Context, v *Version) error
	GetVersion(ctx context.Context, id string) (*Version, error)
	// MaxVersionNumber returns 0 when the artifact has no versions.
	MaxVersionNumber(ctx context.Context, artifactID string) (int, error)
	ListVersions(ctx context.Context, artifactID string) ([]*Version, error)
	UpdateVersionStatus(ctx context.Context, id string, status WorkflowStatus) error

	InsertWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	// LockWorkflow reads the workflow and holds it until the transaction ends.
	LockWorkflow(ctx context.Context, id string) (*Workflow, error)
	GetWorkflowByVersion(ctx context.Context, versionID string) (*Workflow, error)
	GetCurrentWorkflow(ctx context.Context, artifactID string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *Workflow) error

	InsertLevel(ctx context.Context, l *Level) error
	GetLevel(ctx context.Context, id string) (*Level, error)
	// ListLevels returns levels ordered by step number.
	ListLevels(ctx context.Context, workflowID string) ([]*Level, error)
	UpdateLevel(ctx context.Context, l *Level) error

	InsertApprover(ctx context.Context, a *Approver) error
	GetApprover(ctx context.Context, id string) (*Approver, error)
	ListApprovers(ctx context.Context, workflowID string) ([]*Approver, error)
	// UpdateApproverDecision writes a decision only over a pending one and
	// fails with a concurrency conflict otherwise.
	UpdateApproverDecision(ctx context.Context, a *Approver) error

	InsertChecklistItem(ctx context.Context, item *ChecklistItem) error
	GetChecklistItem(ctx context.Context, id string) (*ChecklistItem, error)
	ListChecklistItems(ctx context.Context, workflowID string) ([]*ChecklistItem, error)
	UpdateChecklistItem(ctx context.Context, item *ChecklistItem) error

	InsertRevisionRound(ctx context.Context, r *RevisionRound) error
	GetRevisionRound(ctx context.Context, id string) (*RevisionRound, error)
	// LastRoundNumber returns 0 when the artifact lineage has no rounds.
	LastRoundNumber(ctx context.Context, artifactID string) (int, error)
	// OpenRevisionRound returns nil, nil when the workflow has no unresolved round.
	OpenRevisionRound(ctx context.Context, workflowID string) (*RevisionRound, error)
	ListRevisionRounds(ctx context.Context, artifactID string) ([]*RevisionRound, error)
	UpdateRevisionRound(ctx context.Context, r *RevisionRound) error

	InsertComment(ctx context.Context, c *Comment) error
	GetComment(ctx context.Context, id string) (*Comment, error)
	ListComments(ctx context.Context, versionID string) ([]*Comment, error)
	UpdateComment(ctx context.Context, c *Comment) error

	InsertTemplate(ctx context.Context, t *ApprovalTemplate) error
	// ListTemplates returns templates ordered by priority, then name.
	ListTemplates(ctx context.Context, kind ArtifactKind, activeOnly bool) ([]*ApprovalTemplate, error)

	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, workflowID string) ([]*AuditEntry, error)
}
