package repository

import "time"

// ── Enumerations ─────────────────────────────────────────────────────────────

// ArtifactKind distinguishes quotes from deliverables.
type ArtifactKind string

const (
	ArtifactQuote       ArtifactKind = "quote"
	ArtifactDeliverable ArtifactKind = "deliverable"
)

func (k ArtifactKind) Valid() bool {
	return k == ArtifactQuote || k == ArtifactDeliverable
}

// WorkflowType is simple (single gate) or multi-level.
type WorkflowType string

const (
	WorkflowSimple     WorkflowType = "simple"
	WorkflowMultiLevel WorkflowType = "multi-level"
)

func (t WorkflowType) Valid() bool {
	return t == WorkflowSimple || t == WorkflowMultiLevel
}

// WorkflowStatus is the overall workflow state.
type WorkflowStatus string

const (
	WorkflowDraft             WorkflowStatus = "draft"
	WorkflowInReview          WorkflowStatus = "in_review"
	WorkflowRevisionRequested WorkflowStatus = "revision_requested"
	WorkflowApproved          WorkflowStatus = "approved"
	WorkflowRejected          WorkflowStatus = "rejected"
)

// Terminal reports whether no further transitions are accepted.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowApproved || s == WorkflowRejected
}

// LevelStatus is the state of one approval level.
type LevelStatus string

const (
	LevelPending  LevelStatus = "pending"
	LevelApproved LevelStatus = "approved"
	LevelRejected LevelStatus = "rejected"
	LevelSkipped  LevelStatus = "skipped"
)

// Resolved reports whether the level no longer blocks later levels.
func (s LevelStatus) Resolved() bool {
	return s == LevelApproved || s == LevelSkipped
}

// Terminal reports whether the level accepts no more decisions.
func (s LevelStatus) Terminal() bool {
	return s != LevelPending
}

// ApproverType identifies who an approver reference points at.
type ApproverType string

const (
	ApproverClient   ApproverType = "client"
	ApproverEmployee ApproverType = "employee"
	ApproverRole     ApproverType = "role"
)

func (t ApproverType) Valid() bool {
	return t == ApproverClient || t == ApproverEmployee || t == ApproverRole
}

// Decision is an individual approver's verdict.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ── Records ──────────────────────────────────────────────────────────────────

// Artifact is the logical subject under review.
type Artifact struct {
	ID              string       `json:"id"`
	Kind            ArtifactKind `json:"kind"`
	ProjectID       string       `json:"project_id"`
	Title           string       `json:"title"`
	Currency        string       `json:"currency"`
	AcceptedVersion *int         `json:"accepted_version,omitempty"`
	AcceptedTotal   *int64       `json:"accepted_total,omitempty"` // minor units; quotes only
	CreatedBy       string       `json:"created_by"`
	ArchivedAt      *time.Time   `json:"archived_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Version is an immutable snapshot of an artifact.
type Version struct {
	ID            string         `json:"id"`
	ArtifactID    string         `json:"artifact_id"`
	VersionNumber int            `json:"version_number"`
	Content       Content        `json:"content"`
	ChangeLog     string         `json:"change_log"`
	Status        WorkflowStatus `json:"status"` // mirror of the bound workflow
	CreatedBy     string         `json:"created_by"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Workflow is the approval process bound to one version.
type Workflow struct {
	ID               string         `json:"id"`
	ArtifactID       string         `json:"artifact_id"`
	VersionID        string         `json:"version_id"`
	VersionNumber    int            `json:"version_number"`
	Type             WorkflowType   `json:"type"`
	Status           WorkflowStatus `json:"status"` // cache; levels are authoritative
	CurrentStep      int            `json:"current_step"`
	TotalSteps       int            `json:"total_steps"`
	IsCurrent        bool           `json:"is_current"`
	SourceWorkflowID *string        `json:"source_workflow_id,omitempty"`
	CreatedBy        string         `json:"created_by"`
	SubmittedBy      *string        `json:"submitted_by,omitempty"`
	SubmittedAt      *time.Time     `json:"submitted_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	ApprovedBy       *string        `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`
	SentAt           *time.Time     `json:"sent_at,omitempty"`
	Revision         int            `json:"revision"` // optimistic lock
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Level is one sequential approval gate.
type Level struct {
	ID          string      `json:"id"`
	WorkflowID  string      `json:"workflow_id"`
	StepNumber  int         `json:"step_number"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Status      LevelStatus `json:"status"`
	SkipReason  *string     `json:"skip_reason,omitempty"`
	DecidedAt   *time.Time  `json:"decided_at,omitempty"`
	Revision    int         `json:"revision"` // optimistic lock
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Approver is a person or role attached to a level.
type Approver struct {
	ID           string       `json:"id"`
	WorkflowID   string       `json:"workflow_id"`
	LevelID      string       `json:"level_id"`
	Type         ApproverType `json:"type"`
	Ref          string       `json:"ref"` // user id, client contact id or role name
	DisplayName  string       `json:"display_name"`
	Required     bool         `json:"required"`
	Decision     Decision     `json:"decision"`
	DecisionNote *string      `json:"decision_note,omitempty"`
	DecidedBy    *string      `json:"decided_by,omitempty"`
	DecidedAt    *time.Time   `json:"decided_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ChecklistItem is a named pass/fail gate on a level.
type ChecklistItem struct {
	ID          string     `json:"id"`
	WorkflowID  string     `json:"workflow_id"`
	LevelID     string     `json:"level_id"`
	Name        string     `json:"name"`
	Category    string     `json:"category"`
	Required    bool       `json:"required"`
	Satisfied   bool       `json:"satisfied"`
	SatisfiedBy *string    `json:"satisfied_by,omitempty"`
	SatisfiedAt *time.Time `json:"satisfied_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Comment is feedback on a version or on one of its levels.
type Comment struct {
	ID         string       `json:"id"`
	VersionID  string       `json:"version_id"`
	LevelID    *string      `json:"level_id,omitempty"`
	ParentID   *string      `json:"parent_id,omitempty"`
	AuthorType ApproverType `json:"author_type"`
	AuthorID   string       `json:"author_id"`
	AuthorName string       `json:"author_name"`
	Body       string       `json:"body"`
	Resolved   bool         `json:"resolved"`
	ResolvedBy *string      `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// RevisionRound is one numbered feedback-then-resubmission cycle.
type RevisionRound struct {
	ID                string     `json:"id"`
	ArtifactID        string     `json:"artifact_id"`
	WorkflowID        string     `json:"workflow_id"`
	RoundNumber       int        `json:"round_number"`
	Summary           string     `json:"summary"`
	RequestedBy       string     `json:"requested_by"`
	RequestedAt       time.Time  `json:"requested_at"`
	ResolvedByVersion *int       `json:"resolved_by_version,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

// ApprovalTemplateLevel is one level definition inside a template.
type ApprovalTemplateLevel struct {
	Name        string                      `json:"name"`
	Description string                      `json:"description,omitempty"`
	Required    bool                        `json:"required"`
	Approvers   []ApprovalTemplateApprover  `json:"approvers"`
	Checklist   []ApprovalTemplateChecklist `json:"checklist,omitempty"`
}

type ApprovalTemplateApprover struct {
	Type        ApproverType `json:"type"`
	Ref         string       `json:"ref"`
	DisplayName string       `json:"display_name,omitempty"`
	Required    bool         `json:"required"`
}

type ApprovalTemplateChecklist struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Required bool   `json:"required"`
}

// ApprovalTemplate is a routing rule that supplies levels for new workflows.
type ApprovalTemplate struct {
	ID           string                  `json:"id"`
	Kind         ArtifactKind            `json:"kind"`
	Name         string                  `json:"name"`
	IsActive     bool                    `json:"is_active"`
	Priority     int                     `json:"priority"`             // lower = evaluated first
	MinAmount    *int64                  `json:"min_amount,omitempty"` // minor units; nil = no lower bound
	MaxAmount    *int64                  `json:"max_amount,omitempty"` // minor units; nil = no upper bound
	WorkflowType WorkflowType            `json:"workflow_type"`
	Levels       []ApprovalTemplateLevel `json:"levels"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID           string         `json:"id"`
	ArtifactID   string         `json:"artifact_id"`
	WorkflowID   *string        `json:"workflow_id,omitempty"`
	LevelID      *string        `json:"level_id,omitempty"`
	Action       string         `json:"action"`
	PerformedBy  string         `json:"performed_by"`
	PerformedAt  time.Time      `json:"performed_at"`
	StatusBefore *string        `json:"status_before,omitempty"`
	StatusAfter  *string        `json:"status_after,omitempty"`
	Metadata     map[string]any `json:"metadata"`
}
