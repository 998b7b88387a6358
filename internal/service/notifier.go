package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-ops-approvals/internal/repository"
)

// Event names a workflow notification.
type Event string

const (
	EventSubmitted         Event = "workflow_submitted"
	EventApprovalRequired  Event = "approval_required"
	EventApproved          Event = "workflow_approved"
	EventRejected          Event = "workflow_rejected"
	EventRevisionRequested Event = "revision_requested"
)

// Recipient addresses one notification target: a user, a client contact or
// everyone holding a role.
type Recipient struct {
	Type repository.ApproverType `json:"type"`
	Ref  string                  `json:"ref"`
}

// Notification is the outbound trigger handed to the notification service.
type Notification struct {
	Event         Event             `json:"event"`
	WorkflowID    string            `json:"workflow_id"`
	ArtifactID    string            `json:"artifact_id"`
	VersionNumber int               `json:"version_number"`
	LevelID       string            `json:"level_id,omitempty"`
	ActorID       string            `json:"actor_id"`
	Recipients    []Recipient       `json:"recipients"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Payload       map[string]string `json:"payload,omitempty"`
}

// Notifier delivers notifications. Failures are logged by the caller and
// never roll back the transition that produced them.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }

// recipientsOf lists the distinct approvers of a level.
func recipientsOf(approvers []*repository.Approver) []Recipient {
	seen := make(map[Recipient]bool, len(approvers))
	out := make([]Recipient, 0, len(approvers))
	for _, a := range approvers {
		r := Recipient{Type: a.Type, Ref: a.Ref}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func ownerRecipient(wf *repository.Workflow) []Recipient {
	return []Recipient{{Type: repository.ApproverEmployee, Ref: wf.CreatedBy}}
}
