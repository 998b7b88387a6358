package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
	"github.com/pesio-ai/be-ops-approvals/internal/service"
)

type published struct {
	subject string
	data    []byte
	opts    int
}

type fakeStream struct {
	msgs []published
	err  error
}

func (f *fakeStream) Publish(_ context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data, opts: len(opts)})
	return &jetstream.PubAck{Stream: "NOTIFICATIONS", Sequence: uint64(len(f.msgs))}, nil
}

func sample() service.Notification {
	return service.Notification{
		Event:         service.EventApprovalRequired,
		WorkflowID:    "wf-1",
		ArtifactID:    "art-1",
		VersionNumber: 2,
		LevelID:       "lvl-1",
		ActorID:       "emp-1",
		Recipients: []service.Recipient{
			{Type: repository.ApproverEmployee, Ref: "emp-2"},
			{Type: repository.ApproverRole, Ref: "finance"},
		},
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:    map[string]string{"level_name": "Internal review"},
	}
}

func TestNotifyPublishesEvent(t *testing.T) {
	js := &fakeStream{}
	p := newPublisher(js, "notifications.approvals", logger.NewNop())

	if err := p.Notify(context.Background(), sample()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(js.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(js.msgs))
	}
	msg := js.msgs[0]
	if msg.subject != "notifications.approvals.approval_required" {
		t.Fatalf("unexpected subject %q", msg.subject)
	}
	if msg.opts != 1 {
		t.Fatalf("expected a message id option, got %d options", msg.opts)
	}

	var ev NotificationEvent
	if err := json.Unmarshal(msg.data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.ResourceID != "wf-1" || ev.VersionNumber != 2 || !ev.IsActionable {
		t.Fatalf("unexpected event %+v", ev)
	}
	if len(ev.Recipients) != 2 || ev.Recipients[1] != "role:finance" {
		t.Fatalf("unexpected recipients %v", ev.Recipients)
	}
	if ev.Payload["level_name"] != "Internal review" {
		t.Fatalf("expected payload carried, got %v", ev.Payload)
	}
}

func TestNotifySkipsEmptyRecipients(t *testing.T) {
	js := &fakeStream{}
	p := newPublisher(js, "notifications.approvals", logger.NewNop())

	n := sample()
	n.Recipients = nil
	if err := p.Notify(context.Background(), n); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(js.msgs) != 0 {
		t.Fatalf("expected nothing published, got %d", len(js.msgs))
	}
}

func TestNotifyReturnsPublishError(t *testing.T) {
	boom := stderrors.New("no responders")
	p := newPublisher(&fakeStream{err: boom}, "notifications.approvals", logger.NewNop())

	if err := p.Notify(context.Background(), sample()); !stderrors.Is(err, boom) {
		t.Fatalf("expected publish error, got %v", err)
	}
}
