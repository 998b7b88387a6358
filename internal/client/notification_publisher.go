package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-ops-approvals/internal/service"
)

// streamPublisher is the part of jetstream.JetStream the publisher needs.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NotificationPublisher publishes approval workflow events to NATS JetStream
// for consumption by the notifications service.
//
// Subject convention: <prefix>.<event>, e.g.
// notifications.approvals.approval_required
type NotificationPublisher struct {
	conn   *nats.Conn
	js     streamPublisher
	prefix string
	log    *logger.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType     string            `json:"event_type"`
	ActorID       string            `json:"actor_id"`
	Recipients    []string          `json:"recipients"`
	ResourceType  string            `json:"resource_type"`
	ResourceID    string            `json:"resource_id"`
	ArtifactID    string            `json:"artifact_id"`
	VersionNumber int               `json:"version_number"`
	LevelID       string            `json:"level_id,omitempty"`
	IsActionable  bool              `json:"is_actionable,omitempty"`
	Severity      string            `json:"severity"`
	Category      string            `json:"category"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Payload       map[string]string `json:"payload,omitempty"`
}

// PublisherConfig locates the NATS server and the stream to publish on.
type PublisherConfig struct {
	URL           string
	Stream        string
	SubjectPrefix string
	ClientName    string
}

// NewNotificationPublisher connects to NATS and makes sure the stream that
// captures the subject prefix exists.
func NewNotificationPublisher(ctx context.Context, cfg PublisherConfig, log *logger.Logger) (*NotificationPublisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}

	log.Info().
		Str("url", nc.ConnectedUrl()).
		Str("stream", cfg.Stream).
		Str("subject_prefix", cfg.SubjectPrefix).
		Msg("NATS notification publisher ready")

	return &NotificationPublisher{conn: nc, js: js, prefix: cfg.SubjectPrefix, log: log}, nil
}

func newPublisher(js streamPublisher, prefix string, log *logger.Logger) *NotificationPublisher {
	return &NotificationPublisher{js: js, prefix: prefix, log: log}
}

// Notify publishes one workflow notification. Redeliveries of the same
// notification are deduplicated by JetStream through the message id.
func (p *NotificationPublisher) Notify(ctx context.Context, n service.Notification) error {
	if len(n.Recipients) == 0 {
		return nil
	}

	data, err := json.Marshal(eventOf(n))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, n.Event)
	msgID := fmt.Sprintf("%s:%s:%s:%d", n.WorkflowID, n.Event, n.LevelID, n.OccurredAt.UnixNano())
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("workflow_id", n.WorkflowID).
		Int("recipients", len(n.Recipients)).
		Msg("notification: event published")
	return nil
}

// Close drains the connection.
func (p *NotificationPublisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.log.Warn().Err(err).Msg("NATS drain failed")
		}
	}
}

func eventOf(n service.Notification) *NotificationEvent {
	recipients := make([]string, 0, len(n.Recipients))
	for _, r := range n.Recipients {
		recipients = append(recipients, string(r.Type)+":"+r.Ref)
	}
	severity := "info"
	if n.Event == service.EventRejected {
		severity = "warning"
	}
	return &NotificationEvent{
		EventType:     string(n.Event),
		ActorID:       n.ActorID,
		Recipients:    recipients,
		ResourceType:  "approval_workflow",
		ResourceID:    n.WorkflowID,
		ArtifactID:    n.ArtifactID,
		VersionNumber: n.VersionNumber,
		LevelID:       n.LevelID,
		IsActionable:  n.Event == service.EventApprovalRequired || n.Event == service.EventRevisionRequested,
		Severity:      severity,
		Category:      "approvals",
		OccurredAt:    n.OccurredAt,
		Payload:       n.Payload,
	}
}

// LogNotifier writes notifications to the log. It stands in for the
// publisher when no NATS server is configured.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, n service.Notification) error {
	l.log.Info().
		Str("event", string(n.Event)).
		Str("workflow_id", n.WorkflowID).
		Str("level_id", n.LevelID).
		Int("recipients", len(n.Recipients)).
		Msg("notification")
	return nil
}
