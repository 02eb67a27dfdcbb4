package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Event types published by the workflow engine.
const (
	EventApprovalSubmitted = "approval_submitted"
	EventApprovalRequired  = "approval_required"
	EventApprovalApproved  = "approval_approved"
	EventApprovalRejected  = "approval_rejected"
	EventOrderPicked       = "order_picked"
	EventOrderCompleted    = "order_completed"
	EventOrderCancelled    = "order_cancelled"
)

// Publisher is the subset of *nats.Conn the notification publisher needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NotificationPublisher publishes workflow events to NATS.
//
// Subject convention: <prefix>.<event_type>, by default
// notifications.workflow.approval_required and so on.
//
// Publishing never fails the caller: errors are logged and dropped so a
// notification outage cannot interrupt approvals or pickups.
type NotificationPublisher struct {
	conn   Publisher
	prefix string
	log    zerolog.Logger
	now    func() time.Time
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients,omitempty"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. A nil conn disables
// publishing.
func NewNotificationPublisher(conn Publisher, prefix string, log zerolog.Logger) *NotificationPublisher {
	if prefix == "" {
		prefix = "notifications.workflow"
	}
	return &NotificationPublisher{conn: conn, prefix: prefix, log: log, now: time.Now}
}

// Connect dials NATS and returns a publisher on the connection. An empty url
// yields a disabled publisher and a nil connection.
func Connect(url, prefix, name string, log zerolog.Logger) (*NotificationPublisher, *nats.Conn, error) {
	if url == "" {
		return NewNotificationPublisher(nil, prefix, log), nil, nil
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("notification: NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("notification: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return NewNotificationPublisher(nc, prefix, log), nc, nil
}

// Enabled reports whether events are actually sent.
func (p *NotificationPublisher) Enabled() bool {
	return p != nil && p.conn != nil
}

// Publish sends one event to <prefix>.<event.EventType>.
func (p *NotificationPublisher) Publish(ctx context.Context, event NotificationEvent) {
	if !p.Enabled() {
		return
	}
	if ctx.Err() != nil {
		p.log.Warn().Err(ctx.Err()).Str("event_type", event.EventType).Msg("notification: context done, event dropped")
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = "info"
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, event.EventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", event.ResourceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", event.ResourceID).
		Int("recipients", len(event.Recipients)).
		Msg("notification: event published")
}
