package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"ardu-agent/internal/core/domain"
	"ardu-agent/internal/core/ports"
)

// NatsPublisher forwards settled engagement events to NATS so other
// processes can follow what the agent did.
type NatsPublisher struct {
	nc     *nats.Conn
	source string
}

func NewNatsPublisher(nc *nats.Conn, source string) *NatsPublisher {
	return &NatsPublisher{nc: nc, source: source}
}

var _ ports.Notifier = (*NatsPublisher)(nil)

// EngagementMessage is the wire contract of every published event.
type EngagementMessage struct {
	ID       string    `json:"id"`
	Source   string    `json:"source"`
	Kind     string    `json:"kind"`
	PostID   string    `json:"post_id,omitempty"`
	Reaction string    `json:"reaction,omitempty"`
	Count    int       `json:"count"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Subject returns the NATS subject for an event kind, or "" for kinds that
// are not published.
func Subject(kind domain.EventKind) string {
	switch kind {
	case domain.EventReactionConfirmed, domain.EventActionFailed, domain.EventCommentCreated:
		return "engagement." + string(kind)
	case domain.EventSessionExpired:
		return "session.expired"
	}
	return ""
}

func encode(source string, ev domain.EngagementEvent) ([]byte, error) {
	msg := EngagementMessage{
		ID:       ev.ID,
		Source:   source,
		Kind:     string(ev.Kind),
		PostID:   ev.PostID,
		Reaction: string(ev.Reaction),
		Count:    ev.Count,
		At:       ev.At,
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return json.Marshal(msg)
}

func (p *NatsPublisher) Notify(ctx context.Context, ev domain.EngagementEvent) {
	subject := Subject(ev.Kind)
	if subject == "" {
		return
	}
	data, err := encode(p.source, ev)
	if err != nil {
		slog.Error("❌ Invalid event", "kind", ev.Kind, "error", err)
		return
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	if err := p.nc.PublishMsg(msg); err != nil {
		slog.Warn("failed to publish event", "subject", subject, "error", err)
		return
	}
	slog.Debug("📢 Event published", "subject", subject, "post_id", ev.PostID)
}
