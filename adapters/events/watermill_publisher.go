package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

// DefaultTopic is the topic session events are published to
const DefaultTopic = "warden.session"

// SessionEvent is the wire form of a session lifecycle event
type SessionEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Reason    string `json:"reason,omitempty"`
	AtMs      int64  `json:"at_ms"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill publisher. An empty topic uses DefaultTopic.
func NewWatermillPublisher(publisher message.Publisher, topic string) ports.EventPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &WatermillPublisher{
		publisher: publisher,
		topic:     topic,
	}
}

// Publish publishes a session event
func (p *WatermillPublisher) Publish(ctx context.Context, event core.Event) error {
	payload, err := json.Marshal(SessionEvent{
		Type:      string(event.Type),
		SessionID: event.SessionID,
		UserID:    event.UserID,
		Reason:    string(event.Reason),
		AtMs:      event.At.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("type", string(event.Type))
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Nop drops every event
type Nop struct{}

// Publish does nothing
func (Nop) Publish(context.Context, core.Event) error { return nil }
