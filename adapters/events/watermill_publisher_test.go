package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/layer-3/warden/core"
	"github.com/stretchr/testify/require"
)

func TestWatermillPublisher_Publish(t *testing.T) {
	t.Parallel()

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, "test.topic")
	require.NoError(t, err)

	at := time.UnixMilli(1735725600000)
	pub := NewWatermillPublisher(pubSub, "test.topic")
	done := make(chan error, 1)
	go func() {
		done <- pub.Publish(ctx, core.Event{
			Type:      core.EventSessionExpired,
			SessionID: "sess-1",
			UserID:    "user-1",
			Reason:    core.ReasonInactivity,
			At:        at,
		})
	}()

	select {
	case msg := <-messages:
		require.Equal(t, string(core.EventSessionExpired), msg.Metadata.Get("type"))

		var got SessionEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		require.Equal(t, SessionEvent{
			Type:      "session.expired",
			SessionID: "sess-1",
			UserID:    "user-1",
			Reason:    "inactivity",
			AtMs:      at.UnixMilli(),
		}, got)
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("event was not delivered")
	}

	require.NoError(t, <-done)
}

func TestWatermillPublisher_DefaultTopic(t *testing.T) {
	t.Parallel()

	pub := NewWatermillPublisher(gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}), "")
	require.Equal(t, DefaultTopic, pub.(*WatermillPublisher).topic)
}
