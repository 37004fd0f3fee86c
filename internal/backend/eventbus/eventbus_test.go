package eventbus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthropic-agentcli/agentcli-go/internal/backend"
	"github.com/anthropic-agentcli/agentcli-go/internal/wire"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New(4)
	defer b.Close()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer b.Unsubscribe(sub1)
	defer b.Unsubscribe(sub2)

	b.Publish(backend.Envelope{Message: wire.Message{Type: wire.TypeResult}})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case env := <-sub.Ch:
			require.Equal(t, wire.TypeResult, env.Message.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the published envelope")
		}
	}
}

func TestCloseEndsAllSubscriptions(t *testing.T) {
	b := New(0)
	sub := b.Subscribe()
	b.Close()

	_, ok := <-sub.Ch
	require.False(t, ok)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(4)
	defer b.Close()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Publish(backend.Envelope{Message: wire.Message{Type: wire.TypeResult}})

	select {
	case env := <-sub.Ch:
		t.Fatalf("unsubscribed subscriber should never receive further envelopes, got %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberNeverBlocksPublish(t *testing.T) {
	b := New(1)
	defer b.Close()

	sub := b.Subscribe() // never drained while publishing

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(backend.Envelope{Message: wire.Message{Type: wire.TypeResult, Result: &wire.Result{SessionID: fmt.Sprintf("s%d", i)}}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a subscriber that never drains its channel")
	}

	// The dropped subscriber's channel must close with the lag flag set so
	// its consumer can surface the drop.
	for range sub.Ch {
	}
	require.True(t, sub.Lagged())
	require.Error(t, sub.Err())
}
