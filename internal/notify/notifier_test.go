package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_PublishNoSubscribers(t *testing.T) {
	n := NewNotifier(10)
	// Should not panic and should not block
	n.Publish(Notification{Type: CycleCompleted, Requests: 1})
}

func TestNotifier_SubscribeReceivesNotification(t *testing.T) {
	n := NewNotifier(10)
	sub := n.Subscribe("sub-1")

	n.Publish(Notification{Type: CycleCompleted, Requests: 3, Succeeded: 3, Deleted: 5})

	select {
	case notif := <-sub.Ch:
		assert.Equal(t, CycleCompleted, notif.Type)
		assert.Equal(t, 5, notif.Deleted)
		assert.NotZero(t, notif.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive notification within timeout")
	}
}

func TestNotifier_TypeFilter(t *testing.T) {
	n := NewNotifier(10)
	sub := n.Subscribe("failures", CycleFailed)

	n.Publish(Notification{Type: CycleCompleted})
	n.Publish(Notification{Type: CycleFailed, Failed: 2})

	select {
	case notif := <-sub.Ch:
		assert.Equal(t, CycleFailed, notif.Type)
		assert.Equal(t, 2, notif.Failed)
	case <-time.After(time.Second):
		t.Fatal("expected a failure notification")
	}
	assert.Len(t, sub.Ch, 0)
}

func TestNotifier_FullChannelDoesNotBlock(t *testing.T) {
	n := NewNotifier(1)
	sub := n.Subscribe("slow")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			n.Publish(Notification{Type: CycleCompleted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.Len(t, sub.Ch, 1)
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := NewNotifier(10)
	sub := n.Subscribe("")
	require.NotEmpty(t, sub.ID)

	n.Unsubscribe(sub.ID)
	_, open := <-sub.Ch
	assert.False(t, open)

	// Unknown ids are ignored
	n.Unsubscribe("missing")
	n.Publish(Notification{Type: CycleFailed})
}

func TestNotificationType_String(t *testing.T) {
	assert.Equal(t, "cycle_completed", CycleCompleted.String())
	assert.Equal(t, "cycle_failed", CycleFailed.String())
	assert.Equal(t, "event_dropped", EventDropped.String())
	assert.Equal(t, "unknown", NotificationType(42).String())
}
