package notifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribeWaitNotify(t *testing.T) {
	n := New()
	sub := n.Subscribe([]byte("k"))
	defer sub.Release()

	done := make(chan error, 1)
	go func() {
		done <- sub.Wait(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	n.Notify([]byte("k"))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not unblock after notify")
	}
}

func TestNotifyUnknownKeyIsNoop(t *testing.T) {
	n := New()
	require.NotPanics(t, func() {
		n.Notify([]byte("never-subscribed"))
	})
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	n := New()
	sub := n.Subscribe([]byte("k"))
	defer sub.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sub.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSharedSubscribersAndEviction(t *testing.T) {
	n := New()
	s1 := n.Subscribe([]byte("k"))
	s2 := n.Subscribe([]byte("k"))

	n.mu.RLock()
	e := n.entries["k"]
	n.mu.RUnlock()
	require.Equal(t, 2, e.refs)

	s1.Release()
	n.mu.RLock()
	_, stillPresent := n.entries["k"]
	n.mu.RUnlock()
	require.True(t, stillPresent, "entry should survive while one subscriber remains")

	s2.Release()
	n.mu.RLock()
	_, present := n.entries["k"]
	n.mu.RUnlock()
	require.False(t, present, "entry should be evicted once refs reach zero")
}

func TestCoalescedNotifications(t *testing.T) {
	n := New()
	sub := n.Subscribe([]byte("k"))
	defer sub.Release()

	n.Notify([]byte("k"))
	n.Notify([]byte("k"))
	n.Notify([]byte("k"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sub.Wait(ctx))
}
