// ABOUTME: Tests for the hub event broadcaster
// ABOUTME: Covers fan-out, slow subscribers, unsubscription and close

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublish_FansOut(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	a, _ := b.Subscribe(t.Context())
	c, _ := b.Subscribe(t.Context())

	ev := New(KindConnected, "conn-1")
	b.Publish(ev)

	assert.Equal(t, ev, receive(t, a))
	assert.Equal(t, ev, receive(t, c))
	assert.NotEmpty(t, ev.ID)
}

func TestPublish_NoSubscribers(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	assert.NotPanics(t, func() { b.Publish(New(KindReady, "x")) })
}

func TestPublish_FullSubscriberDropsEvents(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	slow, _ := b.Subscribe(t.Context())

	done := make(chan struct{})
	go func() {
		for range DefaultBuffer + 10 {
			b.Publish(New(KindResult, "c"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, slow, DefaultBuffer)
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, id := b.Subscribe(t.Context())
	b.Unsubscribe(id)
	b.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers())
}

func TestSubscribe_ContextCancel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(t.Context())
	ch, _ := b.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool { return b.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestClose(t *testing.T) {
	b := NewBroadcaster(nil)
	ch, id := b.Subscribe(t.Context())
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)
	assert.NotPanics(t, func() { b.Unsubscribe(id) })

	late, _ := b.Subscribe(t.Context())
	_, ok = <-late
	assert.False(t, ok)
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(t.Context())
			ch, _ := b.Subscribe(ctx)
			cancel()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			for range 20 {
				b.Publish(New(KindResult, "c"))
			}
		}()
	}
	wg.Wait()
}
