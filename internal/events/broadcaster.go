// ABOUTME: In-memory fan-out of hub lifecycle events to any number of subscribers
// ABOUTME: Publishing never blocks; slow subscribers lose events instead

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/strudel-bridge/internal/protocol"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Kind names what happened on the hub.
type Kind string

const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindReady        Kind = "ready"
	KindResult       Kind = "result"
)

// Event is one hub occurrence. Ready and Result are set for their kinds.
type Event struct {
	ID     string
	Kind   Kind
	ConnID string
	At     time.Time
	Ready  *protocol.ReadyInfo
	Result *protocol.ExecutionResult
}

// New stamps an event with an id and the current time.
func New(kind Kind, connID string) Event {
	return Event{ID: uuid.NewString(), Kind: kind, ConnID: connID, At: time.Now()}
}

// Broadcaster delivers every published event to every subscriber.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	buffer int
	closed bool
	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[string]chan Event),
		buffer: DefaultBuffer,
		logger: logger.With("component", "events"),
	}
}

// Subscribe registers a subscriber until ctx is done or Unsubscribe is
// called, at which point the channel is closed.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Event, string) {
	id := uuid.NewString()
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, id
	}
	b.subs[id] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", id)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(id)
	}()
	return ch, id
}

// Publish offers ev to each subscriber without blocking.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber", "sub_id", id, "kind", ev.Kind)
		}
	}
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
	b.logger.Debug("subscriber removed", "sub_id", id)
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	b.closed = true
}
