// ABOUTME: Matches outgoing snapshot requests to their asynchronous replies
// ABOUTME: Each request id resolves exactly once, by response or by deadline

package correlator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTimeout is returned by Await when the deadline passes first.
var ErrTimeout = errors.New("no response before deadline")

type pending struct {
	ch       chan string
	deadline time.Time
}

// Correlator tracks in-flight requests keyed by request id.
//
// Resolution removes the entry under the lock before delivering, so whichever
// of Resolve or the timeout path gets there first owns the entry and the
// other finds nothing.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pending
	logger  *slog.Logger
}

// New creates a Correlator. Pass nil logger for default.
func New(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		pending: make(map[string]*pending),
		logger:  logger.With("component", "correlator"),
	}
}

// Open registers a new pending request and returns its id together with the
// channel its value will be delivered on. The caller must follow up with
// Await or Cancel.
func (c *Correlator) Open(timeout time.Duration) (string, <-chan string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.New().String()
	for _, taken := c.pending[id]; taken; _, taken = c.pending[id] {
		id = uuid.New().String()
	}

	p := &pending{
		ch:       make(chan string, 1),
		deadline: time.Now().Add(timeout),
	}
	c.pending[id] = p
	return id, p.ch
}

// Resolve delivers value to the request with the given id. It reports false
// when no such request is pending, e.g. because it already timed out.
func (c *Correlator) Resolve(id, value string) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		// Buffered with capacity 1 and written only here, so this never blocks.
		p.ch <- value
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("response for unknown request", "request_id", id)
	}
	return ok
}

// Cancel drops a pending request. It reports whether the request was still
// pending.
func (c *Correlator) Cancel(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// Await blocks until the request resolves, its deadline passes, or ctx is
// done. On every return path the request is no longer pending.
func (c *Correlator) Await(ctx context.Context, id string, ch <-chan string) (string, error) {
	c.mu.Lock()
	p, ok := c.pending[id]
	c.mu.Unlock()

	if !ok {
		// Already resolved (value waiting in ch) or never opened.
		select {
		case v := <-ch:
			return v, nil
		default:
			return "", ErrTimeout
		}
	}

	timer := time.NewTimer(time.Until(p.deadline))
	defer timer.Stop()

	select {
	case v := <-ch:
		return v, nil
	case <-timer.C:
		return c.expire(id, ch, ErrTimeout)
	case <-ctx.Done():
		return c.expire(id, ch, ctx.Err())
	}
}

// expire removes the entry. If Resolve won the race the delivered value is
// returned instead of the error.
func (c *Correlator) expire(id string, ch <-chan string, cause error) (string, error) {
	if c.Cancel(id) {
		c.logger.Debug("request expired", "request_id", id, "cause", cause)
		return "", cause
	}
	return <-ch, nil
}

// Pending returns the number of unresolved requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
