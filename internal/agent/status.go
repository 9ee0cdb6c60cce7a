// ABOUTME: Connection status values and reconnect backoff policy for the agent
// ABOUTME: Backoff grows linearly with the attempt number up to a cap

package agent

import "time"

// Status is the agent's connection state.
type Status string

const (
	StatusWaiting      Status = "waiting"
	StatusDetected     Status = "detected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusTimeout      Status = "timeout"
	StatusError        Status = "error"
)

// Terminal reports whether the status needs external intervention to leave.
func (s Status) Terminal() bool {
	return s == StatusError
}

// Backoff computes reconnect delays.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// Default backoff values.
const (
	DefaultBaseDelay   = 1000 * time.Millisecond
	DefaultCapDelay    = 10000 * time.Millisecond
	DefaultMaxAttempts = 10
)

// DefaultBackoff returns the reference reconnect policy.
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBaseDelay, Cap: DefaultCapDelay, MaxAttempts: DefaultMaxAttempts}
}

// Delay returns the wait before reconnect attempt n (1-based):
// min(Base*n, Cap).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := b.Base * time.Duration(n)
	if b.Cap > 0 && (d > b.Cap || d < 0) {
		return b.Cap
	}
	return d
}

// Exhausted reports whether attempt n is beyond the budget.
func (b Backoff) Exhausted(n int) bool {
	return b.MaxAttempts > 0 && n > b.MaxAttempts
}
