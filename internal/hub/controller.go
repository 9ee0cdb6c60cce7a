// ABOUTME: Controller-facing operations on the hub: send, stop, status, snapshot
// ABOUTME: Each fails fast with ErrNoAgentConnected when no agent is attached

package hub

import (
	"context"
	"errors"
	"time"

	"github.com/2389/strudel-bridge/internal/correlator"
	"github.com/2389/strudel-bridge/internal/protocol"
)

// ErrNoAgentConnected is returned when a command has nobody to go to.
var ErrNoAgentConnected = errors.New("no agent connected")

// DefaultSnapshotTimeout bounds FetchSnapshot when no timeout is given.
const DefaultSnapshotTimeout = 5000 * time.Millisecond

// Status summarizes agent connectivity.
type Status struct {
	Connected bool `json:"connected"`
	Count     int  `json:"count"`
}

// Command broadcasts msg and returns how many agents it was queued for.
// Stalled or dying peers skipped by the broadcast are not counted.
func (h *Hub) Command(msg protocol.Message) (int, error) {
	n := h.Broadcast(msg)
	if n == 0 {
		return 0, ErrNoAgentConnected
	}
	return n, nil
}

// SendCommand broadcasts execute_code to every agent.
func (h *Hub) SendCommand(code, comment string) error {
	_, err := h.Command(protocol.ExecuteCode(code, comment))
	return err
}

// Stop broadcasts stop_all to every agent.
func (h *Hub) Stop() error {
	_, err := h.Command(protocol.StopAll())
	return err
}

// ConnectionStatus reports whether any agent is connected.
func (h *Hub) ConnectionStatus() Status {
	n := h.ClientCount()
	return Status{Connected: n > 0, Count: n}
}

// FetchSnapshot returns the editor content of whichever agent answers
// first. With no agent it returns ErrNoAgentConnected at once. A timeout is
// not an error: the result is simply empty.
func (h *Hub) FetchSnapshot(ctx context.Context, timeout time.Duration) (string, error) {
	if !h.HasConnectedClients() {
		return "", ErrNoAgentConnected
	}
	if timeout <= 0 {
		timeout = DefaultSnapshotTimeout
	}

	code, err := h.RequestSnapshot(ctx, timeout)
	if errors.Is(err, correlator.ErrTimeout) {
		h.logger.Warn("snapshot request timed out", "timeout", timeout)
		return "", nil
	}
	return code, err
}
