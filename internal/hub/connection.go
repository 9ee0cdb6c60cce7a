// ABOUTME: One accepted agent connection with its bounded outbound buffer
// ABOUTME: The write loop drains the buffer; a full buffer marks the peer as stalled

package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/2389/strudel-bridge/internal/protocol"
)

// wsConn is the part of *websocket.Conn the hub uses.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Connection is an agent session owned by the hub.
type Connection struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	conn  wsConn
	send  chan protocol.Message
	done  chan struct{}
	alive atomic.Bool

	mu    sync.RWMutex
	ready *protocol.ReadyInfo
}

// Info is a point-in-time view of a connection.
type Info struct {
	ID          string              `json:"id"`
	RemoteAddr  string              `json:"remote_addr"`
	ConnectedAt time.Time           `json:"connected_at"`
	Ready       *protocol.ReadyInfo `json:"ready,omitempty"`
}

func newConnection(id, remote string, conn wsConn, buffer int) *Connection {
	c := &Connection{
		ID:          id,
		RemoteAddr:  remote,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan protocol.Message, buffer),
		done:        make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// Alive reports whether the connection is still registered.
func (c *Connection) Alive() bool {
	return c.alive.Load()
}

// Info returns a snapshot of the connection.
func (c *Connection) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := Info{ID: c.ID, RemoteAddr: c.RemoteAddr, ConnectedAt: c.ConnectedAt}
	if c.ready != nil {
		r := *c.ready
		info.Ready = &r
	}
	return info
}

func (c *Connection) setReady(info protocol.ReadyInfo) {
	c.mu.Lock()
	c.ready = &info
	c.mu.Unlock()
}

// enqueue offers msg to the write loop. It reports false when the buffer is
// full or the connection is gone.
func (c *Connection) enqueue(msg protocol.Message) bool {
	if !c.alive.Load() {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// markDead flips the connection to not alive. Only the first call returns true.
func (c *Connection) markDead() bool {
	if !c.alive.CompareAndSwap(true, false) {
		return false
	}
	close(c.done)
	return true
}

func (c *Connection) writeLoop(ctx context.Context, timeout time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case msg := <-c.send:
			data, err := protocol.Encode(msg)
			if err != nil {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, timeout)
			err = c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (c *Connection) close(code websocket.StatusCode, reason string) {
	_ = c.conn.Close(code, reason)
}

// pinger is implemented by *websocket.Conn.
type pinger interface {
	Ping(ctx context.Context) error
}

// keepAlive pings p every interval until ctx is done, calling onFail after
// the first failed ping.
func keepAlive(ctx context.Context, p pinger, interval, timeout time.Duration, onFail func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, timeout)
			err := p.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					onFail(err)
				}
				return
			}
		}
	}
}
