// ABOUTME: Relay hub that accepts agent WebSockets and brokers controller commands
// ABOUTME: Broadcast never blocks; stalled or failed peers are removed individually

package hub

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/2389/strudel-bridge/internal/correlator"
	"github.com/2389/strudel-bridge/internal/events"
	"github.com/2389/strudel-bridge/internal/metrics"
	"github.com/2389/strudel-bridge/internal/protocol"
)

// Defaults for Options.
const (
	DefaultSendBuffer   = 64
	DefaultWriteTimeout = 15 * time.Second
	DefaultReadLimit    = 1 << 20
	pingTimeout         = 5 * time.Second
)

// Options tunes the hub.
type Options struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration // 0 disables protocol pings
	ReadLimit      int64
	OriginPatterns []string
}

// Hub holds the set of live agent connections.
type Hub struct {
	opts       Options
	mu         sync.RWMutex
	conns      map[string]*Connection
	correlator *correlator.Correlator
	events     *events.Broadcaster
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a hub. ev and m may be nil. Pass nil logger for default.
func New(opts Options, ev *events.Broadcaster, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	return &Hub{
		opts:       opts,
		conns:      make(map[string]*Connection),
		correlator: correlator.New(logger),
		events:     ev,
		metrics:    m,
		logger:     logger.With("component", "hub"),
	}
}

// ServeHTTP upgrades the request to an agent session and serves it until
// the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(h.opts.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := h.register(ws, r.RemoteAddr)
	if h.opts.PingInterval > 0 {
		go keepAlive(ctx, ws, h.opts.PingInterval, pingTimeout, func(err error) {
			h.logger.Info("agent stopped answering pings", "conn_id", c.ID, "error", err)
			cancel()
		})
	}
	h.serve(ctx, c)
}

// register adds a connection with the welcome message already queued, so it
// is always the first frame the agent sees.
func (h *Hub) register(conn wsConn, remote string) *Connection {
	c := newConnection(uuid.NewString(), remote, conn, h.opts.SendBuffer)
	c.enqueue(protocol.Connected(protocol.WelcomeText))

	h.mu.Lock()
	h.conns[c.ID] = c
	n := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("agent connected", "conn_id", c.ID, "remote", remote, "clients", n)
	h.metrics.SetAgents(n)
	h.publish(events.New(events.KindConnected, c.ID))
	return c
}

// serve runs the read loop with a write loop beside it. Either ending ends
// the connection.
func (h *Hub) serve(ctx context.Context, c *Connection) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := c.writeLoop(ctx, h.opts.WriteTimeout); err != nil && ctx.Err() == nil {
			h.logger.Warn("write to agent failed", "conn_id", c.ID, "error", err)
		}
		cancel()
	}()

	h.readLoop(ctx, c)
	h.remove(c)
	c.close(websocket.StatusNormalClosure, "")
}

func (h *Hub) readLoop(ctx context.Context, c *Connection) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				h.logger.Debug("agent closed connection", "conn_id", c.ID, "status", status)
			} else if ctx.Err() == nil {
				h.logger.Debug("read from agent failed", "conn_id", c.ID, "error", err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			h.logger.Warn("failed to parse agent message", "conn_id", c.ID, "error", err)
			continue
		}
		h.metrics.Received(string(msg.Type))
		h.handleMessage(c, msg)
	}
}

func (h *Hub) handleMessage(c *Connection, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeCurrentCode:
		h.correlator.Resolve(msg.RequestID, msg.Code)

	case protocol.TypeBrowserReady:
		info, err := msg.ReadyInfo()
		if err != nil {
			h.logger.Warn("malformed browser_ready", "conn_id", c.ID, "error", err)
			return
		}
		c.setReady(info)
		h.logger.Info("browser ready",
			"conn_id", c.ID,
			"url", info.URL,
			"editor", info.EditorType,
			"strudel_detected", info.StrudelDetected,
			"version", info.Version)
		ev := events.New(events.KindReady, c.ID)
		ev.Ready = &info
		h.publish(ev)

	case protocol.TypeExecResult:
		res, err := msg.Result()
		if err != nil {
			h.logger.Warn("malformed execution_result", "conn_id", c.ID, "error", err)
			return
		}
		if res.Success {
			h.logger.Info("execution succeeded", "conn_id", c.ID, "action", res.Action)
		} else {
			h.logger.Warn("execution failed", "conn_id", c.ID, "action", res.Action, "error", res.Error)
		}
		h.metrics.Result(res.Action, res.Success)
		ev := events.New(events.KindResult, c.ID)
		ev.Result = &res
		h.publish(ev)

	case protocol.TypeHealthCheck:
		if !c.enqueue(protocol.HealthResponse()) {
			h.logger.Debug("could not queue health response", "conn_id", c.ID)
		}

	case protocol.TypeError:
		h.logger.Error("agent reported error", "conn_id", c.ID, "error", msg.ErrorText())

	default:
		h.logger.Debug("unhandled message", "conn_id", c.ID, "type", msg.Type)
	}
}

// remove unregisters c. It reports false if c was already gone.
func (h *Hub) remove(c *Connection) bool {
	h.mu.Lock()
	if cur, ok := h.conns[c.ID]; !ok || cur != c {
		h.mu.Unlock()
		return false
	}
	delete(h.conns, c.ID)
	n := len(h.conns)
	h.mu.Unlock()

	c.markDead()
	h.logger.Info("agent disconnected", "conn_id", c.ID, "clients", n)
	h.metrics.SetAgents(n)
	h.publish(events.New(events.KindDisconnected, c.ID))
	return true
}

func (h *Hub) publish(ev events.Event) {
	if h.events != nil {
		h.events.Publish(ev)
	}
}

// Broadcast queues msg for every live connection and returns how many
// accepted it. A connection with a full buffer is removed.
func (h *Hub) Broadcast(msg protocol.Message) int {
	h.mu.RLock()
	var stalled []*Connection
	sent := 0
	for _, c := range h.conns {
		if !c.Alive() {
			continue
		}
		if c.enqueue(msg) {
			sent++
		} else {
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		if h.remove(c) {
			h.logger.Warn("dropping stalled agent, send buffer full", "conn_id", c.ID)
			h.metrics.Dropped()
			// Close can wait on the peer's handshake; the peer is stalled.
			go c.close(websocket.StatusPolicyViolation, "send buffer full")
		}
	}

	if sent > 0 {
		h.metrics.Sent(string(msg.Type))
	}
	h.logger.Debug("broadcast", "type", msg.Type, "recipients", sent)
	return sent
}

// HasConnectedClients reports whether at least one agent is connected.
func (h *Hub) HasConnectedClients() bool {
	return h.ClientCount() > 0
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Connections lists live connections, oldest first.
func (h *Hub) Connections() []Info {
	h.mu.RLock()
	out := make([]Info, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c.Info())
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// PendingSnapshots returns the number of snapshot requests awaiting a reply.
func (h *Hub) PendingSnapshots() int {
	return h.correlator.Pending()
}

// RequestSnapshot asks every agent for its editor content and returns the
// first reply. On timeout it returns "" and correlator.ErrTimeout.
func (h *Hub) RequestSnapshot(ctx context.Context, timeout time.Duration) (string, error) {
	start := time.Now()
	id, ch := h.correlator.Open(timeout)
	h.Broadcast(protocol.GetCurrentCode(id))

	code, err := h.correlator.Await(ctx, id, ch)
	h.metrics.Snapshot(time.Since(start), errors.Is(err, correlator.ErrTimeout))
	return code, err
}

// Close ends every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if h.remove(c) {
			go c.close(websocket.StatusGoingAway, "server shutting down")
		}
	}
}
