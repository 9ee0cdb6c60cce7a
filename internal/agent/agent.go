// ABOUTME: Agent connection state machine that keeps a session with the relay hub
// ABOUTME: Dials with timeout, announces readiness, health-checks and reconnects with backoff

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"

	"github.com/2389/strudel-bridge/internal/dedupe"
	"github.com/2389/strudel-bridge/internal/protocol"
	"github.com/2389/strudel-bridge/internal/queue"
)

var (
	// ErrMaxReconnect is logged when the reconnect budget is spent and the
	// agent enters the terminal error state.
	ErrMaxReconnect = errors.New("max reconnection attempts reached")

	// ErrNotConnected is returned when a message is sent with no session.
	ErrNotConnected = errors.New("not connected to hub")

	// ErrSendBufferFull is returned when the session's outbound buffer is full.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn is the transport an agent session runs over.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a transport to the hub.
type Dialer func(ctx context.Context, url string) (Conn, error)

// WebSocketDialer dials the hub with nhooyr.io/websocket.
func WebSocketDialer(readLimit int64) Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		if readLimit > 0 {
			conn.SetReadLimit(readLimit)
		}
		return conn, nil
	}
}

// Driver operates the target editor. Implementations are external
// collaborators: a browser-backed editor driver, or an in-memory fake.
type Driver interface {
	Detect(ctx context.Context) (bool, error)
	Describe(ctx context.Context) (protocol.ReadyInfo, error)
	Apply(ctx context.Context, code string) error
	Evaluate(ctx context.Context, code string) error
	Stop(ctx context.Context) error
	Snapshot(ctx context.Context) (string, error)
}

// Config holds the agent's timing and transport settings.
type Config struct {
	HubURL         string
	Backoff        Backoff
	ConnectTimeout time.Duration
	HealthInterval time.Duration
	WriteTimeout   time.Duration
	Cooldown       time.Duration
	SettleDelay    time.Duration
	DetectAttempts int
	DetectInterval time.Duration
	SendBuffer     int
	ReadLimit      int64
}

// DefaultConfig returns the reference settings.
func DefaultConfig() Config {
	return Config{
		HubURL:         "ws://localhost:3001",
		Backoff:        DefaultBackoff(),
		ConnectTimeout: 5 * time.Second,
		HealthInterval: 30 * time.Second,
		WriteTimeout:   15 * time.Second,
		Cooldown:       queue.DefaultCooldown,
		SettleDelay:    1000 * time.Millisecond,
		DetectAttempts: 30,
		DetectInterval: time.Second,
		SendBuffer:     64,
		ReadLimit:      1 << 20,
	}
}

// Option customizes an Agent.
type Option func(*Agent)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(a *Agent) { a.dial = d }
}

// WithStatusHook registers fn to be called on every status change.
func WithStatusHook(fn func(Status)) Option {
	return func(a *Agent) { a.hooks = append(a.hooks, fn) }
}

// Agent maintains a session with the hub and executes its commands. Its
// status, attempt counter and queue are only mutated by its own loops.
type Agent struct {
	cfg    Config
	driver Driver
	dial   Dialer
	pause  func(ctx context.Context, d time.Duration) error
	queue  *queue.Queue
	hooks  []func(Status)
	logger *slog.Logger

	status    atomic.Value
	detected  atomic.Bool
	attempts  atomic.Int64
	reconnect chan struct{}
	answered  *dedupe.Cache

	mu     sync.Mutex
	outbox chan protocol.Message
}

// New creates an Agent. Pass nil logger for default.
func New(cfg Config, driver Driver, logger *slog.Logger, opts ...Option) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}

	a := &Agent{
		cfg:       cfg,
		driver:    driver,
		dial:      WebSocketDialer(cfg.ReadLimit),
		pause:     sleep,
		reconnect: make(chan struct{}, 1),
		answered:  dedupe.New(5*time.Minute, 1024),
		logger:    logger.With("component", "agent"),
	}
	a.queue = queue.New(a.process, cfg.Cooldown, logger)
	a.status.Store(StatusWaiting)

	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Status returns the current connection status.
func (a *Agent) Status() Status {
	return a.status.Load().(Status)
}

// Detected reports whether the target UI was confirmed present.
func (a *Agent) Detected() bool {
	return a.detected.Load()
}

// Attempts returns the current reconnect attempt counter.
func (a *Agent) Attempts() int {
	return int(a.attempts.Load())
}

// QueueLen returns the number of tasks waiting to run.
func (a *Agent) QueueLen() int {
	return a.queue.Len()
}

// Reconnect restarts connection attempts after the agent gave up. It reports
// false, and does nothing, unless the agent is in the terminal error state.
func (a *Agent) Reconnect() bool {
	if a.Status() != StatusError {
		return false
	}
	select {
	case a.reconnect <- struct{}{}:
	default:
	}
	return true
}

// Run drives the agent until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.queue.Run(gctx) })
	g.Go(func() error { return a.loop(gctx) })

	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *Agent) setStatus(s Status) {
	prev := a.Status()
	if prev == s {
		return
	}
	a.status.Store(s)
	a.logger.Info("status changed", "from", prev, "to", s)
	for _, fn := range a.hooks {
		fn(s)
	}
}

// loop is the state machine. It is the only writer of status and attempts.
func (a *Agent) loop(ctx context.Context) error {
	a.detect(ctx)

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if a.cfg.Backoff.Exhausted(failures) {
			a.setStatus(StatusError)
			a.logger.Error("giving up on hub", "error", ErrMaxReconnect, "attempts", failures)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-a.reconnect:
				a.logger.Info("manual reconnect requested")
				failures = 0
				a.attempts.Store(0)
			}
		}

		if failures > 0 {
			delay := a.cfg.Backoff.Delay(failures)
			a.logger.Info("reconnecting", "delay", delay, "attempt", failures)
			if err := a.pause(ctx, delay); err != nil {
				return err
			}
		}

		a.setStatus(StatusConnecting)
		conn, err := a.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			a.attempts.Store(int64(failures))
			a.logger.Warn("connection attempt failed", "attempt", failures, "error", err)
			a.setStatus(StatusDisconnected)
			continue
		}

		failures = 0
		a.attempts.Store(0)

		err = a.session(ctx, conn)
		a.setStatus(StatusDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("disconnected from hub", "error", err)
		failures = 1
		a.attempts.Store(1)
	}
}

// detect waits for the target UI before connecting. Giving up is not fatal.
func (a *Agent) detect(ctx context.Context) {
	attempts := a.cfg.DetectAttempts
	if attempts <= 0 {
		return
	}

	for i := 1; i <= attempts; i++ {
		ok, err := a.driver.Detect(ctx)
		if err != nil {
			a.logger.Debug("detection probe failed", "attempt", i, "error", err)
		}
		if ok {
			a.detected.Store(true)
			a.setStatus(StatusDetected)
			a.logger.Info("target editor detected", "attempts", i)
			return
		}
		if i < attempts {
			if err := sleep(ctx, a.cfg.DetectInterval); err != nil {
				return
			}
		}
	}

	a.logger.Warn("timed out waiting for target editor, connecting anyway", "attempts", attempts)
	a.setStatus(StatusTimeout)
}

func (a *Agent) connect(ctx context.Context) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()

	a.logger.Debug("dialing hub", "url", a.cfg.HubURL)
	conn, err := a.dial(dctx, a.cfg.HubURL)
	if err != nil {
		if errors.Is(dctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("connection timeout after %s: %w", a.cfg.ConnectTimeout, err)
		}
		return nil, fmt.Errorf("dialing %s: %w", a.cfg.HubURL, err)
	}
	return conn, nil
}

// session runs one connected period. It returns when the transport fails.
func (a *Agent) session(ctx context.Context, conn Conn) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan protocol.Message, a.cfg.SendBuffer)
	a.setOutbox(out)
	defer a.setOutbox(nil)

	a.setStatus(StatusConnected)
	a.logger.Info("connected to hub", "url", a.cfg.HubURL)
	a.announce(sctx)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return a.writeLoop(gctx, conn, out) })
	g.Go(func() error { return a.healthLoop(gctx) })
	g.Go(func() error { return a.readLoop(gctx, conn) })
	err := g.Wait()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	return err
}

func (a *Agent) setOutbox(out chan protocol.Message) {
	a.mu.Lock()
	a.outbox = out
	a.mu.Unlock()
}

// send queues msg for the current session. Messages sent while disconnected
// are dropped.
func (a *Agent) send(msg protocol.Message) error {
	a.mu.Lock()
	out := a.outbox
	a.mu.Unlock()

	if out == nil {
		a.logger.Warn("cannot send message, not connected", "type", msg.Type)
		return ErrNotConnected
	}
	select {
	case out <- msg:
		return nil
	default:
		a.logger.Warn("dropping message, send buffer full", "type", msg.Type)
		return ErrSendBufferFull
	}
}

func (a *Agent) announce(ctx context.Context) {
	info, err := a.driver.Describe(ctx)
	if err != nil {
		a.logger.Warn("describing environment", "error", err)
	}
	info.Timestamp = protocol.Now()
	info.StrudelDetected = a.detected.Load()
	info.Version = protocol.Version
	if info.EditorType == "" {
		info.EditorType = "none"
	}
	_ = a.send(protocol.BrowserReady(info))
}

func (a *Agent) writeLoop(ctx context.Context, conn Conn, out <-chan protocol.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-out:
			data, err := protocol.Encode(msg)
			if err != nil {
				a.logger.Warn("encoding message", "type", msg.Type, "error", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, a.cfg.WriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return fmt.Errorf("writing %s: %w", msg.Type, err)
			}
		}
	}
}

func (a *Agent) healthLoop(ctx context.Context) error {
	if a.cfg.HealthInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(a.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = a.send(protocol.HealthCheck())
		}
	}
}

func (a *Agent) readLoop(ctx context.Context, conn Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("reading from hub: %w", err)
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			a.logger.Warn("failed to parse message", "error", err)
			continue
		}
		a.handle(ctx, msg)
	}
}

func (a *Agent) handle(ctx context.Context, msg protocol.Message) {
	a.logger.Debug("received message", "type", msg.Type)

	switch msg.Type {
	case protocol.TypeExecuteCode:
		a.queue.Enqueue(queue.Task{Kind: queue.KindExecute, Code: msg.Code, Comment: msg.Comment})
	case protocol.TypeStopAll:
		a.queue.Enqueue(queue.Task{Kind: queue.KindStop})
	case protocol.TypeGetCurrentCode:
		if msg.RequestID != "" && a.answered.CheckAndMark(msg.RequestID) {
			a.logger.Debug("ignoring repeated snapshot request", "request_id", msg.RequestID)
			return
		}
		go a.answerSnapshot(ctx, msg.RequestID)
	case protocol.TypeConnected:
		a.logger.Debug("bridge connection confirmed", "message", msg.WelcomeText())
	case protocol.TypeHealthCheck:
		_ = a.send(protocol.HealthResponse())
	case protocol.TypeHealthResponse:
	default:
		a.logger.Debug("unknown message type", "type", msg.Type)
	}
}

func (a *Agent) answerSnapshot(ctx context.Context, requestID string) {
	code, err := a.driver.Snapshot(ctx)
	if err != nil {
		a.logger.Warn("reading editor content", "error", err)
		code = ""
	}
	a.logger.Debug("sending current code", "request_id", requestID, "chars", len(code))
	_ = a.send(protocol.CurrentCode(requestID, code))
}

// process is the queue's processor: one task, one reported outcome.
func (a *Agent) process(ctx context.Context, task queue.Task) {
	if task.Kind == queue.KindStop {
		a.runStop(ctx)
		return
	}

	result := protocol.ExecutionResult{}
	if err := a.execute(ctx, task.Text()); err != nil {
		a.logger.Warn("failed to execute code", "error", err)
		result.Error = err.Error()
	} else {
		a.logger.Info("code executed", "chars", len(task.Code))
		result.Success = true
	}
	result.Timestamp = protocol.Now()
	_ = a.send(protocol.Result(result))
}

// execute applies text, lets the editor settle, then evaluates it.
func (a *Agent) execute(ctx context.Context, text string) error {
	if err := a.driver.Apply(ctx, text); err != nil {
		return err
	}
	if err := sleep(ctx, a.cfg.SettleDelay); err != nil {
		return err
	}
	return a.driver.Evaluate(ctx, text)
}

func (a *Agent) runStop(ctx context.Context) {
	result := protocol.ExecutionResult{Action: protocol.ActionStop}
	if err := a.driver.Stop(ctx); err != nil {
		a.logger.Warn("failed to stop playback", "error", err)
		result.Error = err.Error()
	} else {
		result.Success = true
	}
	result.Timestamp = protocol.Now()
	_ = a.send(protocol.Result(result))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
