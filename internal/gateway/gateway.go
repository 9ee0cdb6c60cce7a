// ABOUTME: Gateway orchestrator that coordinates the relay hub, HTTP API and gRPC health
// ABOUTME: Manages the ledger recorder, MCP transports and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/2389/strudel-bridge/internal/config"
	"github.com/2389/strudel-bridge/internal/events"
	"github.com/2389/strudel-bridge/internal/hub"
	bridgemcp "github.com/2389/strudel-bridge/internal/mcp"
	"github.com/2389/strudel-bridge/internal/metrics"
	"github.com/2389/strudel-bridge/internal/reference"
	"github.com/2389/strudel-bridge/internal/store"
)

// Gateway owns the hub and everything that serves or observes it.
type Gateway struct {
	config     *config.Config
	hub        *hub.Hub
	store      *store.SQLiteStore
	events     *events.Broadcaster
	metrics    *metrics.Metrics
	mcp        *bridgemcp.Server
	sse        *server.SSEServer
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	logger     *slog.Logger

	// recorderDone is closed once the ledger recorder has drained.
	recorderDone chan struct{}
}

// controller applies the configured snapshot timeout when callers pass none.
type controller struct {
	*hub.Hub
	snapshotTimeout time.Duration
}

func (c controller) FetchSnapshot(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = c.snapshotTimeout
	}
	return c.Hub.FetchSnapshot(ctx, timeout)
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Ledger.Path, cfg.Ledger.Retain, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing ledger: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	ev := events.NewBroadcaster(logger)
	h := hub.New(hub.Options{
		SendBuffer:     cfg.Bridge.SendBuffer,
		WriteTimeout:   cfg.Bridge.WriteTimeout,
		PingInterval:   cfg.Bridge.PingInterval,
		OriginPatterns: cfg.Server.AllowedOrigins,
	}, ev, m, logger)

	gw := &Gateway{
		config:       cfg,
		hub:          h,
		store:        st,
		events:       ev,
		metrics:      m,
		logger:       logger.With("component", "gateway"),
		recorderDone: make(chan struct{}),
	}

	ctrl := controller{Hub: h, snapshotTimeout: cfg.Bridge.SnapshotTimeout}
	gw.mcp = bridgemcp.New(ctrl, st, cfg.HubURL(), logger)

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.health = newHealthServer()
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	// API endpoints
	mux.HandleFunc("/api/status", gw.handleStatus)
	mux.HandleFunc("/api/connections", gw.handleConnections)
	mux.HandleFunc("/api/connections/events", gw.handleConnectionEvents)
	mux.HandleFunc("/api/results", gw.handleResults)
	mux.HandleFunc("/api/snapshot", gw.handleSnapshot)
	mux.HandleFunc("/api/execute", gw.handleExecute)
	mux.HandleFunc("/api/stop", gw.handleStop)
	mux.HandleFunc("/api/events", gw.handleEvents)

	mux.Handle("/reference", reference.Handler(logger))

	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	if cfg.MCP.SSE {
		gw.sse = gw.mcp.SSE(cfg.HTTPBaseURL())
		mux.Handle("/mcp/sse", gw.sse.SSEHandler())
		mux.Handle("/mcp/message", gw.sse.MessageHandler())
		logger.Info("MCP over SSE enabled", "endpoint", cfg.HTTPBaseURL()+"/mcp/sse")
	}

	// Agents connect to the root path.
	mux.Handle("/", h)

	gw.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Hub returns the relay hub.
func (g *Gateway) Hub() *hub.Hub {
	return g.hub
}

// MCP returns the MCP server bound to this gateway's hub and ledger.
func (g *Gateway) MCP() *bridgemcp.Server {
	return g.mcp
}

// Handler returns the HTTP handler serving agents and the API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run binds the configured addresses, serves until ctx is canceled, then
// shuts down. A port already in use is reported as *hub.BindError.
func (g *Gateway) Run(ctx context.Context) error {
	ln, grpcLn, err := g.Bind()
	if err != nil {
		g.closeOnFailedStart()
		return err
	}
	return g.Serve(ctx, ln, grpcLn)
}

// Bind opens the configured listeners. grpcLn is nil when gRPC is disabled.
func (g *Gateway) Bind() (ln, grpcLn net.Listener, err error) {
	ln, err = hub.Listen(g.config.Server.Addr)
	if err != nil {
		return nil, nil, err
	}
	if g.grpcServer != nil {
		grpcLn, err = hub.Listen(g.config.Server.GRPCAddr)
		if err != nil {
			_ = ln.Close()
			return nil, nil, err
		}
	}
	return ln, grpcLn, nil
}

// Serve runs on already-bound listeners. grpcLn may be nil.
func (g *Gateway) Serve(ctx context.Context, ln, grpcLn net.Listener) error {
	g.logger.Info("starting gateway",
		"addr", ln.Addr().String(),
		"grpc", grpcLn != nil,
		"metrics", g.metrics != nil,
		"ledger", g.config.Ledger.Path,
	)

	recCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()
	feed, _ := g.events.Subscribe(recCtx)
	go g.runRecorder(feed)

	errCh := g.startServers(ln, grpcLn)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown(stopRecorder)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServers starts HTTP and optional gRPC servers in goroutines, returning error channel.
func (g *Gateway) startServers(ln, grpcLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown(stopRecorder context.CancelFunc) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.shutdown(ctx, stopRecorder)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.health != nil {
		g.health.Shutdown()
	}
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func (g *Gateway) shutdown(ctx context.Context, stopRecorder context.CancelFunc) error {
	g.logger.Info("shutting down gateway")

	var errs []error

	// Agent sessions are hijacked connections; http.Server.Shutdown does not see them.
	g.hub.Close()

	if g.sse != nil {
		errs = appendCloseError(errs, "MCP SSE shutdown", g.sse.Shutdown(ctx))
	}
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.grpcServer != nil {
		g.shutdownGRPCServer(ctx)
	}

	// Let the recorder write what the hub published while closing.
	stopRecorder()
	select {
	case <-g.recorderDone:
	case <-ctx.Done():
		g.logger.Warn("ledger recorder did not drain before shutdown deadline")
	}

	g.events.Close()
	errs = appendCloseError(errs, "ledger close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func (g *Gateway) closeOnFailedStart() {
	g.events.Close()
	if err := g.store.Close(); err != nil {
		g.logger.Warn("closing ledger", "error", err)
	}
}
