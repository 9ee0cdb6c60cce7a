// ABOUTME: MCP server wiring built on mark3labs/mcp-go
// ABOUTME: Registers the bridge tools and reference resource, serves stdio or SSE

package mcp

import (
	"context"
	"io"
	"log"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/2389/strudel-bridge/internal/hub"
	"github.com/2389/strudel-bridge/internal/reference"
	"github.com/2389/strudel-bridge/internal/store"
)

// ServerName and ServerVersion identify the bridge to MCP clients.
const (
	ServerName    = "strudel-mcp-bridge"
	ServerVersion = "2.0.0"
)

// Controller is what the tools drive. *hub.Hub implements it.
type Controller interface {
	SendCommand(code, comment string) error
	Stop() error
	ConnectionStatus() hub.Status
	FetchSnapshot(ctx context.Context, timeout time.Duration) (string, error)
}

// ResultSource supplies recent execution outcomes. *store.SQLiteStore
// implements it.
type ResultSource interface {
	RecentResults(ctx context.Context, limit int) ([]*store.ResultRecord, error)
}

// Server is the bridge's MCP surface.
type Server struct {
	mcp      *server.MCPServer
	ctrl     Controller
	results  ResultSource
	endpoint string
	logger   *slog.Logger
}

// New builds the MCP server. results may be nil. endpoint is the agent
// WebSocket address reported by get_connection_status.
func New(ctrl Controller, results ResultSource, endpoint string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ctrl:     ctrl,
		results:  results,
		endpoint: endpoint,
		logger:   logger.With("component", "mcp"),
	}

	s.mcp = server.NewMCPServer(ServerName, ServerVersion,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP on in/out until ctx is done or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer, errLog io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(errLog, "mcp: ", log.LstdFlags))
	s.logger.Info("serving MCP over stdio")
	return stdio.Listen(ctx, in, out)
}

// SSE returns an SSE transport whose endpoints live under /mcp. baseURL is
// the externally visible origin, e.g. http://localhost:3001.
func (s *Server) SSE(baseURL string) *server.SSEServer {
	return server.NewSSEServer(s.mcp,
		server.WithBaseURL(baseURL),
		server.WithStaticBasePath("/mcp"),
		server.WithKeepAlive(true),
	)
}

func (s *Server) registerResources() {
	res := mcp.NewResource(reference.URI, "Strudel API Reference",
		mcp.WithResourceDescription("Strudel live coding reference: pattern structure, mini-notation, sounds, effects and examples"),
		mcp.WithMIMEType(reference.MIMEType),
	)
	s.mcp.AddResource(res, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      reference.URI,
				MIMEType: reference.MIMEType,
				Text:     reference.Markdown(),
			},
		}, nil
	})
}
