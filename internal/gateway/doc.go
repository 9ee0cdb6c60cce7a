// Package gateway orchestrates the strudel-bridge server components.
//
// # Overview
//
// The gateway owns the relay hub and everything around it: the HTTP server
// that agents and operators share, the execution ledger, the optional gRPC
// health service, and the MCP server bound to the hub.
//
// Agents connect with a WebSocket upgrade on the root path. Every other
// route is served from the same listener.
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - 200 while at least one agent is connected
//   - GET /api/status - connected, count, pending_snapshots
//   - GET /api/connections - live agent connections with ready metadata
//   - GET /api/connections/events?limit=N - connection lifecycle ledger
//   - GET /api/results?limit=N - execution results, newest first
//   - GET /api/snapshot?timeout_ms=N - current editor content
//   - POST /api/execute - {"code": "...", "comment": "..."}
//   - POST /api/stop - stop all patterns
//   - GET /api/events - SSE stream of hub events
//   - GET /reference - Strudel reference (HTML, or ?format=md)
//   - GET /metrics - Prometheus metrics when enabled
//   - /mcp/sse, /mcp/message - MCP over SSE when enabled
//
// # Ledger
//
// A recorder goroutine subscribes to hub events and writes connection
// lifecycle changes and execution results into the SQLite store. It also
// flips the gRPC health status of the "strudel.bridge" service between
// SERVING and NOT_SERVING as agents come and go.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// Run reports a busy port as *hub.BindError. Shutdown closes agent
// sessions first, then the HTTP and gRPC servers, drains the recorder and
// closes the ledger.
package gateway
