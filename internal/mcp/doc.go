// Package mcp exposes the relay hub to an automation controller over the
// Model Context Protocol.
//
// # Tools
//
//   - execute_pattern(code, comment?): send code to every connected editor
//   - stop_pattern: stop playback everywhere
//   - get_connection_status: whether any editor is attached
//   - get_current_code(timeout_ms?): read back the editor content
//   - get_execution_results(limit?): recent outcomes from the ledger
//
// The reference document is published as the resource strudel://reference.
//
// # Transports
//
// ServeStdio speaks MCP over a pair of streams (stdin/stdout in the
// strudel-bridge mcp subcommand). SSE returns handlers that the gateway
// mounts at /mcp/sse and /mcp/message.
//
// Tool failures that the controller can act on, such as no agent being
// connected, are returned as ordinary text results rather than protocol
// errors.
package mcp
