// ABOUTME: MCP tool definitions and handlers for driving connected editors
// ABOUTME: Controller failures come back as plain text the caller can read

package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/strudel-bridge/internal/hub"
)

// Tool names.
const (
	ToolExecutePattern   = "execute_pattern"
	ToolStopPattern      = "stop_pattern"
	ToolConnectionStatus = "get_connection_status"
	ToolCurrentCode      = "get_current_code"
	ToolExecutionResults = "get_execution_results"
)

const (
	textNoCode         = "Error: No code provided. Please provide valid Strudel code to execute."
	textNoBrowser      = "No browser connected. Please open strudel.cc with the bridge agent running."
	textNoBrowserTerse = "No browser connected."
	textStopped        = "Stopped all playing patterns."

	defaultResultsLimit = 10
)

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool(ToolExecutePattern,
		mcp.WithDescription("Execute raw Strudel code in the connected browser. You write the code; this tool only sends it. Read the strudel://reference resource before first use for syntax and sound names."),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description(`Strudel code to run, e.g. "setcps(0.5)\nstack(s(\"bd*4\").bank(\"tr808\"))"`),
		),
		mcp.WithString("comment",
			mcp.Description("Optional comment placed above the code in the editor"),
		),
	), s.handleExecutePattern)

	s.mcp.AddTool(mcp.NewTool(ToolStopPattern,
		mcp.WithDescription("Stop all currently playing patterns"),
	), s.handleStopPattern)

	s.mcp.AddTool(mcp.NewTool(ToolConnectionStatus,
		mcp.WithDescription("Check whether a browser is connected and ready. Consider also reading strudel://reference."),
	), s.handleConnectionStatus)

	s.mcp.AddTool(mcp.NewTool(ToolCurrentCode,
		mcp.WithDescription("Read the code currently in the connected editor"),
		mcp.WithNumber("timeout_ms",
			mcp.Description("How long to wait for the browser to answer (default 5000)"),
		),
	), s.handleCurrentCode)

	s.mcp.AddTool(mcp.NewTool(ToolExecutionResults,
		mcp.WithDescription("List the most recent execution results reported by connected browsers"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 10)"),
		),
	), s.handleExecutionResults)
}

func (s *Server) handleExecutePattern(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code := req.GetString("code", "")
	comment := req.GetString("comment", "")

	if strings.TrimSpace(code) == "" {
		return mcp.NewToolResultText(textNoCode), nil
	}

	s.logger.Info("executing pattern", "chars", len(code))
	if err := s.ctrl.SendCommand(code, comment); err != nil {
		if errors.Is(err, hub.ErrNoAgentConnected) {
			return mcp.NewToolResultText(textNoBrowser), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Failed to execute pattern: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Pattern sent to browser and should now be playing!\n\nExecuted code:\n```javascript\n%s\n```", code,
	)), nil
}

func (s *Server) handleStopPattern(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.ctrl.Stop(); err != nil {
		if errors.Is(err, hub.ErrNoAgentConnected) {
			return mcp.NewToolResultText(textNoBrowserTerse), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Failed to stop patterns: %v", err)), nil
	}
	return mcp.NewToolResultText(textStopped), nil
}

func (s *Server) handleConnectionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.ctrl.ConnectionStatus()

	connected, hint := "No", "Please open strudel.cc with the bridge agent running."
	if st.Connected {
		connected, hint = "Yes", "Ready to play Strudel patterns!"
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Connection Status:\n- Browser connected: %s\n- Active connections: %d\n- WebSocket server: Running on %s\n\n%s",
		connected, st.Count, s.endpoint, hint,
	)), nil
}

func (s *Server) handleCurrentCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	timeout := time.Duration(req.GetInt("timeout_ms", 0)) * time.Millisecond

	code, err := s.ctrl.FetchSnapshot(ctx, timeout)
	switch {
	case errors.Is(err, hub.ErrNoAgentConnected):
		return mcp.NewToolResultText(textNoBrowserTerse), nil
	case err != nil:
		return mcp.NewToolResultText(fmt.Sprintf("Failed to read editor: %v", err)), nil
	case code == "":
		return mcp.NewToolResultText("The editor is empty or its content could not be read in time."), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Current editor code:\n```javascript\n%s\n```", code)), nil
}

func (s *Server) handleExecutionResults(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.results == nil {
		return mcp.NewToolResultText("Execution history is not available."), nil
	}
	limit := req.GetInt("limit", defaultResultsLimit)
	if limit <= 0 {
		limit = defaultResultsLimit
	}

	records, err := s.results.RecentResults(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading execution history: %v", err)), nil
	}
	if len(records) == 0 {
		return mcp.NewToolResultText("No execution results recorded yet."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Last %d execution results (newest first):\n", len(records))
	for _, r := range records {
		action := r.Action
		if action == "" {
			action = "execute"
		}
		outcome := "ok"
		if !r.Success {
			outcome = "failed: " + r.Error
		}
		fmt.Fprintf(&b, "- %s %s %s\n", r.RecordedAt.Format(time.TimeOnly), action, outcome)
	}
	return mcp.NewToolResultText(b.String()), nil
}
