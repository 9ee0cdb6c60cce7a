// ABOUTME: HTTP API handlers for inspecting and driving the relay hub
// ABOUTME: Provides status, ledger queries, execute/stop commands and an SSE event stream

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/strudel-bridge/internal/events"
	"github.com/2389/strudel-bridge/internal/hub"
	"github.com/2389/strudel-bridge/internal/protocol"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxExecuteBody   = 1 << 20
)

// StatusResponse is the JSON response for GET /api/status.
type StatusResponse struct {
	Connected        bool `json:"connected"`
	Count            int  `json:"count"`
	PendingSnapshots int  `json:"pending_snapshots"`
}

// ResultResponse is one entry of GET /api/results.
type ResultResponse struct {
	ID         string `json:"id"`
	ConnID     string `json:"conn_id"`
	Success    bool   `json:"success"`
	Action     string `json:"action,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

// ConnectionEventResponse is one entry of GET /api/connections/events.
type ConnectionEventResponse struct {
	ID     string          `json:"id"`
	ConnID string          `json:"conn_id"`
	Kind   string          `json:"kind"`
	Detail json.RawMessage `json:"detail,omitempty"`
	At     string          `json:"at"`
}

// SnapshotResponse is the JSON response for GET /api/snapshot.
type SnapshotResponse struct {
	Code string `json:"code"`
}

// ExecuteRequest is the JSON request body for POST /api/execute.
type ExecuteRequest struct {
	Code    string `json:"code"`
	Comment string `json:"comment,omitempty"`
}

// CommandResponse is the JSON response for POST /api/execute and /api/stop.
type CommandResponse struct {
	Status     string `json:"status"`
	Recipients int    `json:"recipients"`
}

// EventResponse is the data of one SSE event on GET /api/events.
type EventResponse struct {
	ID     string `json:"id"`
	ConnID string `json:"conn_id"`
	At     string `json:"at"`
	Data   any    `json:"data,omitempty"`
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the server has at least one agent connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n := g.hub.ClientCount()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", n)
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	st := g.hub.ConnectionStatus()
	g.writeJSON(w, http.StatusOK, StatusResponse{
		Connected:        st.Connected,
		Count:            st.Count,
		PendingSnapshots: g.hub.PendingSnapshots(),
	})
}

func (g *Gateway) handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.writeJSON(w, http.StatusOK, g.hub.Connections())
}

func (g *Gateway) handleConnectionEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	evs, err := g.store.RecentConnections(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to read connection events", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to read connection events")
		return
	}

	response := make([]ConnectionEventResponse, 0, len(evs))
	for _, ev := range evs {
		item := ConnectionEventResponse{
			ID:     ev.ID,
			ConnID: ev.ConnID,
			Kind:   ev.Kind,
			At:     ev.At.UTC().Format(time.RFC3339Nano),
		}
		if ev.Detail != "" && json.Valid([]byte(ev.Detail)) {
			item.Detail = json.RawMessage(ev.Detail)
		}
		response = append(response, item)
	}
	g.writeJSON(w, http.StatusOK, response)
}

func (g *Gateway) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := g.store.RecentResults(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to read results", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to read results")
		return
	}

	response := make([]ResultResponse, 0, len(records))
	for _, rec := range records {
		response = append(response, ResultResponse{
			ID:         rec.ID,
			ConnID:     rec.ConnID,
			Success:    rec.Success,
			Action:     rec.Action,
			Error:      rec.Error,
			Timestamp:  rec.Timestamp,
			RecordedAt: rec.RecordedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	g.writeJSON(w, http.StatusOK, response)
}

func (g *Gateway) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	timeout := g.config.Bridge.SnapshotTimeout
	if raw := r.URL.Query().Get("timeout_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "timeout_ms must be a positive integer")
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	code, err := g.hub.FetchSnapshot(r.Context(), timeout)
	if errors.Is(err, hub.ErrNoAgentConnected) {
		g.sendJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	g.writeJSON(w, http.StatusOK, SnapshotResponse{Code: code})
}

func (g *Gateway) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseExecuteRequest(http.MaxBytesReader(w, r.Body, maxExecuteBody))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		g.sendJSONError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := g.hub.Command(protocol.ExecuteCode(req.Code, req.Comment))
	if err != nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	g.writeJSON(w, http.StatusAccepted, CommandResponse{Status: "sent", Recipients: n})
}

func (g *Gateway) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	n, err := g.hub.Command(protocol.StopAll())
	if err != nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	g.writeJSON(w, http.StatusAccepted, CommandResponse{Status: "stopping", Recipients: n})
}

// handleEvents streams hub events as SSE until the client goes away.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	feed, _ := g.events.Subscribe(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range feed {
		g.writeSSEEvent(w, string(ev.Kind), eventToResponse(ev))
		flusher.Flush()
	}
}

func eventToResponse(ev events.Event) EventResponse {
	resp := EventResponse{
		ID:     ev.ID,
		ConnID: ev.ConnID,
		At:     ev.At.UTC().Format(time.RFC3339Nano),
	}
	switch {
	case ev.Ready != nil:
		resp.Data = ev.Ready
	case ev.Result != nil:
		resp.Data = ev.Result
	}
	return resp
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}

func parseExecuteRequest(body io.Reader) (*ExecuteRequest, error) {
	var req ExecuteRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, errors.New("code is required")
	}
	return &req, nil
}
