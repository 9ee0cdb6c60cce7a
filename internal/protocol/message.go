// ABOUTME: Wire message catalog shared by the relay hub and its agents
// ABOUTME: One JSON object per WebSocket text frame, tagged by the type field

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the protocol version announced in browser_ready.
const Version = "1.0.0"

// Type selects the variant of a Message.
type Type string

const (
	TypeBrowserReady   Type = "browser_ready"
	TypeExecuteCode    Type = "execute_code"
	TypeStopAll        Type = "stop_all"
	TypeGetCurrentCode Type = "get_current_code"
	TypeCurrentCode    Type = "current_code"
	TypeExecResult     Type = "execution_result"
	TypeHealthCheck    Type = "health_check"
	TypeHealthResponse Type = "health_response"
	TypeConnected      Type = "connected"
	TypeError          Type = "error"
)

// WelcomeText is sent in the connected message when an agent is accepted.
const WelcomeText = "Connected to Strudel MCP Bridge"

// ErrMissingType is returned by Decode for frames without a type.
var ErrMissingType = errors.New("message has no type")

// Message is the tagged union exchanged over the bridge. Payload fields are
// only set for the variants that use them.
type Message struct {
	Type      Type            `json:"type"`
	Code      string          `json:"code,omitempty"`
	Comment   string          `json:"comment,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// ReadyInfo is the data payload of browser_ready.
type ReadyInfo struct {
	URL                    string `json:"url"`
	UserAgent              string `json:"userAgent"`
	Timestamp              int64  `json:"timestamp"`
	StrudelDetected        bool   `json:"strudelDetected"`
	HasEditor              bool   `json:"hasEditor"`
	EditorType             string `json:"editorType"`
	AudioPermissionGranted bool   `json:"audioPermissionGranted"`
	AudioInitialized       bool   `json:"audioInitialized"`
	Version                string `json:"version"`
}

// ExecutionResult is the data payload of execution_result.
type ExecutionResult struct {
	Success   bool   `json:"success"`
	Action    string `json:"action,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ActionStop marks an execution_result produced by a stop task.
const ActionStop = "stop"

type connectedData struct {
	Message string `json:"message"`
}

type errorData struct {
	Error string `json:"error"`
}

// Now returns the current time in Unix milliseconds, the unit used by every
// timestamp on the wire.
func Now() int64 {
	return time.Now().UnixMilli()
}

func withData(t Type, v any) Message {
	raw, err := json.Marshal(v)
	if err != nil {
		// Payload types above are plain structs; Marshal cannot fail for them.
		panic(fmt.Sprintf("protocol: encoding %s payload: %v", t, err))
	}
	return Message{Type: t, Data: raw}
}

// ExecuteCode builds an execute_code command.
func ExecuteCode(code, comment string) Message {
	return Message{Type: TypeExecuteCode, Code: code, Comment: comment}
}

// StopAll builds a stop_all command.
func StopAll() Message {
	return Message{Type: TypeStopAll}
}

// GetCurrentCode builds a snapshot request.
func GetCurrentCode(requestID string) Message {
	return Message{Type: TypeGetCurrentCode, RequestID: requestID}
}

// CurrentCode builds a snapshot response.
func CurrentCode(requestID, code string) Message {
	return Message{Type: TypeCurrentCode, RequestID: requestID, Code: code}
}

// BrowserReady builds the session announcement sent after connecting.
func BrowserReady(info ReadyInfo) Message {
	return withData(TypeBrowserReady, info)
}

// Result builds an execution_result.
func Result(r ExecutionResult) Message {
	return withData(TypeExecResult, r)
}

// HealthCheck builds a liveness probe.
func HealthCheck() Message {
	return Message{Type: TypeHealthCheck, Timestamp: Now()}
}

// HealthResponse builds the reply to a liveness probe.
func HealthResponse() Message {
	return Message{Type: TypeHealthResponse, Status: "ok"}
}

// Connected builds the welcome sent by the hub on accept.
func Connected(text string) Message {
	return withData(TypeConnected, connectedData{Message: text})
}

// Error builds an agent-side error report.
func Error(text string) Message {
	return withData(TypeError, errorData{Error: text})
}

// ReadyInfo decodes the browser_ready payload.
func (m Message) ReadyInfo() (ReadyInfo, error) {
	var info ReadyInfo
	err := m.decodeData(TypeBrowserReady, &info)
	return info, err
}

// Result decodes the execution_result payload.
func (m Message) Result() (ExecutionResult, error) {
	var r ExecutionResult
	err := m.decodeData(TypeExecResult, &r)
	return r, err
}

// WelcomeText decodes the connected payload.
func (m Message) WelcomeText() string {
	var d connectedData
	if err := m.decodeData(TypeConnected, &d); err != nil {
		return ""
	}
	return d.Message
}

// ErrorText decodes the error payload.
func (m Message) ErrorText() string {
	var d errorData
	if err := m.decodeData(TypeError, &d); err != nil {
		return ""
	}
	return d.Error
}

func (m Message) decodeData(want Type, v any) error {
	if m.Type != want {
		return fmt.Errorf("message type %q has no %s payload", m.Type, want)
	}
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no data", want)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decoding %s data: %w", want, err)
	}
	return nil
}

// Encode serializes a message for a text frame.
func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, ErrMissingType
	}
	return json.Marshal(m)
}

// Decode parses a text frame.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("parsing message: %w", err)
	}
	if m.Type == "" {
		return Message{}, ErrMissingType
	}
	return m, nil
}
