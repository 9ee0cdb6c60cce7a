// ABOUTME: In-memory editor that stands in for a browser page
// ABOUTME: Records applied code and echoes it back as the snapshot

package editor

import (
	"context"
	"sync"

	"github.com/2389/strudel-bridge/internal/protocol"
)

// Memory is an editor with no browser behind it.
type Memory struct {
	mu      sync.Mutex
	code    string
	playing bool
	applied []string
	evalErr error
}

// NewMemory returns an empty in-memory editor.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Detect(ctx context.Context) (bool, error) {
	return true, nil
}

func (m *Memory) Describe(ctx context.Context) (protocol.ReadyInfo, error) {
	return protocol.ReadyInfo{
		URL:             "memory://editor",
		UserAgent:       "strudel-bridge in-memory editor",
		Timestamp:       protocol.Now(),
		StrudelDetected: true,
		HasEditor:       true,
		EditorType:      "memory",
		Version:         protocol.Version,
	}, nil
}

func (m *Memory) Apply(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.code = code
	m.applied = append(m.applied, code)
	return nil
}

func (m *Memory) Evaluate(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.evalErr != nil {
		return m.evalErr
	}
	m.playing = true
	return nil
}

func (m *Memory) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
	return nil
}

func (m *Memory) Snapshot(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code, nil
}

// FailEvaluate makes every later Evaluate return err. nil restores success.
func (m *Memory) FailEvaluate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evalErr = err
}

// Applied returns every code text applied so far, oldest first.
func (m *Memory) Applied() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.applied...)
}

// Playing reports whether the last evaluate has not been stopped.
func (m *Memory) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}
