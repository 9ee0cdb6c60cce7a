// ABOUTME: Ledger interface and record types for execution results and connection events
// ABOUTME: Records live only as long as the hub process

package store

import (
	"context"
	"time"
)

// Connection event kinds.
const (
	ConnectionOpened = "opened"
	ConnectionReady  = "ready"
	ConnectionClosed = "closed"
)

// ResultRecord is one execution_result reported by an agent.
type ResultRecord struct {
	ID         string
	ConnID     string
	Success    bool
	Action     string // "stop" for stop results, empty for executes
	Error      string
	Timestamp  int64 // agent clock, Unix ms
	RecordedAt time.Time
}

// ConnectionEvent is one change in an agent connection's lifecycle.
type ConnectionEvent struct {
	ID     string
	ConnID string
	Kind   string
	Detail string // JSON ready metadata for ConnectionReady
	At     time.Time
}

// Store is the ledger the gateway records hub events into.
type Store interface {
	RecordResult(ctx context.Context, r *ResultRecord) error
	RecentResults(ctx context.Context, limit int) ([]*ResultRecord, error)
	RecordConnection(ctx context.Context, ev *ConnectionEvent) error
	RecentConnections(ctx context.Context, limit int) ([]*ConnectionEvent, error)
	Close() error
}
