// ABOUTME: Tests for the SQLite ledger
// ABOUTME: Covers result and connection recording, ordering, limits and retention

package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, retain int) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(MemoryPath, retain, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordResult(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := t.Context()

	r := &ResultRecord{ConnID: "c1", Success: false, Error: "No editor found", Timestamp: 1700000000000}
	require.NoError(t, s.RecordResult(ctx, r))
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.RecordedAt.IsZero())

	got, err := s.RecentResults(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r.ID, got[0].ID)
	assert.Equal(t, "c1", got[0].ConnID)
	assert.False(t, got[0].Success)
	assert.Equal(t, "No editor found", got[0].Error)
	assert.Equal(t, int64(1700000000000), got[0].Timestamp)
	assert.Equal(t, r.RecordedAt.UnixMilli(), got[0].RecordedAt.UnixMilli())
}

func TestRecentResults_NewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := t.Context()

	for i := range 5 {
		require.NoError(t, s.RecordResult(ctx, &ResultRecord{ConnID: fmt.Sprintf("c%d", i), Success: true}))
	}

	got, err := s.RecentResults(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c4", got[0].ConnID)
	assert.Equal(t, "c2", got[2].ConnID)

	all, err := s.RecentResults(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestRetention(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := t.Context()

	for i := range 10 {
		require.NoError(t, s.RecordResult(ctx, &ResultRecord{ConnID: fmt.Sprintf("c%d", i)}))
		require.NoError(t, s.RecordConnection(ctx, &ConnectionEvent{ConnID: fmt.Sprintf("c%d", i), Kind: ConnectionOpened}))
	}

	results, err := s.RecentResults(ctx, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "c9", results[0].ConnID)
	assert.Equal(t, "c7", results[2].ConnID)

	conns, err := s.RecentConnections(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, conns, 3)
}

func TestRecordConnection(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := t.Context()

	require.NoError(t, s.RecordConnection(ctx, &ConnectionEvent{ConnID: "c1", Kind: ConnectionOpened}))
	require.NoError(t, s.RecordConnection(ctx, &ConnectionEvent{ConnID: "c1", Kind: ConnectionReady, Detail: `{"version":"1.0.0"}`}))
	require.NoError(t, s.RecordConnection(ctx, &ConnectionEvent{ConnID: "c1", Kind: ConnectionClosed}))

	got, err := s.RecentConnections(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ConnectionClosed, got[0].Kind)
	assert.Equal(t, ConnectionReady, got[1].Kind)
	assert.JSONEq(t, `{"version":"1.0.0"}`, got[1].Detail)
	assert.Equal(t, ConnectionOpened, got[2].Kind)
}

func TestConcurrentWrites(t *testing.T) {
	s := newTestStore(t, 1000)
	ctx := t.Context()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.RecordResult(ctx, &ResultRecord{ConnID: fmt.Sprintf("c%d", i), Success: true}))
		}(i)
	}
	wg.Wait()

	got, err := s.RecentResults(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 20)
}

func TestFileBackedLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := NewSQLiteStore(path, 10, nil)
	require.NoError(t, err)
	require.NoError(t, s.RecordResult(t.Context(), &ResultRecord{ConnID: "c1"}))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path, 10, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.RecentResults(t.Context(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
