// ABOUTME: Tests for the in-memory editor
// ABOUTME: Checks apply/evaluate/stop bookkeeping and snapshot echo

package editor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/strudel-bridge/internal/protocol"
)

func TestMemory(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()

	ok, err := m.Detect(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := m.Describe(ctx)
	require.NoError(t, err)
	assert.True(t, info.HasEditor)
	assert.Equal(t, protocol.Version, info.Version)

	require.NoError(t, m.Apply(ctx, `s("bd")`))
	require.NoError(t, m.Evaluate(ctx, `s("bd")`))
	assert.True(t, m.Playing())

	code, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, `s("bd")`, code)

	require.NoError(t, m.Stop(ctx))
	assert.False(t, m.Playing())

	m.FailEvaluate(errors.New("syntax error"))
	require.NoError(t, m.Apply(ctx, "oops("))
	assert.EqualError(t, m.Evaluate(ctx, "oops("), "syntax error")
	assert.Equal(t, []string{`s("bd")`, "oops("}, m.Applied())
}
