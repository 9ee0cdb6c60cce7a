// ABOUTME: Tests for the fallback strategy chain
// ABOUTME: Verifies priority order, early stop, and exhaustion reporting

package strategy

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStrategies returns k strategies where the ones listed in succeed
// report success; calls records every invocation by index.
func countingStrategies(k int, succeed map[int]bool, calls *[]int) []Strategy {
	out := make([]Strategy, k)
	for i := range k {
		out[i] = NewFunc(fmt.Sprintf("s%d", i), func(ctx context.Context, arg string) (Result, error) {
			*calls = append(*calls, i)
			if succeed[i] {
				return Value(fmt.Sprintf("from-%d", i)), nil
			}
			if i%2 == 0 {
				return Declined, nil
			}
			return Declined, errors.New("hook missing")
		})
	}
	return out
}

func TestChain_KthSucceeds(t *testing.T) {
	for k := 1; k <= 6; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			var calls []int
			// Strategies after k-1 would also succeed; they must never run.
			succeed := map[int]bool{k - 1: true, k: true, k + 1: true}
			chain := NewChain("apply", "", nil, countingStrategies(k+2, succeed, &calls)...)

			out, err := chain.Run(t.Context(), "code")
			require.NoError(t, err)
			assert.Equal(t, k, out.Attempts)
			assert.Equal(t, fmt.Sprintf("s%d", k-1), out.Strategy)
			assert.Equal(t, fmt.Sprintf("from-%d", k-1), out.Value)

			want := make([]int, k)
			for i := range want {
				want[i] = i
			}
			assert.Equal(t, want, calls)
		})
	}
}

func TestChain_AllFail(t *testing.T) {
	for k := 1; k <= 5; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			var calls []int
			chain := NewChain("stop", "No stop method found", nil, countingStrategies(k, nil, &calls)...)

			out, err := chain.Run(t.Context(), "")
			require.Error(t, err)
			assert.Len(t, calls, k, "each strategy must run exactly once")
			assert.Equal(t, k, out.Attempts)

			var exhausted *ExhaustedError
			require.ErrorAs(t, err, &exhausted)
			assert.Equal(t, "No stop method found", err.Error())
			assert.Equal(t, "stop", exhausted.Operation)
			assert.Len(t, exhausted.Failures, k)
		})
	}
}

func TestChain_ErrorsAreNotPropagatedOnSuccess(t *testing.T) {
	boom := errors.New("boom")
	chain := NewChain("evaluate", "", nil,
		NewFunc("broken", func(context.Context, string) (Result, error) { return Declined, boom }),
		NewFunc("works", func(context.Context, string) (Result, error) { return Done, nil }),
	)

	out, err := chain.Run(t.Context(), "x")
	require.NoError(t, err)
	assert.Equal(t, "works", out.Strategy)
}

func TestChain_ExhaustedUnwrapsFailures(t *testing.T) {
	boom := errors.New("boom")
	chain := NewChain("evaluate", "No evaluation method found", nil,
		NewFunc("a", func(context.Context, string) (Result, error) { return Declined, boom }),
		NewFunc("b", func(context.Context, string) (Result, error) { return Declined, nil }),
	)

	_, err := chain.Run(t.Context(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Contains(t, exhausted.Detail(), "a: boom")
	assert.Contains(t, exhausted.Detail(), "b: declined")
}

func TestChain_PanicIsAFailure(t *testing.T) {
	chain := NewChain("apply", "", nil,
		NewFunc("panics", func(context.Context, string) (Result, error) { panic("nil editor") }),
		NewFunc("fallback", func(context.Context, string) (Result, error) { return Done, nil }),
	)

	out, err := chain.Run(t.Context(), "x")
	require.NoError(t, err)
	assert.Equal(t, "fallback", out.Strategy)
}

func TestChain_PassesArgument(t *testing.T) {
	var got string
	chain := NewChain("apply", "", nil,
		NewFunc("capture", func(_ context.Context, arg string) (Result, error) {
			got = arg
			return Done, nil
		}),
	)

	_, err := chain.Run(t.Context(), "// comment\nsound(\"bd\")")
	require.NoError(t, err)
	assert.Equal(t, "// comment\nsound(\"bd\")", got)
}

func TestChain_StopsOnCancelledContext(t *testing.T) {
	var calls []int
	chain := NewChain("apply", "", nil, countingStrategies(3, nil, &calls)...)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := chain.Run(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, calls)
}

func TestChain_EmptyIsExhausted(t *testing.T) {
	chain := NewChain("read", "", nil)
	_, err := chain.Run(t.Context(), "")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "no read strategy succeeded", exhausted.Diagnostic)
	assert.Equal(t, 0, chain.Len())
}
