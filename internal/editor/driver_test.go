// ABOUTME: Tests for the editor driver using a scripted fake page
// ABOUTME: Verifies chain order, diagnostics and snapshot fallbacks

package editor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/strudel-bridge/internal/strategy"
)

// fakePage answers scripts from a table. Unknown scripts return nil, which
// every strategy treats as "did not apply".
type fakePage struct {
	results   map[string]any
	errs      map[string]error
	clickable map[string]bool
	evaluated []string
	clicked   []string
	args      []any
}

func newFakePage() *fakePage {
	return &fakePage{
		results:   map[string]any{},
		errs:      map[string]error{},
		clickable: map[string]bool{},
	}
}

func (p *fakePage) Evaluate(_ context.Context, script string, arg any) (any, error) {
	p.evaluated = append(p.evaluated, script)
	p.args = append(p.args, arg)
	if err := p.errs[script]; err != nil {
		return nil, err
	}
	return p.results[script], nil
}

func (p *fakePage) Click(_ context.Context, selector string) (bool, error) {
	p.clicked = append(p.clicked, selector)
	return p.clickable[selector], nil
}

func (p *fakePage) count(script string) int {
	n := 0
	for _, s := range p.evaluated {
		if s == script {
			n++
		}
	}
	return n
}

func withEditor(p *fakePage) *fakePage {
	p.results[locateScript] = map[string]any{"selector": ".cm-editor", "className": "cm-editor ͼ1"}
	return p
}

func TestApply_NoEditor(t *testing.T) {
	page := newFakePage()
	d := NewDriver(page, nil)

	err := d.Apply(t.Context(), "s(\"bd\")")
	require.ErrorIs(t, err, ErrNoEditor)
	assert.Equal(t, "No editor found", err.Error())
	assert.Equal(t, 0, page.count(applyCM6Script))
}

func TestApply_FirstStrategyWins(t *testing.T) {
	page := withEditor(newFakePage())
	page.results[applyCM6Script] = true
	page.results[applyContentScript] = true
	d := NewDriver(page, nil)

	require.NoError(t, d.Apply(t.Context(), "note(\"c3\")"))
	assert.Equal(t, 1, page.count(applyCM6Script))
	assert.Equal(t, 0, page.count(applyContentScript))
}

func TestApply_FallsBackInOrder(t *testing.T) {
	page := withEditor(newFakePage())
	page.errs[applyCM6Script] = errors.New("view is undefined")
	page.results[applyContentScript] = false
	page.results[applyInsertTextScript] = false
	page.results[applyCM5Script] = true
	d := NewDriver(page, nil)

	require.NoError(t, d.Apply(t.Context(), "x"))
	assert.Equal(t, []string{
		locateScript, applyCM6Script, applyContentScript, applyInsertTextScript, applyCM5Script,
	}, page.evaluated)
	assert.Equal(t, 0, page.count(applyTextareaScript))
}

func TestApply_Exhausted(t *testing.T) {
	page := withEditor(newFakePage())
	d := NewDriver(page, nil)

	err := d.Apply(t.Context(), "x")
	var exhausted *strategy.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, DiagApply, err.Error())
	assert.Len(t, exhausted.Failures, 5)
}

func TestEvaluate_GlobalFunction(t *testing.T) {
	page := newFakePage()
	page.results[callGlobalScript] = true
	d := NewDriver(page, nil)

	require.NoError(t, d.Evaluate(t.Context(), "s(\"hh*8\")"))
	require.Len(t, page.args, 1)
	assert.Equal(t, []any{evaluateGlobals, "s(\"hh*8\")"}, page.args[0])
	assert.Empty(t, page.clicked)
}

func TestEvaluate_ClicksPlayButton(t *testing.T) {
	page := newFakePage()
	page.clickable[`button[aria-label*="play"]`] = true
	d := NewDriver(page, nil)

	require.NoError(t, d.Evaluate(t.Context(), "x"))
	assert.Equal(t, []string{`button[title*="play"]`, `button[aria-label*="play"]`}, page.clicked)
	assert.Equal(t, 0, page.count(shortcutScript))
}

func TestEvaluate_KeyboardFallback(t *testing.T) {
	page := newFakePage()
	page.results[shortcutScript] = true
	d := NewDriver(page, nil)

	require.NoError(t, d.Evaluate(t.Context(), "x"))
	assert.Len(t, page.clicked, len(playSelectors))
	assert.Equal(t, 1, page.count(shortcutScript))
}

func TestEvaluate_Exhausted(t *testing.T) {
	page := newFakePage()
	page.errs[shortcutScript] = errors.New("page closed")
	d := NewDriver(page, nil)

	err := d.Evaluate(t.Context(), "x")
	require.Error(t, err)
	assert.Equal(t, DiagEvaluate, err.Error())
}

func TestStop(t *testing.T) {
	t.Run("global hush", func(t *testing.T) {
		page := newFakePage()
		page.results[callGlobalScript] = true
		require.NoError(t, NewDriver(page, nil).Stop(t.Context()))
		assert.Equal(t, []any{stopGlobals, ""}, page.args[0])
	})

	t.Run("stop button", func(t *testing.T) {
		page := newFakePage()
		page.clickable[`.stop-button`] = true
		require.NoError(t, NewDriver(page, nil).Stop(t.Context()))
		assert.Equal(t, stopSelectors, page.clicked)
	})

	t.Run("nothing found", func(t *testing.T) {
		err := NewDriver(newFakePage(), nil).Stop(t.Context())
		require.Error(t, err)
		assert.Equal(t, DiagStop, err.Error())
	})
}

func TestSnapshot(t *testing.T) {
	t.Run("codemirror 6", func(t *testing.T) {
		page := withEditor(newFakePage())
		page.results[readCM6Script] = "stack(s(\"bd\"))"
		got, err := NewDriver(page, nil).Snapshot(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "stack(s(\"bd\"))", got)
	})

	t.Run("textarea fallback", func(t *testing.T) {
		page := withEditor(newFakePage())
		page.results[readTextareaScript] = "plain"
		got, err := NewDriver(page, nil).Snapshot(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "plain", got)
		assert.Equal(t, 1, page.count(readCM5Script))
	})

	t.Run("empty editor content is a value", func(t *testing.T) {
		page := withEditor(newFakePage())
		page.results[readCM6Script] = ""
		page.results[readContentScript] = "should not be read"
		got, err := NewDriver(page, nil).Snapshot(t.Context())
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, 0, page.count(readContentScript))
	})

	t.Run("no editor", func(t *testing.T) {
		got, err := NewDriver(newFakePage(), nil).Snapshot(t.Context())
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("unreadable", func(t *testing.T) {
		got, err := NewDriver(withEditor(newFakePage()), nil).Snapshot(t.Context())
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestDescribe(t *testing.T) {
	page := withEditor(newFakePage())
	page.results[describeScript] = map[string]any{
		"url":                    "https://strudel.cc/",
		"userAgent":              "HeadlessChrome",
		"audioInitialized":       true,
		"audioPermissionGranted": false,
	}

	info, err := NewDriver(page, nil).Describe(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "https://strudel.cc/", info.URL)
	assert.Equal(t, "HeadlessChrome", info.UserAgent)
	assert.True(t, info.HasEditor)
	assert.Equal(t, "cm-editor ͼ1", info.EditorType)
	assert.True(t, info.AudioInitialized)
	assert.False(t, info.AudioPermissionGranted)
}

func TestDescribe_NoEditor(t *testing.T) {
	info, err := NewDriver(newFakePage(), nil).Describe(t.Context())
	require.NoError(t, err)
	assert.False(t, info.HasEditor)
	assert.Equal(t, "none", info.EditorType)
}

func TestDetect(t *testing.T) {
	page := newFakePage()
	d := NewDriver(page, nil)

	ok, err := d.Detect(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)

	page.results[detectScript] = true
	ok, err = d.Detect(t.Context())
	require.NoError(t, err)
	assert.True(t, ok)
}
