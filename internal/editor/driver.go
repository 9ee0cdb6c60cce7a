// ABOUTME: Editor driver built from fallback chains over a browser page
// ABOUTME: Implements apply, evaluate, stop and snapshot against an unknown editor

package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/strudel-bridge/internal/protocol"
	"github.com/2389/strudel-bridge/internal/strategy"
)

// Diagnostics reported when a chain is exhausted.
const (
	DiagApply    = "Could not update editor with any method"
	DiagEvaluate = "No evaluation method found"
	DiagStop     = "No stop method found"
)

// ErrNoEditor is returned when no editing surface can be located on the page.
// Its text is reported to the hub as-is.
var ErrNoEditor = errors.New("No editor found")

// Page is the part of a browser page the strategies need.
type Page interface {
	// Evaluate runs a function expression in the page with one argument and
	// returns its JSON-decoded result.
	Evaluate(ctx context.Context, script string, arg any) (any, error)
	// Click clicks the first element matching selector. It reports false
	// when nothing matches.
	Click(ctx context.Context, selector string) (bool, error)
}

// Driver operates the editor in a page through four fallback chains.
type Driver struct {
	page     Page
	apply    *strategy.Chain
	evaluate *strategy.Chain
	stop     *strategy.Chain
	read     *strategy.Chain
	logger   *slog.Logger
}

// NewDriver creates a Driver for page. Pass nil logger for default.
func NewDriver(page Page, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "editor")

	d := &Driver{page: page, logger: logger}

	d.apply = strategy.NewChain("apply", DiagApply, logger,
		d.scripted("codemirror6-dispatch", applyCM6Script),
		d.scripted("content-text", applyContentScript),
		d.scripted("exec-insert-text", applyInsertTextScript),
		d.scripted("codemirror5-set-value", applyCM5Script),
		d.scripted("textarea-value", applyTextareaScript),
	)
	d.evaluate = strategy.NewChain("evaluate", DiagEvaluate, logger,
		d.globalCall("global-evaluate", evaluateGlobals),
		d.clickFirst("play-button", playSelectors),
		d.scripted("keyboard-shortcut", shortcutScript),
	)
	d.stop = strategy.NewChain("stop", DiagStop, logger,
		d.globalCall("global-hush", stopGlobals),
		d.clickFirst("stop-button", stopSelectors),
	)
	d.read = strategy.NewChain("read", "", logger,
		d.reader("codemirror6-doc", readCM6Script),
		d.reader("content-text", readContentScript),
		d.reader("codemirror5-get-value", readCM5Script),
		d.reader("textarea-value", readTextareaScript),
	)
	return d
}

// Info describes the located editor.
type Info struct {
	Selector  string
	ClassName string
}

// Locate finds the editing surface. It returns ErrNoEditor when none of the
// known selectors match.
func (d *Driver) Locate(ctx context.Context) (Info, error) {
	v, err := d.page.Evaluate(ctx, locateScript, editorSelectors)
	if err != nil {
		return Info{}, fmt.Errorf("locating editor: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return Info{}, ErrNoEditor
	}
	info := Info{}
	info.Selector, _ = m["selector"].(string)
	info.ClassName, _ = m["className"].(string)
	return info, nil
}

// Detect reports whether the page looks like a fully loaded Strudel REPL.
func (d *Driver) Detect(ctx context.Context) (bool, error) {
	v, err := d.page.Evaluate(ctx, detectScript, nil)
	if err != nil {
		return false, fmt.Errorf("detecting editor: %w", err)
	}
	detected, _ := v.(bool)
	return detected, nil
}

// Describe fills the environment fields of a browser_ready announcement.
func (d *Driver) Describe(ctx context.Context) (protocol.ReadyInfo, error) {
	info := protocol.ReadyInfo{EditorType: "none"}

	v, err := d.page.Evaluate(ctx, describeScript, nil)
	if err != nil {
		return info, fmt.Errorf("describing page: %w", err)
	}
	if m, ok := v.(map[string]any); ok {
		info.URL, _ = m["url"].(string)
		info.UserAgent, _ = m["userAgent"].(string)
		info.AudioInitialized, _ = m["audioInitialized"].(bool)
		info.AudioPermissionGranted, _ = m["audioPermissionGranted"].(bool)
	}

	ed, err := d.Locate(ctx)
	switch {
	case err == nil:
		info.HasEditor = true
		info.EditorType = ed.ClassName
	case errors.Is(err, ErrNoEditor):
	default:
		return info, err
	}
	return info, nil
}

// Apply replaces the editor content with code.
func (d *Driver) Apply(ctx context.Context, code string) error {
	if _, err := d.Locate(ctx); err != nil {
		return err
	}
	out, err := d.apply.Run(ctx, code)
	if err != nil {
		return err
	}
	d.logger.Debug("editor updated", "strategy", out.Strategy, "chars", len(code))
	return nil
}

// Evaluate triggers execution of the current editor content.
func (d *Driver) Evaluate(ctx context.Context, code string) error {
	out, err := d.evaluate.Run(ctx, code)
	if err != nil {
		return err
	}
	d.logger.Debug("evaluation triggered", "strategy", out.Strategy)
	return nil
}

// Stop halts playback.
func (d *Driver) Stop(ctx context.Context) error {
	out, err := d.stop.Run(ctx, "")
	if err != nil {
		return err
	}
	d.logger.Debug("playback stopped", "strategy", out.Strategy)
	return nil
}

// Snapshot returns the current editor content, or an empty string when it
// cannot be read.
func (d *Driver) Snapshot(ctx context.Context) (string, error) {
	if _, err := d.Locate(ctx); err != nil {
		if errors.Is(err, ErrNoEditor) {
			return "", nil
		}
		return "", err
	}
	out, err := d.read.Run(ctx, "")
	if err != nil {
		var exhausted *strategy.ExhaustedError
		if errors.As(err, &exhausted) {
			d.logger.Debug("snapshot unreadable", "detail", exhausted.Detail())
			return "", nil
		}
		return "", err
	}
	return out.Value, nil
}

// scripted is a strategy whose script returns true when it applied.
func (d *Driver) scripted(name, script string) strategy.Strategy {
	return strategy.NewFunc(name, func(ctx context.Context, arg string) (strategy.Result, error) {
		v, err := d.page.Evaluate(ctx, script, arg)
		if err != nil {
			return strategy.Declined, err
		}
		if ok, _ := v.(bool); ok {
			return strategy.Done, nil
		}
		return strategy.Declined, nil
	})
}

// globalCall calls the first available global function from names.
func (d *Driver) globalCall(name string, names []string) strategy.Strategy {
	return strategy.NewFunc(name, func(ctx context.Context, arg string) (strategy.Result, error) {
		v, err := d.page.Evaluate(ctx, callGlobalScript, []any{names, arg})
		if err != nil {
			return strategy.Declined, err
		}
		if ok, _ := v.(bool); ok {
			return strategy.Done, nil
		}
		return strategy.Declined, nil
	})
}

// clickFirst clicks the first selector that matches an element.
func (d *Driver) clickFirst(name string, selectors []string) strategy.Strategy {
	return strategy.NewFunc(name, func(ctx context.Context, _ string) (strategy.Result, error) {
		var lastErr error
		for _, sel := range selectors {
			clicked, err := d.page.Click(ctx, sel)
			if err != nil {
				lastErr = err
				continue
			}
			if clicked {
				return strategy.Done, nil
			}
		}
		return strategy.Declined, lastErr
	})
}

// reader is a strategy whose script returns the content or null.
func (d *Driver) reader(name, script string) strategy.Strategy {
	return strategy.NewFunc(name, func(ctx context.Context, _ string) (strategy.Result, error) {
		v, err := d.page.Evaluate(ctx, script, nil)
		if err != nil {
			return strategy.Declined, err
		}
		s, ok := v.(string)
		if !ok {
			return strategy.Declined, nil
		}
		return strategy.Value(s), nil
	})
}
