// ABOUTME: Playwright-backed browser session hosting the target editor page
// ABOUTME: Provides the Evaluate/Click page surface used by the editor strategies

package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// Defaults for a session.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
	DefaultTimeoutMs      = 10000

	clickTimeoutMs = 2000
)

// Options configures Launch.
type Options struct {
	URL       string
	Headless  bool
	TimeoutMs float64
	// Install downloads the browser driver before starting. Disable when the
	// environment already provides it.
	Install bool
}

// Session is one Chromium page driven by Playwright.
type Session struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	timeout float64
	logger  *slog.Logger
}

// Launch starts Playwright, opens Chromium and navigates to opts.URL.
func Launch(opts Options, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "browser")

	if opts.TimeoutMs <= 0 {
		opts.TimeoutMs = DefaultTimeoutMs
	}

	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("installing playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("starting playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		// Playback must not wait for a user gesture.
		Args: []string{"--autoplay-policy=no-user-gesture-required"},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("creating browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("creating page: %w", err)
	}
	page.SetDefaultTimeout(opts.TimeoutMs)

	s := &Session{
		pw:      pw,
		browser: browser,
		context: bctx,
		page:    page,
		timeout: opts.TimeoutMs,
		logger:  logger,
	}

	if opts.URL != "" {
		if err := s.Navigate(opts.URL); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Navigate loads url and waits for the network to go idle.
func (s *Session) Navigate(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	waitUntil := playwright.WaitUntilStateNetworkidle
	if _, err := s.page.Goto(url, playwright.PageGotoOptions{WaitUntil: waitUntil}); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	s.logger.Info("page loaded", "url", s.page.URL())
	return nil
}

// Evaluate runs script in the page. Playwright calls are not context-aware,
// so ctx is only checked before the call; the page default timeout bounds it.
func (s *Session) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.page.Evaluate(script, arg)
	if err != nil {
		return nil, fmt.Errorf("evaluating script: %w", err)
	}
	return v, nil
}

// Click clicks the first visible element matching selector. It reports
// false without error when nothing matches.
func (s *Session) Click(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.page.Locator(selector)
	n, err := loc.Count()
	if err != nil {
		return false, fmt.Errorf("querying %s: %w", selector, err)
	}
	if n == 0 {
		return false, nil
	}
	if err := loc.First().Click(playwright.LocatorClickOptions{Timeout: playwright.Float(min(s.timeout, clickTimeoutMs))}); err != nil {
		// Present but never clickable (hidden, disabled) counts as no match.
		if errors.Is(err, playwright.ErrTimeout) {
			return false, nil
		}
		return false, fmt.Errorf("clicking %s: %w", selector, err)
	}
	return true, nil
}

// Close releases the page, browser and Playwright driver.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.context != nil {
		errs = append(errs, s.context.Close())
	}
	if s.browser != nil {
		errs = append(errs, s.browser.Close())
	}
	if s.pw != nil {
		errs = append(errs, s.pw.Stop())
	}
	return errors.Join(errs...)
}
