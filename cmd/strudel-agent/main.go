// ABOUTME: Entry point for the browser agent that drives a live Strudel editor
// ABOUTME: Launches Chromium through Playwright and relays hub commands into the page

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/strudel-bridge/internal/agent"
	"github.com/2389/strudel-bridge/internal/browser"
	"github.com/2389/strudel-bridge/internal/config"
	"github.com/2389/strudel-bridge/internal/editor"
	"github.com/2389/strudel-bridge/internal/logging"
)

// Version is set at build time.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, configPath, err := config.LoadAgentDefault()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if configPath == "" {
		configPath = "(defaults)"
	}

	agentCfg, err := cfg.Agent()
	if err != nil {
		return err
	}
	browserOpts := cfg.BrowserOptions()

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	cyan.Println("strudel-agent")
	gray.Printf("    version: %s\n\n", version)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Hub:     %s\n", agentCfg.HubURL)
	green.Print("    ▶ ")
	fmt.Printf("Editor:  %s\n", browserOpts.URL)
	gray.Println("    send SIGHUP to reconnect after giving up")
	fmt.Println()

	session, err := browser.Launch(browserOpts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("closing browser", "error", err)
		}
	}()

	a := agent.New(agentCfg, editor.NewDriver(session, logger), logger,
		agent.WithStatusHook(gaveUpNotice(os.Stderr, agentCfg.HubURL, os.Getpid())),
	)

	go reconnectOnHangup(ctx, a, logger)

	err = a.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("agent stopped")
		return nil
	}
	return err
}

// gaveUpNotice tells the operator how to retry once the agent stops
// reconnecting on its own.
func gaveUpNotice(w io.Writer, hubURL string, pid int) func(agent.Status) {
	red := color.New(color.FgRed)
	return func(s agent.Status) {
		if !s.Terminal() {
			return
		}
		red.Fprintf(w, "    ✗ gave up on %s; run `kill -HUP %d` to retry\n", hubURL, pid)
	}
}

// reconnectOnHangup turns SIGHUP into a manual reconnect.
func reconnectOnHangup(ctx context.Context, a *agent.Agent, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if a.Reconnect() {
				logger.Info("SIGHUP received, reconnecting")
			} else {
				logger.Info("reconnect ignored", "status", a.Status())
			}
		}
	}
}
