// ABOUTME: Browserless agent for end-to-end checks; connects via WebSocket with an in-memory editor
// ABOUTME: Usage: fake-agent [-hub ws://localhost:3001] [-fail "error text"] [-v]
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/2389/strudel-bridge/internal/agent"
	"github.com/2389/strudel-bridge/internal/editor"
	"github.com/2389/strudel-bridge/internal/logging"
)

func main() {
	hub := flag.String("hub", "ws://localhost:3001", "hub WebSocket URL")
	fail := flag.String("fail", "", "make every evaluation fail with this error")
	settle := flag.Duration("settle", 0, "delay between apply and evaluate")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if err := run(*hub, *fail, *settle, *verbose); err != nil {
		log.Fatal(err)
	}
}

func run(hubURL, fail string, settle time.Duration, verbose bool) error {
	level := "info"
	if verbose {
		level = "debug"
	}
	logger := logging.New(level, "text", os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	mem := editor.NewMemory()
	if fail != "" {
		mem.FailEvaluate(errors.New(fail))
	}

	cfg := agent.DefaultConfig()
	cfg.HubURL = hubURL
	cfg.SettleDelay = settle
	cfg.DetectAttempts = 1

	a := agent.New(cfg, mem, logger)
	err := a.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Printf("applied %d patterns", len(mem.Applied()))
		return nil // graceful shutdown
	}
	return err
}
