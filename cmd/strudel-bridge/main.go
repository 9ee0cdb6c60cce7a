// ABOUTME: Entry point for the strudel-bridge relay hub
// ABOUTME: Serves browser agents over WebSocket and exposes them to MCP clients

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/strudel-bridge/internal/config"
	"github.com/2389/strudel-bridge/internal/gateway"
	"github.com/2389/strudel-bridge/internal/logging"
)

// Version is set at build time.
var version = "dev"

const banner = `
     _                 _      _        _          _     _
 ___| |_ _ __ _   _  __| | ___| |      | |__  _ __(_) __| | __ _  ___
/ __| __| '__| | | |/ _' |/ _ \ |_____| '_ \| '__| |/ _' |/ _' |/ _ \
\__ \ |_| |  | |_| | (_| |  __/ |_____| |_) | |  | | (_| | (_| |  __/
|___/\__|_|   \__,_|\__,_|\___|_|     |_.__/|_|  |_|\__,_|\__, |\___|
                                                          |___/
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: strudel-bridge <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the relay hub and HTTP API")
		fmt.Println("  mcp      Start the relay hub and serve MCP over stdio")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check hub health")
		fmt.Println("  status   Show agent connection status")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "mcp":
		err = runMCP(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "status":
		err = runStatus(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	cfg, path, err := config.LoadDefault()
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	if path == "" {
		path = "(defaults)"
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Agents:    %s\n", cfg.HubURL())
	green.Print("    ▶ ")
	fmt.Printf("HTTP API:  %s/api/status\n", cfg.HTTPBaseURL())
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s ", cfg.Server.GRPCAddr)
		gray.Println("(health)")
	}
	if cfg.MCP.SSE {
		green.Print("    ▶ ")
		fmt.Printf("MCP SSE:   %s/mcp/sse\n", cfg.HTTPBaseURL())
	}
	green.Print("    ▶ ")
	fmt.Printf("Ledger:    %s", cfg.Ledger.Path)
	if cfg.Ledger.Path == ":memory:" {
		yellow.Print(" [in-memory]")
	}
	fmt.Println()
	fmt.Println()

	logger.Info("starting strudel-bridge",
		"config", configPath,
		"addr", cfg.Server.Addr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runMCP serves MCP on stdin/stdout. Stdout belongs to the protocol, so
// logs go to stderr and there is no banner.
func runMCP(ctx context.Context) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	logger.Info("starting strudel-bridge MCP server", "config", configPath, "addr", cfg.Server.Addr)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	ln, grpcLn, err := gw.Bind()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Serve(gctx, ln, grpcLn)
	})
	g.Go(func() error {
		err := gw.MCP().ServeStdio(gctx, os.Stdin, os.Stdout, os.Stderr)
		if err != nil && gctx.Err() == nil && err != io.EOF {
			return fmt.Errorf("MCP stdio: %w", err)
		}
		// The client closed stdin; take the hub down with it.
		return context.Canceled
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	resp, err := get(ctx, cfg.HTTPBaseURL()+"/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runStatus(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	resp, err := get(ctx, cfg.HTTPBaseURL()+"/api/status")
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status check failed: status %d", resp.StatusCode)
	}

	var st gateway.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if st.Connected {
		color.Green("browser connected (%d agents)", st.Count)
	} else {
		color.Yellow("no browser connected")
	}
	if st.PendingSnapshots > 0 {
		fmt.Printf("pending snapshot requests: %d\n", st.PendingSnapshots)
	}
	return nil
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return httpClient.Do(req)
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("strudel-bridge configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !yes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	addr := prompt(reader, "Agent WebSocket / HTTP address", config.DefaultAddr)
	grpcAddr := prompt(reader, "gRPC health address (empty to disable)", "")
	sse := yes(prompt(reader, "Serve MCP over SSE?", "no"))

	fmt.Println("\n--- Ledger Configuration ---")
	ledgerPath := prompt(reader, "SQLite ledger path (:memory: keeps it in RAM)", config.DefaultLedgerPath)
	retain := prompt(reader, "Rows to retain per table", fmt.Sprint(config.DefaultLedgerRetain))

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# strudel-bridge configuration\n")
	cfg.WriteString("# Generated by strudel-bridge init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString("  # agents connect here; the HTTP API shares the port\n")
	cfg.WriteString(fmt.Sprintf("  addr: %q\n", addr))
	cfg.WriteString(fmt.Sprintf("  grpc_addr: %q\n", grpcAddr))
	cfg.WriteString("\n")

	cfg.WriteString("bridge:\n")
	cfg.WriteString(fmt.Sprintf("  send_buffer: %d\n", config.DefaultSendBuffer))
	cfg.WriteString(fmt.Sprintf("  write_timeout: %q\n", config.DefaultWriteTimeout.String()))
	cfg.WriteString("  # ping_interval: \"30s\"\n")
	cfg.WriteString(fmt.Sprintf("  snapshot_timeout: %q\n", config.DefaultSnapshotTimeout.String()))
	cfg.WriteString("\n")

	cfg.WriteString("ledger:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", ledgerPath))
	cfg.WriteString(fmt.Sprintf("  retain: %s\n", retain))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString("\n")

	cfg.WriteString("mcp:\n")
	cfg.WriteString(fmt.Sprintf("  sse: %t\n", sse))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	if _, err := config.Parse([]byte(cfg.String())); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if ledgerPath != config.DefaultLedgerPath {
		if err := os.MkdirAll(filepath.Dir(ledgerPath), 0755); err != nil {
			return fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  strudel-bridge serve\n")

	return nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
