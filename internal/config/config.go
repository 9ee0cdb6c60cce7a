// ABOUTME: Configuration loading and parsing for the bridge hub
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultAddr            = "localhost:3001"
	DefaultSendBuffer      = 64
	DefaultWriteTimeout    = 15 * time.Second
	DefaultSnapshotTimeout = 5 * time.Second
	DefaultLedgerPath      = ":memory:"
	DefaultLedgerRetain    = 500
)

// Config represents the complete bridge hub configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Metrics MetricsConfig `yaml:"metrics"`
	MCP     MCPConfig     `yaml:"mcp"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds listen addresses
type ServerConfig struct {
	// Addr serves the agent WebSocket endpoint and the HTTP API.
	Addr string `yaml:"addr"`
	// GRPCAddr serves the gRPC health service. Empty disables it.
	GRPCAddr string `yaml:"grpc_addr"`
	// BaseURL is the externally visible origin, used for MCP SSE endpoints.
	BaseURL string `yaml:"base_url"`
	// AllowedOrigins are host patterns accepted on the WebSocket upgrade.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// BridgeConfig holds relay timing configuration
type BridgeConfig struct {
	SendBuffer      int           `yaml:"send_buffer"`
	WriteTimeout    time.Duration `yaml:"-"`
	PingInterval    time.Duration `yaml:"-"`
	SnapshotTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	WriteTimeoutRaw    string `yaml:"write_timeout"`
	PingIntervalRaw    string `yaml:"ping_interval"`
	SnapshotTimeoutRaw string `yaml:"snapshot_timeout"`
}

// LedgerConfig holds the execution ledger settings
type LedgerConfig struct {
	Path   string `yaml:"path"`
	Retain int    `yaml:"retain"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MCPConfig holds the MCP transports served by `serve`
type MCPConfig struct {
	SSE bool `yaml:"sse"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config content.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	cfg := Config{Metrics: MetricsConfig{Enabled: true}}
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads the file at DefaultPath. A missing file yields the
// defaults, unless the path was named explicitly through the environment.
func LoadDefault() (*Config, string, error) {
	path := DefaultPath()
	cfg, err := Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if errors.Is(err, fs.ErrNotExist) && os.Getenv(EnvBridgeConfig) == "" {
		return Default(), "", nil
	}
	return nil, path, err
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Bridge.SendBuffer == 0 {
		c.Bridge.SendBuffer = DefaultSendBuffer
	}
	if c.Bridge.WriteTimeout == 0 {
		c.Bridge.WriteTimeout = DefaultWriteTimeout
	}
	if c.Bridge.SnapshotTimeout == 0 {
		c.Bridge.SnapshotTimeout = DefaultSnapshotTimeout
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = DefaultLedgerPath
	}
	if c.Ledger.Retain == 0 {
		c.Ledger.Retain = DefaultLedgerRetain
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all configuration fields are valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("server.addr %q is not host:port: %w", c.Server.Addr, err)
	}
	if c.Server.GRPCAddr != "" {
		if _, _, err := net.SplitHostPort(c.Server.GRPCAddr); err != nil {
			return fmt.Errorf("server.grpc_addr %q is not host:port: %w", c.Server.GRPCAddr, err)
		}
	}
	if c.Bridge.SendBuffer < 1 {
		return fmt.Errorf("bridge.send_buffer must be positive")
	}
	if c.Bridge.WriteTimeout < 0 || c.Bridge.PingInterval < 0 || c.Bridge.SnapshotTimeout < 0 {
		return fmt.Errorf("bridge durations must not be negative")
	}
	if c.Ledger.Retain < 0 {
		return fmt.Errorf("ledger.retain must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	return nil
}

// HubURL is the WebSocket URL agents should dial.
func (c *Config) HubURL() string {
	return "ws://" + c.Server.Addr
}

// HTTPBaseURL is the externally visible HTTP origin.
func (c *Config) HTTPBaseURL() string {
	if c.Server.BaseURL != "" {
		return c.Server.BaseURL
	}
	return "http://" + c.Server.Addr
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"write_timeout", cfg.Bridge.WriteTimeoutRaw, &cfg.Bridge.WriteTimeout},
		{"ping_interval", cfg.Bridge.PingIntervalRaw, &cfg.Bridge.PingInterval},
		{"snapshot_timeout", cfg.Bridge.SnapshotTimeoutRaw, &cfg.Bridge.SnapshotTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Environment variables naming config files.
const (
	EnvBridgeConfig = "STRUDEL_BRIDGE_CONFIG"
	EnvAgentConfig  = "STRUDEL_AGENT_CONFIG"
)

// DefaultPath returns the path to the hub config file.
// Priority: STRUDEL_BRIDGE_CONFIG env var > XDG_CONFIG_HOME/strudel-bridge/bridge.yaml > ~/.config/strudel-bridge/bridge.yaml
func DefaultPath() string {
	return configPath(EnvBridgeConfig, "bridge.yaml")
}

// DefaultAgentPath returns the path to the agent config file.
// Priority: STRUDEL_AGENT_CONFIG env var > XDG_CONFIG_HOME/strudel-bridge/agent.toml > ~/.config/strudel-bridge/agent.toml
func DefaultAgentPath() string {
	return configPath(EnvAgentConfig, "agent.toml")
}

func configPath(env, name string) string {
	if envPath := os.Getenv(env); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return name // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "strudel-bridge", name)
}
