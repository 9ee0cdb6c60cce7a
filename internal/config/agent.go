// ABOUTME: Configuration loading for the browser agent
// ABOUTME: Loads TOML config with environment variable expansion into agent and browser settings

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/2389/strudel-bridge/internal/agent"
	"github.com/2389/strudel-bridge/internal/browser"
)

// DefaultEditorURL is the page the agent opens when none is configured.
const DefaultEditorURL = "https://strudel.cc/"

// AgentConfig is the strudel-agent configuration file.
type AgentConfig struct {
	HubURL  string             `toml:"hub_url"`
	Browser AgentBrowserConfig `toml:"browser"`
	Backoff AgentBackoffConfig `toml:"backoff"`
	Timings AgentTimingsConfig `toml:"timings"`
	Logging LoggingConfig      `toml:"logging"`
}

// AgentBrowserConfig selects the page and how Chromium runs.
type AgentBrowserConfig struct {
	URL      string `toml:"url"`
	Headless bool   `toml:"headless"`
	Install  bool   `toml:"install"`
}

// AgentBackoffConfig is the reconnect policy. Durations use time.ParseDuration syntax.
type AgentBackoffConfig struct {
	Base        string `toml:"base"`
	Cap         string `toml:"cap"`
	MaxAttempts int    `toml:"max_attempts"`
}

// AgentTimingsConfig holds the agent's delays.
type AgentTimingsConfig struct {
	Cooldown       string `toml:"cooldown"`
	Settle         string `toml:"settle"`
	HealthInterval string `toml:"health_interval"`
	ConnectTimeout string `toml:"connect_timeout"`
	DetectAttempts int    `toml:"detect_attempts"`
	DetectInterval string `toml:"detect_interval"`
}

// LoadAgent reads the agent config from path, expanding environment variables.
func LoadAgent(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseAgent(string(data))
}

// ParseAgent decodes TOML agent config content.
func ParseAgent(data string) (*AgentConfig, error) {
	var cfg AgentConfig
	md, err := toml.Decode(expandEnvVars(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if !md.IsDefined("browser", "install") {
		cfg.Browser.Install = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// LoadAgentDefault loads DefaultAgentPath, falling back to defaults when the
// file is absent and no path was named through the environment.
func LoadAgentDefault() (*AgentConfig, string, error) {
	path := DefaultAgentPath()
	cfg, err := LoadAgent(path)
	if err == nil {
		return cfg, path, nil
	}
	if errors.Is(err, fs.ErrNotExist) && os.Getenv(EnvAgentConfig) == "" {
		cfg, _ := ParseAgent("")
		return cfg, "", nil
	}
	return nil, path, err
}

// Validate checks that config fields are present and valid.
func (c *AgentConfig) Validate() error {
	if c.HubURL != "" {
		u, err := url.Parse(c.HubURL)
		if err != nil {
			return fmt.Errorf("hub_url is not a valid URL: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("hub_url must use ws or wss scheme")
		}
	}
	if c.Browser.URL != "" {
		if _, err := url.Parse(c.Browser.URL); err != nil {
			return fmt.Errorf("browser.url is not a valid URL: %w", err)
		}
	}
	if c.Backoff.MaxAttempts < 0 {
		return fmt.Errorf("backoff.max_attempts must not be negative")
	}
	if c.Timings.DetectAttempts < 0 {
		return fmt.Errorf("timings.detect_attempts must not be negative")
	}
	_, err := c.Agent()
	return err
}

// Agent converts the file into agent settings on top of agent.DefaultConfig.
func (c *AgentConfig) Agent() (agent.Config, error) {
	cfg := agent.DefaultConfig()
	if c.HubURL != "" {
		cfg.HubURL = c.HubURL
	}
	if c.Backoff.MaxAttempts > 0 {
		cfg.Backoff.MaxAttempts = c.Backoff.MaxAttempts
	}
	if c.Timings.DetectAttempts > 0 {
		cfg.DetectAttempts = c.Timings.DetectAttempts
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backoff.base", c.Backoff.Base, &cfg.Backoff.Base},
		{"backoff.cap", c.Backoff.Cap, &cfg.Backoff.Cap},
		{"timings.cooldown", c.Timings.Cooldown, &cfg.Cooldown},
		{"timings.settle", c.Timings.Settle, &cfg.SettleDelay},
		{"timings.health_interval", c.Timings.HealthInterval, &cfg.HealthInterval},
		{"timings.connect_timeout", c.Timings.ConnectTimeout, &cfg.ConnectTimeout},
		{"timings.detect_interval", c.Timings.DetectInterval, &cfg.DetectInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return agent.Config{}, fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		if v < 0 {
			return agent.Config{}, fmt.Errorf("%s must not be negative", d.name)
		}
		*d.dst = v
	}
	return cfg, nil
}

// BrowserOptions returns the Playwright launch options.
func (c *AgentConfig) BrowserOptions() browser.Options {
	u := c.Browser.URL
	if u == "" {
		u = DefaultEditorURL
	}
	return browser.Options{
		URL:      u,
		Headless: c.Browser.Headless,
		Install:  c.Browser.Install,
	}
}
