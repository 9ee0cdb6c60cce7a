// Package config handles configuration loading for strudel-bridge and
// strudel-agent.
//
// # Configuration Files
//
// The hub reads YAML; the agent reads TOML. Default locations (in order):
//
//  1. Path from STRUDEL_BRIDGE_CONFIG (hub) or STRUDEL_AGENT_CONFIG (agent)
//  2. $XDG_CONFIG_HOME/strudel-bridge/bridge.yaml or agent.toml
//  3. ~/.config/strudel-bridge/bridge.yaml or agent.toml
//
// A missing file at a default location yields the defaults. A missing file
// named through the environment is an error.
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}. Unset
// variables expand to the empty string.
//
// # Hub Sections
//
//	server:
//	  addr: "localhost:3001"        # agent WebSocket, HTTP API, MCP SSE
//	  grpc_addr: ""                 # gRPC health; empty disables
//	  base_url: ""                  # external origin for MCP SSE
//	  allowed_origins: []           # WebSocket origin patterns
//	bridge:
//	  send_buffer: 64
//	  write_timeout: "15s"
//	  ping_interval: ""             # empty disables protocol pings
//	  snapshot_timeout: "5s"
//	ledger:
//	  path: ":memory:"
//	  retain: 500
//	metrics:
//	  enabled: true
//	mcp:
//	  sse: false
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Agent File
//
//	hub_url = "ws://localhost:3001"
//
//	[browser]
//	url = "https://strudel.cc/"
//	headless = false
//	install = true
//
//	[backoff]
//	base = "1s"
//	cap = "10s"
//	max_attempts = 10
//
//	[timings]
//	cooldown = "500ms"
//	settle = "1s"
//	health_interval = "30s"
//	connect_timeout = "5s"
//	detect_attempts = 30
//	detect_interval = "1s"
package config
