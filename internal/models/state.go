package models

import (
	"strconv"
	"time"
)

// SystemProxySnapshot captures the host's prior network proxy configuration
// so it can be restored on stop or on crash recovery at the next start.
type SystemProxySnapshot struct {
	Interface  string `json:"interface"`
	WasEnabled bool   `json:"was_enabled"`
	PriorHost  string `json:"prior_host,omitempty"`
	PriorPort  int    `json:"prior_port,omitempty"`
}

// ServerState is the process-wide state file written by the daemon and
// read by the CLI/agent. Single-writer, multi-reader, advisory-locked —
// see spec §3 and §4.9.
type ServerState struct {
	PID                   int                  `json:"pid"`
	ServerPort            int                  `json:"server_port"`
	ProxyPort             int                  `json:"proxy_port"`
	ProxyEnabled          bool                 `json:"proxy_enabled"`
	ProxyStatus           string               `json:"proxy_status,omitempty"`
	StartedAt             time.Time            `json:"started_at"`
	APIKey                string               `json:"api_key"`
	ActiveDevices         []string             `json:"active_devices"`
	SystemProxyConfigured bool                 `json:"system_proxy_configured"`
	SystemProxyInterface  string               `json:"system_proxy_interface,omitempty"`
	SystemProxySnapshot   *SystemProxySnapshot `json:"system_proxy_snapshot,omitempty"`
}

// HealthEndpoint returns the loopback URL the CLI health-checks against a
// recorded state file before trusting it as a live daemon.
func (s *ServerState) HealthEndpoint() string {
	return "http://127.0.0.1:" + strconv.Itoa(s.ServerPort) + "/health"
}
