// Package config loads Quern's configuration from defaults, an optional
// YAML file, an optional .env file, and the environment, in that order of
// increasing precedence — the same layering r3e-network-service_layer's infrastructure/config
// and pkg/config packages apply for service settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable Quern's daemon and CLI consult.
type Config struct {
	Home string `yaml:"home" env:"QUERN_HOME"`

	ServerPort int `yaml:"server_port" env:"QUERN_SERVER_PORT"`
	ProxyPort  int `yaml:"proxy_port" env:"QUERN_PROXY_PORT"`

	RingBufferCapacity int `yaml:"ring_buffer_capacity" env:"QUERN_RING_CAPACITY"`
	FlowStoreCapacity  int `yaml:"flow_store_capacity" env:"QUERN_FLOW_CAPACITY"`

	LogLevel  string `yaml:"log_level" env:"QUERN_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"QUERN_LOG_FORMAT"`

	EnableProxy  bool `yaml:"enable_proxy" env:"QUERN_ENABLE_PROXY"`
	EnableSyslog bool `yaml:"enable_syslog" env:"QUERN_ENABLE_SYSLOG"`
	EnableOSLog  bool `yaml:"enable_oslog" env:"QUERN_ENABLE_OSLOG"`
	EnableCrash  bool `yaml:"enable_crash" env:"QUERN_ENABLE_CRASH"`

	OnCrashHook string `yaml:"on_crash_hook" env:"QUERN_ON_CRASH_HOOK"`

	HeldFlowDeadline time.Duration `yaml:"held_flow_deadline" env:"QUERN_HELD_FLOW_DEADLINE"`
	StaleClaimAfter  time.Duration `yaml:"stale_claim_after" env:"QUERN_STALE_CLAIM_AFTER"`

	MetricsEnabled bool `yaml:"metrics_enabled" env:"QUERN_METRICS_ENABLED"`

	// Vendor binary names/paths, each independently overridable so a
	// developer can point at a non-PATH Xcode toolchain without touching
	// the others, per spec.md's external-collaborators list.
	SimctlTool    string `yaml:"simctl_tool" env:"QUERN_SIMCTL_TOOL"`
	DevicectlTool string `yaml:"devicectl_tool" env:"QUERN_DEVICECTL_TOOL"`
	IdbTool       string `yaml:"idb_tool" env:"QUERN_IDB_TOOL"`
	SyslogTool    string `yaml:"syslog_tool" env:"QUERN_SYSLOG_TOOL"`
	OSLogTool     string `yaml:"oslog_tool" env:"QUERN_OSLOG_TOOL"`
	MitmTool      string `yaml:"mitm_tool" env:"QUERN_MITM_TOOL"`
	NetworksetupTool string `yaml:"networksetup_tool" env:"QUERN_NETWORKSETUP_TOOL"`
	WDABundleID   string `yaml:"wda_bundle_id" env:"QUERN_WDA_BUNDLE_ID"`
	XcodebuildTool string `yaml:"xcodebuild_tool" env:"QUERN_XCODEBUILD_TOOL"`

	NetworkInterface string `yaml:"network_interface" env:"QUERN_NETWORK_INTERFACE"`
	CertFingerprint  string `yaml:"cert_fingerprint" env:"QUERN_CERT_FINGERPRINT"`

	// CertPath is the PEM file served by GET /api/v1/proxy/cert and installed
	// by InstallCert, generated by mitmdump itself on first run.
	CertPath string `yaml:"cert_path" env:"QUERN_CERT_PATH"`

	CrashReportsDir string `yaml:"crash_reports_dir" env:"QUERN_CRASH_REPORTS_DIR"`

	PoolTokenSecret string `yaml:"pool_token_secret" env:"QUERN_POOL_TOKEN_SECRET"`
}

// Defaults returns the baseline configuration before any file/env overrides,
// matching the numeric defaults spec.md states inline (ring buffer 10000,
// flow store 5000, server port 9100, held-flow deadline 30s, stale claim
// 30 minutes).
func Defaults() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Home:               filepath.Join(home, ".quern"),
		ServerPort:         9100,
		ProxyPort:          9101,
		RingBufferCapacity: 10000,
		FlowStoreCapacity:  5000,
		LogLevel:           "info",
		LogFormat:          "json",
		EnableProxy:        true,
		EnableSyslog:       true,
		EnableOSLog:        true,
		EnableCrash:        true,
		HeldFlowDeadline:   30 * time.Second,
		StaleClaimAfter:    30 * time.Minute,
		MetricsEnabled:     true,

		SimctlTool:       "xcrun",
		DevicectlTool:    "xcrun",
		IdbTool:          "idb",
		SyslogTool:       "idevicesyslog",
		OSLogTool:        "log",
		MitmTool:         "mitmdump",
		NetworksetupTool: "networksetup",
		XcodebuildTool:   "xcodebuild",

		NetworkInterface: "Wi-Fi",
		CertPath:         filepath.Join(home, ".mitmproxy", "mitmproxy-ca-cert.pem"),

		CrashReportsDir: filepath.Join(home, "Library", "Logs", "DiagnosticReports"),
	}
}

// Load builds the effective configuration: defaults, then
// `<home>/config.yaml` if present, then `<home>/.env` if present (exported
// into the process environment), then environment variables decoded via
// struct tags — each layer overriding the previous one.
func Load() (Config, error) {
	cfg := Defaults()

	// Resolve home early so the yaml/.env paths below can be found even
	// before QUERN_HOME itself is read from the environment.
	if home := os.Getenv("QUERN_HOME"); home != "" {
		cfg.Home = home
	}

	yamlPath := filepath.Join(cfg.Home, "config.yaml")
	if data, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", yamlPath, err)
		}
	}

	envPath := filepath.Join(cfg.Home, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return cfg, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return cfg, fmt.Errorf("decode environment: %w", err)
	}

	return cfg, nil
}

// StateFilePath returns the path to the process-wide server state file.
func (c Config) StateFilePath() string { return filepath.Join(c.Home, "state.json") }

// PoolFilePath returns the path to the cross-process device pool file.
func (c Config) PoolFilePath() string { return filepath.Join(c.Home, "device-pool.json") }

// APIKeyFilePath returns the path to the generated API key file.
func (c Config) APIKeyFilePath() string { return filepath.Join(c.Home, "api-key") }

// DaemonLogPath returns the path to the rotated daemon log.
func (c Config) DaemonLogPath() string { return filepath.Join(c.Home, "daemon.log") }

// CrashSpoolPath returns the path to the optional crash-report spool file
// (a flat JSON-lines file — see SPEC_FULL.md §B for why this isn't a SQL
// database).
func (c Config) CrashSpoolPath() string { return filepath.Join(c.Home, "crashes.jsonl") }

// EnsureHome creates the Quern home directory with private permissions.
func (c Config) EnsureHome() error {
	return os.MkdirAll(c.Home, 0700)
}
