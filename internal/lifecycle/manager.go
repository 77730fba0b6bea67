package lifecycle

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/quern/quern/internal/config"
	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/models"
)

// startHealthBudget bounds how long the foreground parent waits for a
// freshly daemonized child to answer healthy, per spec §4.9.
const startHealthBudget = 5 * time.Second

// stopWaitBudget bounds how long Stop waits for the daemon's own
// soft-shutdown handler before the CLI falls back to hard-killing it
// itself.
const stopWaitBudget = 5 * time.Second

// Manager is the CLI-facing half of the daemon lifecycle: deciding
// whether a start is a no-op, resolving ports, daemonizing, and tearing a
// running daemon down. The daemon-side half (installing the HTTP
// listener, starting adapters, handling its own signals) lives in
// cmd/quernd, which calls back into this package for the state file,
// signal, and crash-recovery primitives it needs once it's running.
type Manager struct {
	cfg   config.Config
	log   *logging.Logger
	state *StateStore
}

// NewManager builds a Manager for cfg.
func NewManager(cfg config.Config, log *logging.Logger) *Manager {
	return &Manager{cfg: cfg, log: log, state: NewStateStore(cfg.StateFilePath())}
}

// StartOptions mirrors the `quern start` CLI flags from spec §6.
type StartOptions struct {
	NoProxy    bool
	Port       int
	ProxyPort  int
	Foreground bool
	Verbose    bool
	OnCrash    string
}

// StartResult reports what Start decided and, for a new daemon, its PID
// and resolved ports.
type StartResult struct {
	AlreadyRunning bool
	PID            int
	ServerPort     int
	ProxyPort      int
}

// Start implements `quern start`'s idempotent daemonize sequence: if a
// healthy daemon is already recorded, it's a no-op; if the state file is
// stale (process gone, or unresponsive), any system-proxy configuration
// it left behind is restored before a fresh instance is spawned. Start only
// ever daemonizes: cmd/quern refuses --foreground, and only the quernd
// binary runs the server loop in the foreground.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (*StartResult, error) {
	if err := m.cfg.EnsureHome(); err != nil {
		return nil, err
	}

	if result := m.checkAlreadyRunning(ctx); result != nil {
		return result, nil
	}

	serverPort := opts.Port
	if serverPort == 0 {
		serverPort = m.cfg.ServerPort
	}
	serverPort, err := FindFreePort(serverPort)
	if err != nil {
		return nil, err
	}

	proxyPort := opts.ProxyPort
	if proxyPort == 0 {
		proxyPort = serverPort + 1
	}
	proxyPort, err = FindFreePort(proxyPort)
	if err != nil {
		return nil, err
	}

	if _, err := LoadOrCreateAPIKey(m.cfg.APIKeyFilePath()); err != nil {
		return nil, err
	}

	args := []string{
		"--port", itoa(serverPort),
		"--proxy-port", itoa(proxyPort),
	}
	if opts.NoProxy {
		args = append(args, "--no-proxy")
	}
	if opts.Verbose {
		args = append(args, "--verbose")
	}
	if opts.OnCrash != "" {
		args = append(args, "--on-crash", opts.OnCrash)
	}

	pid, err := Daemonize(DaemonizeArgs{ForegroundFlag: "--foreground", ExtraArgs: args})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("http://127.0.0.1:%d/health", serverPort)
	if !WaitForHealthy(endpoint, startHealthBudget) {
		return nil, errs.Internal(fmt.Sprintf("daemon did not report healthy within %s of starting", startHealthBudget), nil)
	}

	return &StartResult{PID: pid, ServerPort: serverPort, ProxyPort: proxyPort}, nil
}

// checkAlreadyRunning implements the idempotent-start health check: if the
// recorded state describes a process that is both alive and answering
// /health, Start is a no-op. Otherwise any stale state is cleared (after
// restoring whatever system-proxy configuration it left behind) so a
// fresh start can proceed.
func (m *Manager) checkAlreadyRunning(ctx context.Context) *StartResult {
	if !m.state.Exists() {
		return nil
	}

	st, err := m.state.Read()
	if err == nil && IsProcessAlive(st.PID) && IsHealthy(st.HealthEndpoint(), 2*time.Second) {
		return &StartResult{
			AlreadyRunning: true,
			PID:            st.PID,
			ServerPort:     st.ServerPort,
			ProxyPort:      st.ProxyPort,
		}
	}

	// Stale: either unreadable, or the recorded process/health no longer
	// check out. Recover any system-proxy configuration it left behind,
	// then clear it so Start proceeds as a fresh instance.
	if err == nil {
		RecoverSystemProxy(ctx, m.log, st)
	}
	_ = m.state.Remove()
	return nil
}

// Stop implements `quern stop`: soft-terminate via SIGTERM (the daemon's
// own signal handler stops adapters/proxy, restores the system proxy and
// removes the state file), then hard-kill and clean up state itself if
// the daemon doesn't exit within stopWaitBudget. With no state file, nothing
// is running and Stop is a no-op returning nil. Grounded on
// cmd/dev-console/daemon_lifecycle.go's performDefaultTakeover: soft
// signal, wait, hard kill as the fallback.
func (m *Manager) Stop(ctx context.Context) error {
	st, err := m.state.Read()
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Internal("read state file", err)
	}

	if !IsProcessAlive(st.PID) {
		return m.state.Remove()
	}

	if proc, err := os.FindProcess(st.PID); err == nil {
		_ = proc.Signal(syscall.SIGTERM)
	}

	if !WaitForExit(st.PID, stopWaitBudget) {
		_ = TerminatePID(st.PID)
		WaitForExit(st.PID, 1*time.Second)
	}

	// The daemon's own signal handler removes the state file on a clean
	// exit; if it didn't get the chance (hard-killed), remove it here so
	// a dead daemon never looks "running" to the next start/status call.
	return m.state.Remove()
}

// Status implements `quern status`: reports the recorded state plus
// whether the process backing it is actually alive and healthy right now.
type Status struct {
	State   models.ServerState
	Alive   bool
	Healthy bool
}

// Status reads the state file and probes liveness/health; returns
// errs.NotFound if no daemon has ever run.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	st, err := m.state.Read()
	if err != nil {
		return nil, errs.NotFound("daemon", "no state file found; is quern running?")
	}
	alive := IsProcessAlive(st.PID)
	healthy := alive && IsHealthy(st.HealthEndpoint(), 2*time.Second)
	return &Status{State: st, Alive: alive, Healthy: healthy}, nil
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}

// States exposes the underlying StateStore so cmd/quernd's server-side
// bootstrap can write its own preliminary/final state records without this
// package needing to know anything about HTTP listeners or adapters.
func (m *Manager) States() *StateStore { return m.state }

// MarkProxyCrashed flips the recorded proxy_status to "crashed", for the
// daemon's proxy.Proxy.OnCrash callback to call — spec §4.9's watchdog
// requirement: an unexpected interceptor exit updates state, with no
// automatic restart.
func (m *Manager) MarkProxyCrashed(ctx context.Context) {
	st, err := m.state.Read()
	if err != nil {
		return
	}
	st.ProxyStatus = "crashed"
	if err := m.state.Write(st); err != nil {
		m.log.WithContext(ctx).WithError(err).Warn("lifecycle: failed to record proxy crash in state file")
	}
}
