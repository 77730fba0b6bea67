package lifecycle

import (
	"context"
	"net"
	"net/http"
	"os"
	"testing"

	"github.com/quern/quern/internal/config"
	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/models"
)

// newTestManager builds a Manager over a scratch home directory, so tests
// never touch the real ~/.quern.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.Config{Home: t.TempDir()}
	return NewManager(cfg, logging.New("test", "error", "text"))
}

// listenOnFreePort binds a real listener and serves /health as 200, so a
// test can point a ServerState at an address it fully controls.
func listenOnFreePort(t *testing.T) (port int, close func()) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{Handler: mux}
	go srv.Serve(l)
	return l.Addr().(*net.TCPAddr).Port, func() { srv.Close() }
}

// ==========================================================================
// Status
// ==========================================================================

func TestManagerStatus_ReportsNotFoundWithNoStateFile(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Status(context.Background()); err == nil {
		t.Fatalf("expected an error when no daemon has ever run")
	}
}

func TestManagerStatus_AliveAndHealthyForARunningProcess(t *testing.T) {
	m := newTestManager(t)
	port, closeSrv := listenOnFreePort(t)
	defer closeSrv()

	if err := m.state.Write(models.ServerState{PID: os.Getpid(), ServerPort: port}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	status, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Alive {
		t.Fatalf("expected the current test process's own pid to report alive")
	}
	if !status.Healthy {
		t.Fatalf("expected the fake health server to report healthy")
	}
}

func TestManagerStatus_AliveButUnhealthyWhenNothingAnswers(t *testing.T) {
	m := newTestManager(t)

	if err := m.state.Write(models.ServerState{PID: os.Getpid(), ServerPort: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	status, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Alive {
		t.Fatalf("expected the current process's own pid to report alive")
	}
	if status.Healthy {
		t.Fatalf("expected an unreachable health port to report unhealthy")
	}
}

// ==========================================================================
// checkAlreadyRunning (exercised through Start's idempotent-no-op path)
// ==========================================================================

func TestCheckAlreadyRunning_NoOpForAHealthyRecordedDaemon(t *testing.T) {
	m := newTestManager(t)
	port, closeSrv := listenOnFreePort(t)
	defer closeSrv()

	if err := m.state.Write(models.ServerState{PID: os.Getpid(), ServerPort: port, ProxyPort: port + 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	result := m.checkAlreadyRunning(context.Background())
	if result == nil || !result.AlreadyRunning {
		t.Fatalf("expected a healthy recorded daemon to short-circuit as already running")
	}
	if result.ServerPort != port {
		t.Fatalf("expected the reported port to match the recorded state, got %d want %d", result.ServerPort, port)
	}
}

func TestCheckAlreadyRunning_ClearsAStaleStateFile(t *testing.T) {
	m := newTestManager(t)

	// Port 1 never answers health, and PID 0 is never alive: a
	// definitively stale record.
	if err := m.state.Write(models.ServerState{PID: 0, ServerPort: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if result := m.checkAlreadyRunning(context.Background()); result != nil {
		t.Fatalf("expected a stale state file to not short-circuit Start, got %+v", result)
	}
	if m.state.Exists() {
		t.Fatalf("expected the stale state file to have been removed")
	}
}

// ==========================================================================
// MarkProxyCrashed
// ==========================================================================

func TestMarkProxyCrashed_UpdatesTheRecordedStatus(t *testing.T) {
	m := newTestManager(t)
	if err := m.state.Write(models.ServerState{PID: os.Getpid(), ProxyStatus: "running"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	m.MarkProxyCrashed(context.Background())

	got, err := m.state.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.ProxyStatus != "crashed" {
		t.Fatalf("expected ProxyStatus to become crashed, got %q", got.ProxyStatus)
	}
}

