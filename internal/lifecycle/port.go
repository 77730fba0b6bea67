package lifecycle

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/quern/quern/internal/errs"
)

// maxPortScan bounds how many consecutive ports FindFreePort will probe
// before giving up, so a pathological environment can't hang start forever.
const maxPortScan = 50

// FindFreePort returns the first free TCP port at or after start, probed
// by actually binding a listener and releasing it immediately — the only
// portable way to ask the kernel "is this port free" without a race
// against whoever grabs it between check and bind.
func FindFreePort(start int) (int, error) {
	for port := start; port < start+maxPortScan; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}
	return 0, errs.Internal(fmt.Sprintf("no free port found in [%d, %d)", start, start+maxPortScan), nil)
}

// IsHealthy GETs endpoint (normally a ServerState's HealthEndpoint) and
// reports whether it answered 200 within timeout. Grounded on
// cmd/dev-console/bridge.go's isServerRunning, which does the identical
// short-timeout GET-and-check-200 probe against its own dev server.
func IsHealthy(endpoint string, timeout time.Duration) bool {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(endpoint)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// WaitForHealthy polls endpoint until it answers healthy or budget
// elapses, returning whether it became healthy in time. Grounded on
// cmd/dev-console/bridge.go's waitForServer poll loop.
func WaitForHealthy(endpoint string, budget time.Duration) bool {
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		if IsHealthy(endpoint, 500*time.Millisecond) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return IsHealthy(endpoint, 500*time.Millisecond)
}
