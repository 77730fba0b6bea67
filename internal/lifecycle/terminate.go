package lifecycle

import (
	"os"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// softTermGrace is how long TerminatePID waits after SIGTERM before
// escalating to SIGKILL.
const softTermGrace = 200 * time.Millisecond

// IsProcessAlive reports whether pid currently identifies a running
// process, via gopsutil rather than a hand-rolled `syscall.Signal(0)`
// probe — the same library internal/subprocess's Handle.Alive already
// uses for the identical question, so lifecycle reuses a dependency the
// module already carries instead of introducing a second way to ask it.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	return err == nil && running
}

// TerminatePID sends SIGTERM to pid, waits softTermGrace, then sends
// SIGKILL if it's still alive. Grounded on
// cmd/dev-console/main_connection.go's terminatePIDQuiet: SIGTERM, short
// sleep, liveness recheck, SIGKILL as the fallback.
func TerminatePID(pid int) error {
	if !IsProcessAlive(pid) {
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}

	_ = proc.Signal(syscall.SIGTERM)
	time.Sleep(softTermGrace)

	if !IsProcessAlive(pid) {
		return nil
	}
	return proc.Signal(syscall.SIGKILL)
}

// WaitForExit polls until pid is no longer alive or budget elapses,
// returning whether it exited in time.
func WaitForExit(pid int, budget time.Duration) bool {
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		if !IsProcessAlive(pid) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return !IsProcessAlive(pid)
}
