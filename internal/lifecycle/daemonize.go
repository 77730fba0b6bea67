package lifecycle

import (
	"os"
	"os/exec"

	"github.com/quern/quern/internal/errs"
)

// DaemonizeArgs are the flags re-exec'd into the detached child so it
// knows to run the server loop instead of re-daemonizing itself.
type DaemonizeArgs struct {
	// ForegroundFlag is the flag (e.g. "--foreground") the re-exec'd child
	// is invoked with, so the child's own flag parsing takes the "run
	// in the foreground, as a server" branch instead of daemonizing again.
	ForegroundFlag string
	ExtraArgs      []string
}

// Daemonize re-execs the current binary in foreground/server mode,
// detached from the calling terminal, and returns its PID. Go cannot call
// POSIX fork(2) safely once its runtime has started goroutines, so
// self-re-exec is the idiomatic Go equivalent of a double-fork daemonize —
// grounded on cmd/dev-console/main.go's identical
// `os.Executable()` + `exec.Command(exe, "--server", ...)` +
// `setDetachedProcess` + `cmd.Start()` + parent-exits-immediately pattern.
func Daemonize(args DaemonizeArgs) (pid int, err error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, errs.Internal("resolve own executable path", err)
	}

	cmdArgs := append([]string{args.ForegroundFlag}, args.ExtraArgs...)
	cmd := exec.Command(exe, cmdArgs...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Dir = "/"
	setDetachedProcess(cmd)

	if err := cmd.Start(); err != nil {
		return 0, errs.Internal("spawn detached daemon process", err)
	}
	return cmd.Process.Pid, nil
}

// IsTerminal reports whether f is attached to a terminal. Nothing in the
// module calls it; quern start always daemonizes.
func IsTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
