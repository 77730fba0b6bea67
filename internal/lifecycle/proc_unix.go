//go:build !windows

package lifecycle

import (
	"os/exec"
	"syscall"
)

// setDetachedProcess starts cmd in its own session, detached from the
// controlling terminal, so a SIGHUP to the parent's session doesn't reach
// it. Grounded on cmd/dev-console/proc_unix.go, unchanged in shape — this
// whole daemon only ever targets macOS (simctl/devicectl/idb are all
// macOS-only tools), so there is no Windows counterpart to write, matching
// r3e-network-service_layer's own single-build-tag approach.
func setDetachedProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
