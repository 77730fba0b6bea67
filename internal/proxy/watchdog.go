package proxy

import (
	"context"

	"github.com/quern/quern/internal/subprocess"
)

// watchdog blocks until h exits, then marks the proxy crashed and invokes
// the registered onCrash callback, unless the exit was caused by an
// in-flight Stop() — in which case Stop already owns the status
// transition. No automatic restart on crash; the operator or agent
// decides, per spec §4.5.
func (p *Proxy) watchdog(h *subprocess.Handle) {
	<-h.Exit

	p.mu.Lock()
	// Stop clears the handle (and resets stopping) once Terminate returns,
	// which can happen before this goroutine gets the lock.
	intentional := p.stopping || p.handle != h
	if p.handle == h {
		p.handle = nil
	}
	if !intentional {
		p.status = StatusCrashed
	}
	p.mu.Unlock()

	if intentional {
		return
	}

	p.log.WithContext(context.Background()).Warn("proxy: interceptor exited unexpectedly")
	if p.onCrash != nil {
		p.onCrash()
	}
}
