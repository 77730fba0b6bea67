package lifecycle

import (
	"context"

	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/proxy"
)

// RecoverSystemProxy restores the host's network-proxy configuration if a
// stale state file shows it was left configured by a previous run that
// never got to clean up after itself (crash, kill -9, power loss). Manager
// Start calls it before the new instance proceeds whenever the state file
// is readable but its process is not both alive and healthy; a healthy
// previous run makes Start a no-op and this is not called.
func RecoverSystemProxy(ctx context.Context, log *logging.Logger, state models.ServerState) {
	if !state.SystemProxyConfigured || state.SystemProxySnapshot == nil {
		return
	}
	mgr := proxy.NewSystemProxyManager(state.SystemProxyInterface)
	if err := mgr.Restore(ctx, *state.SystemProxySnapshot); err != nil {
		log.WithContext(ctx).WithError(err).Warn("lifecycle: failed to restore system proxy from a stale state file")
		return
	}
	log.WithContext(ctx).Info("lifecycle: restored system proxy configuration left behind by a crashed instance")
}
