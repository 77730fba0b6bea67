package metrics

import (
	"context"
	"time"

	"github.com/quern/quern/internal/flowstore"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/pool"
	"github.com/quern/quern/internal/proxy"
	"github.com/quern/quern/internal/ringbuffer"
)

// sampleInterval is how often the background sampler refreshes the
// size/uptime gauges that have no natural "on every mutation" hook.
const sampleInterval = 5 * time.Second

// allProxyStatuses lists every value proxy.Status can take, so
// SetProxyStatus can zero the ones that aren't currently active.
var allProxyStatuses = []string{string(proxy.StatusStopped), string(proxy.StatusRunning), string(proxy.StatusCrashed)}

// Sampler periodically pulls point-in-time sizes out of the ring buffer,
// flow store, interceptor, and device pool into their gauges — these are
// the "current size of a collection" metrics that are cheapest to poll
// rather than instrument at every Append/Add/claim call site, the same
// trade-off r3e-network-service_layer's own UpdateUptime/SetDatabaseConnections
// gauges make for state that isn't itself an event.
type Sampler struct {
	metrics   *Metrics
	logs      *ringbuffer.RingBuffer
	flows     *flowstore.FlowStore
	proxy     *proxy.Proxy
	pool      *pool.Pool
	startedAt time.Time
}

// NewSampler builds a Sampler. px and p may be nil when the proxy or pool
// subsystem isn't configured, in which case their gauges stay at zero.
func NewSampler(m *Metrics, logs *ringbuffer.RingBuffer, flows *flowstore.FlowStore, px *proxy.Proxy, p *pool.Pool, startedAt time.Time) *Sampler {
	return &Sampler{metrics: m, logs: logs, flows: flows, proxy: px, pool: p, startedAt: startedAt}
}

// Run blocks, sampling every sampleInterval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	s.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	s.metrics.UpdateUptime(s.startedAt)
	if s.logs != nil {
		s.metrics.LogBufferSize.Set(float64(s.logs.Len()))
	}
	if s.flows != nil {
		s.metrics.FlowStoreSize.Set(float64(s.flows.Len()))
	}
	if s.proxy != nil {
		s.metrics.SetProxyStatus(string(s.proxy.StatusValue()), allProxyStatuses)
		if held, err := s.proxy.ListHeld("", 0); err == nil {
			s.metrics.HeldFlowsCount.Set(float64(len(held)))
		}
	}
	if s.pool != nil {
		devices, err := s.pool.List(ctx)
		if err != nil {
			return
		}
		claimed := 0
		for _, d := range devices {
			if d.ClaimStatus == models.ClaimClaimed {
				claimed++
			}
		}
		s.metrics.SetPoolCounts(len(devices), claimed)
	}
}
