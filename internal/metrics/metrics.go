// Package metrics provides Prometheus metrics collection for Quern,
// grounded on r3e-network-service_layer's infrastructure/metrics/metrics.go: one struct
// of pre-registered collectors, a constructor that registers them against
// a registry, and a handful of Record*/Set* convenience methods rather
// than handler code reaching into prometheus directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector Quern's daemon exposes at /metrics per
// spec §4.9's ambient observability surface.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	StreamsActive  *prometheus.GaugeVec
	StreamDuration *prometheus.HistogramVec

	ErrorsTotal *prometheus.CounterVec

	LogBufferSize  prometheus.Gauge
	FlowStoreSize  prometheus.Gauge
	HeldFlowsCount prometheus.Gauge

	AdapterStatus *prometheus.GaugeVec
	ProxyStatus   *prometheus.GaugeVec

	PoolDevicesTotal   prometheus.Gauge
	PoolDevicesClaimed prometheus.Gauge

	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New builds a Metrics registered against prometheus.DefaultRegisterer.
func New(version string) *Metrics {
	return NewWithRegistry(version, prometheus.DefaultRegisterer)
}

// NewWithRegistry builds a Metrics registered against registerer, so tests
// can use a private prometheus.NewRegistry() instead of polluting the
// process-wide default one.
func NewWithRegistry(version string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quern_http_requests_total",
				Help: "Total number of HTTP requests served by the daemon.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quern_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quern_http_requests_in_flight",
			Help: "Number of HTTP requests currently being handled.",
		}),

		StreamsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quern_streams_active",
				Help: "Number of open SSE/long-poll connections, by route.",
			},
			[]string{"path"},
		),
		StreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quern_stream_connection_seconds",
				Help:    "How long an SSE/long-poll connection stayed open before closing.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
			},
			[]string{"path"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quern_errors_total",
				Help: "Total number of errors returned, by taxonomy code.",
			},
			[]string{"code", "tool"},
		),

		LogBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quern_log_buffer_entries",
			Help: "Current number of entries held in the log ring buffer.",
		}),
		FlowStoreSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quern_flow_store_entries",
			Help: "Current number of flow records held in the flow store.",
		}),
		HeldFlowsCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quern_flows_held",
			Help: "Current number of flows held by an active intercept rule.",
		}),

		AdapterStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quern_adapter_running",
				Help: "Whether a log adapter (syslog, oslog, crash, build) is currently running (1) or stopped (0).",
			},
			[]string{"adapter"},
		),
		ProxyStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quern_proxy_status",
				Help: "The interceptor's current lifecycle status, one gauge set to 1 for the active status value.",
			},
			[]string{"status"},
		),

		PoolDevicesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quern_pool_devices_total",
			Help: "Total number of devices currently tracked by the device pool.",
		}),
		PoolDevicesClaimed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quern_pool_devices_claimed",
			Help: "Number of pool devices currently claimed by a session.",
		}),

		ServiceUptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quern_uptime_seconds",
			Help: "Seconds since the daemon started.",
		}),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quern_info",
				Help: "Static build information, value is always 1.",
			},
			[]string{"version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal, m.RequestDuration, m.RequestsInFlight,
			m.StreamsActive, m.StreamDuration,
			m.ErrorsTotal,
			m.LogBufferSize, m.FlowStoreSize, m.HeldFlowsCount,
			m.AdapterStatus, m.ProxyStatus,
			m.PoolDevicesTotal, m.PoolDevicesClaimed,
			m.ServiceUptime, m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(version).Set(1)
	return m
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError increments the error counter for a taxonomy code/tool pair.
func (m *Metrics) RecordError(code, tool string) {
	m.ErrorsTotal.WithLabelValues(code, tool).Inc()
}

// SetAdapterRunning records whether the named adapter is currently active.
func (m *Metrics) SetAdapterRunning(adapter string, running bool) {
	v := 0.0
	if running {
		v = 1.0
	}
	m.AdapterStatus.WithLabelValues(adapter).Set(v)
}

// SetProxyStatus zeroes every known status gauge then sets status to 1,
// so a Prometheus query for quern_proxy_status always has exactly one
// active series rather than stale ones lingering at their last value.
func (m *Metrics) SetProxyStatus(status string, allStatuses []string) {
	for _, s := range allStatuses {
		v := 0.0
		if s == status {
			v = 1.0
		}
		m.ProxyStatus.WithLabelValues(s).Set(v)
	}
}

// SetPoolCounts records the pool's current size/claim snapshot.
func (m *Metrics) SetPoolCounts(total, claimed int) {
	m.PoolDevicesTotal.Set(float64(total))
	m.PoolDevicesClaimed.Set(float64(claimed))
}

// UpdateUptime records seconds elapsed since startedAt.
func (m *Metrics) UpdateUptime(startedAt time.Time) {
	m.ServiceUptime.Set(time.Since(startedAt).Seconds())
}
