package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quern/quern/internal/adapters"
	"github.com/quern/quern/internal/device"
	"github.com/quern/quern/internal/flowstore"
	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/metrics"
	"github.com/quern/quern/internal/pool"
	"github.com/quern/quern/internal/proxy"
	"github.com/quern/quern/internal/ringbuffer"
)

// maxLongPollTimeout is the server-enforced ceiling on any bounded-wait
// endpoint, per spec §4.9.
const maxLongPollTimeout = 60 * time.Second

// Server wires every subsystem into the route table from spec §6. It
// holds no business logic of its own beyond request parsing, delegating
// immediately to the subsystem that owns the behavior.
type Server struct {
	log     *logging.Logger
	version string
	apiKey  string

	logs  *ringbuffer.RingBuffer
	flows *flowstore.FlowStore

	proxy        *proxy.Proxy
	certVerifier *proxy.CertVerifier
	sysProxy     *proxy.SystemProxyManager
	certPath     string

	controller *device.Controller
	previews   *device.PreviewManager
	wda        *device.WDAManager

	pool *pool.Pool

	builds   *adapters.BuildAdapter
	crash    *adapters.CrashAdapter
	onDemand *adapters.OnDemandRegistry

	syslogTool string
	oslogTool  string

	metrics *metrics.Metrics

	startedAt time.Time
}

// Config bundles everything a Server needs, so callers (the daemon's main
// package) construct one place and hand it over, rather than Server
// taking a dozen positional constructor args.
type Config struct {
	Log     *logging.Logger
	Version string
	APIKey  string

	Logs  *ringbuffer.RingBuffer
	Flows *flowstore.FlowStore

	Proxy        *proxy.Proxy
	CertVerifier *proxy.CertVerifier
	SysProxy     *proxy.SystemProxyManager
	CertPath     string

	Controller *device.Controller
	Previews   *device.PreviewManager
	WDA        *device.WDAManager

	Pool *pool.Pool

	Builds   *adapters.BuildAdapter
	Crash    *adapters.CrashAdapter
	OnDemand *adapters.OnDemandRegistry

	// SyslogTool/OSLogTool are the subprocess tool names used by the
	// logging/(device|simulator)/(start|stop) routes to spin up an
	// on-demand adapter for a single device, per spec §6.
	SyslogTool string
	OSLogTool  string

	// Metrics is optional; when nil, the /metrics route and the
	// recording middleware are both skipped.
	Metrics *metrics.Metrics
}

// NewServer builds a Server from cfg.
func NewServer(cfg Config) *Server {
	return &Server{
		log:          cfg.Log,
		version:      cfg.Version,
		apiKey:       cfg.APIKey,
		logs:         cfg.Logs,
		flows:        cfg.Flows,
		proxy:        cfg.Proxy,
		certVerifier: cfg.CertVerifier,
		sysProxy:     cfg.SysProxy,
		certPath:     cfg.CertPath,
		controller:   cfg.Controller,
		previews:     cfg.Previews,
		wda:          cfg.WDA,
		pool:         cfg.Pool,
		builds:       cfg.Builds,
		crash:        cfg.Crash,
		onDemand:     cfg.OnDemand,
		syslogTool:   cfg.SyslogTool,
		oslogTool:    cfg.OSLogTool,
		metrics:      cfg.Metrics,
		startedAt:    time.Now(),
	}
}

// Router builds the full mux.Router, auth middleware installed on every
// route except the allow-list.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	if s.metrics != nil {
		r.Use(metrics.Middleware(s.metrics))
	}
	r.Use(authMiddleware(s.apiKey))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	s.registerLogRoutes(api)
	s.registerBuildCrashRoutes(api)
	s.registerProxyRoutes(api)
	s.registerDeviceRoutes(api)
	s.registerPoolRoutes(api)

	return r
}

// loggingMiddleware records one LogRequest line per completed request,
// the same wrapper shape the r3e-network-service_layer applies around every service route.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.LogRequest(r.Context(), r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush passes through to the wrapped writer so SSE handlers can stream.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// clampTimeout parses a "timeout" query parameter (seconds) into a
// duration bounded by maxLongPollTimeout, defaulting to def when absent
// or invalid, per spec §4.9's server-enforced ceiling.
func clampTimeout(r *http.Request, def time.Duration) time.Duration {
	q := r.URL.Query().Get("timeout")
	if q == "" {
		return def
	}
	secs, err := parseFloatQuery(q)
	if err != nil || secs <= 0 {
		return def
	}
	d := time.Duration(secs * float64(time.Second))
	if d > maxLongPollTimeout {
		return maxLongPollTimeout
	}
	return d
}
