package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// Middleware records HTTP metrics for every request. Unlike a plain CRUD
// service, a good chunk of Quern's surface (/logs/stream, flow long-polls)
// holds the connection open for as long as a client keeps watching, so a
// request that never "completes" in the usual sense would otherwise sit in
// quern_http_request_duration_seconds's top bucket forever and make the
// histogram useless for judging ordinary handler latency. Routes that
// answer with text/event-stream are split off into their own
// streams-active/stream-duration pair instead, counted from the moment
// the stream's headers go out to the moment the client disconnects.
func Middleware(m *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK, metrics: m, path: path}
			next.ServeHTTP(wrapped, r)
			duration := time.Since(start)

			if wrapped.streaming {
				m.StreamsActive.WithLabelValues(path).Dec()
				m.StreamDuration.WithLabelValues(path).Observe(duration.Seconds())
				return
			}
			m.RecordHTTPRequest(r.Method, path, strconv.Itoa(wrapped.statusCode), duration)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
	streaming  bool
	metrics    *Metrics
	path       string
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		if rw.Header().Get("Content-Type") == "text/event-stream" {
			rw.streaming = true
			rw.metrics.StreamsActive.WithLabelValues(rw.path).Inc()
		}
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush passes through to the wrapped writer so SSE handlers can stream.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
