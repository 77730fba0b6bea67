package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gorilla/mux"

	"github.com/quern/quern/internal/adapters"
	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/filterexpr"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/ringbuffer"
	"github.com/quern/quern/internal/summary"
)

func (s *Server) registerLogRoutes(r *mux.Router) {
	logs := r.PathPrefix("/logs").Subrouter()
	logs.HandleFunc("/stream", s.handleLogStream).Methods(http.MethodGet)
	logs.HandleFunc("/query", s.handleLogQuery).Methods(http.MethodGet)
	logs.HandleFunc("/summary", s.handleLogSummary).Methods(http.MethodGet)
	logs.HandleFunc("/errors", s.handleLogErrors).Methods(http.MethodGet)
	logs.HandleFunc("/sources", s.handleLogSources).Methods(http.MethodGet)
	logs.HandleFunc("/filter", s.handleLogFilter).Methods(http.MethodGet)
}

// logFilterFromQuery builds a ringbuffer.Filter from the shared filter
// params listed in spec §6: level, process, subsystem, category, source,
// search, exclude, device_id.
func logFilterFromQuery(r *http.Request) ringbuffer.Filter {
	q := r.URL.Query()
	f := ringbuffer.Filter{
		LevelFloor:       models.LogLevel(q.Get("level")),
		Process:          q.Get("process"),
		Subsystem:        q.Get("subsystem"),
		Category:         q.Get("category"),
		Substring:        q.Get("search"),
		SubstringExclude: q.Get("exclude"),
		DeviceID:         q.Get("device_id"),
	}
	for _, src := range queryCSV(r, "source") {
		f.Sources = append(f.Sources, models.LogSource(src))
	}
	return f
}

func logQueryCursor(r *http.Request) *ringbuffer.Cursor {
	seq := queryInt(r, "since_cursor", 0)
	if seq <= 0 {
		return nil
	}
	return &ringbuffer.Cursor{Sequence: uint64(seq)}
}

// handleLogStream serves /logs/stream: an SSE feed of matching entries
// plus a 5s heartbeat, torn down on client disconnect, per spec §4.9.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errs.Internal("streaming unsupported by this response writer", nil))
		return
	}

	filter := logFilterFromQuery(r)
	ch, cancel := s.logs.Subscribe(filter)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(ringbuffer.HeartbeatInterval())
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			_ = sse.Encode(w, sse.Event{Event: "log", Data: entry})
			flusher.Flush()
		case <-heartbeat.C:
			_ = sse.Encode(w, sse.Event{Event: "heartbeat", Data: map[string]string{"time": time.Now().UTC().Format(time.RFC3339)}})
			flusher.Flush()
		}
	}
}

func (s *Server) handleLogQuery(w http.ResponseWriter, r *http.Request) {
	filter := logFilterFromQuery(r)
	entries, cursor := s.logs.Query(filter, logQueryCursor(r), queryTime(r, "until"), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	resp := map[string]interface{}{"entries": entries}
	if cursor != nil {
		resp["cursor"] = cursor.Sequence
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogSummary(w http.ResponseWriter, r *http.Request) {
	filter := logFilterFromQuery(r)
	entries, cursor := s.logs.Query(filter, logQueryCursor(r), nil, 0, 0)
	digest := summary.SummarizeLogs(entries, time.Now())
	resp := map[string]interface{}{"digest": digest}
	if cursor != nil {
		resp["cursor"] = cursor.Sequence
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogErrors(w http.ResponseWriter, r *http.Request) {
	filter := logFilterFromQuery(r)
	filter.LevelFloor = models.LevelError
	entries, _ := s.logs.Query(filter, nil, nil, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// handleLogSources reports each adapter's running/last-error status, the
// surface spec §7 names as where adapter failures become visible instead
// of propagating to unrelated endpoints.
func (s *Server) handleLogSources(w http.ResponseWriter, r *http.Request) {
	var statuses []adapters.Status
	if s.builds != nil {
		statuses = append(statuses, s.builds.Status())
	}
	if s.crash != nil {
		statuses = append(statuses, s.crash.Status())
	}
	if s.onDemand != nil {
		statuses = append(statuses, s.onDemand.Status()...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sources": statuses})
}

// handleLogFilter compiles an interceptor-syntax filter expression and
// evaluates it against the shared-filter-narrowed window of entries,
// substituting each entry's message for "~u" per filterexpr.Env's own
// log-entry convention, so a client can check filter syntax and preview
// its effect against live log data in one round trip.
func (s *Server) handleLogFilter(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("expr")
	if pattern == "" {
		writeError(w, errs.MissingParameter("expr"))
		return
	}
	expr, err := filterexpr.Compile(pattern)
	if err != nil {
		writeError(w, errs.Validation("invalid filter expression: "+err.Error()))
		return
	}

	filter := logFilterFromQuery(r)
	entries, _ := s.logs.Query(filter, nil, nil, 0, 0)

	var matched []models.LogEntry
	for _, entry := range entries {
		env := filterexpr.Env{URL: entry.Message, Host: entry.Process, Device: entry.DeviceID}
		ok, err := expr.Match(env)
		if err == nil && ok {
			matched = append(matched, entry)
		}
	}

	offset := queryInt(r, "offset", 0)
	if offset > 0 {
		if offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[offset:]
		}
	}
	if limit := queryInt(r, "limit", 100); limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": matched})
}
