package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quern/quern/internal/models"
)

// ==========================================================================
// fixtures
// ==========================================================================

func seedLogEntry(s *Server, level models.LogLevel, process, message string) {
	s.logs.Append(models.LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Source:    models.SourceSimulator,
		Process:   process,
		Message:   message,
	})
}

// ==========================================================================
// /api/v1/logs/query
// ==========================================================================

func TestHandleLogQuery_ReturnsMatchingEntries(t *testing.T) {
	s := newTestServer(t)
	seedLogEntry(s, models.LevelInfo, "SpringBoard", "hello world")
	seedLogEntry(s, models.LevelError, "MyApp", "boom")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/query?level=error", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "boom") {
		t.Fatalf("expected error-level entry in body, got %s", rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "hello world") {
		t.Fatalf("level filter leaked the info entry through: %s", rr.Body.String())
	}
}

// ==========================================================================
// /api/v1/logs/filter
// ==========================================================================

func TestHandleLogFilter_RequiresExprParam(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/filter", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing expr, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleLogFilter_EvaluatesExpressionAgainstMessage(t *testing.T) {
	s := newTestServer(t)
	seedLogEntry(s, models.LevelInfo, "MyApp", "fetching https://api.example.com/v1/users")
	seedLogEntry(s, models.LevelInfo, "MyApp", "unrelated message")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/filter?expr=~u+users", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "api.example.com") {
		t.Fatalf("expected the matching entry in body, got %s", rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "unrelated message") {
		t.Fatalf("filter should have excluded the non-matching entry: %s", rr.Body.String())
	}
}

// ==========================================================================
// /api/v1/logs/stream (SSE)
// ==========================================================================

func TestHandleLogStream_EmitsLogEventThenStopsOnDisconnect(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/stream", nil).WithContext(ctx)
	rr := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.handleLogStream(rr, req)
		close(done)
	}()

	// Give the handler time to Subscribe before an entry is appended.
	time.Sleep(50 * time.Millisecond)
	seedLogEntry(s, models.LevelInfo, "MyApp", "streamed entry")
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleLogStream did not return after context cancellation")
	}

	body := rr.Body.String()
	if !strings.Contains(body, "event: log") {
		t.Fatalf("expected an SSE log event, got %s", body)
	}
	if !strings.Contains(body, "streamed entry") {
		t.Fatalf("expected the appended entry's message in the stream, got %s", body)
	}
}
