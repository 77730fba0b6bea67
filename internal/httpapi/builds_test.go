package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ==========================================================================
// /api/v1/builds/latest, /api/v1/crashes/latest
// ==========================================================================

func TestHandleBuildsLatest_ReturnsEmptyBeforeAnyLogParsed(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/builds/latest", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleBuildsParseFile_RequiresPath(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/builds/parse-file", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing path, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleCrashesLatest_ReportsNullWhenNoneSeen(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/crashes/latest", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); !strings.Contains(got, `"report":null`) {
		t.Fatalf(`expected a null report before any crash is seen, got %s`, got)
	}
}
