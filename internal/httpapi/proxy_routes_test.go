package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// ==========================================================================
// /api/v1/proxy/flows/wait — long-poll discriminator
// ==========================================================================

func TestHandleProxyFlowsWait_ReturnsMatchedFalseOnTimeout(t *testing.T) {
	s := newTestServer(t)

	start := time.Now()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/proxy/flows/wait?timeout=0.2", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)
	elapsed := time.Since(start)

	if rr.Code != http.StatusOK {
		t.Fatalf("a timed-out wait must still answer 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"matched":false`) {
		t.Fatalf(`expected "matched":false in the timeout body, got %s`, rr.Body.String())
	}
	if elapsed > 2*time.Second {
		t.Fatalf("expected the short requested timeout to be honored, took %s", elapsed)
	}
}

func TestHandleProxyFlowsWait_ClampsTimeoutToServerCeiling(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/proxy/flows/wait?timeout=99999", nil)
	got := clampTimeout(req, 10*time.Second)
	if got != maxLongPollTimeout {
		t.Fatalf("expected an oversized requested timeout to clamp to %s, got %s", maxLongPollTimeout, got)
	}
}

// ==========================================================================
// /api/v1/proxy/mocks
// ==========================================================================

func TestHandleProxyMocksList_EmptyBeforeAnyRuleIsSet(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/proxy/mocks", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"mocks":[]`) && !strings.Contains(rr.Body.String(), `"mocks":null`) {
		t.Fatalf("expected an empty mocks list before any rule is registered, got %s", rr.Body.String())
	}
}

func TestHandleProxyMocksCreate_RejectsInvalidFilterSyntax(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/proxy/mocks", strings.NewReader(`{
		"pattern": "not a valid filter(",
		"status_code": 200
	}`))
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unparseable filter pattern, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleProxyMocksCreate_RequiresRunningInterceptor(t *testing.T) {
	s := newTestServer(t) // proxy built but never Start()ed

	req := httptest.NewRequest(http.MethodPost, "/api/v1/proxy/mocks", strings.NewReader(`{
		"pattern": "~uapi.example.com/users",
		"status_code": 200
	}`))
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected a clear error when the interceptor isn't running, got %d: %s", rr.Code, rr.Body.String())
	}
}

// ==========================================================================
// /api/v1/proxy/status
// ==========================================================================

func TestHandleProxyStatus_ReportsStoppedBeforeStart(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/proxy/status", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "stopped") {
		t.Fatalf("expected a freshly-built proxy to report stopped, got %s", rr.Body.String())
	}
}
