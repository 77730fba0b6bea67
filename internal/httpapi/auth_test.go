package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// ==========================================================================
// authMiddleware
// ==========================================================================

func TestAuthMiddleware_AllowListBypassesKeyCheck(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	handler := authMiddleware(testAPIKey)(inner)

	tests := []struct {
		name string
		path string
	}{
		{"health", "/health"},
		{"proxy cert", "/api/v1/proxy/cert"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if !called {
				t.Fatalf("expected %s to bypass auth, inner handler was not called", tt.path)
			}
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
		})
	}
}

func TestAuthMiddleware_RejectsMissingOrWrongKey(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	handler := authMiddleware(testAPIKey)(inner)

	tests := []struct {
		name   string
		header func(r *http.Request)
	}{
		{"no header", func(r *http.Request) {}},
		{"wrong bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }},
		{"wrong api key header", func(r *http.Request) { r.Header.Set("X-API-Key", "nope") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/query", nil)
			tt.header(req)
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if called {
				t.Fatalf("inner handler should not run without a valid key")
			}
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}
}

func TestAuthMiddleware_AcceptsBearerOrAPIKeyHeader(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := authMiddleware(testAPIKey)(inner)

	tests := []struct {
		name   string
		header func(r *http.Request)
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+testAPIKey) }},
		{"x-api-key", func(r *http.Request) { r.Header.Set("X-API-Key", testAPIKey) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/query", nil)
			tt.header(req)
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
		})
	}
}

func TestAuthMiddleware_EmptyKeyDisablesAuth(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := authMiddleware("")(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/query", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected an empty configured key to disable auth, got %d", rr.Code)
	}
}

// ==========================================================================
// /health
// ==========================================================================

func TestHealth_ReportsOKWithoutAuth(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouter_RequiresAuthOnAPIRoutes(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/query", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a key, got %d: %s", rr.Code, rr.Body.String())
	}
}
