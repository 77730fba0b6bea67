package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// ==========================================================================
// /api/v1/device/list, /boot
// ==========================================================================

func TestHandleDeviceList_ReturnsFixtureDevice(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/device/list", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), testUDID) {
		t.Fatalf("expected the fixture simulator in the listing, got %s", rr.Body.String())
	}
}

func TestHandleDeviceBoot_RejectsPhysicalDevices(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/device/boot",
		strings.NewReader(`{"udid":"`+testUDID+`","device_type":"device"}`))
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 booting a physical device, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleDeviceBoot_AcceptsSimulator(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/device/boot",
		strings.NewReader(`{"udid":"`+testUDID+`","device_type":"simulator"}`))
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 booting a simulator, got %d: %s", rr.Code, rr.Body.String())
	}
}

// ==========================================================================
// /api/v1/device/screenshot
// ==========================================================================

func TestHandleScreenshot_ReturnsImageFromBackend(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/device/screenshot?udid="+testUDID, nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

// ==========================================================================
// /api/v1/device/ui/wait-for-element — long-poll discriminator
// ==========================================================================

func TestHandleUIWaitForElement_ReturnsMatchedFalseOnTimeout(t *testing.T) {
	s := newTestServer(t)

	start := time.Now()
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/device/ui/wait-for-element?udid="+testUDID+"&label=NoSuchElement&timeout=0.3", nil)
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

func TestHandleUIWaitForElement_MatchesImmediatelyWhenPresent(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/device/ui/wait-for-element?udid="+testUDID+"&label=Root&timeout=1", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"matched":true`) {
		t.Fatalf(`expected "matched":true for a present element, got %s`, rr.Body.String())
	}
}
