package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test", reg)

	if m == nil {
		t.Fatal("expected a non-nil Metrics")
	}
	if m.RequestsTotal == nil || m.RequestDuration == nil || m.ErrorsTotal == nil {
		t.Error("expected the HTTP collectors to be initialized")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test", reg)

	// Should not panic.
	m.RecordHTTPRequest("GET", "/api/v1/logs", "200", 10*time.Millisecond)
	m.RecordHTTPRequest("POST", "/api/v1/proxy/intercept", "500", 5*time.Millisecond)
}

func TestRecordError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test", reg)

	m.RecordError("not_found", "simctl")
	m.RecordError("validation", "")
}

func TestSetAdapterRunning(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test", reg)

	m.SetAdapterRunning("syslog", true)
	if got := testutil.ToFloat64(m.AdapterStatus.WithLabelValues("syslog")); got != 1 {
		t.Fatalf("expected syslog adapter gauge to be 1, got %v", got)
	}

	m.SetAdapterRunning("syslog", false)
	if got := testutil.ToFloat64(m.AdapterStatus.WithLabelValues("syslog")); got != 0 {
		t.Fatalf("expected syslog adapter gauge to be 0, got %v", got)
	}
}

func TestSetProxyStatus_OnlyTheActiveStatusIsOne(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test", reg)
	statuses := []string{"stopped", "running", "crashed"}

	m.SetProxyStatus("running", statuses)

	if got := testutil.ToFloat64(m.ProxyStatus.WithLabelValues("running")); got != 1 {
		t.Fatalf("expected running to be 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProxyStatus.WithLabelValues("stopped")); got != 0 {
		t.Fatalf("expected stopped to be 0, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProxyStatus.WithLabelValues("crashed")); got != 0 {
		t.Fatalf("expected crashed to be 0, got %v", got)
	}

	m.SetProxyStatus("crashed", statuses)
	if got := testutil.ToFloat64(m.ProxyStatus.WithLabelValues("running")); got != 0 {
		t.Fatalf("expected running to have been zeroed after transitioning to crashed, got %v", got)
	}
}

func TestSetPoolCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test", reg)

	m.SetPoolCounts(5, 2)
	if got := testutil.ToFloat64(m.PoolDevicesTotal); got != 5 {
		t.Fatalf("expected total 5, got %v", got)
	}
	if got := testutil.ToFloat64(m.PoolDevicesClaimed); got != 2 {
		t.Fatalf("expected claimed 2, got %v", got)
	}
}
