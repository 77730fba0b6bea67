package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/quern/quern/internal/flowstore"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/ringbuffer"
)

func TestSampler_SampleOnceRecordsBufferSizes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test", reg)

	logs := ringbuffer.New(10)
	logs.Append(models.LogEntry{ID: "1", Message: "hi"})
	logs.Append(models.LogEntry{ID: "2", Message: "there"})

	flows := flowstore.New(10)
	flows.Add(models.FlowRecord{ID: "a"})

	s := NewSampler(m, logs, flows, nil, nil, time.Now().Add(-time.Minute))
	s.sample(context.Background())

	if got := testutil.ToFloat64(m.LogBufferSize); got != 2 {
		t.Fatalf("expected log buffer size 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.FlowStoreSize); got != 1 {
		t.Fatalf("expected flow store size 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.ServiceUptime); got <= 0 {
		t.Fatalf("expected a positive uptime, got %v", got)
	}
}

func TestSampler_NilSubsystemsDoNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test", reg)

	s := NewSampler(m, nil, nil, nil, nil, time.Now())
	s.sample(context.Background())
}

func TestSampler_RunStopsOnContextCancel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test", reg)
	s := NewSampler(m, nil, nil, nil, nil, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return promptly after cancellation")
	}
}
