package flowstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quern/quern/internal/models"
)

func TestAddAndGet(t *testing.T) {
	fs := New(10)
	fs.Add(models.FlowRecord{ID: "a", Request: models.Request{Host: "example.com"}})
	flow, ok := fs.Get("a")
	require.True(t, ok)
	require.Equal(t, "example.com", flow.Request.Host)
}

func TestAddUpdatesExistingByID(t *testing.T) {
	fs := New(10)
	fs.Add(models.FlowRecord{ID: "a", Status: models.FlowPending})
	fs.Add(models.FlowRecord{ID: "a", Status: models.FlowComplete, Response: &models.Response{StatusCode: 200}})
	require.Equal(t, 1, fs.Len())
	flow, _ := fs.Get("a")
	require.Equal(t, models.FlowComplete, flow.Status)
}

func TestCapacityEvictsOldestNotRevisited(t *testing.T) {
	fs := New(2)
	fs.Add(models.FlowRecord{ID: "a"})
	fs.Add(models.FlowRecord{ID: "b"})
	fs.Add(models.FlowRecord{ID: "c"})
	require.Equal(t, 2, fs.Len())
	_, ok := fs.Get("a")
	require.False(t, ok)
}

func TestQueryFiltersByHostAndStatus(t *testing.T) {
	fs := New(10)
	fs.Add(models.FlowRecord{ID: "a", Request: models.Request{Host: "api.example.com"}, Response: &models.Response{StatusCode: 200}})
	fs.Add(models.FlowRecord{ID: "b", Request: models.Request{Host: "api.example.com"}, Response: &models.Response{StatusCode: 500}})
	fs.Add(models.FlowRecord{ID: "c", Request: models.Request{Host: "other.example.com"}, Response: &models.Response{StatusCode: 200}})

	results := fs.Query(Filter{Host: "api.example.com", StatusMin: 500}, 0, 0)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].ID)
}

func TestWaitReturnsExistingFlowWithinSinceWindow(t *testing.T) {
	fs := New(10)
	fs.Add(models.FlowRecord{ID: "a", Request: models.Request{Host: "example.com"}})

	flow, ok := fs.Wait(context.Background(), Filter{Host: "example.com"}, nil, time.Second)
	require.True(t, ok)
	require.Equal(t, "a", flow.ID)
}

func TestWaitBlocksUntilFlowArrives(t *testing.T) {
	fs := New(10)
	since := time.Now()

	go func() {
		time.Sleep(50 * time.Millisecond)
		fs.Add(models.FlowRecord{ID: "late", Request: models.Request{Host: "example.com"}})
	}()

	flow, ok := fs.Wait(context.Background(), Filter{Host: "example.com"}, &since, time.Second)
	require.True(t, ok)
	require.Equal(t, "late", flow.ID)
}

func TestWaitTimesOutWithoutMatch(t *testing.T) {
	fs := New(10)
	since := time.Now()
	_, ok := fs.Wait(context.Background(), Filter{Host: "nonexistent.example.com"}, &since, 50*time.Millisecond)
	require.False(t, ok)
}

func TestClearEmptiesStore(t *testing.T) {
	fs := New(10)
	fs.Add(models.FlowRecord{ID: "a"})
	fs.Clear()
	require.Equal(t, 0, fs.Len())
}
