package proxy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quern/quern/internal/flowstore"
	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/models"
)

func testProxy(t *testing.T) *Proxy {
	t.Helper()
	log := logging.New("proxy_test", "error", "text")
	return New(log, flowstore.New(10), "cat", nil)
}

func TestHandleFlowAppliesMockPrecedenceOverIntercept(t *testing.T) {
	p := testProxy(t)
	p.mocks["m1"] = models.MockRule{RuleID: "m1", Filter: "~u/api", StatusCode: 200, Body: "mocked"}
	p.intercepts["i1"] = models.InterceptRule{RuleID: "i1", Filter: "~u/api", Action: models.HoldAction}

	flow := models.FlowRecord{ID: "f1", Status: models.FlowPending, Request: models.Request{URL: "https://x/api/thing"}}
	p.handleFlow(flow)

	stored, ok := p.flows.Get("f1")
	require.True(t, ok)
	require.Equal(t, models.FlowComplete, stored.Status)
	require.NotNil(t, stored.Response)
	require.Equal(t, "mocked", stored.Response.Body)

	p.heldMu.Lock()
	_, held := p.held["f1"]
	p.heldMu.Unlock()
	require.False(t, held)
}

func TestHandleFlowHoldsOnInterceptMatch(t *testing.T) {
	p := testProxy(t)
	p.intercepts["i1"] = models.InterceptRule{RuleID: "i1", Filter: "~u/api", Action: models.HoldAction}

	flow := models.FlowRecord{ID: "f2", Status: models.FlowPending, Request: models.Request{URL: "https://x/api/thing"}}
	p.handleFlow(flow)

	stored, ok := p.flows.Get("f2")
	require.True(t, ok)
	require.Equal(t, models.FlowHeld, stored.Status)

	p.heldMu.Lock()
	_, held := p.held["f2"]
	p.heldMu.Unlock()
	require.True(t, held)
}

func TestListHeldFiltersByFlowFields(t *testing.T) {
	p := testProxy(t)
	flow := models.FlowRecord{ID: "f3", Status: models.FlowHeld, Request: models.Request{URL: "https://api.example.com/x", Host: "api.example.com"}}
	p.flows.Add(flow)
	h := models.NewHeldFlow("f3", models.HeldAtRequest, time.Now())
	p.held["f3"] = &h

	matched, err := p.ListHeld("~d api.example.com", 0)
	require.NoError(t, err)
	require.Len(t, matched, 1)

	none, err := p.ListHeld("~d nothing.example.com", 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestListHeldExpiresStaleEntries(t *testing.T) {
	p := testProxy(t)
	h := models.NewHeldFlow("f4", models.HeldAtRequest, time.Now().Add(-time.Hour))
	p.held["f4"] = &h

	matched, err := p.ListHeld("", 0)
	require.NoError(t, err)
	require.Empty(t, matched)

	p.heldMu.Lock()
	_, stillHeld := p.held["f4"]
	p.heldMu.Unlock()
	require.False(t, stillHeld)
}

func TestSetFilterRejectsInvalidExpression(t *testing.T) {
	p := testProxy(t)
	err := p.SetFilter("not a valid expression")
	require.Error(t, err)
}

func TestReplayReconstructsOriginalRequest(t *testing.T) {
	p := testProxy(t)
	p.flows.Add(models.FlowRecord{ID: "orig", Request: models.Request{
		URL: "https://x/y", Headers: []models.Header{{Name: "X-Test", Value: "1"}}, Body: "hello",
	}})

	// Stub out send by starting against `cat`, which echoes stdin to
	// stdout without writing a JSON event, so this only exercises command
	// construction and flow lookup, not a full round trip.
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	newID, err := p.Replay("orig", nil)
	require.NoError(t, err)
	require.NotEmpty(t, newID)
	require.NotEqual(t, "orig", newID)
}

func TestReplayMissingFlowReturnsNotFound(t *testing.T) {
	p := testProxy(t)
	_, err := p.Replay("missing", nil)
	require.Error(t, err)
}

func TestWatchdogMarksCrashedOnUnexpectedExit(t *testing.T) {
	p := New(logging.New("proxy_test", "error", "text"), flowstore.New(10), "sh", []string{"-c", "exit 1"})
	crashed := make(chan struct{})
	p.OnCrash(func() { close(crashed) })

	require.NoError(t, p.Start(context.Background()))

	select {
	case <-crashed:
	case <-time.After(2 * time.Second):
		t.Fatal("onCrash was not invoked")
	}
	require.Equal(t, StatusCrashed, p.StatusValue())
}

func TestStopDoesNotTriggerOnCrash(t *testing.T) {
	p := New(logging.New("proxy_test", "error", "text"), flowstore.New(10), "sleep", []string{"5"})
	crashed := make(chan struct{})
	p.OnCrash(func() { close(crashed) })

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop())

	select {
	case <-crashed:
		t.Fatal("onCrash should not fire on an intentional stop")
	case <-time.After(200 * time.Millisecond):
	}
	require.Equal(t, StatusStopped, p.StatusValue())
}

func TestApplyMockTagsFlow(t *testing.T) {
	flow := models.FlowRecord{ID: "f5", Request: models.Request{}}
	rule := models.MockRule{RuleID: "m9", StatusCode: 404, Body: "not found"}
	result := applyMock(flow, rule)
	require.Equal(t, 404, result.Response.StatusCode)
	require.Contains(t, result.Tags, "mocked:m9")
}

func TestConsumeDecodesFlowEvent(t *testing.T) {
	p := testProxy(t)
	flow := models.FlowRecord{ID: "f6", Request: models.Request{URL: "https://a/b"}}
	line, err := json.Marshal(event{Type: eventFlow, Flow: &flow})
	require.NoError(t, err)

	p.handleEvent(mustDecodeEvent(t, line))

	_, ok := p.flows.Get("f6")
	require.True(t, ok)
}

func mustDecodeEvent(t *testing.T, line []byte) event {
	t.Helper()
	var e event
	require.NoError(t, json.Unmarshal(line, &e))
	return e
}
