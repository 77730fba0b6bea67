package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFrameContains(t *testing.T) {
	parent := Frame{X: 0, Y: 0, W: 100, H: 100}
	child := Frame{X: 10, Y: 10, W: 20, H: 20}
	require.True(t, parent.Contains(child))

	offscreen := Frame{X: 90, Y: 90, W: 50, H: 50}
	require.False(t, parent.Contains(offscreen))
}

func TestFlowRecordValid(t *testing.T) {
	pending := &FlowRecord{Status: FlowPending}
	require.True(t, pending.Valid())

	complete := &FlowRecord{Status: FlowComplete, Response: &Response{StatusCode: 200}}
	require.True(t, complete.Valid())

	bothSet := &FlowRecord{Status: FlowComplete, Response: &Response{StatusCode: 200}, Error: "boom"}
	require.False(t, bothSet.Valid())

	neitherSet := &FlowRecord{Status: FlowComplete}
	require.False(t, neitherSet.Valid())
}

func TestDeviceClaimInvariant(t *testing.T) {
	d := &Device{ClaimStatus: ClaimAvailable}
	require.True(t, d.ClaimInvariantHolds())

	now := time.Now()
	d.Claim("session-1", now)
	require.True(t, d.ClaimInvariantHolds())
	require.Equal(t, "session-1", d.ClaimedBy)

	d.Release()
	require.True(t, d.ClaimInvariantHolds())
	require.Empty(t, d.ClaimedBy)
	require.Nil(t, d.ClaimedAt)
}

func TestHeldFlowExpiry(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	hf := NewHeldFlow("flow-1", HeldAtRequest, start)
	require.False(t, hf.Expired(start.Add(10*time.Second)))
	require.True(t, hf.Expired(start.Add(31*time.Second)))

	hf.Outcome = OutcomeRelease
	require.False(t, hf.Expired(start.Add(time.Hour)))
}

func TestFlattenTree(t *testing.T) {
	root := UIElement{
		Type: "Window",
		Children: []UIElement{
			{Type: "Button", Label: "OK"},
			{Type: "Switch", Label: "Airplane Mode"},
		},
	}
	all := Flatten(&root)
	require.Len(t, all, 3)
	require.Equal(t, "Window", all[0].Type)
}

func TestHeadersLookupIsCaseInsensitive(t *testing.T) {
	hs := []Header{{Name: "Content-Type", Value: "application/json"}}
	v, ok := Headers(hs, "content-type")
	require.True(t, ok)
	require.Equal(t, "application/json", v)
}
