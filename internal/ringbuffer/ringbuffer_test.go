package ringbuffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quern/quern/internal/models"
)

func TestAppendAssignsMonotoneSequence(t *testing.T) {
	rb := New(10)
	e1 := rb.Append(models.LogEntry{Message: "one"})
	e2 := rb.Append(models.LogEntry{Message: "two"})
	require.Equal(t, uint64(1), e1.Sequence)
	require.Equal(t, uint64(2), e2.Sequence)
}

func TestCapacityEvictsOldest(t *testing.T) {
	rb := New(3)
	for i := 0; i < 5; i++ {
		rb.Append(models.LogEntry{Message: "m"})
	}
	require.Equal(t, 3, rb.Len())
	entries, _ := rb.Query(Filter{}, nil, nil, 0, 0)
	require.Len(t, entries, 3)
	require.Equal(t, uint64(5), entries[0].Sequence)
}

func TestQueryNewestFirst(t *testing.T) {
	rb := New(10)
	rb.Append(models.LogEntry{Message: "first"})
	rb.Append(models.LogEntry{Message: "second"})
	entries, _ := rb.Query(Filter{}, nil, nil, 0, 0)
	require.Len(t, entries, 2)
	require.Equal(t, "second", entries[0].Message)
	require.Equal(t, "first", entries[1].Message)
}

func TestQuerySinceCursorExcludesBoundary(t *testing.T) {
	rb := New(10)
	first := rb.Append(models.LogEntry{Message: "first"})
	rb.Append(models.LogEntry{Message: "second"})
	cursor := Cursor{Sequence: first.Sequence}
	entries, _ := rb.Query(Filter{}, &cursor, nil, 0, 0)
	require.Len(t, entries, 1)
	require.Equal(t, "second", entries[0].Message)
}

func TestFilterLevelFloor(t *testing.T) {
	rb := New(10)
	rb.Append(models.LogEntry{Message: "debug line", Level: models.LevelDebug})
	rb.Append(models.LogEntry{Message: "error line", Level: models.LevelError})
	entries, _ := rb.Query(Filter{LevelFloor: models.LevelWarning}, nil, nil, 0, 0)
	require.Len(t, entries, 1)
	require.Equal(t, "error line", entries[0].Message)
}

func TestFilterSubstring(t *testing.T) {
	rb := New(10)
	rb.Append(models.LogEntry{Message: "connection failed"})
	rb.Append(models.LogEntry{Message: "all good"})
	entries, _ := rb.Query(Filter{Substring: "failed"}, nil, nil, 0, 0)
	require.Len(t, entries, 1)
}

func TestSubscribeReceivesAppendedEntries(t *testing.T) {
	rb := New(10)
	ch, cancel := rb.Subscribe(Filter{})
	defer cancel()

	rb.Append(models.LogEntry{Message: "live"})

	select {
	case entry := <-ch:
		require.Equal(t, "live", entry.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription entry")
	}
}

func TestSubscribeFilterExcludesNonMatching(t *testing.T) {
	rb := New(10)
	ch, cancel := rb.Subscribe(Filter{LevelFloor: models.LevelError})
	defer cancel()

	rb.Append(models.LogEntry{Message: "debug noise", Level: models.LevelDebug})
	rb.Append(models.LogEntry{Message: "boom", Level: models.LevelError})

	select {
	case entry := <-ch:
		require.Equal(t, "boom", entry.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered entry")
	}
}
