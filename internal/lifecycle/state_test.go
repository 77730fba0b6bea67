package lifecycle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quern/quern/internal/models"
)

// ==========================================================================
// StateStore
// ==========================================================================

func TestStateStore_WriteThenReadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStateStore(path)

	want := models.ServerState{
		PID:          1234,
		ServerPort:   9100,
		ProxyPort:    9101,
		ProxyEnabled: true,
		StartedAt:    time.Now().Truncate(time.Second),
		APIKey:       "deadbeef",
	}

	if err := store.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.PID != want.PID || got.ServerPort != want.ServerPort || got.APIKey != want.APIKey {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestStateStore_ReadMissingFileReturnsNotExist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	store := NewStateStore(path)

	if _, err := store.Read(); !os.IsNotExist(err) {
		t.Fatalf("expected os.IsNotExist for a missing state file, got %v", err)
	}
}

func TestStateStore_RemoveIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStateStore(path)

	if err := store.Remove(); err != nil {
		t.Fatalf("Remove on a never-written file should be a no-op, got %v", err)
	}

	if err := store.Write(models.ServerState{PID: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if store.Exists() {
		t.Fatalf("expected Exists to report false after Remove")
	}
	if err := store.Remove(); err != nil {
		t.Fatalf("a second Remove should still be a no-op, got %v", err)
	}
}
