package lifecycle

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateAPIKey_GeneratesOnFirstCallThenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api-key")

	first, err := LoadOrCreateAPIKey(path)
	if err != nil {
		t.Fatalf("LoadOrCreateAPIKey: %v", err)
	}
	if len(first) != apiKeyBytes*2 {
		t.Fatalf("expected a %d-character hex key, got %d characters", apiKeyBytes*2, len(first))
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("expected the api key file to be mode 0600, got %v", info.Mode().Perm())
	}

	second, err := LoadOrCreateAPIKey(path)
	if err != nil {
		t.Fatalf("LoadOrCreateAPIKey (second call): %v", err)
	}
	if first != second {
		t.Fatalf("expected the second call to return the persisted key, got a different one")
	}
}

func TestLoadOrCreateAPIKey_TwoFreshPathsGetDifferentKeys(t *testing.T) {
	a, err := LoadOrCreateAPIKey(filepath.Join(t.TempDir(), "api-key"))
	if err != nil {
		t.Fatalf("LoadOrCreateAPIKey: %v", err)
	}
	b, err := LoadOrCreateAPIKey(filepath.Join(t.TempDir(), "api-key"))
	if err != nil {
		t.Fatalf("LoadOrCreateAPIKey: %v", err)
	}
	if a == b {
		t.Fatalf("expected two independently generated keys to differ")
	}
}
