package lifecycle

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"

	"github.com/quern/quern/internal/errs"
)

// apiKeyBytes is the amount of entropy behind the generated API key
// (32 bytes = 256 bits, hex-encoded to 64 characters).
const apiKeyBytes = 32

// LoadOrCreateAPIKey returns the API key at path, generating and
// persisting a fresh one (mode 0600) if the file doesn't exist yet. No
// pack library specializes in bearer-token generation; this is a single
// crypto/rand call, which is exactly what the standard library exists
// for, so it stays stdlib rather than pulling in a dependency for one
// primitive.
func LoadOrCreateAPIKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", errs.Internal("read api key file", err)
	}

	key, err := generateAPIKey()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0600); err != nil {
		return "", errs.Internal("write api key file", err)
	}
	return key, nil
}

func generateAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errs.Internal("generate api key", err)
	}
	return hex.EncodeToString(buf), nil
}
