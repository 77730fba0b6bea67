package device

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/quern/quern/internal/errs"
)

// tempScreenshotPath builds a scratch path for the CLI tools that can only
// write a screenshot to a file, never to stdout.
func tempScreenshotPath(udid, format string) string {
	name := "quern-screenshot-" + udid + "-" + strconv.FormatInt(time.Now().UnixNano(), 10) + "." + format
	return filepath.Join(os.TempDir(), name)
}

// readAndRemove reads path then best-effort deletes it, so a failed tool
// invocation never leaves scratch files behind in the common case.
func readAndRemove(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	os.Remove(path)
	if err != nil {
		return nil, errs.Internal("read screenshot file", err)
	}
	return data, nil
}
