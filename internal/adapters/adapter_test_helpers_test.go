package adapters

import "github.com/quern/quern/internal/logging"

func sampleLog() *logging.Logger {
	return logging.New("test", "error", "text")
}
