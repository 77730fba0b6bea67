package adapters

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quern/quern/internal/models"
)

func TestParseOSLogRecord(t *testing.T) {
	line := `{"messageType":"Error","process":"MyApp","subsystem":"com.example.myapp","category":"network","eventMessage":"connection timed out"}`
	entry, ok := ParseOSLogRecord(line)
	require.True(t, ok)
	require.Equal(t, models.LevelError, entry.Level)
	require.Equal(t, "MyApp", entry.Process)
	require.Equal(t, "com.example.myapp", entry.Subsystem)
	require.Equal(t, "network", entry.Category)
	require.Equal(t, "connection timed out", entry.Message)
}

func TestParseOSLogRecordInvalidJSONSkipped(t *testing.T) {
	_, ok := ParseOSLogRecord("Filtering the log data using ...")
	require.False(t, ok)
}

func TestParseOSLogRecordUnknownLevelDefaultsToInfo(t *testing.T) {
	line := `{"messageType":"Weird","eventMessage":"hello"}`
	entry, ok := ParseOSLogRecord(line)
	require.True(t, ok)
	require.Equal(t, models.LevelInfo, entry.Level)
}
