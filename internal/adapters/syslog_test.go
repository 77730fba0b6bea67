package adapters

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quern/quern/internal/models"
)

func TestParseSyslogLineWellFormed(t *testing.T) {
	line := "Jan 1 00:00:01 iPhone SpringBoard(UIKit)[123] <Notice>: App launched"
	entry := ParseSyslogLine(line)
	require.Equal(t, models.LevelNotice, entry.Level)
	require.Equal(t, models.SourceSyslog, entry.Source)
	require.Equal(t, "SpringBoard", entry.Process)
	require.Equal(t, "UIKit", entry.Subsystem)
	require.Equal(t, "App launched", entry.Message)
}

func TestParseSyslogLineLevelMapping(t *testing.T) {
	cases := map[string]models.LogLevel{
		"Emergency": models.LevelError,
		"Critical":  models.LevelError,
		"Error":     models.LevelError,
		"Warning":   models.LevelWarning,
		"Debug":     models.LevelDebug,
	}
	for level, want := range cases {
		line := "Jan 1 00:00:01 iPhone proc(sub)[1] <" + level + ">: msg"
		entry := ParseSyslogLine(line)
		require.Equal(t, want, entry.Level, level)
	}
}

func TestParseSyslogLineUnparseableFallsBackToInfo(t *testing.T) {
	line := "this is not a syslog line at all"
	entry := ParseSyslogLine(line)
	require.Equal(t, models.LevelInfo, entry.Level)
	require.Equal(t, models.SourceSyslog, entry.Source)
	require.Equal(t, line, entry.Message)
	require.Equal(t, line, entry.Raw)
}
