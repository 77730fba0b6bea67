package adapters

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/ringbuffer"
	"github.com/quern/quern/internal/subprocess"
)

// syslogLine matches `{date} {device} {process}({subsystem})[{pid}] <{level}>: {message}`.
var syslogLine = regexp.MustCompile(
	`^(?P<date>\S+\s+\d+\s+[\d:]+)\s+(?P<device>\S+)\s+(?P<process>[^(\[]+)\((?P<subsystem>[^)]*)\)\[(?P<pid>\d+)\]\s+<(?P<level>\w+)>:\s*(?P<message>.*)$`,
)

var syslogLevelMap = map[string]models.LogLevel{
	"Emergency": models.LevelError,
	"Alert":     models.LevelError,
	"Critical":  models.LevelError,
	"Error":     models.LevelError,
	"Warning":   models.LevelWarning,
	"Notice":    models.LevelNotice,
	"Info":      models.LevelInfo,
	"Debug":     models.LevelDebug,
}

// SyslogAdapter streams a device's syslog through the platform's log tool
// and parses each line per spec §4.4.
type SyslogAdapter struct {
	*Base
	log      *logging.Logger
	buffer   *ringbuffer.RingBuffer
	deviceID string
	tool     string
	args     []string

	cancel context.CancelFunc
	handle *subprocess.Handle
}

// NewSyslogAdapter builds an adapter that invokes tool with args to stream
// a device's syslog (the exact command differs for simulator vs physical
// device — the controller supplies it).
func NewSyslogAdapter(log *logging.Logger, buffer *ringbuffer.RingBuffer, deviceID, tool string, args []string) *SyslogAdapter {
	return &SyslogAdapter{
		Base:     NewBase("syslog"),
		log:      log,
		buffer:   buffer,
		deviceID: deviceID,
		tool:     tool,
		args:     args,
	}
}

func (a *SyslogAdapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	handle, err := subprocess.Start(runCtx, a.tool, a.tool, a.args, nil)
	if err != nil {
		if qe, ok := errs.As(err); ok {
			a.SetRunning(false, qe.Message)
		}
		cancel()
		return err
	}
	a.handle = handle
	a.SetRunning(true, "")

	go a.consume(handle.Lines)
	return nil
}

func (a *SyslogAdapter) consume(lines <-chan string) {
	for line := range lines {
		entry := ParseSyslogLine(line)
		entry.DeviceID = a.deviceID
		a.buffer.Append(entry)
	}
}

func (a *SyslogAdapter) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.handle != nil {
		return a.handle.Terminate(defaultAdapterGrace)
	}
	a.SetRunning(false, "stopped")
	return nil
}

// ParseSyslogLine parses one syslog line into a LogEntry, falling back to
// level=info, source=syslog, message=raw for unparseable input per spec §4.4.
func ParseSyslogLine(line string) models.LogEntry {
	match := syslogLine.FindStringSubmatch(line)
	if match == nil {
		return models.LogEntry{
			Level:   models.LevelInfo,
			Source:  models.SourceSyslog,
			Message: line,
			Raw:     line,
		}
	}

	groups := make(map[string]string)
	for i, name := range syslogLine.SubexpNames() {
		if name != "" && i < len(match) {
			groups[name] = match[i]
		}
	}

	level, ok := syslogLevelMap[groups["level"]]
	if !ok {
		level = models.LevelInfo
	}

	return models.LogEntry{
		Level:     level,
		Source:    models.SourceSyslog,
		Process:   strings.TrimSpace(groups["process"]),
		Subsystem: groups["subsystem"],
		Message:   groups["message"],
		Raw:       line,
	}
}

// readLines is a small helper for adapters consuming a plain io.Reader
// instead of a subprocess line channel (used by the build-output parser
// when fed a log file directly).
func readLines(r io.Reader, onLine func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan lines: %w", err)
	}
	return nil
}
