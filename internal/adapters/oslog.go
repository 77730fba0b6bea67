package adapters

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/ringbuffer"
	"github.com/quern/quern/internal/subprocess"
)

var oslogLevelMap = map[string]models.LogLevel{
	"Debug":   models.LevelDebug,
	"Info":    models.LevelInfo,
	"Default": models.LevelNotice,
	"Error":   models.LevelError,
	"Fault":   models.LevelFault,
}

// OSLogAdapter consumes JSON objects emitted by the unified log tool
// (a predicate-filtered `log stream --style ndjson` for simulators, or its
// device-tooling equivalent). Fields are mapped directly; subsystem and
// category survive unchanged per spec §4.4. A fast gjson-based read picks
// off the handful of fields Quern needs without a full struct unmarshal,
// since unified log records carry many fields Quern never surfaces.
type OSLogAdapter struct {
	*Base
	log      *logging.Logger
	buffer   *ringbuffer.RingBuffer
	deviceID string
	tool     string
	args     []string

	cancel context.CancelFunc
	handle *subprocess.Handle
}

func NewOSLogAdapter(log *logging.Logger, buffer *ringbuffer.RingBuffer, deviceID, tool string, args []string) *OSLogAdapter {
	return &OSLogAdapter{
		Base:     NewBase("oslog"),
		log:      log,
		buffer:   buffer,
		deviceID: deviceID,
		tool:     tool,
		args:     args,
	}
}

func (a *OSLogAdapter) Start(ctx context.Context) error {
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

func (a *OSLogAdapter) consume(lines <-chan string) {
	for line := range lines {
		entry, ok := ParseOSLogRecord(line)
		if !ok {
			continue
		}
		entry.DeviceID = a.deviceID
		a.buffer.Append(entry)
	}
}

func (a *OSLogAdapter) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.handle != nil {
		return a.handle.Terminate(defaultAdapterGrace)
	}
	a.SetRunning(false, "stopped")
	return nil
}

// ParseOSLogRecord decodes one JSON-per-line unified log record into a
// LogEntry. Returns ok=false for lines that aren't valid JSON objects
// (e.g. the tool's startup banner), which are skipped rather than
// surfaced as malformed entries — unlike the syslog adapter's raw-message
// fallback, unified log's predicate-filtered stream is expected to be
// uniformly structured.
func ParseOSLogRecord(line string) (models.LogEntry, bool) {
	if !gjson.Valid(line) {
		return models.LogEntry{}, false
	}
	root := gjson.Parse(line)
	if !root.IsObject() {
		return models.LogEntry{}, false
	}

	levelStr := root.Get("messageType").String()
	level, ok := oslogLevelMap[levelStr]
	if !ok {
		level = models.LevelInfo
	}

	return models.LogEntry{
		Level:     level,
		Source:    models.SourceOSLog,
		Process:   root.Get("process").String(),
		Subsystem: root.Get("subsystem").String(),
		Category:  root.Get("category").String(),
		Message:   root.Get("eventMessage").String(),
		Raw:       line,
	}, true
}
