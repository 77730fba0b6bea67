package adapters

import (
	"context"
	"io"
	"os"
	"regexp"
	"strconv"
	"sync"

	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/ringbuffer"
)

// BuildIssue is a single compiler diagnostic extracted from a build log.
type BuildIssue struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
	Kind    string `json:"kind"` // "error" or "warning"
}

// TestResult is a single test outcome extracted from a build log.
type TestResult struct {
	Class          string `json:"class"`
	Test           string `json:"test"`
	DurationMillis int    `json:"duration_ms"`
	FailureMessage string `json:"failure_message,omitempty"`
}

var (
	// file.swift:12:5: error: message  /  file.m:12:5: warning: message
	diagnosticLine = regexp.MustCompile(`^(?P<file>[^:]+\.\w+):(?P<line>\d+):(?P<col>\d+):\s+(?P<kind>error|warning):\s+(?P<message>.*)$`)
	// Test Case '-[ClassTests testMethod]' passed (0.012 seconds).
	testPassLine = regexp.MustCompile(`^Test Case '-\[(?P<class>\S+)\s+(?P<test>\S+)\]' passed \((?P<duration>[\d.]+) seconds\)\.$`)
	// Test Case '-[ClassTests testMethod]' failed (0.012 seconds).
	testFailLine = regexp.MustCompile(`^Test Case '-\[(?P<class>\S+)\s+(?P<test>\S+)\]' failed \((?P<duration>[\d.]+) seconds\)\.$`)
)

// BuildAdapter parses a build-log file or streaming input into structured
// issues and test results, emitting a LogEntry per diagnostic per spec §4.4.
type BuildAdapter struct {
	*Base
	log    *logging.Logger
	buffer *ringbuffer.RingBuffer

	mu     sync.Mutex
	Issues []BuildIssue
	Tests  []TestResult
}

func NewBuildAdapter(log *logging.Logger, buffer *ringbuffer.RingBuffer) *BuildAdapter {
	return &BuildAdapter{Base: NewBase("build"), log: log, buffer: buffer}
}

// Consume reads r line-by-line, extracting diagnostics and test results and
// appending a LogEntry for each diagnostic.
func (a *BuildAdapter) Consume(r io.Reader) error {
	a.SetRunning(true, "")
	defer a.SetRunning(false, "")

	return readLines(r, func(line string) {
		if issue, ok := parseDiagnostic(line); ok {
			a.mu.Lock()
			a.Issues = append(a.Issues, issue)
			a.mu.Unlock()
			level := models.LevelWarning
			if issue.Kind == "error" {
				level = models.LevelError
			}
			a.buffer.Append(models.LogEntry{
				Level:   level,
				Source:  models.SourceBuild,
				Message: issue.Message,
				Raw:     line,
			})
			return
		}
		if result, ok := parseTestResult(line); ok {
			a.mu.Lock()
			a.Tests = append(a.Tests, result)
			a.mu.Unlock()
		}
	})
}

func (a *BuildAdapter) Start(ctx context.Context) error { return nil }
func (a *BuildAdapter) Stop() error                     { a.SetRunning(false, ""); return nil }

// ConsumeFile opens path and feeds it through Consume, for the
// parse-file HTTP endpoint.
func (a *BuildAdapter) ConsumeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return a.Consume(f)
}

// Latest returns a snapshot of the most recently parsed issues and test
// results.
func (a *BuildAdapter) Latest() ([]BuildIssue, []TestResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	issues := make([]BuildIssue, len(a.Issues))
	copy(issues, a.Issues)
	tests := make([]TestResult, len(a.Tests))
	copy(tests, a.Tests)
	return issues, tests
}

func parseDiagnostic(line string) (BuildIssue, bool) {
	m := diagnosticLine.FindStringSubmatch(line)
	if m == nil {
		return BuildIssue{}, false
	}
	lineNum, _ := strconv.Atoi(m[2])
	col, _ := strconv.Atoi(m[3])
	return BuildIssue{
		File:    m[1],
		Line:    lineNum,
		Column:  col,
		Kind:    m[4],
		Message: m[5],
	}, true
}

func parseTestResult(line string) (TestResult, bool) {
	if m := testPassLine.FindStringSubmatch(line); m != nil {
		return TestResult{Class: m[1], Test: m[2], DurationMillis: secondsToMillis(m[3])}, true
	}
	if m := testFailLine.FindStringSubmatch(line); m != nil {
		return TestResult{Class: m[1], Test: m[2], DurationMillis: secondsToMillis(m[3]), FailureMessage: "test failed"}, true
	}
	return TestResult{}, false
}

func secondsToMillis(s string) int {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(f * 1000)
}
