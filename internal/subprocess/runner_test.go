package subprocess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quern/quern/internal/errs"
)

func TestRunCapturesStdout(t *testing.T) {
	result, err := Run(context.Background(), "echo", "echo", []string{"hello"}, nil, 0)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(result.Stdout))
	require.Equal(t, 0, result.ExitCode)
}

func TestRunMissingToolReturnsToolMissing(t *testing.T) {
	_, err := Run(context.Background(), "simctl", "definitely-not-a-real-binary", nil, nil, 0)
	qe, ok := errs.As(err)
	require.True(t, ok)
	require.Equal(t, errs.CodeToolMissing, qe.Code)
}

func TestRunNonZeroExitReturnsSubprocessFailed(t *testing.T) {
	_, err := Run(context.Background(), "sh", "sh", []string{"-c", "echo boom 1>&2; exit 3"}, nil, 0)
	qe, ok := errs.As(err)
	require.True(t, ok)
	require.Equal(t, errs.CodeSubprocessFailed, qe.Code)
	require.Equal(t, 3, qe.Details["exit_code"])
}

func TestStartStreamsLines(t *testing.T) {
	h, err := Start(context.Background(), "printf", "sh", []string{"-c", "printf 'one\\ntwo\\n'"}, nil)
	require.NoError(t, err)

	var lines []string
	for line := range h.Lines {
		lines = append(lines, line)
	}
	require.Equal(t, []string{"one", "two"}, lines)
	require.NoError(t, <-h.Exit)
}

func TestTerminateKillsLongRunningProcess(t *testing.T) {
	h, err := Start(context.Background(), "sleep", "sleep", []string{"30"}, nil)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, h.Terminate(200*time.Millisecond))
	require.Less(t, time.Since(start), 5*time.Second)
}
