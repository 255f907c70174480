package recovery

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell commands differ on windows")
	}

	result, err := Executor{}.Run(context.Background(), "echo hello", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Output)
	assert.Equal(t, 0, result.ExitCode)
}

func TestExecutorEmptyCommand(t *testing.T) {
	result, err := Executor{}.Run(context.Background(), "", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, result.Output)
}

func TestExecutorFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell commands differ on windows")
	}

	result, err := Executor{}.Run(context.Background(), "echo oops; exit 3", time.Minute)
	require.ErrorIs(t, err, ErrCommandFailed)
	require.NotNil(t, result)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "oops", result.Output)
}

func TestExecutorTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell commands differ on windows")
	}

	start := time.Now()
	_, err := Executor{}.Run(context.Background(), "sleep 10", 100*time.Millisecond)
	require.ErrorIs(t, err, ErrCommandFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecutorParentCancellation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell commands differ on windows")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Executor{}.Run(ctx, "sleep 10", time.Minute)
	require.Error(t, err)
}
