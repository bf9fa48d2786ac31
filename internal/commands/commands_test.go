package commands

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterd/scheduler/internal/command"
	"github.com/clusterd/scheduler/internal/task"
)

func newRegistry(t *testing.T) *command.Registry {
	t.Helper()
	r := command.NewRegistry()
	Register(r)
	return r
}

func TestRegister_InstallsBuiltins(t *testing.T) {
	r := newRegistry(t)
	assert.ElementsMatch(t, []string{"echo", "sleep", "compute", "fail", "panic"}, r.Names())
}

func TestEchoHandler(t *testing.T) {
	r := newRegistry(t)
	e, ok := r.Lookup("echo")
	require.True(t, ok)

	result, err := e.Handler(context.Background(), map[string]any{"msg": "hi"}, func(task.Severity, string, map[string]any) {})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"msg": "hi"}, result.(map[string]any)["echoed"])
}

func TestSleepHandler_RespectsContextCancellation(t *testing.T) {
	r := newRegistry(t)
	e, ok := r.Lookup("sleep")
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := e.Handler(ctx, map[string]any{"duration_ms": float64(1000)}, func(task.Severity, string, map[string]any) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFailHandler_ReturnsError(t *testing.T) {
	r := newRegistry(t)
	e, ok := r.Lookup("fail")
	require.True(t, ok)

	_, err := e.Handler(context.Background(), nil, func(task.Severity, string, map[string]any) {})
	assert.Error(t, err)
}

func TestPanicHandler_Panics(t *testing.T) {
	r := newRegistry(t)
	e, ok := r.Lookup("panic")
	require.True(t, ok)

	assert.Panics(t, func() {
		_, _ = e.Handler(context.Background(), nil, func(task.Severity, string, map[string]any) {})
	})
}
