package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateCreated, "created"},
		{StateQueued, "queued"},
		{StateExecuted, "executed"},
		{StateFinished, "finished"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		input    string
		expected State
	}{
		{"created", StateCreated},
		{"queued", StateQueued},
		{"executed", StateExecuted},
		{"finished", StateFinished},
		{"invalid", StateCreated},
		{"", StateCreated},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseState(tt.input))
		})
	}
}

func TestState_IsFinal(t *testing.T) {
	assert.True(t, StateFinished.IsFinal())
	for _, s := range []State{StateCreated, StateQueued, StateExecuted} {
		assert.False(t, s.IsFinal())
	}
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		name   string
		from   State
		to     State
		allowed bool
	}{
		{"created to queued", StateCreated, StateQueued, true},
		{"created to finished (immediate kill)", StateCreated, StateFinished, true},
		{"created to executed (skips queued)", StateCreated, StateExecuted, false},
		{"queued to executed", StateQueued, StateExecuted, true},
		{"queued to finished (kill before execute)", StateQueued, StateFinished, true},
		{"queued back to created", StateQueued, StateCreated, false},
		{"executed to finished", StateExecuted, StateFinished, true},
		{"executed back to queued", StateExecuted, StateQueued, false},
		{"finished is terminal", StateFinished, StateQueued, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStateMachine_Queue(t *testing.T) {
	r := New("id1", Command{Name: "echo"}, AuthUser{Username: "alice"}, time.Now())
	sm := NewStateMachine(r)

	require.NoError(t, sm.Queue())
	assert.Equal(t, StateQueued, r.State)

	require.ErrorIs(t, sm.Queue(), ErrInvalidTransition)
}

func TestStateMachine_Execute(t *testing.T) {
	r := New("id1", Command{Name: "echo"}, AuthUser{Username: "alice"}, time.Now())
	sm := NewStateMachine(r)
	require.NoError(t, sm.Queue())

	now := time.Now()
	require.NoError(t, sm.Execute(4242, now))
	assert.Equal(t, StateExecuted, r.State)
	assert.Equal(t, 4242, r.WorkerPID)
	assert.Equal(t, now, r.LastMessageTimestamp)
}

func TestStateMachine_Finish(t *testing.T) {
	r := New("id1", Command{Name: "echo"}, AuthUser{Username: "alice"}, time.Now())
	sm := NewStateMachine(r)
	require.NoError(t, sm.Queue())
	require.NoError(t, sm.Execute(1, time.Now()))

	require.NoError(t, sm.Finish(FinishSuccess, KillReasonNone, map[string]any{"ok": true}))
	assert.Equal(t, StateFinished, r.State)
	assert.Equal(t, FinishSuccess, r.FinishType)
	assert.Equal(t, KillReasonNone, r.KillReason)

	require.ErrorIs(t, sm.Finish(FinishSuccess, KillReasonNone, nil), ErrInvalidTransition)
}

func TestStateMachine_FinishFromCreated(t *testing.T) {
	// A task killed before any worker ever saw it finishes directly from
	// CREATED, with no worker pid ever assigned.
	r := New("id1", Command{Name: "echo"}, AuthUser{Username: "alice"}, time.Now())
	sm := NewStateMachine(r)

	require.NoError(t, sm.Finish(FinishKill, KillReasonUser, nil))
	assert.Equal(t, StateFinished, r.State)
	assert.Equal(t, FinishKill, r.FinishType)
	assert.Equal(t, KillReasonUser, r.KillReason)
	assert.Zero(t, r.WorkerPID)
}
