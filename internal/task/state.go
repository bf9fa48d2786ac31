package task

import (
	"encoding/json"
	"errors"
	"time"
)

// State is a task's position in the CREATED -> QUEUED -> EXECUTED -> FINISHED
// chain. Transitions are monotonic; there is no way back to an earlier state.
type State int

const (
	StateCreated State = iota
	StateQueued
	StateExecuted
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateQueued:
		return "queued"
	case StateExecuted:
		return "executed"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

func ParseState(s string) State {
	switch s {
	case "queued":
		return StateQueued
	case "executed":
		return StateExecuted
	case "finished":
		return StateFinished
	default:
		return StateCreated
	}
}

// IsFinal reports whether the state is terminal.
func (s State) IsFinal() bool {
	return s == StateFinished
}

// MarshalJSON emits the state's name, the wire form API clients see.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	*s = ParseState(str)
	return nil
}

// FinishType records how a task ended. It is FinishUnfinished until the task
// reaches StateFinished.
type FinishType int

const (
	FinishUnfinished FinishType = iota
	FinishSuccess
	FinishFail
	FinishUnhandledException
	FinishKill
)

func (f FinishType) String() string {
	switch f {
	case FinishUnfinished:
		return "unfinished"
	case FinishSuccess:
		return "success"
	case FinishFail:
		return "fail"
	case FinishUnhandledException:
		return "unhandled_exception"
	case FinishKill:
		return "kill"
	default:
		return "unknown"
	}
}

// ParseFinishType maps a finish type's wire name back to its value,
// defaulting to FinishUnfinished for anything unrecognized.
func ParseFinishType(s string) FinishType {
	switch s {
	case "success":
		return FinishSuccess
	case "fail":
		return FinishFail
	case "unhandled_exception":
		return FinishUnhandledException
	case "kill":
		return FinishKill
	default:
		return FinishUnfinished
	}
}

// MarshalJSON emits the finish type's name.
func (f FinishType) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *FinishType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	*f = ParseFinishType(str)
	return nil
}

// KillReason explains why a task was force-finished with FinishKill.
type KillReason int

const (
	KillReasonNone KillReason = iota
	KillReasonUser
	KillReasonCompletionTimeout
	KillReasonInternalMessagingError
)

func (k KillReason) String() string {
	switch k {
	case KillReasonNone:
		return ""
	case KillReasonUser:
		return "user"
	case KillReasonCompletionTimeout:
		return "completion_timeout"
	case KillReasonInternalMessagingError:
		return "internal_messaging_error"
	default:
		return "unknown"
	}
}

// ParseKillReason maps a kill reason's wire name back to its value.
func ParseKillReason(s string) KillReason {
	switch s {
	case "user":
		return KillReasonUser
	case "completion_timeout":
		return KillReasonCompletionTimeout
	case "internal_messaging_error":
		return KillReasonInternalMessagingError
	default:
		return KillReasonNone
	}
}

// MarshalJSON emits the kill reason's name; KillReasonNone marshals as the
// empty string.
func (k KillReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *KillReason) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	*k = ParseKillReason(str)
	return nil
}

// Errors shared across the task lifecycle and its callers.
var (
	ErrInvalidTransition  = errors.New("invalid task state transition")
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskAlreadyExists  = errors.New("task already exists")
	ErrCommandNotRegistered = errors.New("command not registered")
	ErrPermissionDenied   = errors.New("permission denied")
)

// ValidTransitions defines the allowed forward-only state transitions.
// Unlike the retrying/requeueing state machines common in worker-pool
// systems, this chain never moves backward: once QUEUED, always at least
// QUEUED.
var ValidTransitions = map[State][]State{
	StateCreated:  {StateQueued, StateFinished}, // Finished directly on immediate user kill.
	StateQueued:   {StateExecuted, StateFinished},
	StateExecuted: {StateFinished},
	StateFinished: {},
}

// CanTransitionTo reports whether a transition from s to target is valid.
func (s State) CanTransitionTo(target State) bool {
	for _, v := range ValidTransitions[s] {
		if v == target {
			return true
		}
	}
	return false
}

// StateMachine drives a single Record through its transitions. Only
// internal/scheduler holds one of these, under its mutex; see it for
// the single-writer discipline that makes this safe without its own
// locking.
type StateMachine struct {
	record *Record
}

// NewStateMachine wraps a record for transition operations.
func NewStateMachine(r *Record) *StateMachine {
	return &StateMachine{record: r}
}

// Transition attempts to move the wrapped record to target, rejecting any
// transition not present in ValidTransitions.
func (sm *StateMachine) Transition(target State) error {
	if !sm.record.State.CanTransitionTo(target) {
		return ErrInvalidTransition
	}
	sm.record.State = target
	return nil
}

// Queue moves a CREATED task onto the run queue.
func (sm *StateMachine) Queue() error {
	return sm.Transition(StateQueued)
}

// Execute records that a worker process has picked up the task and reports
// its pid, moving it to EXECUTED.
func (sm *StateMachine) Execute(pid int, now time.Time) error {
	if err := sm.Transition(StateExecuted); err != nil {
		return err
	}
	sm.record.WorkerPID = pid
	sm.record.LastMessageTimestamp = now
	return nil
}

// Finish moves the task to its terminal state with the given outcome. It is
// valid from any non-finished state, including StateCreated (immediate user
// kill before a worker ever saw the task).
func (sm *StateMachine) Finish(finishType FinishType, killReason KillReason, result any) error {
	if err := sm.Transition(StateFinished); err != nil {
		return err
	}
	sm.record.FinishType = finishType
	sm.record.KillReason = killReason
	sm.record.Result = result
	return nil
}
