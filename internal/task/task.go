// Package task defines the task record and its state machine: the central
// entity the scheduler's control loop advances on every tick.
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Severity of a diagnostic report emitted by a running command.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a severity's wire name back to its value, defaulting
// to SeverityInfo.
func ParseSeverity(s string) Severity {
	switch s {
	case "warning":
		return SeverityWarning
	case "error":
		return SeverityError
	default:
		return SeverityInfo
	}
}

// MarshalJSON emits the severity's name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	*s = ParseSeverity(str)
	return nil
}

// Report is a single diagnostic emitted by a command handler while it runs.
type Report struct {
	Severity Severity       `json:"severity"`
	Code     string         `json:"code"`
	Info     map[string]any `json:"info,omitempty"`
}

// AuthUser is the opaque identity captured at submission time. Permission
// checks and audit trails use the snapshot stored on the task record, never
// a live re-resolution of the caller's session.
type AuthUser struct {
	Username string   `json:"username"`
	Groups   []string `json:"groups,omitempty"`
}

// IsMember reports whether the user belongs to the named group.
func (u AuthUser) IsMember(group string) bool {
	for _, g := range u.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// CommandOptions carries per-submission overrides.
type CommandOptions struct {
	RequestTimeout *time.Duration `json:"request_timeout,omitempty"`
}

// Command is the submission DTO: a command name, its parameters, and options.
type Command struct {
	Name    string         `json:"name"`
	Params  map[string]any `json:"params"`
	Options CommandOptions `json:"options"`
}

// Record is the central entity the scheduler owns: a single task's mutable
// state as it flows through the pipeline. Only the control loop in
// internal/scheduler mutates a Record; readers get a Snapshot copy.
type Record struct {
	Ident    string   `json:"ident"`
	Command  Command  `json:"command"`
	AuthUser AuthUser `json:"auth_user"`

	State      State      `json:"state"`
	WorkerPID  int        `json:"worker_pid,omitempty"`
	FinishType FinishType `json:"finish_type"`
	KillReason KillReason `json:"kill_reason,omitempty"`
	Result     any        `json:"result,omitempty"`
	Reports    []Report   `json:"reports,omitempty"`

	CreatedTimestamp     time.Time  `json:"created_timestamp"`
	QueuedTimestamp      time.Time  `json:"queued_timestamp,omitempty"`
	LastMessageTimestamp time.Time  `json:"last_message_timestamp,omitempty"`
	ToDeleteTimestamp    *time.Time `json:"to_delete_timestamp,omitempty"`

	// PendingKill records that KillTask was called before the task had a
	// pid; the control loop effects the signal once EXECUTED is reached.
	PendingKill bool `json:"-"`
}

// New allocates a fresh task record in StateCreated.
func New(ident string, cmd Command, user AuthUser, now time.Time) *Record {
	return &Record{
		Ident:            ident,
		Command:          cmd,
		AuthUser:         user,
		State:            StateCreated,
		FinishType:       FinishUnfinished,
		KillReason:       KillReasonNone,
		CreatedTimestamp: now,
	}
}

// NewIdent generates a process-wide unique task identifier.
func NewIdent() string {
	return uuid.New().String()
}

// IsDefunct reports whether an EXECUTED task has gone silent for longer than
// the configured unresponsive timeout, the garbage collector's trigger for
// killing a worker that stopped reporting.
func (r *Record) IsDefunct(now time.Time, unresponsiveTimeout time.Duration) bool {
	if r.State != StateExecuted {
		return false
	}
	if r.LastMessageTimestamp.IsZero() {
		return false
	}
	return now.Sub(r.LastMessageTimestamp) > unresponsiveTimeout
}

// IsAbandoned reports whether a finished task has sat past its deletion
// deadline and should be dropped from the register entirely.
func (r *Record) IsAbandoned(now time.Time) bool {
	return r.ToDeleteTimestamp != nil && now.After(*r.ToDeleteTimestamp)
}

// Snapshot is the read-only view returned to API callers; it never aliases
// mutable scheduler state, so a caller holding one cannot observe later
// mutation of the live Record.
type Snapshot struct {
	Ident      string     `json:"ident"`
	Command    Command    `json:"command"`
	Reports    []Report   `json:"reports,omitempty"`
	State      State      `json:"state"`
	FinishType FinishType `json:"finish_type"`
	KillReason KillReason `json:"kill_reason,omitempty"`
	Result     any        `json:"result,omitempty"`
}

// ToSnapshot copies the fields exposed to callers, per the TaskResult DTO.
func (r *Record) ToSnapshot() Snapshot {
	reports := make([]Report, len(r.Reports))
	copy(reports, r.Reports)
	return Snapshot{
		Ident:      r.Ident,
		Command:    r.Command,
		Reports:    reports,
		State:      r.State,
		FinishType: r.FinishType,
		KillReason: r.KillReason,
		Result:     r.Result,
	}
}

// ToJSON serializes the snapshot, used by the HTTP layer and the websocket
// event bus.
func (s Snapshot) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}
