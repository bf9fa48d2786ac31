// Package ipc defines the wire protocol spoken between the daemon and a
// worker process over stdin/stdout: newline-delimited JSON envelopes
// carrying the TaskExecuted/TaskReport/TaskFinished message types, plus the
// one WorkerCommand type sent the other direction. Worker log lines never
// cross this protocol; a worker writes its logs to stderr instead, kept
// entirely separate so a slow log line can never desynchronize the
// message stream (see cmd/worker's logging setup).
package ipc

import (
	"encoding/json"
	"time"
)

// Kind discriminates the payload carried by an Envelope.
type Kind string

const (
	KindTaskExecuted Kind = "task_executed"
	KindTaskReport   Kind = "task_report"
	KindTaskFinished Kind = "task_finished"
)

// TaskExecuted is emitted once, immediately after a worker process begins
// running a task's command, reporting its own pid so the daemon can signal
// it later.
type TaskExecuted struct {
	PID int `json:"pid"`
}

// TaskReport is emitted zero or more times while a command runs, carrying a
// single diagnostic. The severity/code/info fields mirror task.Report
// directly; ipc does not depend on the task package to avoid a cyclic
// import, so the scheduler is responsible for translating between them.
type TaskReport struct {
	Severity string         `json:"severity"`
	Code     string         `json:"code"`
	Info     map[string]any `json:"info,omitempty"`
}

// TaskFinished is emitted exactly once, terminally, after which the worker
// self-pauses (SIGSTOP) and sends no further messages for this task until
// resumed and handed a new one.
type TaskFinished struct {
	FinishType string `json:"finish_type"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Envelope wraps exactly one of the three message payloads above, tagged by
// Ident so the daemon's single reader goroutine per worker can attribute a
// message to its task even though, for persistent workers, only one task
// is ever in flight per worker process at a time.
type Envelope struct {
	Ident     string       `json:"ident"`
	Kind      Kind         `json:"kind"`
	Timestamp time.Time    `json:"timestamp"`

	Executed *TaskExecuted `json:"executed,omitempty"`
	Report   *TaskReport   `json:"report,omitempty"`
	Finished *TaskFinished `json:"finished,omitempty"`
}

// NewExecuted builds an executed envelope for ident.
func NewExecuted(ident string, pid int, now time.Time) Envelope {
	return Envelope{Ident: ident, Kind: KindTaskExecuted, Timestamp: now, Executed: &TaskExecuted{PID: pid}}
}

// NewReport builds a report envelope for ident.
func NewReport(ident string, r TaskReport, now time.Time) Envelope {
	return Envelope{Ident: ident, Kind: KindTaskReport, Timestamp: now, Report: &r}
}

// NewFinished builds a terminal finished envelope for ident.
func NewFinished(ident string, f TaskFinished, now time.Time) Envelope {
	return Envelope{Ident: ident, Kind: KindTaskFinished, Timestamp: now, Finished: &f}
}

// WorkerCommand is sent from the daemon to a worker process's stdin,
// handing it one task to run.
type WorkerCommand struct {
	Ident   string         `json:"ident"`
	Name    string         `json:"name"`
	Params  map[string]any `json:"params"`
}

// Marshal serializes v followed by a newline, the unit the Decoder reads
// back with bufio.Scanner.
func Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
