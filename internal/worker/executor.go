// Package worker implements the worker-process side of task execution: the
// code that runs inside the binary spawned by internal/pool, dispatching
// one command at a time against the shared command.Registry and reporting
// back over internal/ipc.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/clusterd/scheduler/internal/command"
	"github.com/clusterd/scheduler/internal/ipc"
	"github.com/clusterd/scheduler/internal/task"
)

// Error definitions for the worker package's taxonomy.
var (
	ErrCommandNotRegistered = errors.New("command not registered")
)

// Outcome is the terminal result of running one command, already shaped
// for translation into an ipc.TaskFinished.
type Outcome struct {
	FinishType task.FinishType
	Result     any
	Err        error
}

// ReportProcessor forwards each diagnostic a running handler emits to the
// daemon as one TaskReport envelope, tagged with the task's ident. No
// buffering, no filtering: a report is on the wire before the handler's
// call returns.
type ReportProcessor struct {
	ident string
	enc   *ipc.Encoder
	log   zerolog.Logger
}

// NewReportProcessor builds the report sink for one task invocation.
func NewReportProcessor(ident string, enc *ipc.Encoder, log zerolog.Logger) *ReportProcessor {
	return &ReportProcessor{ident: ident, enc: enc, log: log}
}

// Process emits one report envelope. Its signature matches command.Report
// so it can be handed to a handler directly. An encode failure is logged
// and the report dropped; the terminal envelope, not a diagnostic, decides
// the task's outcome.
func (p *ReportProcessor) Process(severity task.Severity, code string, info map[string]any) {
	env := ipc.NewReport(p.ident, ipc.TaskReport{
		Severity: severity.String(),
		Code:     code,
		Info:     info,
	}, time.Now().UTC())
	if err := p.enc.Encode(env); err != nil {
		p.log.Error().Err(err).Str("ident", p.ident).Msg("failed to emit task report")
	}
}

// Executor runs one command at a time against registry, reporting
// TaskExecuted/TaskReport/TaskFinished envelopes through enc as it goes.
// One Executor instance is reused across every command a persistent
// worker process runs in its lifetime.
type Executor struct {
	registry *command.Registry
	enc      *ipc.Encoder
	log      zerolog.Logger
}

// NewExecutor builds an Executor that reports through enc and logs to log
// (ordinarily wired to stderr, kept off the stdout message channel).
func NewExecutor(registry *command.Registry, enc *ipc.Encoder, log zerolog.Logger) *Executor {
	return &Executor{registry: registry, enc: enc, log: log}
}

// Run executes the named command for ident, emitting the full envelope
// sequence: one TaskExecuted immediately, zero or more TaskReports as the
// handler calls its report callback, and exactly one terminal
// TaskFinished. Run never returns an error for a failing command; FAIL,
// UNHANDLED_EXCEPTION and cancellation are all encoded as successful
// terminal envelopes. It returns an error only if writing to enc itself
// fails, which signals the caller that the IPC channel is broken and the
// process should exit.
func (e *Executor) Run(ctx context.Context, cmd ipc.WorkerCommand) error {
	pid := os.Getpid()
	if err := e.enc.Encode(ipc.NewExecuted(cmd.Ident, pid, time.Now().UTC())); err != nil {
		return fmt.Errorf("worker: emit executed: %w", err)
	}

	entry, ok := e.registry.Lookup(cmd.Name)
	if !ok {
		return e.finish(cmd.Ident, Outcome{FinishType: task.FinishFail, Err: ErrCommandNotRegistered})
	}

	rp := NewReportProcessor(cmd.Ident, e.enc, e.log)

	outcome := e.invoke(ctx, entry, cmd, rp.Process)
	return e.finish(cmd.Ident, outcome)
}

// invoke calls the handler with panic recovery, translating the result
// into a terminal Outcome.
func (e *Executor) invoke(ctx context.Context, entry command.Entry, cmd ipc.WorkerCommand, report command.Report) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Str("ident", cmd.Ident).
				Str("command", cmd.Name).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("command handler panicked")
			outcome = Outcome{FinishType: task.FinishUnhandledException, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	start := time.Now()
	result, err := entry.Handler(ctx, cmd.Params, report)
	duration := time.Since(start)

	if err != nil {
		e.log.Warn().Err(err).Str("ident", cmd.Ident).Dur("duration", duration).Msg("command returned error")
		return Outcome{FinishType: task.FinishFail, Err: err}
	}

	e.log.Debug().Str("ident", cmd.Ident).Dur("duration", duration).Msg("command finished")
	return Outcome{FinishType: task.FinishSuccess, Result: result}
}

func (e *Executor) finish(ident string, outcome Outcome) error {
	errMsg := ""
	if outcome.Err != nil {
		errMsg = outcome.Err.Error()
	}
	env := ipc.NewFinished(ident, ipc.TaskFinished{
		FinishType: outcome.FinishType.String(),
		Result:     outcome.Result,
		Error:      errMsg,
	}, time.Now().UTC())
	if err := e.enc.Encode(env); err != nil {
		return fmt.Errorf("worker: emit finished: %w", err)
	}
	return nil
}
