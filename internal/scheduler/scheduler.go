// Package scheduler implements the control loop at the heart of the
// daemon: the single-writer owner of every task record, draining worker
// messages, dispatching queued tasks to the pool, running timeout-based
// garbage collection, and detecting/mitigating worker-pool deadlocks.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clusterd/scheduler/internal/clock"
	"github.com/clusterd/scheduler/internal/command"
	"github.com/clusterd/scheduler/internal/events"
	"github.com/clusterd/scheduler/internal/ipc"
	"github.com/clusterd/scheduler/internal/metrics"
	"github.com/clusterd/scheduler/internal/pool"
	"github.com/clusterd/scheduler/internal/task"
)

// Sentinel errors surfaced to API callers.
var (
	ErrTaskNotFound         = task.ErrTaskNotFound
	ErrPermissionDenied     = task.ErrPermissionDenied
	ErrCommandNotRegistered = task.ErrCommandNotRegistered
)

// Pool is the subset of internal/pool.Pool the scheduler depends on. It is
// an interface so tests can substitute a fake double that injects
// TaskExecuted/TaskFinished messages directly without spawning real
// worker processes.
type Pool interface {
	Inbox() <-chan ipc.Envelope
	AvailableWorker() (pid int, ok bool)
	Dispatch(pid int, cmd ipc.WorkerCommand) error
	Resume(pid int) error
	Signal(pid int, sig syscall.Signal) error
	SpawnTemp(ctx context.Context, cmd ipc.WorkerCommand) (pid int, err error)
	MarkFinished(pid int)
	ReapTemp() []int
	DeadPersistentPIDs() []int
	Occupancy() pool.Occupancy
}

// PermissionsChecker decides whether user may act on a task owned by
// owner. The default policy (DefaultPermissions) allows only the
// submitter or a member of a privileged group.
type PermissionsChecker func(user, owner task.AuthUser) bool

// DefaultPermissions allows the original submitter or anyone in the
// "admin" group.
func DefaultPermissions(user, owner task.AuthUser) bool {
	return user.Username == owner.Username || user.IsMember("admin")
}

// EventSink receives a lifecycle event fired by the control loop. Matched
// precisely by internal/api/websocket.Hub's own Broadcast method, so the
// daemon wires sched.SetEventSink(server.Hub()) with no adapter needed;
// nil is the default and simply disables event fan-out.
type EventSink interface {
	Broadcast(event *events.Event)
}

// Config carries the control loop's tunables.
type Config struct {
	MaxWorkerCount           int
	MaxTempWorkers           int
	DeadlockThresholdTimeout time.Duration
	TaskUnresponsiveTimeout  time.Duration
	TaskAbandonedTimeout     time.Duration
	DeleteAfterTerminal      time.Duration
}

// Scheduler owns the task register exclusively; every mutation happens
// either inside PerformActions or inside one of the facade methods below,
// all serialized through mu.
type Scheduler struct {
	mu       sync.Mutex
	cfg      Config
	clock    clock.Clock
	pool     Pool
	registry *command.Registry
	perms    PermissionsChecker
	log      zerolog.Logger

	tasks      map[string]*task.Record
	order      []string // submission order, preserved for scheduling and dispatch
	waiters    map[string][]chan struct{}
	dispatched map[string]int // ident -> pid already handed the command, awaiting TaskExecuted ack
	sink       EventSink

	// lastProgress tracks the most recent time any worker message was
	// observed, the deadlock heuristic's "no progress" signal.
	lastProgress time.Time
	deadlockSince time.Time
	deadlockArmed bool
}

// New builds a Scheduler. registry is consulted eagerly by NewTask to
// reject unregistered command names before a record is ever created.
func New(cfg Config, clk clock.Clock, p Pool, registry *command.Registry, perms PermissionsChecker, log zerolog.Logger) *Scheduler {
	if perms == nil {
		perms = DefaultPermissions
	}
	now := clk.Now()
	return &Scheduler{
		cfg:          cfg,
		clock:        clk,
		pool:         p,
		registry:     registry,
		perms:        perms,
		log:          log,
		tasks:        make(map[string]*task.Record),
		waiters:      make(map[string][]chan struct{}),
		dispatched:   make(map[string]int),
		lastProgress: now,
	}
}

// SetEventSink wires sink to receive every lifecycle event the control loop
// fires from here on. It takes the scheduler mutex like every other
// entry point; the daemon sets it once at startup, before its tick loop
// begins.
func (s *Scheduler) SetEventSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// emit fires a best-effort lifecycle event; must be called with mu held,
// since it reads task state the caller already holds the lock for. A slow
// or absent sink never blocks the tick: Hub.Broadcast itself is
// non-blocking (it drops events rather than stalling a full channel).
func (s *Scheduler) emit(eventType events.EventType, r *task.Record, extra map[string]any) {
	if s.sink == nil {
		return
	}
	s.sink.Broadcast(events.NewEvent(eventType, events.TaskEventData(r.Ident, r.Command.Name, r.State.String(), extra)))
}

// NewTask allocates a fresh identifier, validates the command name against
// the registry, and records the task in CREATED. It performs no I/O;
// dispatch happens on the next PerformActions tick.
func (s *Scheduler) NewTask(cmd task.Command, user task.AuthUser) (string, error) {
	if _, ok := s.registry.Lookup(cmd.Name); !ok {
		return "", fmt.Errorf("%w: %q", ErrCommandNotRegistered, cmd.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ident := task.NewIdent()
	r := task.New(ident, cmd, user, s.clock.Now())
	s.tasks[ident] = r
	s.order = append(s.order, ident)
	metrics.RecordTaskSubmission(cmd.Name)
	s.emit(events.EventTaskCreated, r, nil)
	return ident, nil
}

// GetTask returns a read-only snapshot. The first observation of a
// terminal task arms its deletion deadline.
func (s *Scheduler) GetTask(ident string, user task.AuthUser) (task.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.tasks[ident]
	if !ok {
		return task.Snapshot{}, ErrTaskNotFound
	}
	if !s.perms(user, r.AuthUser) {
		return task.Snapshot{}, ErrPermissionDenied
	}

	if r.State.IsFinal() && r.ToDeleteTimestamp == nil {
		deadline := s.clock.Now().Add(s.cfg.DeleteAfterTerminal)
		r.ToDeleteTimestamp = &deadline
	}
	return r.ToSnapshot(), nil
}

// KillTask is idempotent. A terminal task retains its finish_type but
// records kill_reason=USER; a non-terminal task gets a pending-kill flag
// the control loop effects once a pid exists (or immediately, if the task
// never reached a worker).
func (s *Scheduler) KillTask(ident string, user task.AuthUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.tasks[ident]
	if !ok {
		return ErrTaskNotFound
	}
	if !s.perms(user, r.AuthUser) {
		return ErrPermissionDenied
	}

	if r.State.IsFinal() {
		r.KillReason = task.KillReasonUser
		return nil
	}

	if r.State == task.StateCreated {
		sm := task.NewStateMachine(r)
		_ = sm.Finish(task.FinishKill, task.KillReasonUser, nil)
		s.emit(events.EventTaskKilled, r, nil)
		s.notify(ident)
		return nil
	}

	r.PendingKill = true
	return nil
}

// WaitForTask blocks until ident reaches FINISHED or ctx is done, then
// returns like GetTask. The one-shot notifier channel is the Go
// equivalent of a condition variable scoped to a single ident.
func (s *Scheduler) WaitForTask(ctx context.Context, ident string, user task.AuthUser) (task.Snapshot, error) {
	s.mu.Lock()
	r, ok := s.tasks[ident]
	if !ok {
		s.mu.Unlock()
		return task.Snapshot{}, ErrTaskNotFound
	}
	if !s.perms(user, r.AuthUser) {
		s.mu.Unlock()
		return task.Snapshot{}, ErrPermissionDenied
	}
	if r.State.IsFinal() {
		s.mu.Unlock()
		return s.GetTask(ident, user)
	}

	ch := make(chan struct{})
	s.waiters[ident] = append(s.waiters[ident], ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return s.GetTask(ident, user)
	case <-ctx.Done():
		return task.Snapshot{}, ctx.Err()
	}
}

// Occupancy reports the worker pool's current usage, surfaced by the admin
// HTTP handler (GET /admin/pool) between ticks.
func (s *Scheduler) Occupancy() pool.Occupancy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Occupancy()
}

// Commands returns the registered command manifest, surfaced at
// GET /admin/commands so a caller can discover valid command names before
// submitting a task.
func (s *Scheduler) Commands() []command.Entry {
	return s.registry.All()
}

// notify closes and clears every waiter registered for ident. Must be
// called with mu held.
func (s *Scheduler) notify(ident string) {
	for _, ch := range s.waiters[ident] {
		close(ch)
	}
	delete(s.waiters, ident)
}

// sortedOrder returns task idents still present, in original submission
// order, filtering out idents already removed by GC.
func (s *Scheduler) sortedOrder() []string {
	out := s.order[:0:0]
	for _, id := range s.order {
		if _, ok := s.tasks[id]; ok {
			out = append(out, id)
		}
	}
	s.order = out
	return out
}
