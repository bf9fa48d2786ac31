// Package pool manages the OS-process workers the scheduler hands tasks
// to. Every worker is a separate process spawned via os/exec, so the
// daemon can pause, resume, and kill it with real signals
// (SIGSTOP/SIGCONT/SIGKILL).
package pool

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clusterd/scheduler/internal/ipc"
)

// Config tunes how many workers the pool keeps alive and how deadlock
// mitigation escalates.
type Config struct {
	BinPath           string
	MaxWorkerCount    int
	MaxTempWorkers    int
	WorkerStopTimeout time.Duration

	// WorkerTaskLimit recycles a persistent worker after it has completed
	// this many tasks; 0 keeps workers alive for the daemon's lifetime. A
	// worker at its limit exits on its own instead of self-pausing, and
	// Maintain replaces it with a fresh process once its slot is idle.
	WorkerTaskLimit int
}

type slot struct {
	proc      *workerProcess
	pid       int
	temporary bool
	paused    bool
	ident     string // task currently assigned; "" if idle
}

// Pool owns every worker process the daemon has spawned, persistent and
// temporary, and the single inbox channel their stdout readers feed.
// External callers (internal/scheduler) serialize access through Pool's
// own mutex; Pool never locks across a call into the scheduler.
type Pool struct {
	cfg Config
	log zerolog.Logger

	mu         sync.Mutex
	persistent []*slot
	temp       []*slot

	inbox chan ipc.Envelope
}

// New builds a Pool. inboxSize should comfortably exceed MaxWorkerCount +
// MaxTempWorkers so a burst of terminal messages from every worker at once
// never blocks a reader goroutine mid-write.
func New(cfg Config, log zerolog.Logger, inboxSize int) *Pool {
	return &Pool{
		cfg:   cfg,
		log:   log,
		inbox: make(chan ipc.Envelope, inboxSize),
	}
}

// Inbox returns the channel every worker's stdout reader goroutine writes
// envelopes onto. The scheduler's control loop is this channel's sole
// consumer.
func (p *Pool) Inbox() <-chan ipc.Envelope {
	return p.inbox
}

// Start spawns the persistent worker pool. Called once at daemon startup.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.cfg.MaxWorkerCount; i++ {
		wp, err := spawnWorker(ctx, p.cfg.BinPath, p.cfg.WorkerTaskLimit, p.inbox, p.log)
		if err != nil {
			return fmt.Errorf("pool: spawn persistent worker %d: %w", i, err)
		}
		p.persistent = append(p.persistent, &slot{proc: wp, pid: wp.pid()})
	}
	p.log.Info().Int("count", len(p.persistent)).Msg("worker pool started")
	return nil
}

// Stop gracefully stops every worker, persistent and temporary.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range append(append([]*slot{}, p.persistent...), p.temp...) {
		s.proc.stop(p.cfg.WorkerStopTimeout)
	}
}

// AvailableWorker returns the pid of an idle persistent worker, if any.
func (p *Pool) AvailableWorker() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.persistent {
		if s.ident == "" && s.proc.Alive() {
			return s.pid, true
		}
	}
	return 0, false
}

// Occupancy reports how many persistent/temporary workers are currently
// busy, the input to deadlock-mitigation decisions.
type Occupancy struct {
	PersistentTotal int
	PersistentBusy  int
	TempActive      int
	TempCap         int
}

// Occupancy snapshots the pool's current usage.
func (p *Pool) Occupancy() Occupancy {
	p.mu.Lock()
	defer p.mu.Unlock()
	busy := 0
	for _, s := range p.persistent {
		if s.ident != "" {
			busy++
		}
	}
	return Occupancy{
		PersistentTotal: len(p.persistent),
		PersistentBusy:  busy,
		TempActive:      len(p.temp),
		TempCap:         p.cfg.MaxTempWorkers,
	}
}

// Dispatch hands cmd to the persistent worker identified by pid. The
// worker is expected to already be running and blocked reading its stdin
// (either freshly started, or resumed by a prior Resume call); Dispatch
// itself never sends a signal.
func (p *Pool) Dispatch(pid int, cmd ipc.WorkerCommand) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.findPersistent(pid)
	if s == nil {
		return fmt.Errorf("pool: no persistent worker with pid %d", pid)
	}
	if err := s.proc.Send(cmd); err != nil {
		return fmt.Errorf("pool: dispatch to pid %d: %w", pid, err)
	}
	s.ident = cmd.Ident
	return nil
}

// Resume sends SIGCONT to a paused persistent worker, returning it to the
// available pool. The scheduler calls it once per newly-terminal task,
// independent of whether a new task is immediately ready for the worker.
func (p *Pool) Resume(pid int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.findPersistent(pid)
	if s == nil || !s.paused {
		return nil
	}
	if !s.proc.Alive() {
		// The worker exited instead of pausing (task limit reached, or it
		// crashed right after its terminal message); nothing to resume.
		// Maintain replaces the process once the slot is idle.
		s.paused = false
		return nil
	}
	if err := s.proc.signal(syscall.SIGCONT); err != nil {
		return fmt.Errorf("pool: resume pid %d: %w", pid, err)
	}
	s.paused = false
	return nil
}

// SpawnTemp launches a one-shot temporary worker capped at MaxTempWorkers,
// used by the scheduler's deadlock mitigation when every persistent worker
// is EXECUTED and at least one task has been sitting QUEUED past the
// mitigation threshold.
func (p *Pool) SpawnTemp(ctx context.Context, cmd ipc.WorkerCommand) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.temp) >= p.cfg.MaxTempWorkers {
		return 0, fmt.Errorf("pool: temp worker cap (%d) reached", p.cfg.MaxTempWorkers)
	}

	wp, err := spawnWorker(ctx, p.cfg.BinPath, 1, p.inbox, p.log)
	if err != nil {
		return 0, fmt.Errorf("pool: spawn temp worker: %w", err)
	}
	s := &slot{proc: wp, pid: wp.pid(), temporary: true, ident: cmd.Ident}
	p.temp = append(p.temp, s)

	if err := wp.Send(cmd); err != nil {
		return 0, fmt.Errorf("pool: dispatch to temp worker: %w", err)
	}
	return s.pid, nil
}

// MarkFinished records that pid just emitted its terminal TaskFinished
// message. A persistent worker is about to self-SIGSTOP per the worker
// process contract, so it is marked paused; a temporary worker is left for
// ReapTemp to close once its process actually exits, since a one-shot
// worker's exit happens on its own schedule after its task limit is
// reached, not synchronously with the message.
func (p *Pool) MarkFinished(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s := p.findPersistent(pid); s != nil {
		s.paused = true
		s.ident = ""
		return
	}
	for _, s := range p.temp {
		if s.pid == pid {
			s.ident = ""
			return
		}
	}
}

// ReapTemp closes and removes every temporary worker whose process has
// exited, returning their pids. Called once per tick: when a temporary
// worker's process becomes not-alive, its handle is closed and forgotten.
func (p *Pool) ReapTemp() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var reaped []int
	remaining := p.temp[:0]
	for _, s := range p.temp {
		if s.ident == "" && !s.proc.Alive() {
			s.proc.stop(p.cfg.WorkerStopTimeout)
			reaped = append(reaped, s.pid)
			continue
		}
		remaining = append(remaining, s)
	}
	p.temp = remaining
	return reaped
}

// Signal sends sig to the process group of the worker running pid, used
// for user-initiated and garbage-collector-initiated kills.
func (p *Pool) Signal(pid int, sig syscall.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s := p.findPersistent(pid); s != nil {
		return s.proc.signal(sig)
	}
	for _, s := range p.temp {
		if s.pid == pid {
			return s.proc.signal(sig)
		}
	}
	return fmt.Errorf("pool: no worker with pid %d", pid)
}

// Maintain replaces persistent workers whose process has exited and whose
// slot is idle: a worker recycled by WorkerTaskLimit, or one the scheduler
// already killed and marked finished. Slots whose worker died mid-task are
// left alone until the scheduler's garbage collector has finished the task
// (DeadPersistentPIDs surfaces them); respawning earlier would hand the
// replacement a pid the scheduler still associates with the dead one.
func (p *Pool) Maintain(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for i, s := range p.persistent {
		if s.ident != "" || s.proc.Alive() {
			continue
		}
		wp, err := spawnWorker(ctx, p.cfg.BinPath, p.cfg.WorkerTaskLimit, p.inbox, p.log)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("pool: respawn persistent worker: %w", err)
			}
			continue
		}
		s.proc.stop(p.cfg.WorkerStopTimeout)
		p.log.Info().Int("old_pid", s.pid).Int("pid", wp.pid()).Msg("recycled persistent worker")
		p.persistent[i] = &slot{proc: wp, pid: wp.pid()}
	}
	return firstErr
}

// DeadPersistentPIDs reports persistent workers whose process has exited
// while still assigned a task: the worker died without ever sending
// TaskFinished, so its task will never advance on its own. The scheduler's
// garbage collector treats these as defunct immediately instead of waiting
// out the full unresponsive-timeout window.
func (p *Pool) DeadPersistentPIDs() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var dead []int
	for _, s := range p.persistent {
		if s.ident != "" && !s.proc.Alive() {
			dead = append(dead, s.pid)
		}
	}
	return dead
}

func (p *Pool) findPersistent(pid int) *slot {
	for _, s := range p.persistent {
		if s.pid == pid {
			return s
		}
	}
	return nil
}
