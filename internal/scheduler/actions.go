package scheduler

import (
	"context"
	"syscall"
	"time"

	"github.com/clusterd/scheduler/internal/events"
	"github.com/clusterd/scheduler/internal/ipc"
	"github.com/clusterd/scheduler/internal/metrics"
	"github.com/clusterd/scheduler/internal/task"
)

// PerformActions is the single coordination tick: drain worker messages,
// schedule created tasks, garbage-collect, check for deadlock, resume
// paused workers. It is idempotent when there is nothing to do and never
// blocks on queue reads.
// Its only caller is the daemon's periodic ticker (cmd/clusterd); the HTTP
// handlers do not call it. All scheduler mutation happens here or in the
// facade methods, both gated by the same mutex, so nothing outruns it.
func (s *Scheduler) PerformActions(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var newlyTerminalPIDs []int

	s.drainMessages(now, &newlyTerminalPIDs)
	s.scheduleCreated(now)
	s.garbageCollect(now, &newlyTerminalPIDs)
	s.detectDeadlock(ctx, now)

	occ := s.pool.Occupancy()
	metrics.SetPoolOccupancy(occ.PersistentTotal, occ.PersistentBusy, occ.TempActive)

	for _, pid := range s.pool.ReapTemp() {
		s.log.Debug().Int("pid", pid).Msg("reaped temporary worker")
	}

	for _, pid := range newlyTerminalPIDs {
		if err := s.pool.Resume(pid); err != nil {
			s.log.Warn().Err(err).Int("pid", pid).Msg("failed to resume worker")
		}
	}
}

// drainMessages implements step 1: non-blockingly pull every message
// currently queued and apply it to its task record.
func (s *Scheduler) drainMessages(now time.Time, newlyTerminal *[]int) {
	for {
		var env ipc.Envelope
		select {
		case env = <-s.pool.Inbox():
		default:
			return
		}
		s.applyEnvelope(env, now, newlyTerminal)
		s.lastProgress = now
	}
}

func (s *Scheduler) applyEnvelope(env ipc.Envelope, now time.Time, newlyTerminal *[]int) {
	r, ok := s.tasks[env.Ident]
	if !ok {
		s.log.Warn().Str("ident", env.Ident).Str("kind", string(env.Kind)).Msg("message for unknown task ident")
		return
	}

	switch env.Kind {
	case ipc.KindTaskExecuted:
		if r.State != task.StateQueued {
			s.log.Warn().Str("ident", env.Ident).Str("state", r.State.String()).Msg("TaskExecuted received outside QUEUED, discarding")
			s.failMessaging(r, now, newlyTerminal)
			return
		}
		sm := task.NewStateMachine(r)
		if sm.Execute(env.Executed.PID, now) == nil && !r.QueuedTimestamp.IsZero() {
			metrics.RecordQueueLatency(r.Command.Name, now.Sub(r.QueuedTimestamp).Seconds())
		}
		delete(s.dispatched, env.Ident)
		s.emit(events.EventTaskExecuted, r, map[string]any{"worker_pid": r.WorkerPID})

	case ipc.KindTaskReport:
		r.LastMessageTimestamp = now
		r.Reports = append(r.Reports, task.Report{
			Severity: task.ParseSeverity(env.Report.Severity),
			Code:     env.Report.Code,
			Info:     env.Report.Info,
		})

	case ipc.KindTaskFinished:
		if r.State != task.StateExecuted {
			s.log.Warn().Str("ident", env.Ident).Str("state", r.State.String()).Msg("TaskFinished received outside EXECUTED, discarding")
			s.failMessaging(r, now, newlyTerminal)
			return
		}
		r.LastMessageTimestamp = now
		finishType := task.ParseFinishType(env.Finished.FinishType)
		sm := task.NewStateMachine(r)
		_ = sm.Finish(finishType, task.KillReasonNone, env.Finished.Result)
		metrics.RecordTaskFinished(r.Command.Name, r.FinishType.String(), r.KillReason.String(), now.Sub(r.CreatedTimestamp).Seconds())
		s.pool.MarkFinished(r.WorkerPID)
		*newlyTerminal = append(*newlyTerminal, r.WorkerPID)
		s.emit(events.EventTaskFinished, r, map[string]any{"finish_type": r.FinishType.String()})
		s.notify(env.Ident)
	}
}

// failMessaging force-finishes a task whose message stream has become
// incoherent (a message arrived in a state that cannot accept it): the
// worker and the scheduler no longer agree on where the task is, so the
// record cannot be trusted to advance normally. A task that is already
// terminal keeps its outcome; the stray message alone was discarded.
func (s *Scheduler) failMessaging(r *task.Record, now time.Time, newlyTerminal *[]int) {
	if r.State.IsFinal() {
		return
	}
	pid := r.WorkerPID
	sm := task.NewStateMachine(r)
	_ = sm.Finish(task.FinishKill, task.KillReasonInternalMessagingError, nil)
	metrics.RecordForcedKill(r.KillReason.String())
	metrics.RecordTaskFinished(r.Command.Name, r.FinishType.String(), r.KillReason.String(), now.Sub(r.CreatedTimestamp).Seconds())
	if pid != 0 {
		_ = s.pool.Signal(pid, syscall.SIGKILL)
		s.pool.MarkFinished(pid)
		*newlyTerminal = append(*newlyTerminal, pid)
	}
	delete(s.dispatched, r.Ident)
	r.PendingKill = false
	s.emit(events.EventTaskKilled, r, map[string]any{"kill_reason": r.KillReason.String()})
	s.notify(r.Ident)
}

// scheduleCreated implements step 2. Every CREATED task is accepted onto
// the pool's (conceptually unbounded) inbound backlog and becomes QUEUED
// in submission order; separately, any QUEUED task not yet handed to a
// worker is dispatched to the first available persistent worker. The pid
// it ran on is only recorded once the worker's own TaskExecuted message
// confirms it (applyEnvelope above); Dispatch here is just "handed off",
// not yet "running".
func (s *Scheduler) scheduleCreated(now time.Time) {
	for _, id := range s.sortedOrder() {
		r := s.tasks[id]
		if r.State == task.StateCreated {
			sm := task.NewStateMachine(r)
			if sm.Queue() == nil {
				r.QueuedTimestamp = now
				s.emit(events.EventTaskQueued, r, nil)
			}
		}
	}

	for _, id := range s.sortedOrder() {
		r := s.tasks[id]
		if r.State != task.StateQueued {
			continue
		}
		if _, already := s.dispatched[id]; already {
			continue
		}
		pid, ok := s.pool.AvailableWorker()
		if !ok {
			break
		}
		cmd := ipc.WorkerCommand{Ident: id, Name: r.Command.Name, Params: r.Command.Params}
		if err := s.pool.Dispatch(pid, cmd); err != nil {
			s.log.Warn().Err(err).Int("pid", pid).Str("ident", id).Msg("dispatch failed, retrying next tick")
			break
		}
		s.dispatched[id] = pid
	}
}

// garbageCollect implements step 3. A worker process that exited without
// sending TaskFinished is treated as defunct right away rather than after
// the full unresponsive-timeout window of silence; either way the task
// surfaces as FINISHED(KILL, COMPLETION_TIMEOUT). Terminal records leave
// the register one of two ways: a GetTask-observed task through its
// delete-after-terminal grace deadline, an unobserved one through the
// abandoned timeout.
func (s *Scheduler) garbageCollect(now time.Time, newlyTerminal *[]int) {
	deadPIDs := make(map[int]bool)
	for _, pid := range s.pool.DeadPersistentPIDs() {
		deadPIDs[pid] = true
	}

	for id, r := range s.tasks {
		if r.State.IsFinal() && r.IsAbandoned(now) {
			delete(s.tasks, id)
			continue
		}

		if r.State.IsFinal() && r.PendingKill {
			// A kill was requested but the task reached a natural terminal
			// state (via its own TaskFinished message) in the same tick,
			// before the GC step below could act on the pending flag.
			// finish_type is preserved; only the kill_reason is recorded.
			r.KillReason = task.KillReasonUser
			r.PendingKill = false
			continue
		}

		if r.State == task.StateExecuted && (r.IsDefunct(now, s.cfg.TaskUnresponsiveTimeout) || deadPIDs[r.WorkerPID]) {
			pid := r.WorkerPID
			sm := task.NewStateMachine(r)
			_ = sm.Finish(task.FinishKill, task.KillReasonCompletionTimeout, nil)
			metrics.RecordForcedKill(r.KillReason.String())
			metrics.RecordTaskFinished(r.Command.Name, r.FinishType.String(), r.KillReason.String(), now.Sub(r.CreatedTimestamp).Seconds())
			_ = s.pool.Signal(pid, syscall.SIGKILL)
			s.pool.MarkFinished(pid)
			*newlyTerminal = append(*newlyTerminal, pid)
			delete(s.dispatched, id)
			s.emit(events.EventTaskKilled, r, map[string]any{"kill_reason": r.KillReason.String()})
			s.notify(id)
			continue
		}

		// Abandoned: older than the abandoned timeout and never observed
		// terminal by a GetTask, which would have armed ToDeleteTimestamp
		// and routed removal through the grace-period branch above. This
		// covers terminal records too: a finished task no client ever
		// fetched must not sit in the register forever.
		if r.ToDeleteTimestamp == nil && now.Sub(r.CreatedTimestamp) > s.cfg.TaskAbandonedTimeout {
			if r.State == task.StateExecuted {
				_ = s.pool.Signal(r.WorkerPID, syscall.SIGKILL)
				s.pool.MarkFinished(r.WorkerPID)
				*newlyTerminal = append(*newlyTerminal, r.WorkerPID)
			}
			delete(s.tasks, id)
			delete(s.dispatched, id)
			continue
		}

		if r.PendingKill && r.State == task.StateExecuted {
			pid := r.WorkerPID
			sm := task.NewStateMachine(r)
			_ = sm.Finish(task.FinishKill, task.KillReasonUser, nil)
			metrics.RecordForcedKill(r.KillReason.String())
			metrics.RecordTaskFinished(r.Command.Name, r.FinishType.String(), r.KillReason.String(), now.Sub(r.CreatedTimestamp).Seconds())
			_ = s.pool.Signal(pid, syscall.SIGKILL)
			s.pool.MarkFinished(pid)
			*newlyTerminal = append(*newlyTerminal, pid)
			delete(s.dispatched, id)
			r.PendingKill = false
			s.emit(events.EventTaskKilled, r, map[string]any{"kill_reason": r.KillReason.String()})
			s.notify(id)
			continue
		}
	}
}

// detectDeadlock implements step 4: infer a deadlock when every persistent
// worker has been EXECUTED, at least one task is QUEUED awaiting a worker,
// and no progress message has arrived, all for at least
// DeadlockThresholdTimeout. On detection, spawn one temporary worker
// bound to a single QUEUED task, capped at MaxTempWorkers total.
func (s *Scheduler) detectDeadlock(ctx context.Context, now time.Time) {
	occ := s.pool.Occupancy()

	var waitingIdent string
	for _, id := range s.sortedOrder() {
		r := s.tasks[id]
		if r.State == task.StateQueued {
			if _, dispatched := s.dispatched[id]; !dispatched {
				waitingIdent = id
				break
			}
		}
	}

	condition := occ.PersistentTotal > 0 && occ.PersistentBusy >= occ.PersistentTotal && waitingIdent != ""
	if !condition {
		s.deadlockSince = time.Time{}
		return
	}

	if s.deadlockSince.IsZero() {
		s.deadlockSince = now
	}

	stalledLongEnough := now.Sub(s.deadlockSince) >= s.cfg.DeadlockThresholdTimeout
	noProgressSince := !s.lastProgress.After(s.deadlockSince)
	if !stalledLongEnough || !noProgressSince {
		return
	}

	if occ.TempActive >= occ.TempCap {
		return
	}

	r := s.tasks[waitingIdent]
	cmd := ipc.WorkerCommand{Ident: waitingIdent, Name: r.Command.Name, Params: r.Command.Params}
	pid, err := s.pool.SpawnTemp(ctx, cmd)
	if err != nil {
		s.log.Warn().Err(err).Str("ident", waitingIdent).Msg("temp worker spawn failed")
		return
	}
	s.dispatched[waitingIdent] = pid
	metrics.RecordDeadlockDetected()
	metrics.RecordTempWorkerSpawned()
	if s.sink != nil {
		s.sink.Broadcast(events.NewEvent(events.EventDeadlockDetected, events.WorkerEventData(pid, true, map[string]any{"ident": waitingIdent})))
	}
	s.log.Info().Int("pid", pid).Str("ident", waitingIdent).Msg("spawned temporary worker for deadlock mitigation")
}
