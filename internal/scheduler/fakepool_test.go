package scheduler

import (
	"context"
	"fmt"
	"sync"
	"syscall"

	"github.com/clusterd/scheduler/internal/ipc"
	"github.com/clusterd/scheduler/internal/pool"
)

// fakeWorker is a single simulated persistent or temporary worker process,
// tracking only the bookkeeping the scheduler's control loop observes;
// no real OS process is ever spawned.
type fakeWorker struct {
	pid       int
	temporary bool
	busy      bool // has an ident dispatched, awaiting TaskExecuted/TaskFinished
	paused    bool
	alive     bool
}

// fakePool implements scheduler.Pool entirely in memory, letting tests
// inject TaskExecuted/TaskReport/TaskFinished envelopes directly onto the
// inbox channel and assert on Dispatch/Signal/SpawnTemp calls, without any
// real worker process.
type fakePool struct {
	mu sync.Mutex

	inbox chan ipc.Envelope

	persistent []*fakeWorker
	temp       []*fakeWorker
	nextPID    int
	tempCap    int

	dispatches  []int // pids Dispatch was called with, in order
	resumes     []int
	signals     []signalCall
	spawnTempFn func(cmd ipc.WorkerCommand) (int, error) // override to fail or customize
}

type signalCall struct {
	pid int
	sig syscall.Signal
}

func newFakePool(persistentCount, tempCap int) *fakePool {
	fp := &fakePool{
		inbox:   make(chan ipc.Envelope, 64),
		tempCap: tempCap,
		nextPID: 1000,
	}
	for i := 0; i < persistentCount; i++ {
		fp.nextPID++
		fp.persistent = append(fp.persistent, &fakeWorker{pid: fp.nextPID, alive: true})
	}
	return fp
}

func (fp *fakePool) Inbox() <-chan ipc.Envelope { return fp.inbox }

// push injects an envelope as if a worker's stdout reader had produced it.
func (fp *fakePool) push(env ipc.Envelope) {
	fp.inbox <- env
}

func (fp *fakePool) AvailableWorker() (int, bool) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	for _, w := range fp.persistent {
		if !w.busy && !w.paused {
			return w.pid, true
		}
	}
	return 0, false
}

func (fp *fakePool) Dispatch(pid int, cmd ipc.WorkerCommand) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.dispatches = append(fp.dispatches, pid)
	for _, w := range fp.persistent {
		if w.pid == pid {
			if w.busy {
				return fmt.Errorf("fakepool: pid %d already busy", pid)
			}
			w.busy = true
			return nil
		}
	}
	for _, w := range fp.temp {
		if w.pid == pid {
			w.busy = true
			return nil
		}
	}
	return fmt.Errorf("fakepool: no worker with pid %d", pid)
}

func (fp *fakePool) Resume(pid int) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.resumes = append(fp.resumes, pid)
	for _, w := range fp.persistent {
		if w.pid == pid {
			w.paused = false
			return nil
		}
	}
	return nil
}

func (fp *fakePool) Signal(pid int, sig syscall.Signal) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.signals = append(fp.signals, signalCall{pid, sig})
	if sig == syscall.SIGKILL {
		for _, w := range fp.persistent {
			if w.pid == pid {
				w.alive = false
			}
		}
		for _, w := range fp.temp {
			if w.pid == pid {
				w.alive = false
			}
		}
	}
	return nil
}

func (fp *fakePool) SpawnTemp(ctx context.Context, cmd ipc.WorkerCommand) (int, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.spawnTempFn != nil {
		return fp.spawnTempFn(cmd)
	}
	if len(fp.temp) >= fp.tempCap {
		return 0, fmt.Errorf("fakepool: temp cap %d reached", fp.tempCap)
	}
	fp.nextPID++
	w := &fakeWorker{pid: fp.nextPID, temporary: true, busy: true, alive: true}
	fp.temp = append(fp.temp, w)
	return w.pid, nil
}

func (fp *fakePool) MarkFinished(pid int) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	for _, w := range fp.persistent {
		if w.pid == pid {
			w.paused = true
			w.busy = false
			return
		}
	}
	for _, w := range fp.temp {
		if w.pid == pid {
			w.busy = false
			return
		}
	}
}

func (fp *fakePool) ReapTemp() []int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	var reaped []int
	remaining := fp.temp[:0]
	for _, w := range fp.temp {
		if !w.busy && !w.alive {
			reaped = append(reaped, w.pid)
			continue
		}
		remaining = append(remaining, w)
	}
	fp.temp = remaining
	return reaped
}

func (fp *fakePool) DeadPersistentPIDs() []int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	var dead []int
	for _, w := range fp.persistent {
		if w.busy && !w.alive {
			dead = append(dead, w.pid)
		}
	}
	return dead
}

// crashPersistent marks a persistent worker's simulated process as having
// exited mid-task, without the SIGKILL bookkeeping Signal does.
func (fp *fakePool) crashPersistent(pid int) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	for _, w := range fp.persistent {
		if w.pid == pid {
			w.alive = false
		}
	}
}

// killTemp marks a temp worker's simulated process as exited, for tests
// exercising the deadlock-mitigation scenario's reap step.
func (fp *fakePool) killTemp(pid int) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	for _, w := range fp.temp {
		if w.pid == pid {
			w.alive = false
		}
	}
}

func (fp *fakePool) Occupancy() pool.Occupancy {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	busy := 0
	for _, w := range fp.persistent {
		if w.busy {
			busy++
		}
	}
	return pool.Occupancy{
		PersistentTotal: len(fp.persistent),
		PersistentBusy:  busy,
		TempActive:      len(fp.temp),
		TempCap:         fp.tempCap,
	}
}
