package pool

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSlot builds a slot with no real OS process attached, for exercising
// the bookkeeping in Pool's exported methods without spawning a binary.
func fakeSlot(pid int) *slot {
	return &slot{proc: &workerProcess{done: make(chan struct{})}, pid: pid}
}

func TestPool_AvailableWorker(t *testing.T) {
	p := New(Config{MaxWorkerCount: 2}, zerolog.Nop(), 8)
	p.persistent = []*slot{fakeSlot(100), fakeSlot(101)}

	pid, ok := p.AvailableWorker()
	assert.True(t, ok)
	assert.Contains(t, []int{100, 101}, pid)

	p.persistent[0].ident = "id1"
	p.persistent[1].ident = "id2"
	_, ok = p.AvailableWorker()
	assert.False(t, ok)
}

func TestPool_Occupancy(t *testing.T) {
	p := New(Config{MaxWorkerCount: 2, MaxTempWorkers: 1}, zerolog.Nop(), 8)
	p.persistent = []*slot{fakeSlot(100), fakeSlot(101)}
	p.persistent[0].ident = "id1"

	occ := p.Occupancy()
	assert.Equal(t, 2, occ.PersistentTotal)
	assert.Equal(t, 1, occ.PersistentBusy)
	assert.Equal(t, 0, occ.TempActive)
	assert.Equal(t, 1, occ.TempCap)
}

func TestPool_MarkFinished_PausesPersistentWorker(t *testing.T) {
	p := New(Config{MaxWorkerCount: 1}, zerolog.Nop(), 8)
	p.persistent = []*slot{fakeSlot(100)}
	p.persistent[0].ident = "id1"

	p.MarkFinished(100)

	assert.True(t, p.persistent[0].paused)
	assert.Equal(t, "", p.persistent[0].ident)
}

func TestPool_DeadPersistentPIDs(t *testing.T) {
	p := New(Config{MaxWorkerCount: 2}, zerolog.Nop(), 8)
	p.persistent = []*slot{fakeSlot(100), fakeSlot(101)}
	p.persistent[0].ident = "id1"
	p.persistent[1].ident = "id2"

	assert.Empty(t, p.DeadPersistentPIDs())

	// stdout EOF: the process exited while a task was still assigned.
	close(p.persistent[0].proc.done)
	assert.Equal(t, []int{100}, p.DeadPersistentPIDs())
}

func TestPool_AvailableWorker_SkipsExitedWorker(t *testing.T) {
	p := New(Config{MaxWorkerCount: 1}, zerolog.Nop(), 8)
	p.persistent = []*slot{fakeSlot(100)}
	close(p.persistent[0].proc.done)

	_, ok := p.AvailableWorker()
	assert.False(t, ok)
}

func TestPool_Resume_SkipsExitedWorker(t *testing.T) {
	// A worker at its task limit exits instead of pausing; Resume must not
	// try to SIGCONT the departed process, only clear the paused flag.
	p := New(Config{MaxWorkerCount: 1}, zerolog.Nop(), 8)
	p.persistent = []*slot{fakeSlot(100)}
	p.persistent[0].paused = true
	close(p.persistent[0].proc.done)

	require.NoError(t, p.Resume(100))
	assert.False(t, p.persistent[0].paused)
}

func TestPool_Maintain_LeavesBusyAndLiveWorkersAlone(t *testing.T) {
	p := New(Config{MaxWorkerCount: 2}, zerolog.Nop(), 8)
	live := fakeSlot(100)
	deadBusy := fakeSlot(101)
	deadBusy.ident = "id1"
	close(deadBusy.proc.done)
	p.persistent = []*slot{live, deadBusy}

	// The live worker needs nothing; the dead-but-assigned one is left for
	// the scheduler's GC to finish its task before the slot is recycled.
	require.NoError(t, p.Maintain(context.Background()))
	assert.Same(t, live, p.persistent[0])
	assert.Same(t, deadBusy, p.persistent[1])
}

func TestPool_findPersistent(t *testing.T) {
	p := New(Config{MaxWorkerCount: 1}, zerolog.Nop(), 8)
	p.persistent = []*slot{fakeSlot(100)}

	assert.NotNil(t, p.findPersistent(100))
	assert.Nil(t, p.findPersistent(999))
}
