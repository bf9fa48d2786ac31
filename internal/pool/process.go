package pool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clusterd/scheduler/internal/ipc"
)

// workerProcess wraps one spawned worker OS process: its stdin encoder for
// sending WorkerCommands, a reader goroutine decoding its stdout into
// Envelopes onto the shared inbox channel, and a copy of its stderr onto
// the daemon's own logger.
type workerProcess struct {
	cmd       *exec.Cmd
	stdin     *ipc.Encoder
	stdinPipe io.WriteCloser

	done chan struct{} // closed once the reader goroutine observes EOF
}

// spawnWorker launches the worker binary at binPath, wiring stdin/stdout to
// the IPC protocol and stderr to log. Envelopes the worker emits are
// pushed onto inbox; inbox must have spare capacity or a slow consumer
// will stall every worker's stdout reader. taskLimit > 0 makes the worker
// exit after completing that many tasks: 1 for a temporary worker, the
// pool's WorkerTaskLimit for a recyclable persistent one.
func spawnWorker(ctx context.Context, binPath string, taskLimit int, inbox chan<- ipc.Envelope, log zerolog.Logger) (*workerProcess, error) {
	args := []string{}
	if taskLimit > 0 {
		args = append(args, fmt.Sprintf("-initial-task-limit=%d", taskLimit))
	}

	cmd := exec.Command(binPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("pool: stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pool: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("pool: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pool: start worker: %w", err)
	}

	wp := &workerProcess{
		cmd:       cmd,
		stdin:     ipc.NewEncoder(stdinPipe),
		stdinPipe: stdinPipe,
		done:      make(chan struct{}),
	}

	go wp.readMessages(stdoutPipe, inbox, log)
	go wp.readLogs(stderrPipe, log)

	return wp, nil
}

// readMessages decodes the worker's stdout into envelopes until EOF, at
// which point the process has exited or closed its pipe; done is closed so
// the pool's liveness check can react without blocking on cmd.Wait.
func (wp *workerProcess) readMessages(r io.Reader, inbox chan<- ipc.Envelope, log zerolog.Logger) {
	defer close(wp.done)
	dec := ipc.NewDecoder(r)
	for {
		env, err := dec.Next()
		if err != nil {
			if err != io.EOF {
				log.Error().Err(err).Int("pid", wp.pid()).Msg("worker stdout decode error")
			}
			return
		}
		inbox <- env
	}
}

// readLogs copies the worker's stderr, one log line per Info call, keeping
// the daemon's own structured log as the single place operators look.
func (wp *workerProcess) readLogs(r io.Reader, log zerolog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Info().Int("pid", wp.pid()).Str("worker_stderr", scanner.Text()).Msg("worker log")
	}
}

// Send writes a command to the worker's stdin.
func (wp *workerProcess) Send(cmd ipc.WorkerCommand) error {
	return wp.stdin.Encode(cmd)
}

func (wp *workerProcess) pid() int {
	if wp.cmd == nil || wp.cmd.Process == nil {
		return 0
	}
	return wp.cmd.Process.Pid
}

// Alive reports whether the OS process is still running. The reader
// goroutine closing done (stdout EOF) is the authoritative signal: nobody
// calls cmd.Wait on a crashed worker, so cmd.ProcessState alone would
// report a dead process as alive indefinitely.
func (wp *workerProcess) Alive() bool {
	select {
	case <-wp.done:
		return false
	default:
	}
	return wp.cmd == nil || wp.cmd.ProcessState == nil
}

// signal sends sig to the worker's process group so SIGSTOP/SIGCONT reach
// it even if it has forked helper processes of its own.
func (wp *workerProcess) signal(sig syscall.Signal) error {
	if wp.cmd == nil || wp.cmd.Process == nil {
		return fmt.Errorf("pool: worker has no process")
	}
	return syscall.Kill(-wp.cmd.Process.Pid, sig)
}

// stop closes stdin (the worker's cue to exit after its current command)
// then waits up to timeout before sending SIGKILL.
func (wp *workerProcess) stop(timeout time.Duration) {
	if wp.stdinPipe != nil {
		_ = wp.stdinPipe.Close()
	}
	select {
	case <-wp.done:
	case <-time.After(timeout):
		_ = wp.signal(syscall.SIGKILL)
	}
	if wp.cmd != nil {
		_ = wp.cmd.Wait()
	}
}
