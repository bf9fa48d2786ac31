// Command clusterd-worker is the pool-worker binary internal/pool spawns
// via os/exec. It reads one WorkerCommand at a time from stdin, runs it
// through internal/worker.Executor, and writes the resulting envelope
// sequence to stdout. After each terminal TaskFinished it sends itself
// SIGSTOP and waits for the daemon's SIGCONT before reading its next
// command, so the daemon collects the terminal message before the pool
// can hand this process more work. A worker
// started with -initial-task-limit > 0 exits after completing exactly that
// many tasks instead of looping forever: 1 for a deadlock-mitigation
// temporary worker, the pool's worker_task_limit for a recyclable
// persistent one.
package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/clusterd/scheduler/internal/command"
	"github.com/clusterd/scheduler/internal/commands"
	"github.com/clusterd/scheduler/internal/ipc"
	"github.com/clusterd/scheduler/internal/worker"
)

func main() {
	initialTaskLimit := flag.Int("initial-task-limit", 0, "exit after completing this many tasks (0 = unlimited, the persistent-worker default)")
	flag.Parse()

	// stdout is the IPC message channel the daemon reads with a line
	// scanner; logs go to stderr so they never get mistaken for envelopes,
	// per internal/ipc's stdout/stderr split.
	lvl, err := zerolog.ParseLevel(envOr("CLUSTERD_WORKER_LOG_LEVEL", "info"))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("component", "worker").Logger()

	registry := command.NewRegistry()
	commands.Register(registry)

	enc := ipc.NewEncoder(os.Stdout)
	exec := worker.NewExecutor(registry, enc, log)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	ctx := context.Background()
	tasksRun := 0

	for {
		cmd, ok, err := ipc.NextCommand(scanner)
		if err != nil {
			log.Error().Err(err).Msg("failed to decode command, exiting")
			os.Exit(1)
		}
		if !ok {
			// stdin closed: the daemon is shutting this worker down.
			return
		}

		if err := exec.Run(ctx, cmd); err != nil {
			log.Error().Err(err).Str("ident", cmd.Ident).Msg("failed to emit result, exiting")
			os.Exit(1)
		}
		tasksRun++

		if *initialTaskLimit > 0 && tasksRun >= *initialTaskLimit {
			log.Info().Int("tasks_run", tasksRun).Msg("task limit reached, exiting")
			return
		}

		// Self-pause so the daemon can drain the terminal message before
		// handing this process another command; the daemon resumes it with
		// SIGCONT once PerformActions observes the TaskFinished envelope.
		if err := syscall.Kill(os.Getpid(), syscall.SIGSTOP); err != nil {
			log.Error().Err(err).Msg("failed to self-pause")
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
