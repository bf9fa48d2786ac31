// Package commands holds the concrete command handlers run inside a
// worker process. The same Register call is made by both cmd/clusterd (so
// it can eagerly reject an unregistered command name at submission time)
// and cmd/worker (so it can actually execute one), guaranteeing the two
// binaries never disagree on the set of valid command names.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/clusterd/scheduler/internal/command"
	"github.com/clusterd/scheduler/internal/task"
)

// Register installs the built-in command set into r.
func Register(r *command.Registry) {
	r.Add(command.Entry{Name: "echo", Description: "returns its params unchanged", Handler: echoHandler})
	r.Add(command.Entry{Name: "sleep", Description: "sleeps for duration_ms then returns", Handler: sleepHandler})
	r.Add(command.Entry{Name: "compute", Description: "runs a CPU-bound loop of the given size", Handler: computeHandler})
	r.Add(command.Entry{Name: "fail", Description: "always returns an error, for exercising FAIL finishes", Handler: failHandler})
	r.Add(command.Entry{Name: "panic", Description: "always panics, for exercising UNHANDLED_EXCEPTION finishes", Handler: panicHandler})
}

func echoHandler(ctx context.Context, params map[string]any, report command.Report) (any, error) {
	report(task.SeverityInfo, "echo.received", map[string]any{"params": params})
	return map[string]any{"echoed": params}, nil
}

func sleepHandler(ctx context.Context, params map[string]any, report command.Report) (any, error) {
	duration := time.Second
	if ms, ok := params["duration_ms"].(float64); ok {
		duration = time.Duration(ms) * time.Millisecond
	}

	report(task.SeverityInfo, "sleep.started", map[string]any{"duration_ms": duration.Milliseconds()})

	select {
	case <-time.After(duration):
		return map[string]any{"slept_for": duration.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func computeHandler(ctx context.Context, params map[string]any, report command.Report) (any, error) {
	iterations := 1_000_000
	if i, ok := params["iterations"].(float64); ok {
		iterations = int(i)
	}

	sum := 0
	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			sum += i
		}
		if i%100_000 == 0 && i > 0 {
			report(task.SeverityInfo, "compute.progress", map[string]any{"completed": i})
		}
	}

	return map[string]any{"result": sum}, nil
}

func failHandler(ctx context.Context, params map[string]any, report command.Report) (any, error) {
	return nil, fmt.Errorf("command %q: intentional failure", "fail")
}

func panicHandler(ctx context.Context, params map[string]any, report command.Report) (any, error) {
	panic("command: intentional unhandled exception")
}
