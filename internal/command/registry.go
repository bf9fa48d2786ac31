// Package command defines the compile-time registry of task command
// handlers shared between the daemon (which needs to eagerly reject
// submissions naming an unregistered command, before a task record is ever
// created) and the worker binary (which needs to actually dispatch and run
// one). This replaces a dynamic name-to-callable lookup with a fixed table
// built at startup, so a typo in a command name is a submission-time 400,
// not a runtime surprise inside a worker process.
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/clusterd/scheduler/internal/task"
)

// Report lets a running Handler emit diagnostics while it works, without
// blocking on the final result.
type Report func(severity task.Severity, code string, info map[string]any)

// Handler executes one command invocation inside a worker process. It
// returns the command's result on success; a returned error becomes a FAIL
// finish (panics are recovered separately and become UNHANDLED_EXCEPTION,
// see internal/worker.Executor).
type Handler func(ctx context.Context, params map[string]any, report Report) (any, error)

// Entry couples a handler with metadata surfaced at GET /admin/commands.
// DefaultTimeout is populated only if an optional command manifest file
// (internal/command.LoadManifest) sets one; it is zero otherwise.
type Entry struct {
	Name           string
	Description    string
	Handler        Handler
	DefaultTimeout time.Duration
}

// Registry is a fixed, compile-time table of command entries. It is built
// once at process startup in both cmd/clusterd and cmd/worker by calling
// the same internal/commands.Register function, so the two binaries can
// never drift on which names are valid.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry builds an empty registry ready for Add calls.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Add registers a command entry. It panics on a duplicate name: that is a
// programming error in internal/commands, not a runtime condition.
func (r *Registry) Add(e Entry) {
	if _, exists := r.entries[e.Name]; exists {
		panic(fmt.Sprintf("command: duplicate registration for %q", e.Name))
	}
	r.entries[e.Name] = e
}

// Lookup returns the entry for name, or false if it is not registered.
func (r *Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Names returns the registered command names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	return names
}

// All returns every registered entry, used to build the command manifest.
func (r *Registry) All() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
