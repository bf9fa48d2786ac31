package command

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestEntry annotates one registered command with operator-facing
// metadata that doesn't belong in Go source: a human description and a
// default per-task completion timeout. It never introduces a command
// name the compiled-in registry doesn't already have; see
// Registry.ApplyManifest.
type ManifestEntry struct {
	Name           string        `yaml:"name"`
	Description    string        `yaml:"description,omitempty"`
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty"`
}

// UnmarshalYAML accepts Go duration strings ("30s", "2m") for
// default_timeout; plain yaml decoding into time.Duration only accepts
// raw nanosecond integers.
func (e *ManifestEntry) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name           string `yaml:"name"`
		Description    string `yaml:"description"`
		DefaultTimeout string `yaml:"default_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	e.Name = raw.Name
	e.Description = raw.Description
	if raw.DefaultTimeout != "" {
		d, err := time.ParseDuration(raw.DefaultTimeout)
		if err != nil {
			return fmt.Errorf("command %q: invalid default_timeout: %w", raw.Name, err)
		}
		e.DefaultTimeout = d
	}
	return nil
}

// Manifest is the on-disk shape of an optional command-map file, surfaced
// at GET /admin/commands. Its default timeouts are advisory metadata: the
// scheduler does not apply them to submitted tasks.
type Manifest struct {
	Commands []ManifestEntry `yaml:"commands"`
}

// LoadManifest reads and parses a command manifest from path. A missing
// file is not an error: the manifest is entirely optional, and the
// compiled-in internal/commands.Register table is authoritative either
// way.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return &Manifest{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("command: read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("command: parse manifest: %w", err)
	}
	return &m, nil
}

// ApplyManifest layers description/timeout metadata from m onto already
// -registered entries. It returns a warning string per manifest entry
// naming a command the compiled-in registry never registered; those
// names are dropped rather than treated as newly valid, since only
// internal/commands.Register can make a command name dispatchable.
func (r *Registry) ApplyManifest(m *Manifest) []string {
	var warnings []string
	for _, me := range m.Commands {
		e, ok := r.entries[me.Name]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("manifest entry %q does not match any registered command", me.Name))
			continue
		}
		if me.Description != "" {
			e.Description = me.Description
		}
		e.DefaultTimeout = me.DefaultTimeout
		r.entries[me.Name] = e
	}
	return warnings
}

// DefaultTimeoutFor returns the manifest-configured default completion
// timeout for name, or zero if none is set.
func (r *Registry) DefaultTimeoutFor(name string) time.Duration {
	e, ok := r.entries[name]
	if !ok {
		return 0
	}
	return e.DefaultTimeout
}
