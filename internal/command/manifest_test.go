package command

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifest_MissingPathIsNotError(t *testing.T) {
	m, err := LoadManifest("")
	require.NoError(t, err)
	assert.Empty(t, m.Commands)

	m, err = LoadManifest(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Empty(t, m.Commands)
}

func TestLoadManifest_ParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.yaml")
	contents := `
commands:
  - name: echo
    description: echoes params back
    default_timeout: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Commands, 1)
	assert.Equal(t, "echo", m.Commands[0].Name)
	assert.Equal(t, 30*time.Second, m.Commands[0].DefaultTimeout)
}

func TestRegistry_ApplyManifest(t *testing.T) {
	r := NewRegistry()
	r.Add(Entry{Name: "echo", Description: "original", Handler: echoHandler})

	warnings := r.ApplyManifest(&Manifest{Commands: []ManifestEntry{
		{Name: "echo", Description: "overridden", DefaultTimeout: 5 * time.Second},
		{Name: "ghost", Description: "not registered"},
	}})

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "ghost")

	e, ok := r.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, "overridden", e.Description)
	assert.Equal(t, 5*time.Second, r.DefaultTimeoutFor("echo"))
	assert.Zero(t, r.DefaultTimeoutFor("missing"))
}
