package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreframe/brtkv/internal/node"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "brt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodeSize: 8192\ndupFlags: sort\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint32(8192), cfg.NodeSize)
	require.Equal(t, 16, cfg.Fanout) // untouched default
	dup, err := cfg.Dup()
	require.NoError(t, err)
	require.Equal(t, node.DupSort, dup)
}

func TestDupRejectsUnknownValue(t *testing.T) {
	cfg := Default()
	cfg.DupFlags = "bogus"
	_, err := cfg.Dup()
	require.Error(t, err)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
