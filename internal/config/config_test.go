package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadPartialFileMergesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleetcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("safety_buffer_m: 25.0\nmax_drones: 4\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25.0, cfg.SafetyBufferM)
	assert.Equal(t, 4, cfg.MaxDrones)
	assert.Equal(t, Defaults().ProjectionHorizonS, cfg.ProjectionHorizonS)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleetcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_drones: -1\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestTickIntervalDerivesFromUpdateHz(t *testing.T) {
	cfg := Defaults()
	cfg.UpdateHz = 2.0
	assert.Equal(t, int64(500), cfg.TickInterval().Milliseconds())
}

func TestSnapshotGetReflectsLatestSet(t *testing.T) {
	snap := NewSnapshot(Defaults())
	updated := Defaults()
	updated.SafetyBufferM = 42
	snap.set(updated)
	assert.Equal(t, 42.0, snap.Get().SafetyBufferM)
}
