package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_AppliesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[cache]
max_size = "64MB"
ttl_hours = 6

[throttle]
smb = 2
cloud = 16

[undo]
window_seconds = 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "64MB", cfg.Cache.MaxSize)
	assert.Equal(t, 6, cfg.Cache.TTLHours)
	assert.Equal(t, 2, cfg.Throttle.SMB)
	assert.Equal(t, 16, cfg.Throttle.Cloud)
	assert.Equal(t, 5, cfg.Undo.WindowSeconds)

	// Untouched sections keep defaults.
	assert.Equal(t, 5, cfg.Undo.SweepGraceMinutes)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[cache]
max_sizee = "64MB"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys")
}

func TestLoad_RejectsBadValues(t *testing.T) {
	path := writeConfig(t, `
[throttle]
smb = 500

[cache]
max_size = "lots"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttle.smb")
	assert.Contains(t, err.Error(), "cache.max_size")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "512MB", cfg.Cache.MaxSize)
	assert.Equal(t, 24, cfg.Cache.TTLHours)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("UNIFS_CACHE_MAX_SIZE", "128MB")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "128MB", cfg.Cache.MaxSize)
}

func TestParseSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"1024", 1024},
		{"5KB", 5000},
		{"5KiB", 5120},
		{"2MB", 2_000_000},
		{"1GiB", 1 << 30},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}

	_, err := ParseSize("-5MB")
	assert.Error(t, err)

	_, err = ParseSize("fast")
	assert.Error(t, err)
}

func TestParseRate(t *testing.T) {
	t.Parallel()

	got, err := ParseRate("5MB/s")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), got)

	got, err = ParseRate("0")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}
