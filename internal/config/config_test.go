package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := GenerateDefault()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1, cfg.MaxConcurrent)
	assert.Equal(t, 15, cfg.MaxTaskDurationMinutes)
	assert.Equal(t, 15*time.Minute, cfg.MaxTaskDuration())
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "missing version",
			mutate:  func(c *Config) { c.Version = "" },
			wantMsg: "version",
		},
		{
			name:    "zero max_concurrent",
			mutate:  func(c *Config) { c.MaxConcurrent = 0 },
			wantMsg: "max_concurrent",
		},
		{
			name:    "negative duration",
			mutate:  func(c *Config) { c.MaxTaskDurationMinutes = -1 },
			wantMsg: "max_task_duration_minutes",
		},
		{
			name:    "no agents",
			mutate:  func(c *Config) { c.Agents = nil },
			wantMsg: "no agents",
		},
		{
			name: "agent with empty cmd",
			mutate: func(c *Config) {
				c.Agents = map[string]AgentConfig{"broken": {}}
			},
			wantMsg: "empty 'cmd'",
		},
		{
			name: "two defaults",
			mutate: func(c *Config) {
				c.Agents = map[string]AgentConfig{
					"a": {Cmd: []string{"a"}, Default: true},
					"b": {Cmd: []string{"b"}, Default: true},
				}
			},
			wantMsg: "default",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := GenerateDefault()
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestZeroDurationDisablesTimeout(t *testing.T) {
	t.Parallel()

	cfg := GenerateDefault()
	cfg.MaxTaskDurationMinutes = 0

	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Duration(0), cfg.MaxTaskDuration())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nightshift.json")

	cfg := GenerateDefault()
	cfg.MaxConcurrent = 3
	require.NoError(t, cfg.SaveToFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.MaxConcurrent, loaded.MaxConcurrent)
	assert.Equal(t, cfg.Agents, loaded.Agents)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestLoadInvalidJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}
