package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config represents the nightshift.json configuration file
type Config struct {
	Version                string                 `json:"version"`
	MaxConcurrent          int                    `json:"max_concurrent"`
	MaxTaskDurationMinutes int                    `json:"max_task_duration_minutes"`
	LogLevel               string                 `json:"log_level,omitempty"`
	EventLogPath           string                 `json:"event_log,omitempty"`
	Agents                 map[string]AgentConfig `json:"agents"`
}

// AgentConfig configures one agent adapter
type AgentConfig struct {
	Cmd     []string          `json:"cmd"`
	Env     map[string]string `json:"env,omitempty"`
	Default bool              `json:"default,omitempty"`
}

// GenerateDefault creates a new Config with default values
func GenerateDefault() *Config {
	return &Config{
		Version:                "1.0",
		MaxConcurrent:          1,
		MaxTaskDurationMinutes: 15,
		LogLevel:               "info",
		EventLogPath:           ".nightshift/events.ndjson",
		Agents: map[string]AgentConfig{
			"claude-code": {
				Cmd:     []string{"claude"},
				Default: true,
			},
		},
	}
}

// MaxTaskDuration returns the duration limit, zero when timeouts are disabled
func (c *Config) MaxTaskDuration() time.Duration {
	return time.Duration(c.MaxTaskDurationMinutes) * time.Minute
}

// Validate checks the configuration for errors and returns user-friendly error messages
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("configuration error: missing required field 'version'\n\nHint: Add a version field like:\n  \"version\": \"1.0\"")
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("configuration error: invalid 'max_concurrent' value: %d\n\nHint: max_concurrent must be at least 1:\n  \"max_concurrent\": 1", c.MaxConcurrent)
	}

	if c.MaxTaskDurationMinutes < 0 {
		return fmt.Errorf("configuration error: invalid 'max_task_duration_minutes' value: %d\n\nHint: Use 0 to disable the timeout, or a positive number of minutes:\n  \"max_task_duration_minutes\": 15", c.MaxTaskDurationMinutes)
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("configuration error: no agents configured\n\nHint: Add at least one agent:\n  \"agents\": {\n    \"claude-code\": {\n      \"cmd\": [\"claude\"],\n      \"default\": true\n    }\n  }")
	}

	defaults := 0
	for name, agent := range c.Agents {
		if len(agent.Cmd) == 0 {
			return fmt.Errorf("configuration error: agent '%s' has empty 'cmd' field\n\nHint: Specify the command to run the agent:\n  \"cmd\": [\"claude\"]", name)
		}
		if agent.Default {
			defaults++
		}
	}

	if defaults > 1 {
		return fmt.Errorf("configuration error: %d agents marked as default\n\nHint: Mark at most one agent with \"default\": true", defaults)
	}

	return nil
}

// LoadFromFile loads a configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &cfg, nil
}

// SaveToFile writes the configuration to a JSON file with 0600 permissions
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}
