package protocol

import (
	"time"
)

// OutputEventType classifies a single line or message produced by an agent
// process.
type OutputEventType string

const (
	// OutputEventOutput is ordinary agent output.
	OutputEventOutput OutputEventType = "output"
	// OutputEventError is diagnostic or error output (typically stderr).
	OutputEventError OutputEventType = "error"
	// OutputEventRateLimit is a transient throttle with no known reset time.
	OutputEventRateLimit OutputEventType = "rate-limit"
	// OutputEventUsageLimit is a quota exhaustion with a known reset time.
	OutputEventUsageLimit OutputEventType = "usage-limit"
)

// AgentOutputEvent is one classified unit of agent output. Events are appended
// to a task's output log in arrival order.
type AgentOutputEvent struct {
	Type      OutputEventType `json:"type"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	// ResetAt is set only for usage-limit events where the provider reported
	// when the quota resets.
	ResetAt *time.Time `json:"reset_at,omitempty"`
}

// InvokeOptions carries everything an adapter needs to spawn a process for a
// task. The supervisor passes it through unmodified.
type InvokeOptions struct {
	TaskID     string            `json:"task_id"`
	ProjectID  string            `json:"project_id"`
	Prompt     string            `json:"prompt,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Args       []string          `json:"args,omitempty"`
}
