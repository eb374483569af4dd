// Package claude drives the Claude Code CLI. It owns the adapter-specific
// knowledge: how to invoke the binary, how to decode its stream-json output,
// and which message shapes indicate auth failures and limits.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/owlkaboom/nightshift-sub004/internal/agent"
	"github.com/owlkaboom/nightshift-sub004/internal/ndjson"
	"github.com/owlkaboom/nightshift-sub004/internal/protocol"
)

// AdapterID is the registry key for this adapter.
const AdapterID = "claude-code"

// Adapter invokes the claude CLI in non-interactive stream-json mode.
type Adapter struct {
	binary   string
	baseArgs []string
	env      map[string]string
	logger   *slog.Logger
}

// Option customizes the adapter.
type Option func(*Adapter)

// WithBinary overrides the CLI binary path. Used by tests to point the
// adapter at a fixture binary.
func WithBinary(path string) Option {
	return func(a *Adapter) { a.binary = path }
}

// WithBaseArgs overrides the arguments prepended to every invocation.
func WithBaseArgs(args ...string) Option {
	return func(a *Adapter) { a.baseArgs = args }
}

// WithEnv adds environment variables to every invocation.
func WithEnv(env map[string]string) Option {
	return func(a *Adapter) { a.env = env }
}

// New creates a claude adapter with the default binary and stream-json args.
func New(logger *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		binary:   "claude",
		baseArgs: []string{"-p", "--output-format", "stream-json", "--verbose"},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID returns the registry key.
func (a *Adapter) ID() string { return AdapterID }

// Name returns the human-readable adapter name.
func (a *Adapter) Name() string { return "Claude Code" }

// IsAvailable reports whether the CLI binary is on PATH (or at the configured
// absolute path).
func (a *Adapter) IsAvailable() bool {
	_, err := exec.LookPath(a.binary)
	return err == nil
}

// Invoke spawns the CLI for one task.
func (a *Adapter) Invoke(ctx context.Context, opts protocol.InvokeOptions) (agent.ProcessHandle, error) {
	args := append([]string{}, a.baseArgs...)
	args = append(args, "--session-id", uuid.New().String())
	args = append(args, opts.Args...)
	if opts.Prompt != "" {
		args = append(args, opts.Prompt)
	}

	cmd := exec.CommandContext(ctx, a.binary, args...)
	if opts.WorkingDir != "" {
		cmd.Dir = opts.WorkingDir
	}

	// Inherit the parent environment first, then layer adapter and task vars
	cmd.Env = os.Environ()
	for k, v := range a.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	handle, err := agent.StartCommand(cmd)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("claude invoked", "task_id", opts.TaskID, "pid", handle.PID())
	return handle, nil
}

// PreloadCredentials warms the credential store with a trivial invocation so
// the real run does not stall on a keychain or login prompt.
func (a *Adapter) PreloadCredentials(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, a.binary, "--version")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("credential preload failed: %w", err)
	}
	return nil
}

// streamEnvelope is the subset of the CLI's stream-json lines we care about.
type streamEnvelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content"`
	} `json:"message"`
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// ParseOutput decodes stdout into typed events. Known stream-json shapes map
// to output/error events; limit heuristics run over the extracted text so a
// limit reported inside a result line is still surfaced as a limit event.
// Lines that are not valid JSON pass through as plain output.
func (a *Adapter) ParseOutput(r io.Reader, fn agent.OutputFunc) error {
	dec := ndjson.NewDecoder(r, a.logger)

	for {
		line, err := dec.NextLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		var env streamEnvelope
		if jsonErr := json.Unmarshal(line, &env); jsonErr != nil {
			if !fn(a.classify(string(line), false)) {
				return nil
			}
			continue
		}

		switch env.Type {
		case "assistant":
			for _, block := range env.Message.Content {
				if block.Type != "text" || block.Text == "" {
					continue
				}
				if !fn(a.classify(block.Text, false)) {
					return nil
				}
			}
		case "result":
			if env.Result == "" {
				continue
			}
			if !fn(a.classify(env.Result, env.IsError)) {
				return nil
			}
		case "system":
			// init/config chatter, not task output
			a.logger.Debug("claude system message", "subtype", env.Subtype)
		default:
			if !fn(a.classify(string(line), false)) {
				return nil
			}
		}
	}
}

// classify turns extracted text into an event, running the limit heuristics
// before falling back to plain output or error.
func (a *Adapter) classify(text string, isError bool) protocol.AgentOutputEvent {
	evt := protocol.AgentOutputEvent{
		Message:   text,
		Timestamp: time.Now().UTC(),
	}

	if ok, resetAt := a.DetectUsageLimit(text); ok {
		evt.Type = protocol.OutputEventUsageLimit
		evt.ResetAt = resetAt
		return evt
	}
	if a.DetectRateLimit(text) {
		evt.Type = protocol.OutputEventRateLimit
		return evt
	}
	if isError {
		evt.Type = protocol.OutputEventError
		return evt
	}
	evt.Type = protocol.OutputEventOutput
	return evt
}

var authErrorMarkers = []string{
	"invalid api key",
	"authentication_error",
	"oauth token has expired",
	"not logged in",
	"please run /login",
	"401 unauthorized",
	"credit balance is too low",
}

// DetectAuthError reports whether an error message indicates the CLI needs
// re-authentication. Callers apply it only to messages already classified as
// errors, never to raw output.
func (a *Adapter) DetectAuthError(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range authErrorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit_error",
	"429",
	"overloaded_error",
	"too many requests",
}

// DetectRateLimit reports whether a line indicates transient throttling with
// no known reset time.
func (a *Adapter) DetectRateLimit(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// usageLimitEpochRe matches the CLI's machine-readable form:
// "Claude AI usage limit reached|1735689600"
var usageLimitEpochRe = regexp.MustCompile(`(?i)usage limit reached\|(\d+)`)

// usageLimitResetRe matches the textual form: "... resets at 2025-01-01T00:00:00Z"
var usageLimitResetRe = regexp.MustCompile(`(?i)resets? at (\S+)`)

var usageLimitRe = regexp.MustCompile(`(?i)usage limit`)

// DetectUsageLimit reports whether a line indicates quota exhaustion and the
// reset time when one is embedded in the message.
func (a *Adapter) DetectUsageLimit(line string) (bool, *time.Time) {
	if !usageLimitRe.MatchString(line) {
		return false, nil
	}

	if m := usageLimitEpochRe.FindStringSubmatch(line); m != nil {
		if epoch, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			t := time.Unix(epoch, 0).UTC()
			return true, &t
		}
	}

	if m := usageLimitResetRe.FindStringSubmatch(line); m != nil {
		if t, err := time.Parse(time.RFC3339, strings.TrimRight(m[1], ".,;")); err == nil {
			t = t.UTC()
			return true, &t
		}
	}

	return true, nil
}
