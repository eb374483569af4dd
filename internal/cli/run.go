package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/owlkaboom/nightshift-sub004/internal/agent"
	"github.com/owlkaboom/nightshift-sub004/internal/agent/claude"
	"github.com/owlkaboom/nightshift-sub004/internal/config"
	"github.com/owlkaboom/nightshift-sub004/internal/eventlog"
	"github.com/owlkaboom/nightshift-sub004/internal/events"
	"github.com/owlkaboom/nightshift-sub004/internal/protocol"
	"github.com/owlkaboom/nightshift-sub004/internal/supervisor"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]...",
	Short: "Run one agent task per prompt under the supervisor",
	Long: `Run spawns one agent process per prompt argument, respecting the
configured concurrency limit, and prints the classified output stream
until every task reaches a terminal state.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("agent", "", "Agent adapter id (default: configured default agent)")
	runCmd.Flags().String("project", "", "Project id attached to every task")
	runCmd.Flags().String("dir", "", "Working directory for agent processes")
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := loadOrCreateConfig(configPath)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))

	bus := events.NewBus()

	// Transcript printer: one line per published event
	out := cmd.OutOrStdout()
	unsubPrinter := bus.Subscribe(func(e events.Event) {
		fmt.Fprintln(out, formatEvent(e))
	})
	defer unsubPrinter()

	if cfg.EventLogPath != "" {
		evtLog, err := eventlog.NewEventLog(cfg.EventLogPath, logger)
		if err != nil {
			return fmt.Errorf("failed to create event log: %w", err)
		}
		defer evtLog.Close()
		defer evtLog.Attach(bus)()
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	sup := supervisor.New(registry, bus, logger, supervisor.Config{
		MaxConcurrent:   cfg.MaxConcurrent,
		MaxTaskDuration: cfg.MaxTaskDuration(),
	})
	defer sup.ClearAll()

	agentID, err := cmd.Flags().GetString("agent")
	if err != nil {
		return err
	}
	projectID, err := cmd.Flags().GetString("project")
	if err != nil {
		return err
	}
	workDir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return err
	}

	// Terminal events release admission slots for waiting prompts
	done := make(chan string, len(args))
	unsubDone := bus.Subscribe(func(e events.Event) {
		switch e.Kind {
		case events.KindCompleted, events.KindFailed, events.KindCancelled, events.KindTimedOut:
			done <- e.TaskID
		}
	})
	defer unsubDone()

	ctx := cmd.Context()
	remaining := 0

	for _, prompt := range args {
		for !sup.CanStartNew() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-done:
				remaining--
			}
		}

		taskID := fmt.Sprintf("task-%s", uuid.New().String()[:8])
		opts := protocol.InvokeOptions{
			TaskID:     taskID,
			ProjectID:  projectID,
			Prompt:     prompt,
			WorkingDir: workDir,
		}

		if _, err := sup.Start(ctx, taskID, projectID, opts, agentID); err != nil {
			if errors.Is(err, agent.ErrAdapterNotFound) || errors.Is(err, agent.ErrAgentUnavailable) {
				return err
			}
			logger.Error("failed to start task", "task_id", taskID, "error", err)
			continue
		}
		remaining++
	}

	for remaining > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case taskID := <-done:
			remaining--
			sup.Remove(taskID)
		}
	}

	return nil
}

// buildRegistry constructs one adapter per configured agent. Every entry is
// driven through the claude adapter with its binary and args swapped in; the
// stream-json protocol is the one agent protocol this build speaks.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*agent.Registry, error) {
	registry := agent.NewRegistry()

	for id, agentCfg := range cfg.Agents {
		opts := []claude.Option{claude.WithBinary(agentCfg.Cmd[0])}
		if len(agentCfg.Cmd) > 1 {
			opts = append(opts, claude.WithBaseArgs(agentCfg.Cmd[1:]...))
		}
		if len(agentCfg.Env) > 0 {
			opts = append(opts, claude.WithEnv(agentCfg.Env))
		}

		adapter := claude.New(logger, opts...)
		if id != claude.AdapterID {
			registry.Register(namedAdapter{Adapter: adapter, id: id}, agentCfg.Default)
		} else {
			registry.Register(adapter, agentCfg.Default)
		}
	}

	return registry, nil
}

// namedAdapter re-keys a claude adapter under a config-chosen id so several
// differently-configured entries can coexist in one registry.
type namedAdapter struct {
	*claude.Adapter
	id string
}

func (n namedAdapter) ID() string { return n.id }

func formatEvent(e events.Event) string {
	switch e.Kind {
	case events.KindOutput:
		if e.Output != nil {
			return fmt.Sprintf("[%s] %s: %s", e.TaskID, e.Output.Type, e.Output.Message)
		}
		return fmt.Sprintf("[%s] output", e.TaskID)
	case events.KindUsageLimited:
		if e.ResetAt != nil {
			return fmt.Sprintf("[%s] usage limited, resets at %s", e.TaskID, e.ResetAt.Format("2006-01-02 15:04:05 MST"))
		}
		return fmt.Sprintf("[%s] usage limited", e.TaskID)
	case events.KindFailed:
		return fmt.Sprintf("[%s] failed: %s", e.TaskID, e.Error)
	default:
		return fmt.Sprintf("[%s] %s", e.TaskID, strings.TrimPrefix(string(e.Kind), "process:"))
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "err":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadOrCreateConfig loads the config at path, falling back to
// ./nightshift.json and generating a default file when none exists.
func loadOrCreateConfig(path string) (*config.Config, error) {
	if path == "" {
		path = "nightshift.json"
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := config.GenerateDefault()
		if err := cfg.SaveToFile(path); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	return config.LoadFromFile(path)
}
