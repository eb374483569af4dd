package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/owlkaboom/nightshift-sub004/internal/agent"
	"github.com/owlkaboom/nightshift-sub004/internal/agent/claude"
	"github.com/owlkaboom/nightshift-sub004/internal/events"
	"github.com/owlkaboom/nightshift-sub004/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMockAgent compiles the scripted mock agent into a temp dir so the
// claude adapter can be pointed at a real subprocess.
func buildMockAgent(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mockagent")
	cmd := exec.Command("go", "build", "-o", path, "../../cmd/mockagent")
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to build mockagent: %v\n%s", err, output)
	}
	return path
}

func newMockAgentSupervisor(t *testing.T, mockPath string, cfg Config) (*Supervisor, *eventCollector) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	adapter := claude.New(logger, claude.WithBinary(mockPath), claude.WithBaseArgs())

	registry := agent.NewRegistry()
	registry.Register(adapter, true)

	bus := events.NewBus()
	collector := &eventCollector{}
	bus.Subscribe(collector.handle)

	return New(registry, bus, logger, cfg), collector
}

func TestIntegrationCompletedFlow(t *testing.T) {
	mockPath := buildMockAgent(t)
	sup, collector := newMockAgentSupervisor(t, mockPath, Config{MaxConcurrent: 1})
	defer sup.ClearAll()

	opts := protocol.InvokeOptions{
		TaskID: "task-1",
		Prompt: "fix the bug",
		Args:   []string{"-lines", "2", "-delay", "5ms", "-result", "finished the task"},
	}

	rec, err := sup.Start(context.Background(), "task-1", "proj-1", opts, "")
	require.NoError(t, err)
	assert.Greater(t, rec.PID(), 0)

	waitForState(t, rec, StateCompleted)

	log := sup.GetOutputLog("task-1")
	require.Len(t, log, 3)
	assert.Equal(t, "working on step 1", log[0].Message)
	assert.Equal(t, "working on step 2", log[1].Message)
	assert.Equal(t, "finished the task", log[2].Message)

	all := collector.all()
	require.NotEmpty(t, all)
	assert.Equal(t, events.KindStarted, all[0].Kind)
	assert.Equal(t, events.KindCompleted, all[len(all)-1].Kind, "output must be fully drained before completion")
	require.Len(t, collector.byKind(events.KindOutput), 3)
}

func TestIntegrationNonZeroExitFails(t *testing.T) {
	mockPath := buildMockAgent(t)
	sup, collector := newMockAgentSupervisor(t, mockPath, Config{MaxConcurrent: 1})
	defer sup.ClearAll()

	opts := protocol.InvokeOptions{
		TaskID: "task-1",
		Args:   []string{"-lines", "1", "-result", "something broke", "-exit", "2"},
	}

	rec, err := sup.Start(context.Background(), "task-1", "proj-1", opts, "")
	require.NoError(t, err)

	waitForState(t, rec, StateFailed)
	assert.Contains(t, rec.Err(), "exited with code 2")

	failed := collector.byKind(events.KindFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].ExitCode)
}

func TestIntegrationAuthError(t *testing.T) {
	mockPath := buildMockAgent(t)
	sup, collector := newMockAgentSupervisor(t, mockPath, Config{MaxConcurrent: 1})
	defer sup.ClearAll()

	opts := protocol.InvokeOptions{
		TaskID: "task-1",
		Args:   []string{"-lines", "0", "-result", "", "-auth-error", "-exit", "1"},
	}

	rec, err := sup.Start(context.Background(), "task-1", "proj-1", opts, "")
	require.NoError(t, err)

	waitForState(t, rec, StateFailed)
	assert.Equal(t, "Authentication failed", rec.Err())

	require.Len(t, collector.byKind(events.KindAuthFailed), 1)
	// Auth failure is the terminal outcome; the nonzero exit must not
	// produce a second terminal event.
	assert.Empty(t, collector.byKind(events.KindFailed))
}

func TestIntegrationUsageLimitPauses(t *testing.T) {
	mockPath := buildMockAgent(t)
	sup, collector := newMockAgentSupervisor(t, mockPath, Config{MaxConcurrent: 1})

	resetAt := time.Now().Add(2 * time.Hour).Truncate(time.Second).UTC()
	opts := protocol.InvokeOptions{
		TaskID: "task-1",
		Args: []string{
			"-lines", "1", "-result", "",
			"-usage-limit", fmt.Sprintf("%d", resetAt.Unix()),
			"-hang",
		},
	}

	rec, err := sup.Start(context.Background(), "task-1", "proj-1", opts, "")
	require.NoError(t, err)

	waitForState(t, rec, StatePaused)

	limited := collector.byKind(events.KindUsageLimited)
	require.Len(t, limited, 1)
	require.NotNil(t, limited[0].ResetAt)
	assert.True(t, limited[0].ResetAt.Equal(resetAt))

	// Shutdown kills the still-alive paused process and lets the run
	// goroutine finalize.
	sup.ClearAll()
	waitForState(t, rec, StateFailed)
}

func TestIntegrationRateLimitThenExitZeroFails(t *testing.T) {
	mockPath := buildMockAgent(t)
	sup, collector := newMockAgentSupervisor(t, mockPath, Config{MaxConcurrent: 1})
	defer sup.ClearAll()

	opts := protocol.InvokeOptions{
		TaskID: "task-1",
		Args:   []string{"-lines", "1", "-result", "", "-rate-limit"},
	}

	rec, err := sup.Start(context.Background(), "task-1", "proj-1", opts, "")
	require.NoError(t, err)

	// The process pauses on the throttle line and then exits 0. Exiting
	// clean while paused is not a completion.
	waitForState(t, rec, StateFailed)

	require.Len(t, collector.byKind(events.KindRateLimited), 1)
	assert.Empty(t, collector.byKind(events.KindCompleted))
}

func TestIntegrationTimeoutKillsHungProcess(t *testing.T) {
	mockPath := buildMockAgent(t)
	sup, collector := newMockAgentSupervisor(t, mockPath, Config{
		MaxConcurrent:   1,
		MaxTaskDuration: 300 * time.Millisecond,
	})
	defer sup.ClearAll()

	opts := protocol.InvokeOptions{
		TaskID: "task-1",
		Args:   []string{"-lines", "1", "-result", "", "-hang"},
	}

	rec, err := sup.Start(context.Background(), "task-1", "proj-1", opts, "")
	require.NoError(t, err)

	waitForState(t, rec, StateTimedOut)
	assert.Contains(t, rec.Err(), "maximum duration")

	// The kill unblocks the drain and exit join; give it time to finalize
	// and verify the timed-out outcome was not overwritten.
	require.Eventually(t, func() bool {
		return len(collector.byKind(events.KindTimedOut)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, StateTimedOut, rec.State())
	assert.Empty(t, collector.byKind(events.KindFailed))
	assert.Empty(t, collector.byKind(events.KindCompleted))
}

func TestIntegrationCancelRunningProcess(t *testing.T) {
	mockPath := buildMockAgent(t)
	sup, collector := newMockAgentSupervisor(t, mockPath, Config{MaxConcurrent: 1})
	defer sup.ClearAll()

	opts := protocol.InvokeOptions{
		TaskID: "task-1",
		Args:   []string{"-lines", "1", "-result", "", "-hang"},
	}

	rec, err := sup.Start(context.Background(), "task-1", "proj-1", opts, "")
	require.NoError(t, err)

	// Wait until the first output line proves the process is up.
	require.Eventually(t, func() bool {
		return len(sup.GetOutputLog("task-1")) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	require.True(t, sup.Cancel("task-1"))
	assert.Equal(t, StateCancelled, rec.State())

	require.Eventually(t, func() bool {
		return len(collector.byKind(events.KindCancelled)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	// The killed process's exit must not flip the cancelled outcome.
	assert.Equal(t, StateCancelled, rec.State())
	assert.Empty(t, collector.byKind(events.KindFailed))
}
