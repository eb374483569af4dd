// Package supervisor orchestrates AI coding-agent subprocesses: it spawns an
// agent CLI per task, drains and classifies its output, enforces concurrency
// and duration limits, and reports terminal outcomes over the event bus.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/owlkaboom/nightshift-sub004/internal/agent"
	"github.com/owlkaboom/nightshift-sub004/internal/events"
	"github.com/owlkaboom/nightshift-sub004/internal/protocol"
)

// Config carries the supervisor's tunables.
type Config struct {
	// MaxConcurrent caps the number of simultaneously running tasks. Values
	// below 1 are treated as 1.
	MaxConcurrent int
	// MaxTaskDuration forcibly times out tasks that run longer. Zero disables
	// the timeout.
	MaxTaskDuration time.Duration
}

// Supervisor owns the table of in-flight work. It is the only mutator of
// ManagedProcess records; adapters and callers never touch them directly.
type Supervisor struct {
	registry *agent.Registry
	bus      *events.Bus
	logger   *slog.Logger
	cfg      Config

	mu    sync.Mutex
	procs map[string]*ManagedProcess
}

// New creates a supervisor. Dependencies are injected explicitly; there is no
// package-level instance.
func New(registry *agent.Registry, bus *events.Bus, logger *slog.Logger, cfg Config) *Supervisor {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Supervisor{
		registry: registry,
		bus:      bus,
		logger:   logger,
		cfg:      cfg,
		procs:    make(map[string]*ManagedProcess),
	}
}

// Start spawns an agent process for taskID. Idempotent under races: a record
// already in state running is returned unchanged and no second process is
// spawned. A non-running leftover record is discarded first.
//
// agentID selects an adapter explicitly; empty means the registry default.
func (s *Supervisor) Start(ctx context.Context, taskID, projectID string, opts protocol.InvokeOptions, agentID string) (*ManagedProcess, error) {
	s.mu.Lock()
	if existing, ok := s.procs[taskID]; ok {
		if existing.State() == StateRunning {
			s.mu.Unlock()
			return existing, nil
		}
		delete(s.procs, taskID)
	}
	s.mu.Unlock()

	adapter, err := s.registry.Resolve(agentID)
	if err != nil {
		return nil, err
	}

	if !adapter.IsAvailable() {
		return nil, fmt.Errorf("agent %q: %w", adapter.ID(), agent.ErrAgentUnavailable)
	}

	if preloader, ok := adapter.(agent.CredentialPreloader); ok {
		if err := preloader.PreloadCredentials(ctx); err != nil {
			s.logger.Warn("credential preload failed", "agent", adapter.ID(), "error", err)
		}
	}

	// Reserve the record before spawning so a concurrent Start for the same
	// task returns this record instead of spawning a duplicate process.
	rec := &ManagedProcess{
		TaskID:    taskID,
		ProjectID: projectID,
		AgentID:   adapter.ID(),
		StartedAt: time.Now().UTC(),
		state:     StateRunning,
	}

	s.mu.Lock()
	if existing, ok := s.procs[taskID]; ok && existing.State() == StateRunning {
		s.mu.Unlock()
		return existing, nil
	}
	s.procs[taskID] = rec
	s.mu.Unlock()

	handle, err := adapter.Invoke(ctx, opts)
	if err != nil {
		s.mu.Lock()
		if s.procs[taskID] == rec {
			delete(s.procs, taskID)
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to spawn agent %q: %w", adapter.ID(), err)
	}

	rec.setHandle(handle)

	s.logger.Info("agent process started",
		"task_id", taskID,
		"agent", adapter.ID(),
		"pid", handle.PID())

	s.bus.Publish(events.Event{
		Kind:      events.KindStarted,
		TaskID:    taskID,
		ProjectID: projectID,
		AgentID:   adapter.ID(),
		PID:       handle.PID(),
	})

	if s.cfg.MaxTaskDuration > 0 {
		rec.armTimeout(time.AfterFunc(s.cfg.MaxTaskDuration, func() {
			s.handleTimeout(rec)
		}))
	}

	go s.run(rec, adapter, handle)

	return rec, nil
}

// run drains both output channels concurrently, awaits process exit, and only
// then finalizes. The ordering is deliberate: finalizing before the drain
// completes would let observers miss a task's final output lines.
func (s *Supervisor) run(rec *ManagedProcess, adapter agent.Adapter, handle agent.ProcessHandle) {
	// A task stuck in running with no observer notified must never happen;
	// anything escaping the join is converted into a failed transition.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stream processing panic", "task_id", rec.TaskID, "panic", r)
			if rec.transition(StateFailed, fmt.Sprintf("stream processing error: %v", r)) {
				s.publishFailed(rec)
			}
		}
	}()

	proc := newStreamProcessor(s, rec, adapter, s.logger)
	proc.Run(handle)

	exitCode, err := handle.Wait()
	if err != nil {
		s.logger.Warn("process wait failed", "task_id", rec.TaskID, "error", err)
		if rec.transition(StateFailed, fmt.Sprintf("process wait failed: %v", err)) {
			s.publishFailed(rec)
		}
		return
	}

	if exitCode == 0 && rec.transitionFrom(StateRunning, StateCompleted, "") {
		s.logger.Info("agent process completed", "task_id", rec.TaskID)
		s.bus.Publish(events.Event{
			Kind:      events.KindCompleted,
			TaskID:    rec.TaskID,
			ProjectID: rec.ProjectID,
			AgentID:   rec.AgentID,
		})
		return
	}

	// Non-zero exit, or the process exited 0 while the record was no longer
	// running. No-op when an intermediate terminal state already won the race.
	if rec.transition(StateFailed, fmt.Sprintf("process exited with code %d", exitCode)) {
		s.logger.Warn("agent process failed", "task_id", rec.TaskID, "exit_code", exitCode)
		s.bus.Publish(events.Event{
			Kind:      events.KindFailed,
			TaskID:    rec.TaskID,
			ProjectID: rec.ProjectID,
			AgentID:   rec.AgentID,
			ExitCode:  exitCode,
			Error:     rec.Err(),
		})
	}
}

func (s *Supervisor) handleTimeout(rec *ManagedProcess) {
	reason := fmt.Sprintf("task exceeded maximum duration of %s", s.cfg.MaxTaskDuration)
	if !rec.transition(StateTimedOut, reason) {
		// A terminal transition already won; it disarmed the timer, so a late
		// firing must not re-kill.
		return
	}

	s.logger.Warn("task timed out", "task_id", rec.TaskID, "max_duration", s.cfg.MaxTaskDuration)

	if h := rec.handle(); h != nil {
		if err := h.Kill(); err != nil {
			s.logger.Warn("failed to kill timed-out process", "task_id", rec.TaskID, "error", err)
		}
	}

	s.bus.Publish(events.Event{
		Kind:      events.KindTimedOut,
		TaskID:    rec.TaskID,
		ProjectID: rec.ProjectID,
		AgentID:   rec.AgentID,
		Error:     reason,
	})
}

func (s *Supervisor) publishFailed(rec *ManagedProcess) {
	s.bus.Publish(events.Event{
		Kind:      events.KindFailed,
		TaskID:    rec.TaskID,
		ProjectID: rec.ProjectID,
		AgentID:   rec.AgentID,
		Error:     rec.Err(),
	})
}

// Cancel kills a running task's process and marks it cancelled. It is a no-op
// returning false unless the task exists and is in state running.
func (s *Supervisor) Cancel(taskID string) bool {
	s.mu.Lock()
	rec, ok := s.procs[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	if !rec.transitionFrom(StateRunning, StateCancelled, "") {
		return false
	}

	if h := rec.handle(); h != nil {
		if err := h.Kill(); err != nil {
			s.logger.Warn("failed to kill cancelled process", "task_id", taskID, "error", err)
		}
	}

	s.logger.Info("task cancelled", "task_id", taskID)
	s.bus.Publish(events.Event{
		Kind:      events.KindCancelled,
		TaskID:    rec.TaskID,
		ProjectID: rec.ProjectID,
		AgentID:   rec.AgentID,
	})
	return true
}

// CanStartNew reports whether admission control allows another task. This is
// the sole admission primitive; the supervisor never queues work itself.
func (s *Supervisor) CanStartNew() bool {
	return s.runningCount() < s.cfg.MaxConcurrent
}

func (s *Supervisor) runningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.procs {
		if rec.State() == StateRunning {
			n++
		}
	}
	return n
}

// CleanupStale fails any running record that has lost its process reference
// (e.g. after a restart lost in-memory state) and returns how many were
// transitioned. Records with a live handle are left to the normal exit and
// timeout paths; their OS-level status is never inferred here.
func (s *Supervisor) CleanupStale() int {
	s.mu.Lock()
	recs := make([]*ManagedProcess, 0, len(s.procs))
	for _, rec := range s.procs {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	count := 0
	for _, rec := range recs {
		if rec.handle() != nil {
			continue
		}
		if rec.transitionFrom(StateRunning, StateFailed, "Process reference lost") {
			s.logger.Warn("stale process record", "task_id", rec.TaskID)
			s.publishFailed(rec)
			count++
		}
	}
	return count
}

// ClearAll best-effort kills every running process, disarms all timers and
// empties the table. Used only at full shutdown or reset.
func (s *Supervisor) ClearAll() {
	s.mu.Lock()
	recs := make([]*ManagedProcess, 0, len(s.procs))
	for _, rec := range s.procs {
		recs = append(recs, rec)
	}
	s.procs = make(map[string]*ManagedProcess)
	s.mu.Unlock()

	for _, rec := range recs {
		rec.disarmTimeout()
		// Paused tasks still have a live process; only terminal ones do not.
		if rec.State().Terminal() {
			continue
		}
		h := rec.handle()
		if h == nil {
			continue
		}
		if err := h.Kill(); err != nil {
			s.logger.Warn("failed to kill process during clear", "task_id", rec.TaskID, "error", err)
		}
	}
}

// Get returns the record for taskID.
func (s *Supervisor) Get(taskID string) (*ManagedProcess, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.procs[taskID]
	return rec, ok
}

// GetAll returns every known record, oldest first.
func (s *Supervisor) GetAll() []*ManagedProcess {
	s.mu.Lock()
	recs := make([]*ManagedProcess, 0, len(s.procs))
	for _, rec := range s.procs {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].TaskID < recs[j].TaskID
		}
		return recs[i].StartedAt.Before(recs[j].StartedAt)
	})
	return recs
}

// GetRunning returns the records currently in state running.
func (s *Supervisor) GetRunning() []*ManagedProcess {
	all := s.GetAll()
	running := all[:0]
	for _, rec := range all {
		if rec.State() == StateRunning {
			running = append(running, rec)
		}
	}
	return running
}

// GetOutputLog returns a copy of taskID's output log, or nil when unknown.
func (s *Supervisor) GetOutputLog(taskID string) []protocol.AgentOutputEvent {
	rec, ok := s.Get(taskID)
	if !ok {
		return nil
	}
	return rec.OutputLog()
}

// Remove drops taskID from the table, disarming any timer. The process is not
// killed; records are not auto-evicted on reaching a terminal state, so
// callers query and remove explicitly.
func (s *Supervisor) Remove(taskID string) bool {
	s.mu.Lock()
	rec, ok := s.procs[taskID]
	if ok {
		delete(s.procs, taskID)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	rec.disarmTimeout()
	return true
}
