package supervisor

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/owlkaboom/nightshift-sub004/internal/agent"
	"github.com/owlkaboom/nightshift-sub004/internal/events"
	"github.com/owlkaboom/nightshift-sub004/internal/protocol"
)

// streamProcessor drains a process's stdout and stderr concurrently and
// independently, so a slow reader on one channel never starves the other.
// stdout is delegated to the adapter's parser; stderr is decoded line by line
// and classified here.
type streamProcessor struct {
	sup     *Supervisor
	rec     *ManagedProcess
	adapter agent.Adapter
	logger  *slog.Logger
}

func newStreamProcessor(sup *Supervisor, rec *ManagedProcess, adapter agent.Adapter, logger *slog.Logger) *streamProcessor {
	return &streamProcessor{
		sup:     sup,
		rec:     rec,
		adapter: adapter,
		logger:  logger,
	}
}

// Run consumes both channels and returns only when both consumers have ended,
// by EOF or by the auth-error early return.
func (sp *streamProcessor) Run(h agent.ProcessHandle) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sp.consumeStdout(h.Stdout())
	}()
	go func() {
		defer wg.Done()
		sp.consumeStderr(h.Stderr())
	}()
	wg.Wait()
}

func (sp *streamProcessor) consumeStdout(r io.Reader) {
	// A failure on one channel must not abort the other's consumption.
	defer func() {
		if rec := recover(); rec != nil {
			sp.logger.Error("stdout consumer panic", "task_id", sp.rec.TaskID, "panic", rec)
		}
	}()

	err := sp.adapter.ParseOutput(r, func(evt protocol.AgentOutputEvent) bool {
		if evt.Timestamp.IsZero() {
			evt.Timestamp = time.Now().UTC()
		}
		sp.record(evt)

		switch evt.Type {
		case protocol.OutputEventUsageLimit:
			sp.pauseUsageLimited(evt.ResetAt)
		case protocol.OutputEventRateLimit:
			sp.pauseRateLimited()
		case protocol.OutputEventError:
			if sp.adapter.DetectAuthError(evt.Message) {
				sp.failAuth()
				return false
			}
		}
		return true
	})
	if err != nil && !errors.Is(err, io.EOF) {
		sp.logger.Error("error parsing agent output", "task_id", sp.rec.TaskID, "error", err)
	}
}

func (sp *streamProcessor) consumeStderr(r io.Reader) {
	defer func() {
		if rec := recover(); rec != nil {
			sp.logger.Error("stderr consumer panic", "task_id", sp.rec.TaskID, "panic", rec)
		}
	}()

	scanner := bufio.NewScanner(r)
	// Larger buffer to handle long diagnostic lines
	scanner.Buffer(make([]byte, 4096), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		evt := sp.classifyLine(line)
		sp.record(evt)

		switch evt.Type {
		case protocol.OutputEventUsageLimit:
			sp.pauseUsageLimited(evt.ResetAt)
		case protocol.OutputEventRateLimit:
			sp.pauseRateLimited()
		case protocol.OutputEventError:
			// Auth detection runs only on lines already classified as error,
			// so agent output that merely echoes auth-looking text (source
			// code, test fixtures) cannot trip it.
			if sp.adapter.DetectAuthError(line) {
				sp.failAuth()
				return
			}
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		sp.logger.Error("error reading stderr", "task_id", sp.rec.TaskID, "error", err)
	}
}

// classifyLine classifies a stderr line in fixed priority order: usage-limit
// first (it carries a known reset time, the most actionable signal), then
// rate-limit, else generic error.
func (sp *streamProcessor) classifyLine(line string) protocol.AgentOutputEvent {
	evt := protocol.AgentOutputEvent{
		Message:   line,
		Timestamp: time.Now().UTC(),
	}

	if ok, resetAt := sp.adapter.DetectUsageLimit(line); ok {
		evt.Type = protocol.OutputEventUsageLimit
		evt.ResetAt = resetAt
		return evt
	}
	if sp.adapter.DetectRateLimit(line) {
		evt.Type = protocol.OutputEventRateLimit
		return evt
	}
	evt.Type = protocol.OutputEventError
	return evt
}

func (sp *streamProcessor) record(evt protocol.AgentOutputEvent) {
	sp.rec.appendOutput(evt)
	sp.sup.bus.Publish(events.Event{
		Kind:      events.KindOutput,
		TaskID:    sp.rec.TaskID,
		ProjectID: sp.rec.ProjectID,
		AgentID:   sp.rec.AgentID,
		Output:    &evt,
	})
}

// pauseUsageLimited pauses the task and reports the reset time. The process
// keeps running and consumption continues; paused is sticky.
func (sp *streamProcessor) pauseUsageLimited(resetAt *time.Time) {
	if !sp.rec.pause() {
		return
	}
	sp.logger.Warn("usage limit reached", "task_id", sp.rec.TaskID)
	sp.sup.bus.Publish(events.Event{
		Kind:      events.KindUsageLimited,
		TaskID:    sp.rec.TaskID,
		ProjectID: sp.rec.ProjectID,
		AgentID:   sp.rec.AgentID,
		ResetAt:   resetAt,
	})
}

func (sp *streamProcessor) pauseRateLimited() {
	if !sp.rec.pause() {
		return
	}
	sp.logger.Warn("rate limited", "task_id", sp.rec.TaskID)
	sp.sup.bus.Publish(events.Event{
		Kind:      events.KindRateLimited,
		TaskID:    sp.rec.TaskID,
		ProjectID: sp.rec.ProjectID,
		AgentID:   sp.rec.AgentID,
	})
}

// failAuth marks the task failed with a dedicated event so callers can prompt
// for re-authentication. The caller stops consuming its channel afterwards;
// this is the one place stream consumption deliberately ends before EOF.
func (sp *streamProcessor) failAuth() {
	if !sp.rec.transition(StateFailed, "Authentication failed") {
		return
	}
	sp.logger.Error("authentication failure detected", "task_id", sp.rec.TaskID, "agent", sp.rec.AgentID)
	sp.sup.bus.Publish(events.Event{
		Kind:      events.KindAuthFailed,
		TaskID:    sp.rec.TaskID,
		ProjectID: sp.rec.ProjectID,
		AgentID:   sp.rec.AgentID,
		Error:     "Authentication failed",
	})
}
