// Package eventlog appends published process events to an NDJSON audit file.
// It is a plain bus subscriber; the supervisor never depends on it.
package eventlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/owlkaboom/nightshift-sub004/internal/events"
	"github.com/owlkaboom/nightshift-sub004/internal/ndjson"
)

// Record is one logged event line.
type Record struct {
	ID    string       `json:"id"`
	Event events.Event `json:"event"`
}

// EventLog writes process events to an NDJSON file
type EventLog struct {
	file    *os.File
	encoder *ndjson.Encoder
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewEventLog creates a new event log
func NewEventLog(logPath string, logger *slog.Logger) (*EventLog, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Open file for appending (create if not exists)
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &EventLog{
		file:    file,
		encoder: ndjson.NewEncoder(file, logger),
		logger:  logger,
	}, nil
}

// Write appends one event to the log
func (l *EventLog) Write(evt events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.encoder.Encode(Record{
		ID:    uuid.New().String(),
		Event: evt,
	})
}

// Attach subscribes the log to the bus. Write failures are logged, not
// propagated; the audit trail is best-effort. Returns the unsubscribe func.
func (l *EventLog) Attach(bus *events.Bus) func() {
	return bus.Subscribe(func(evt events.Event) {
		if err := l.Write(evt); err != nil {
			l.logger.Warn("failed to log event", "kind", evt.Kind, "task_id", evt.TaskID, "error", err)
		}
	})
}

// Close closes the event log file
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
