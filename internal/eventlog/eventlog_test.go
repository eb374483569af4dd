package eventlog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/owlkaboom/nightshift-sub004/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriteAppendsNDJSONLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "events.ndjson")

	log, err := NewEventLog(path, discardLogger())
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Write(events.Event{Kind: events.KindStarted, TaskID: "t1"}))
	require.NoError(t, log.Write(events.Event{Kind: events.KindCompleted, TaskID: "t1"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"process:started"`)
	assert.Contains(t, lines[1], `"process:completed"`)
	assert.Contains(t, lines[0], `"id"`)
}

func TestAttachSubscribesToBus(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.ndjson")

	log, err := NewEventLog(path, discardLogger())
	require.NoError(t, err)
	defer log.Close()

	bus := events.NewBus()
	unsub := log.Attach(bus)

	bus.Publish(events.Event{Kind: events.KindStarted, TaskID: "t1"})
	unsub()
	bus.Publish(events.Event{Kind: events.KindCompleted, TaskID: "t1"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1, "unsubscribed log must stop receiving events")
	assert.Contains(t, lines[0], `"t1"`)
}

func TestNewEventLogCreatesDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a", "b", "events.ndjson")

	log, err := NewEventLog(path, discardLogger())
	require.NoError(t, err)
	require.NoError(t, log.Close())

	_, err = os.Stat(filepath.Dir(path))
	require.NoError(t, err)
}
