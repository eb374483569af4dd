// Package events is the typed notification surface the supervisor publishes
// to. Persistence and UI layers subscribe; the supervisor never depends on
// what they do with an event.
package events

import (
	"sync"
	"time"

	"github.com/owlkaboom/nightshift-sub004/internal/protocol"
)

// Kind identifies a process lifecycle event.
type Kind string

const (
	KindStarted      Kind = "process:started"
	KindOutput       Kind = "process:output"
	KindCompleted    Kind = "process:completed"
	KindFailed       Kind = "process:failed"
	KindRateLimited  Kind = "process:rate-limited"
	KindUsageLimited Kind = "process:usage-limited"
	KindAuthFailed   Kind = "process:auth-failed"
	KindCancelled    Kind = "process:cancelled"
	KindTimedOut     Kind = "process:timed-out"
)

// Event is one supervisor notification. TaskID is always set; the remaining
// fields depend on Kind.
type Event struct {
	Kind       Kind                       `json:"kind"`
	TaskID     string                     `json:"task_id"`
	ProjectID  string                     `json:"project_id,omitempty"`
	AgentID    string                     `json:"agent_id,omitempty"`
	PID        int                        `json:"pid,omitempty"`
	Output     *protocol.AgentOutputEvent `json:"output,omitempty"`
	ExitCode   int                        `json:"exit_code,omitempty"`
	Error      string                     `json:"error,omitempty"`
	ResetAt    *time.Time                 `json:"reset_at,omitempty"`
	OccurredAt time.Time                  `json:"occurred_at"`
}

// Handler receives published events.
type Handler func(Event)

// Bus fans events out to subscribers. Delivery is synchronous and in
// subscription order on the publishing goroutine, so per-task ordering follows
// directly from publish ordering.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	all    map[int]Handler
	byKind map[Kind]map[int]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		all:    make(map[int]Handler),
		byKind: make(map[Kind]map[int]Handler),
	}
}

// Subscribe registers a handler for every event. The returned func removes
// the subscription.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.all[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// SubscribeKind registers a handler for a single event kind.
func (b *Bus) SubscribeKind(kind Kind, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.byKind[kind] == nil {
		b.byKind[kind] = make(map[int]Handler)
	}
	b.byKind[kind][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.byKind[kind], id)
	}
}

// Publish delivers the event to all matching subscribers. OccurredAt is
// stamped if the caller left it zero.
func (b *Bus) Publish(e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.all)+len(b.byKind[e.Kind]))
	for id := 0; id < b.nextID; id++ {
		if h, ok := b.all[id]; ok {
			handlers = append(handlers, h)
		}
		if h, ok := b.byKind[e.Kind][id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
