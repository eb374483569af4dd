package supervisor

import (
	"sync"
	"time"

	"github.com/owlkaboom/nightshift-sub004/internal/agent"
	"github.com/owlkaboom/nightshift-sub004/internal/protocol"
)

// State is the lifecycle state of a managed process.
type State string

const (
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether the state is final. Terminal states are never
// overwritten.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// ManagedProcess is the supervisor's record of one task's in-flight or
// terminal agent invocation. It is created by Start, mutated only through the
// supervisor, and removed only by Remove or ClearAll.
type ManagedProcess struct {
	TaskID    string
	ProjectID string
	AgentID   string
	StartedAt time.Time

	mu        sync.Mutex
	state     State
	process   agent.ProcessHandle
	errMsg    string
	outputLog []protocol.AgentOutputEvent
	timeout   *time.Timer
}

// State returns the current lifecycle state.
func (p *ManagedProcess) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the failure reason, set only on failed/timed_out.
func (p *ManagedProcess) Err() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errMsg
}

// OutputLog returns a copy of the append-only output log in arrival order.
func (p *ManagedProcess) OutputLog() []protocol.AgentOutputEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.AgentOutputEvent, len(p.outputLog))
	copy(out, p.outputLog)
	return out
}

// PID returns the OS process id, or 0 when no process is attached.
func (p *ManagedProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.process == nil {
		return 0
	}
	return p.process.PID()
}

func (p *ManagedProcess) handle() agent.ProcessHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.process
}

func (p *ManagedProcess) setHandle(h agent.ProcessHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.process = h
}

func (p *ManagedProcess) armTimeout(t *time.Timer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// The state may already be terminal if the process died instantly; never
	// leave a timer armed on a finished task.
	if p.state.Terminal() {
		t.Stop()
		return
	}
	p.timeout = t
}

func (p *ManagedProcess) disarmTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTimerLocked()
}

func (p *ManagedProcess) stopTimerLocked() {
	if p.timeout != nil {
		p.timeout.Stop()
		p.timeout = nil
	}
}

// transition moves the record to a non-terminal-or-terminal target state
// unless a terminal state has already won. The timer is disarmed on every
// terminal transition, from any path.
func (p *ManagedProcess) transition(to State, errMsg string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Terminal() {
		return false
	}
	p.state = to
	if errMsg != "" {
		p.errMsg = errMsg
	}
	if to.Terminal() {
		p.stopTimerLocked()
	}
	return true
}

// transitionFrom is the check-and-set variant: the move happens only when the
// current state matches from.
func (p *ManagedProcess) transitionFrom(from, to State, errMsg string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != from {
		return false
	}
	p.state = to
	if errMsg != "" {
		p.errMsg = errMsg
	}
	if to.Terminal() {
		p.stopTimerLocked()
	}
	return true
}

// pause moves a running record to paused. It reports whether the record is
// paused afterwards; paused is sticky, terminal states refuse.
func (p *ManagedProcess) pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Terminal() {
		return false
	}
	if p.state == StateRunning {
		p.state = StatePaused
	}
	return p.state == StatePaused
}

func (p *ManagedProcess) appendOutput(evt protocol.AgentOutputEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputLog = append(p.outputLog, evt)
}
