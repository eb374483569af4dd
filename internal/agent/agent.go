// Package agent defines the contract between the process supervisor and the
// pluggable drivers that know how to invoke a specific coding-agent CLI.
package agent

import (
	"context"
	"io"
	"time"

	"github.com/owlkaboom/nightshift-sub004/internal/protocol"
)

// ProcessHandle is the supervisor's exclusive grip on a spawned agent process.
type ProcessHandle interface {
	// PID returns the OS process id.
	PID() int
	// Stdout is the process's standard output stream.
	Stdout() io.Reader
	// Stderr is the process's standard error stream.
	Stderr() io.Reader
	// Wait blocks until the process exits and returns its exit code. It must
	// be called after both streams have been drained.
	Wait() (int, error)
	// Kill forcibly terminates the process. Stream consumers terminate
	// naturally via EOF when the pipes close.
	Kill() error
}

// OutputFunc receives one classified event from ParseOutput. Returning false
// stops parsing before EOF.
type OutputFunc func(protocol.AgentOutputEvent) bool

// Adapter translates the generic spawn/parse/classify contract into a specific
// agent CLI's invocation and output format.
type Adapter interface {
	// ID is the stable registry key for this adapter.
	ID() string
	// Name is the human-readable adapter name.
	Name() string
	// IsAvailable reports whether the underlying CLI can be invoked. Checked
	// once at start; availability is not re-validated mid-run.
	IsAvailable() bool
	// Invoke spawns a process for the task described by opts.
	Invoke(ctx context.Context, opts protocol.InvokeOptions) (ProcessHandle, error)
	// ParseOutput decodes the process's stdout into typed events, invoking fn
	// for each. Protocol knowledge lives here, not in the supervisor.
	ParseOutput(r io.Reader, fn OutputFunc) error
	// DetectAuthError reports whether an already-classified error message
	// indicates an authentication failure.
	DetectAuthError(message string) bool
	// DetectRateLimit reports whether a raw line indicates transient
	// throttling.
	DetectRateLimit(line string) bool
	// DetectUsageLimit reports whether a raw line indicates quota exhaustion,
	// and the reset time when the provider included one.
	DetectUsageLimit(line string) (bool, *time.Time)
}

// CredentialPreloader is an optional capability an adapter may additionally
// satisfy. When it does, the supervisor invokes it before spawning so the
// child process does not stall on credential prompts.
type CredentialPreloader interface {
	PreloadCredentials(ctx context.Context) error
}
