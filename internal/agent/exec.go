package agent

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// ExecHandle adapts an os/exec command to the ProcessHandle contract. Wait
// must be called after both pipes are drained, which matches the supervisor's
// drain-then-finalize join.
type ExecHandle struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
}

// StartCommand wires stdout/stderr pipes, starts the command and returns a
// handle owning the process.
func StartCommand(cmd *exec.Cmd) (*ExecHandle, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	return &ExecHandle{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// PID returns the OS process id.
func (h *ExecHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Stdout returns the process's standard output pipe.
func (h *ExecHandle) Stdout() io.Reader { return h.stdout }

// Stderr returns the process's standard error pipe.
func (h *ExecHandle) Stderr() io.Reader { return h.stderr }

// Wait blocks until the process exits. A non-zero exit status is reported via
// the returned code, not as an error; the error return is reserved for wait
// failures themselves.
func (h *ExecHandle) Wait() (int, error) {
	err := h.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}

// Kill forcibly terminates the process. The pipes close as a consequence, so
// stream consumers terminate naturally via EOF.
func (h *ExecHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}
