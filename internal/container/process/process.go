package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/elispeigel/nsrun/internal/container/namespace"
)

// ErrNotStarted is returned by operations that need a running process.
var ErrNotStarted = errors.New("process not started")

// ProcessSpec describes the process to clone and the namespaces it gets.
type ProcessSpec struct {
	Path       string
	Args       []string
	Namespaces namespace.Set
	ExtraFiles []*os.File
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

// Process is a child started in its own set of namespaces.
type Process struct {
	cmd *exec.Cmd
}

// NewProcess creates a new container process based on the given ProcessSpec.
// Cancelling ctx kills the process.
func NewProcess(ctx context.Context, spec *ProcessSpec) (*Process, error) {
	if spec.Path == "" {
		return nil, errors.New("process path is empty")
	}

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: spec.Namespaces.CloneFlags(),
	}
	if spec.Namespaces.Contains(namespace.NamespaceTypeMount) {
		// Makes the runtime remount / as private, so nothing mounted in the
		// child propagates back to the host.
		cmd.SysProcAttr.Unshareflags = syscall.CLONE_NEWNS
	}
	cmd.ExtraFiles = spec.ExtraFiles
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr

	return &Process{cmd: cmd}, nil
}

// Start clones the process into its namespaces and runs it.
func (p *Process) Start() error {
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s in namespaces: %w", p.cmd.Path, err)
	}
	return nil
}

// Pid returns the process id as seen from the caller's PID namespace, or 0
// before Start.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Signal sends a signal to the container process.
func (p *Process) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return ErrNotStarted
	}
	return p.cmd.Process.Signal(sig)
}

// Wait waits for the container process to exit and returns its exit status.
// A process killed by a signal reports 128 plus the signal number.
func (p *Process) Wait() (int, error) {
	if p.cmd.Process == nil {
		return -1, ErrNotStarted
	}

	err := p.cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return -1, fmt.Errorf("failed to wait for process: %w", err)
		}
		status, ok := exitErr.Sys().(syscall.WaitStatus)
		if !ok {
			return -1, fmt.Errorf("failed to get wait status: %w", err)
		}
		return ExitStatus(status), nil
	}
	return 0, nil
}

// ExitStatus converts a wait status into a shell-style exit status.
func ExitStatus(status syscall.WaitStatus) int {
	if status.Signaled() {
		return 128 + int(status.Signal())
	}
	return status.ExitStatus()
}
