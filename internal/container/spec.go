// Package container launches a command inside new PID, mount, IPC and UTS
// namespaces after joining an existing network namespace. Launch runs in the
// supervising parent; Init runs in the re-executed child and ends by
// replacing itself with the command.
package container

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/elispeigel/nsrun/internal/container/network"
)

// ErrInvalidSpec is wrapped by every Spec validation failure.
var ErrInvalidSpec = errors.New("invalid spec")

// DefaultRelaySignals are forwarded to the child when a Spec names none.
var DefaultRelaySignals = []os.Signal{syscall.SIGINT}

// Spec describes one launch.
type Spec struct {
	// NetNSPath references an existing network namespace, usually a bind
	// mount under /var/run/netns.
	NetNSPath string
	// PIDFile receives the child's pid as decimal text.
	PIDFile string
	// Args is the command and its arguments. Args[0] is looked up in PATH
	// and is also the command's own argv[0].
	Args []string

	RelaySignals []os.Signal
	Loopback     bool
	Probe        *network.ProbeConfig
}

// Validate checks that the spec can be launched and fills in defaults.
func (s *Spec) Validate() error {
	if s.NetNSPath == "" {
		return fmt.Errorf("%w: network namespace path is empty", ErrInvalidSpec)
	}
	if s.PIDFile == "" {
		return fmt.Errorf("%w: pid file path is empty", ErrInvalidSpec)
	}
	if len(s.Args) == 0 || s.Args[0] == "" {
		return fmt.Errorf("%w: command is empty", ErrInvalidSpec)
	}
	if s.Probe != nil {
		if err := s.Probe.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
	}
	if len(s.RelaySignals) == 0 {
		s.RelaySignals = DefaultRelaySignals
	}
	return nil
}

// SpecBuilder is a builder for Spec.
type SpecBuilder struct {
	spec Spec
}

// NewSpecBuilder returns a new SpecBuilder.
func NewSpecBuilder() *SpecBuilder {
	return &SpecBuilder{}
}

// WithNetNSPath sets the network namespace to join.
func (b *SpecBuilder) WithNetNSPath(path string) *SpecBuilder {
	b.spec.NetNSPath = path
	return b
}

// WithPIDFile sets the pid file path.
func (b *SpecBuilder) WithPIDFile(path string) *SpecBuilder {
	b.spec.PIDFile = path
	return b
}

// WithArgs sets the command and its arguments.
func (b *SpecBuilder) WithArgs(args ...string) *SpecBuilder {
	b.spec.Args = append([]string(nil), args...)
	return b
}

// WithRelaySignals replaces the signals forwarded to the child.
func (b *SpecBuilder) WithRelaySignals(sigs ...os.Signal) *SpecBuilder {
	b.spec.RelaySignals = append([]os.Signal(nil), sigs...)
	return b
}

// WithLoopback brings up lo in the joined namespace before the command runs.
func (b *SpecBuilder) WithLoopback(enabled bool) *SpecBuilder {
	b.spec.Loopback = enabled
	return b
}

// WithProbe pings cfg.Addr from inside the joined namespace before the
// command runs.
func (b *SpecBuilder) WithProbe(cfg *network.ProbeConfig) *SpecBuilder {
	b.spec.Probe = cfg
	return b
}

// Build validates and returns the Spec.
func (b *SpecBuilder) Build() (*Spec, error) {
	spec := b.spec
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}
