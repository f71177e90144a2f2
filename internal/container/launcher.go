package container

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/elispeigel/nsrun/internal/container/namespace"
	"github.com/elispeigel/nsrun/internal/container/process"
	"github.com/elispeigel/nsrun/internal/logging"
)

// Launcher starts the init process in fresh namespaces and supervises it.
type Launcher struct {
	// InitPath and InitArgs re-execute the current binary as the init process.
	InitPath string
	InitArgs []string
	// Namespaces are created for the child. The network namespace is never
	// part of this set; it is joined by the child instead.
	Namespaces namespace.Set
	// Log is handed to the child so both sides log alike.
	Log logging.Config

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// OnStart, if set, is called with the child's pid right after it starts.
	OnStart func(pid int)
}

// NewLauncher returns a Launcher that re-executes /proc/self/exe with the
// init argument and shares the caller's stdio with the child.
func NewLauncher(log logging.Config) *Launcher {
	return &Launcher{
		InitPath:   "/proc/self/exe",
		InitArgs:   []string{"init"},
		Namespaces: namespace.Isolated,
		Log:        log,
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
}

// Launch runs spec and blocks until the child exits, relaying spec's signals
// to it meanwhile. It returns the child's exit status, or 128 plus the
// signal number if the child was killed. Cancelling ctx kills the child.
func (l *Launcher) Launch(ctx context.Context, spec *Spec) (int, error) {
	if err := spec.Validate(); err != nil {
		return -1, err
	}
	zap.L().Info("launching", zap.String("netns", spec.NetNSPath), zap.Strings("cmd", spec.Args))

	r, w, err := os.Pipe()
	if err != nil {
		return -1, fmt.Errorf("failed to create init pipe: %w", err)
	}

	proc, err := process.NewProcess(ctx, &process.ProcessSpec{
		Path:       l.InitPath,
		Args:       l.InitArgs,
		Namespaces: l.Namespaces,
		ExtraFiles: []*os.File{r},
		Stdin:      l.Stdin,
		Stdout:     l.Stdout,
		Stderr:     l.Stderr,
	})
	if err != nil {
		r.Close()
		w.Close()
		return -1, err
	}

	// Registered before the child exists so nothing arriving during the
	// start is lost.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, spec.RelaySignals...)
	defer signal.Stop(sigc)

	err = proc.Start()
	r.Close()
	if err != nil {
		w.Close()
		return -1, fmt.Errorf("failed to clone into %s namespaces: %w", l.Namespaces, err)
	}

	pid := proc.Pid()
	zap.L().Debug("started init", zap.Int("pid", pid), zap.Stringer("namespaces", l.Namespaces))
	if l.OnStart != nil {
		l.OnStart(pid)
	}

	done := make(chan struct{})
	defer close(done)
	go relaySignals(proc, sigc, done)

	cfg := &InitConfig{
		NetNSPath: spec.NetNSPath,
		PIDFile:   spec.PIDFile,
		Args:      spec.Args,
		HostPID:   pid,
		Loopback:  spec.Loopback,
		Probe:     spec.Probe,
		Log:       l.Log,
	}
	if err := sendInitConfig(w, cfg); err != nil {
		_ = proc.Signal(syscall.SIGKILL)
		_, _ = proc.Wait()
		return -1, err
	}

	status, err := proc.Wait()
	if err != nil {
		return -1, err
	}
	if ctx.Err() != nil {
		zap.L().Warn("child stopped after context ended", zap.Int("pid", pid), zap.Int("status", status), zap.Error(ctx.Err()))
	}
	zap.L().Debug("child exited", zap.Int("pid", pid), zap.Int("status", status))
	return status, nil
}

func sendInitConfig(w io.WriteCloser, cfg *InitConfig) error {
	defer w.Close()

	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to send init config: %w", err)
	}
	return nil
}

type signaler interface {
	Pid() int
	Signal(sig os.Signal) error
}

// relaySignals forwards everything arriving on sigc to proc until done is closed.
func relaySignals(proc signaler, sigc <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case sig := <-sigc:
			zap.L().Info("received signal, relaying to child", zap.Stringer("signal", sig), zap.Int("pid", proc.Pid()))
			if err := proc.Signal(sig); err != nil {
				zap.L().Warn("failed to relay signal", zap.Stringer("signal", sig), zap.Error(err))
			}
		case <-done:
			return
		}
	}
}
