package container

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/elispeigel/nsrun/internal/container/filesystem"
	"github.com/elispeigel/nsrun/internal/container/namespace"
	"github.com/elispeigel/nsrun/internal/container/network"
	"github.com/elispeigel/nsrun/internal/container/process"
	"github.com/elispeigel/nsrun/internal/logging"
)

// Exit statuses of the init process. The launcher never looks past the
// status, so each failing step gets its own.
const (
	ExitInitConfig = 9
	ExitPIDFile    = 10
	ExitNetNSOpen  = 11
	ExitNetNSJoin  = 12
	ExitNetwork    = 13
	ExitMount      = 14
	ExitCannotExec = 126
	ExitNotFound   = 127
)

// initPipeFd is where the launcher hands the InitConfig to the child: the
// first of exec.Cmd.ExtraFiles.
const initPipeFd = 3

// InitConfig is sent from the launcher to the init process as JSON.
type InitConfig struct {
	NetNSPath string               `json:"netns_path"`
	PIDFile   string               `json:"pid_file"`
	Args      []string             `json:"args"`
	HostPID   int                  `json:"host_pid,omitempty"`
	Loopback  bool                 `json:"loopback,omitempty"`
	Probe     *network.ProbeConfig `json:"probe,omitempty"`
	Log       logging.Config       `json:"log"`
}

// InitError is a failed init step together with the exit status it maps to.
type InitError struct {
	Op   string
	Code int
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ExitCode returns the status the init process should exit with for err.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var initErr *InitError
	if errors.As(err, &initErr) {
		return initErr.Code
	}
	return 1
}

// Init runs inside the new namespaces. It reads its InitConfig from fd 3,
// records the pid, joins the network namespace, mounts /proc and executes
// the command. It only returns on failure.
//
// The calling goroutine must be locked to the main OS thread, since the
// network namespace join applies to the calling thread only.
func Init() error {
	cfg, err := readInitConfig(os.NewFile(initPipeFd, "init-pipe"))
	if err != nil {
		return &InitError{Op: "read init config", Code: ExitInitConfig, Err: err}
	}
	if _, err := logging.Setup(cfg.Log); err != nil {
		return &InitError{Op: "set up logging", Code: ExitInitConfig, Err: err}
	}
	return newIsolateEntry().run(cfg)
}

func readInitConfig(r io.ReadCloser) (*InitConfig, error) {
	defer r.Close()

	var cfg InitConfig
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode init config: %w", err)
	}
	if len(cfg.Args) == 0 {
		return nil, errors.New("init config has no command")
	}
	return &cfg, nil
}

// isolateEntry is the child's setup pipeline. Each step is a field so the
// ordering and exit statuses can be checked without privileges.
type isolateEntry struct {
	writePIDFile func(path string, pid int) error
	joinNetwork  func(path string) error
	setupNetwork func(cfg *InitConfig) error
	mountProc    func() error
	exec         func(argv, env []string) error
}

func newIsolateEntry() *isolateEntry {
	return &isolateEntry{
		writePIDFile: filesystem.WritePIDFile,
		joinNetwork:  namespace.JoinNetwork,
		setupNetwork: setupNetwork,
		mountProc:    mountProc,
		exec:         process.Exec,
	}
}

func (e *isolateEntry) run(cfg *InitConfig) error {
	pid := cfg.HostPID
	if pid <= 0 {
		pid = os.Getpid()
	}
	if err := e.writePIDFile(cfg.PIDFile, pid); err != nil {
		return &InitError{Op: "record pid", Code: ExitPIDFile, Err: err}
	}

	if err := e.joinNetwork(cfg.NetNSPath); err != nil {
		code := ExitNetNSJoin
		var joinErr *namespace.JoinError
		if errors.As(err, &joinErr) && joinErr.Op == "open" {
			code = ExitNetNSOpen
		}
		return &InitError{Op: "join network namespace", Code: code, Err: err}
	}

	if err := e.setupNetwork(cfg); err != nil {
		return &InitError{Op: "set up network", Code: ExitNetwork, Err: err}
	}

	if err := e.mountProc(); err != nil {
		return &InitError{Op: "mount proc", Code: ExitMount, Err: err}
	}

	if err := e.exec(cfg.Args, os.Environ()); err != nil {
		code := ExitCannotExec
		if process.IsNotFound(err) {
			code = ExitNotFound
		}
		return &InitError{Op: "exec", Code: code, Err: err}
	}
	return nil
}

func setupNetwork(cfg *InitConfig) error {
	if cfg.Loopback || zap.L().Core().Enabled(zapcore.DebugLevel) {
		handler, err := network.NewDefaultNetworkHandler()
		if err != nil {
			return err
		}
		defer handler.Close()

		if err := configureLinks(handler, cfg.Loopback); err != nil {
			return err
		}
	}

	if cfg.Probe != nil {
		return network.Probe(cfg.Probe)
	}
	return nil
}

func configureLinks(handler network.NetworkHandler, loopback bool) error {
	names, err := network.LinkNames(handler)
	if err != nil {
		zap.L().Warn("failed to list links", zap.Error(err))
	} else {
		zap.L().Debug("links in network namespace", zap.Strings("links", names))
	}

	if loopback {
		return network.BringUpLoopback(handler)
	}
	return nil
}

func mountProc() error {
	fs, err := filesystem.NewFilesystem("/", nil)
	if err != nil {
		return err
	}
	return fs.Mount(filesystem.ProcMount)
}
