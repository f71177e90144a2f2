package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Exec replaces the current process image with argv[0], resolved through
// PATH like execvp(3). argv is passed through untouched, so the new program
// sees the command exactly as given as its own name.
//
// Exec does not return on success. Any return is a failure.
func Exec(argv []string, env []string) error {
	if len(argv) == 0 {
		return errors.New("no command to execute")
	}

	path, err := exec.LookPath(argv[0])
	if errors.Is(err, exec.ErrDot) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("failed to find %s: %w", argv[0], err)
	}

	zap.L().Debug("executing", zap.String("path", path), zap.Strings("argv", argv))
	if err := unix.Exec(path, argv, env); err != nil {
		return fmt.Errorf("failed to execute %s: %w", path, os.NewSyscallError("execve", err))
	}
	return nil
}

// IsNotFound reports whether err from Exec means the command does not exist,
// as opposed to existing but not being executable.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
