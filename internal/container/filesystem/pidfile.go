package filesystem

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// WritePIDFile records pid at path as decimal text without a trailing
// newline. An existing file is truncated, never appended to. The file is not
// removed by this package; its lifecycle belongs to whoever reads it.
func WritePIDFile(path string, pid int) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open pid file: %w", err)
	}
	defer func() {
		if errClose := f.Close(); errClose != nil && err == nil {
			err = fmt.Errorf("failed to close pid file: %w", errClose)
		}
	}()

	if _, err := f.WriteString(strconv.Itoa(pid)); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}

	zap.L().Debug("recorded pid", zap.String("path", path), zap.Int("pid", pid))
	return nil
}

// ReadPIDFile returns the pid recorded at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", path, err)
	}
	return pid, nil
}
