package namespace

import (
	"fmt"

	"github.com/vishvananda/netns"
	"go.uber.org/zap"
)

// JoinError reports which step of joining a namespace failed.
type JoinError struct {
	Op   string
	Path string
	Err  error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *JoinError) Unwrap() error {
	return e.Err
}

// JoinNetwork moves the calling thread into the network namespace referenced
// by path, typically a bind mount under /var/run/netns or /proc/<pid>/ns/net.
// The handle is closed before returning; the membership survives the close.
//
// The caller must hold runtime.LockOSThread for the join to be useful.
func JoinNetwork(path string) error {
	handle, err := netns.GetFromPath(path)
	if err != nil {
		return &JoinError{Op: "open", Path: path, Err: err}
	}
	defer handle.Close()

	if err := netns.Set(handle); err != nil {
		return &JoinError{Op: "setns", Path: path, Err: err}
	}

	zap.L().Debug("joined network namespace", zap.String("path", path), zap.Stringer("handle", handle))
	return nil
}
