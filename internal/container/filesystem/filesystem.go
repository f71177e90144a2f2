// Package filesystem performs the mounts and file writes the init process
// needs before it executes the command.
package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Mount is a struct representing a mount in the container's filesystem.
type Mount struct {
	Source string
	Target string
	FSType string
	Flags  uintptr
	Data   string
}

// ProcMount is a fresh procfs for the new PID namespace. Its flags forbid
// setuid binaries, execution and device files.
var ProcMount = &Mount{
	Source: "proc",
	Target: "proc",
	FSType: "proc",
	Flags:  unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV,
}

// Mounter performs mount(2). It exists so tests can observe mounts without privileges.
type Mounter interface {
	Mount(source, target, fstype string, flags uintptr, data string) error
}

// DefaultMounter calls mount(2) directly.
type DefaultMounter struct{}

// Mount wraps unix.Mount.
func (DefaultMounter) Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

// Filesystem is an abstraction over a container's filesystem.
type Filesystem struct {
	Root    string
	mounter Mounter
}

// NewFilesystem creates a new filesystem object for the given root directory.
// A nil mounter selects DefaultMounter.
func NewFilesystem(root string, mounter Mounter) (*Filesystem, error) {
	fileInfo, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("root directory does not exist: %s", root)
		}
		return nil, fmt.Errorf("failed to get file info for root directory: %s: %w", root, err)
	}
	if !fileInfo.IsDir() {
		return nil, fmt.Errorf("root directory is a file and not a directory: %s", root)
	}

	if mounter == nil {
		mounter = DefaultMounter{}
	}
	return &Filesystem{Root: root, mounter: mounter}, nil
}

// Mount mounts the given mount into the filesystem.
func (fs *Filesystem) Mount(mount *Mount) error {
	target := filepath.Join(fs.Root, mount.Target)
	if err := fs.mounter.Mount(mount.Source, target, mount.FSType, mount.Flags, mount.Data); err != nil {
		return fmt.Errorf("failed to mount %s on %s: %w", mount.FSType, target, os.NewSyscallError("mount", err))
	}

	zap.L().Debug("mounted", zap.String("fstype", mount.FSType), zap.String("target", target))
	return nil
}
