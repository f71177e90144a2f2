// Package namespace describes the Linux namespaces a container is created in
// and joins namespaces that already exist.
package namespace

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// NamespaceType is an enumeration of the different types of Linux namespaces.
type NamespaceType int

// These constants define the types of namespaces that can be created or joined.
const (
	NamespaceTypePID NamespaceType = iota
	NamespaceTypeMount
	NamespaceTypeIPC
	NamespaceTypeUTS
	NamespaceTypeNet
)

var namespaceInfo = map[NamespaceType]struct {
	name string
	flag uintptr
}{
	NamespaceTypePID:   {"pid", unix.CLONE_NEWPID},
	NamespaceTypeMount: {"mnt", unix.CLONE_NEWNS},
	NamespaceTypeIPC:   {"ipc", unix.CLONE_NEWIPC},
	NamespaceTypeUTS:   {"uts", unix.CLONE_NEWUTS},
	NamespaceTypeNet:   {"net", unix.CLONE_NEWNET},
}

// String returns the name the kernel uses for the namespace in /proc/<pid>/ns.
func (t NamespaceType) String() string {
	if info, ok := namespaceInfo[t]; ok {
		return info.name
	}
	return fmt.Sprintf("NamespaceType(%d)", int(t))
}

// CloneFlag returns the clone(2) flag creating a namespace of this type.
func (t NamespaceType) CloneFlag() uintptr {
	return namespaceInfo[t].flag
}

// Set is a combination of namespaces created together for one process.
type Set []NamespaceType

// Isolated is the set every launched command gets. The network namespace is
// not part of it: it is joined by path instead of being created.
var Isolated = Set{
	NamespaceTypePID,
	NamespaceTypeMount,
	NamespaceTypeIPC,
	NamespaceTypeUTS,
}

// CloneFlags returns the bitmask of clone(2) flags for the set.
func (s Set) CloneFlags() uintptr {
	var flags uintptr
	for _, t := range s {
		flags |= t.CloneFlag()
	}
	return flags
}

// Contains reports whether the set includes t.
func (s Set) Contains(t NamespaceType) bool {
	for _, member := range s {
		if member == t {
			return true
		}
	}
	return false
}

// String joins the names of the namespaces in the set.
func (s Set) String() string {
	names := make([]string, 0, len(s))
	for _, t := range s {
		names = append(names, t.String())
	}
	return strings.Join(names, ",")
}
