// Package network inspects and prepares the network namespace the init
// process joined. It never creates interfaces; the namespace is expected to
// be configured by whoever created it.
package network

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// LoopbackName is the name of the loopback link in every network namespace.
const LoopbackName = "lo"

// NetworkHandler defines the link operations the init process needs. The
// default implementation talks netlink in the caller's network namespace.
type NetworkHandler interface {
	LinkList() ([]netlink.Link, error)
	LinkByName(name string) (netlink.Link, error)
	LinkSetUp(link netlink.Link) error
	Close()
}

// DefaultNetworkHandler is a NetworkHandler backed by a netlink handle.
type DefaultNetworkHandler struct {
	handle *netlink.Handle
}

// NewDefaultNetworkHandler opens a netlink handle in the network namespace of
// the calling thread, so it must be created after the namespace is joined.
func NewDefaultNetworkHandler() (*DefaultNetworkHandler, error) {
	handle, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("failed to open netlink handle: %w", err)
	}
	return &DefaultNetworkHandler{handle: handle}, nil
}

func (dnh *DefaultNetworkHandler) LinkList() ([]netlink.Link, error) {
	return dnh.handle.LinkList()
}

func (dnh *DefaultNetworkHandler) LinkByName(name string) (netlink.Link, error) {
	return dnh.handle.LinkByName(name)
}

func (dnh *DefaultNetworkHandler) LinkSetUp(link netlink.Link) error {
	return dnh.handle.LinkSetUp(link)
}

// Close releases the netlink sockets.
func (dnh *DefaultNetworkHandler) Close() {
	dnh.handle.Delete()
}

// LinkNames returns the names of the links visible through handler.
func LinkNames(handler NetworkHandler) ([]string, error) {
	links, err := handler.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	names := make([]string, 0, len(links))
	for _, link := range links {
		names = append(names, link.Attrs().Name)
	}
	return names, nil
}

// BringUpLoopback sets the loopback link up. A link that is already up is left alone.
func BringUpLoopback(handler NetworkHandler) error {
	link, err := handler.LinkByName(LoopbackName)
	if err != nil {
		return fmt.Errorf("failed to find %s: %w", LoopbackName, err)
	}
	if link.Attrs().Flags&net.FlagUp != 0 {
		return nil
	}

	if err := handler.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring up %s: %w", LoopbackName, err)
	}

	zap.L().Debug("loopback is up", zap.Int("index", link.Attrs().Index))
	return nil
}
