package network

import (
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/vishvananda/netlink"
)

type fakeNetworkHandler struct {
	links  []netlink.Link
	setUp  []string
	setErr error
}

func (h *fakeNetworkHandler) LinkList() ([]netlink.Link, error) {
	return h.links, nil
}

func (h *fakeNetworkHandler) LinkByName(name string) (netlink.Link, error) {
	for _, link := range h.links {
		if link.Attrs().Name == name {
			return link, nil
		}
	}
	return nil, errors.New("link not found")
}

func (h *fakeNetworkHandler) LinkSetUp(link netlink.Link) error {
	if h.setErr != nil {
		return h.setErr
	}
	h.setUp = append(h.setUp, link.Attrs().Name)
	return nil
}

func (h *fakeNetworkHandler) Close() {}

func device(name string, flags net.Flags) netlink.Link {
	return &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: name, Flags: flags}}
}

func TestLinkNames(t *testing.T) {
	handler := &fakeNetworkHandler{links: []netlink.Link{device("lo", 0), device("veth0", net.FlagUp)}}

	names, err := LinkNames(handler)
	if err != nil {
		t.Fatalf("LinkNames returned an error: %v", err)
	}
	if want := []string{"lo", "veth0"}; !reflect.DeepEqual(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestBringUpLoopback(t *testing.T) {
	t.Run("down", func(t *testing.T) {
		handler := &fakeNetworkHandler{links: []netlink.Link{device("lo", 0)}}
		if err := BringUpLoopback(handler); err != nil {
			t.Fatalf("BringUpLoopback returned an error: %v", err)
		}
		if !reflect.DeepEqual(handler.setUp, []string{"lo"}) {
			t.Errorf("expected lo to be set up, got %v", handler.setUp)
		}
	})

	t.Run("already up", func(t *testing.T) {
		handler := &fakeNetworkHandler{links: []netlink.Link{device("lo", net.FlagUp|net.FlagLoopback)}}
		if err := BringUpLoopback(handler); err != nil {
			t.Fatalf("BringUpLoopback returned an error: %v", err)
		}
		if len(handler.setUp) != 0 {
			t.Errorf("expected no link changes, got %v", handler.setUp)
		}
	})

	t.Run("missing", func(t *testing.T) {
		handler := &fakeNetworkHandler{}
		if err := BringUpLoopback(handler); err == nil {
			t.Error("expected error for missing loopback, got nil")
		}
	})

	t.Run("set up fails", func(t *testing.T) {
		errDenied := errors.New("operation not permitted")
		handler := &fakeNetworkHandler{links: []netlink.Link{device("lo", 0)}, setErr: errDenied}
		if err := BringUpLoopback(handler); !errors.Is(err, errDenied) {
			t.Errorf("expected wrapped error, got %v", err)
		}
	})
}

func TestProbeConfigValidate(t *testing.T) {
	cfg := &ProbeConfig{Addr: "10.0.0.1"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned an error: %v", err)
	}
	if cfg.Count != DefaultProbeCount || cfg.Timeout != DefaultProbeTimeout {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	invalid := []*ProbeConfig{
		{},
		{Addr: "10.0.0.1", Count: -1},
		{Addr: "10.0.0.1", Timeout: -time.Second},
	}
	for _, cfg := range invalid {
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for %+v, got nil", cfg)
		}
	}
}

func TestProbeRejectsEmptyAddress(t *testing.T) {
	if err := Probe(&ProbeConfig{}); err == nil {
		t.Error("expected error for empty address, got nil")
	}
}
