package network

import (
	"errors"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

// Probe defaults.
const (
	DefaultProbeCount   = 3
	DefaultProbeTimeout = 5 * time.Second
)

// ProbeConfig describes an ICMP reachability check run from inside the
// joined network namespace before the command starts.
type ProbeConfig struct {
	Addr    string        `json:"addr"`
	Count   int           `json:"count,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Validate fills in defaults and rejects an unusable configuration.
func (c *ProbeConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("probe address is empty")
	}
	if c.Count < 0 {
		return fmt.Errorf("invalid probe count %d", c.Count)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid probe timeout %s", c.Timeout)
	}
	if c.Count == 0 {
		c.Count = DefaultProbeCount
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultProbeTimeout
	}
	return nil
}

// Probe pings cfg.Addr and succeeds once at least one reply arrives within
// cfg.Timeout. The ICMP socket is opened on the calling thread, so the probe
// runs in whatever network namespace that thread is in.
func Probe(cfg *ProbeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	pinger, err := probing.NewPinger(cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to resolve probe address %s: %w", cfg.Addr, err)
	}
	pinger.Count = cfg.Count
	pinger.Timeout = cfg.Timeout
	pinger.SetPrivileged(true)

	if err := pinger.Run(); err != nil {
		return fmt.Errorf("failed to probe %s: %w", cfg.Addr, err)
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return fmt.Errorf("no reply from %s after %d packets", cfg.Addr, stats.PacketsSent)
	}

	zap.L().Debug("probe succeeded",
		zap.String("addr", cfg.Addr),
		zap.Int("received", stats.PacketsRecv),
		zap.Duration("avg_rtt", stats.AvgRtt))
	return nil
}
