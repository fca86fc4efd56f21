package backend

import (
	"context"
	"fmt"
	"net"
	"time"

	"n2nctl/internal/addrutil"
	"n2nctl/internal/config"
	"n2nctl/internal/direct"
	"n2nctl/internal/ping"
)

// Ping returns the average round trip to host in milliseconds, measured
// with the configured method.
func (s *Service) Ping(ctx context.Context, host string) (int, error) {
	host = addrutil.StripPrefix(host)
	if net.ParseIP(host) == nil {
		return 0, fmt.Errorf("invalid host %q", host)
	}
	cfg, err := s.Config()
	if err != nil {
		return 0, err
	}

	switch cfg.Ping.Method {
	case "udp":
		addr, ok := addrutil.ProbeAddr(host, cfg.Ping.ProbePort)
		if !ok {
			return 0, fmt.Errorf("no probe address for %q", host)
		}
		d, err := direct.Average(ctx, addr, cfg.Ping.Count, cfg.Ping.Interval, cfg.Ping.Timeout)
		if err != nil {
			return 0, err
		}
		return int(d / time.Millisecond), nil
	default:
		p := ping.Pinger{Count: cfg.Ping.Count, Timeout: cfg.Ping.Timeout, Interval: cfg.Ping.Interval}
		return p.Millis(ctx, host)
	}
}

// NATDetect classifies the local NAT against the first two configured
// STUN servers and returns the class name.
func (s *Service) NATDetect(ctx context.Context) (string, error) {
	cfg, err := s.Config()
	if err != nil {
		return "", err
	}
	if err := config.ValidateNAT(cfg); err != nil {
		return "", err
	}
	res, err := s.opts.Detector.Detect(ctx, cfg.STUNServers[0], cfg.STUNServers[1])
	if err != nil {
		return "", err
	}
	return res.Class.String(), nil
}
