// Package ping measures round-trip time with ICMP echo requests.
package ping

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	DefaultCount    = 3
	DefaultTimeout  = 3 * time.Second
	DefaultInterval = time.Second
)

// ErrNoReply is returned when none of the echo requests were answered.
var ErrNoReply = errors.New("no successful ping")

var seq atomic.Uint32

// Pinger sends Count echo requests Interval apart and averages the
// answered ones.
type Pinger struct {
	Count    int
	Timeout  time.Duration
	Interval time.Duration
	// Network is passed to icmp.ListenPacket. "udp4" needs no privileges
	// on Linux and macOS; "ip4:icmp" needs raw socket access.
	Network string
}

// Average pings host and returns the mean RTT of the answered requests.
func (p Pinger) Average(ctx context.Context, host string) (time.Duration, error) {
	ip, err := resolve(ctx, host)
	if err != nil {
		return 0, err
	}
	count := p.Count
	if count <= 0 {
		count = DefaultCount
	}
	interval := p.Interval
	if interval < 0 {
		interval = 0
	}

	conn, err := icmp.ListenPacket(p.network(), "0.0.0.0")
	if err != nil {
		return 0, fmt.Errorf("icmp listen: %w", err)
	}
	defer conn.Close()

	var total time.Duration
	ok := 0
	var lastErr error
	for i := 0; i < count; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(interval):
			}
		}
		rtt, err := p.echo(ctx, conn, ip)
		if err != nil {
			lastErr = err
			continue
		}
		total += rtt
		ok++
	}
	if ok == 0 {
		if lastErr != nil {
			return 0, fmt.Errorf("%w: %v", ErrNoReply, lastErr)
		}
		return 0, ErrNoReply
	}
	return total / time.Duration(ok), nil
}

// Millis is Average truncated to whole milliseconds.
func (p Pinger) Millis(ctx context.Context, host string) (int, error) {
	d, err := p.Average(ctx, host)
	if err != nil {
		return 0, err
	}
	return int(d / time.Millisecond), nil
}

func (p Pinger) network() string {
	if p.Network != "" {
		return p.Network
	}
	if runtime.GOOS == "windows" {
		return "ip4:icmp"
	}
	return "udp4"
}

func (p Pinger) echo(ctx context.Context, conn *icmp.PacketConn, ip net.IP) (time.Duration, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	id := os.Getpid() & 0xffff
	s := int(seq.Add(1) & 0xffff)
	payload := []byte(fmt.Sprintf("n2nctl-%d-%d", id, s))

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: id, Seq: s, Data: payload},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return 0, err
	}

	var dst net.Addr = &net.IPAddr{IP: ip}
	if p.network() == "udp4" {
		dst = &net.UDPAddr{IP: ip}
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := conn.WriteTo(wb, dst); err != nil {
		return 0, err
	}

	rb := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(rb)
		if err != nil {
			return 0, err
		}
		reply, err := icmp.ParseMessage(ipv4.ICMPTypeEchoReply.Protocol(), rb[:n])
		if err != nil {
			continue
		}
		if reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		body, ok := reply.Body.(*icmp.Echo)
		// The kernel rewrites the ID on unprivileged sockets; match on
		// sequence and payload instead.
		if !ok || body.Seq != s || !bytes.Equal(body.Data, payload) {
			continue
		}
		return time.Since(start), nil
	}
}

func resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("not an ipv4 address: %s", host)
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("no ipv4 address for %s", host)
}
