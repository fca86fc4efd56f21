// Package stunutil classifies the local NAT with plain STUN binding
// requests against two servers.
package stunutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/stun/v3"

	"n2nctl/internal/nat"
)

const (
	DefaultTimeout = 2 * time.Second
	DefaultRetries = 3
)

var (
	ErrUDPBlocked        = errors.New("udp is blocked")
	ErrSymmetricFirewall = errors.New("symmetric udp firewall detected")
	ErrNoRebindReply     = errors.New("no reply after rebinding")
)

// Result is the outcome of a detection run.
type Result struct {
	Class  nat.Class
	Mapped string
}

// Detector runs the three-test classification.
type Detector struct {
	Timeout time.Duration
	Retries int
	// LocalIPs lists the host's own addresses; defaults to the interface
	// addresses of the machine.
	LocalIPs func() ([]net.IP, error)
}

// Detect classifies the NAT in front of this host.
//
// Test I queries server1; no reply means UDP is blocked and a mapping
// equal to a local address means no NAT. Test II queries server2 from the
// same socket; a different public IP means a symmetric NAT. Test III
// queries server1 again from a fresh socket and compares the mapping with
// Test I.
func (d Detector) Detect(ctx context.Context, server1, server2 string) (Result, error) {
	addr1, err := resolve(server1)
	if err != nil {
		return Result{}, err
	}
	addr2, err := resolve(server2)
	if err != nil {
		return Result{}, err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return Result{}, fmt.Errorf("bind: %w", err)
	}
	defer conn.Close()

	first, err := d.query(ctx, conn, addr1)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, ErrUDPBlocked
	}
	res := Result{Mapped: first.String()}

	local, err := d.localIPs()
	if err != nil {
		return Result{}, err
	}
	for _, ip := range local {
		if ip.Equal(first.IP) {
			res.Class = nat.OpenInternet
			return res, nil
		}
	}

	second, err := d.query(ctx, conn, addr2)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, ErrSymmetricFirewall
	}
	if !first.IP.Equal(second.IP) {
		res.Class = nat.Symmetric
		return res, nil
	}

	rebound, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return Result{}, fmt.Errorf("bind: %w", err)
	}
	defer rebound.Close()

	third, err := d.query(ctx, rebound, addr1)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, ErrNoRebindReply
	}
	res.Class = Classify(first, third)
	return res, nil
}

// Classify compares the Test I mapping with the mapping seen from a
// rebound socket.
func Classify(first, rebound *net.UDPAddr) nat.Class {
	switch {
	case first.IP.Equal(rebound.IP) && first.Port == rebound.Port:
		return nat.FullCone
	case first.Port == rebound.Port:
		return nat.RestrictedCone
	default:
		return nat.PortRestrictedCone
	}
}

func (d Detector) localIPs() ([]net.IP, error) {
	if d.LocalIPs != nil {
		return d.LocalIPs()
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if n, ok := a.(*net.IPNet); ok {
			ips = append(ips, n.IP)
		}
	}
	return ips, nil
}

func (d Detector) query(ctx context.Context, conn *net.UDPConn, server *net.UDPAddr) (*net.UDPAddr, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := d.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		addr, err := bindingRequest(ctx, conn, server, timeout)
		if err == nil {
			return addr, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func bindingRequest(ctx context.Context, conn *net.UDPConn, server *net.UDPAddr, timeout time.Duration) (*net.UDPAddr, error) {
	req := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if _, err := conn.WriteToUDP(req.Raw, server); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	buf := make([]byte, 1500)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}
		if !from.IP.Equal(server.IP) || from.Port != server.Port {
			continue
		}
		if !stun.IsMessage(buf[:n]) {
			continue
		}
		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			continue
		}
		if res.TransactionID != req.TransactionID {
			continue
		}
		return mappedAddr(res)
	}
}

func mappedAddr(m *stun.Message) (*net.UDPAddr, error) {
	var xor stun.XORMappedAddress
	if err := xor.GetFrom(m); err == nil {
		return &net.UDPAddr{IP: xor.IP, Port: xor.Port}, nil
	}
	var plain stun.MappedAddress
	if err := plain.GetFrom(m); err != nil {
		return nil, fmt.Errorf("no mapped address in response: %w", err)
	}
	return &net.UDPAddr{IP: plain.IP, Port: plain.Port}, nil
}

func resolve(server string) (*net.UDPAddr, error) {
	s := strings.TrimPrefix(strings.TrimSpace(server), "stun:")
	if s == "" {
		return nil, fmt.Errorf("empty STUN server")
	}
	addr, err := net.ResolveUDPAddr("udp4", s)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", server, err)
	}
	return addr, nil
}
