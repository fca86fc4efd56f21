// Package direct implements the UDP latency mode: a responder that answers
// probes on the virtual LAN and a prober that times the round trip.
// It is used where ICMP echo is filtered by the peer's firewall.
package direct

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	probePrefix = "n2nctl-probe:"
	ackPrefix   = "n2nctl-ack:"
)

// ErrNoAck is returned by Average when no probe was acknowledged.
var ErrNoAck = errors.New("no probe acknowledged")

// Responder listens for probes and replies with acks.
type Responder struct {
	conn *net.UDPConn

	mu     sync.Mutex
	served int
}

// StartResponder starts a UDP responder on the given address (e.g. ":51900").
func StartResponder(addr string) (*Responder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	resp := &Responder{conn: conn}
	go resp.serve()
	return resp, nil
}

// LocalAddr returns the local address of the responder.
func (r *Responder) LocalAddr() string {
	if r == nil || r.conn == nil {
		return ""
	}
	return r.conn.LocalAddr().String()
}

// Served returns the number of probes answered so far.
func (r *Responder) Served() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.served
}

// Close stops the responder.
func (r *Responder) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func (r *Responder) serve() {
	buf := make([]byte, 512)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg := string(buf[:n])
		if !strings.HasPrefix(msg, probePrefix) {
			continue
		}
		nonce := strings.TrimPrefix(msg, probePrefix)
		if _, err := r.conn.WriteToUDP([]byte(ackPrefix+nonce), addr); err == nil {
			r.mu.Lock()
			r.served++
			r.mu.Unlock()
		}
	}
}

// ProbePeer sends one probe to peerAddr and waits for its ack.
func ProbePeer(ctx context.Context, peerAddr string, timeout time.Duration) (time.Duration, error) {
	peerUDP, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return 0, err
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	nonce, err := randomNonce(8)
	if err != nil {
		return 0, err
	}

	deadline := time.Now().Add(timeout)
	if timeout <= 0 {
		deadline = time.Time{}
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	start := time.Now()
	if _, err := conn.WriteToUDP([]byte(probePrefix+nonce), peerUDP); err != nil {
		return 0, err
	}

	buf := make([]byte, 512)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, err
		}
		if !addr.IP.Equal(peerUDP.IP) || addr.Port != peerUDP.Port {
			continue
		}
		if string(buf[:n]) == ackPrefix+nonce {
			return time.Since(start), nil
		}
	}
}

// Average sends count probes interval apart and returns the mean RTT of
// the acknowledged ones.
func Average(ctx context.Context, peerAddr string, count int, interval, timeout time.Duration) (time.Duration, error) {
	if count <= 0 {
		return 0, fmt.Errorf("count must be > 0")
	}

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
		rtt, err := ProbePeer(ctx, peerAddr, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		total += rtt
		ok++
	}
	if ok == 0 {
		return 0, fmt.Errorf("%w: %v", ErrNoAck, lastErr)
	}
	return total / time.Duration(ok), nil
}

func randomNonce(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
