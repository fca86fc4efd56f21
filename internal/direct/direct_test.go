package direct

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestProbePeer_RoundTrip(t *testing.T) {
	t.Parallel()

	resp, err := StartResponder("127.0.0.1:0")
	if err != nil {
		t.Fatalf("StartResponder: %v", err)
	}
	defer resp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rtt, err := ProbePeer(ctx, resp.LocalAddr(), 2*time.Second)
	if err != nil {
		t.Fatalf("ProbePeer: %v", err)
	}
	if rtt <= 0 {
		t.Fatalf("rtt=%s", rtt)
	}
	if resp.Served() != 1 {
		t.Fatalf("served=%d", resp.Served())
	}
}

func TestAverage_CountsOnlyAcks(t *testing.T) {
	t.Parallel()

	resp, err := StartResponder("127.0.0.1:0")
	if err != nil {
		t.Fatalf("StartResponder: %v", err)
	}
	defer resp.Close()

	rtt, err := Average(context.Background(), resp.LocalAddr(), 3, 5*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("Average: %v", err)
	}
	if rtt <= 0 {
		t.Fatalf("rtt=%s", rtt)
	}
	if resp.Served() != 3 {
		t.Fatalf("served=%d", resp.Served())
	}
}

func TestAverage_SilentPeer(t *testing.T) {
	t.Parallel()

	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer silent.Close()

	_, err = Average(context.Background(), silent.LocalAddr().String(), 2, 0, 50*time.Millisecond)
	if !errors.Is(err, ErrNoAck) {
		t.Fatalf("err=%v", err)
	}
}

func TestProbePeer_ContextCancel(t *testing.T) {
	t.Parallel()

	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer silent.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := ProbePeer(ctx, silent.LocalAddr().String(), 0); err == nil {
		t.Fatal("expected error")
	}
}
