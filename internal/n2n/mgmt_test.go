package n2n

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"n2nctl/internal/n2n/n2ntest"
)

func newPair(t *testing.T, opts ...Option) (*n2ntest.Server, *Client) {
	t.Helper()

	srv, err := n2ntest.NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	opts = append([]Option{WithTimeout(200 * time.Millisecond)}, opts...)
	c, err := DialAddr(srv.Addr(), opts...)
	if err != nil {
		t.Fatalf("DialAddr: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return srv, c
}

func TestInfo(t *testing.T) {
	t.Parallel()

	srv, c := newPair(t)
	srv.Rows("info", map[string]any{"version": "3.0", "ip4addr": "10.0.0.7", "macaddr": "02:00"})

	ip, err := c.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if ip != "10.0.0.7" {
		t.Fatalf("ip=%q", ip)
	}
	if got := srv.Requests()[0]; got != "r 0 info" {
		t.Fatalf("request=%q", got)
	}
}

func TestInfo_NoAddressYet(t *testing.T) {
	t.Parallel()

	srv, c := newPair(t)
	srv.Rows("info", map[string]any{"version": "3.0"})
	ip, err := c.Info(context.Background())
	if err != nil || ip != UnknownIP {
		t.Fatalf("ip=%q err=%v", ip, err)
	}
}

func TestEdges_DefaultsMode(t *testing.T) {
	t.Parallel()

	srv, c := newPair(t)
	srv.Rows("edges",
		map[string]any{"ip4addr": "10.0.0.2", "desc": "alice", "mode": "p2p"},
		map[string]any{"ip4addr": "10.0.0.3", "desc": "bob", "mode": ""},
	)
	edges, err := c.Edges(context.Background())
	if err != nil {
		t.Fatalf("Edges: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("edges=%+v", edges)
	}
	if edges[0] != (Edge{Address: "10.0.0.2", Desc: "alice", Mode: "p2p"}) {
		t.Fatalf("edge0=%+v", edges[0])
	}
	if edges[1].Mode != "Unknown" {
		t.Fatalf("mode=%q", edges[1].Mode)
	}
}

func TestCall_RemoteError(t *testing.T) {
	t.Parallel()

	_, c := newPair(t)
	_, err := c.Read(context.Background(), "nosuchcmd")
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("err=%v", err)
	}
	if re.Message != "unknowncmd" {
		t.Fatalf("message=%q", re.Message)
	}
}

func TestCall_Timeout(t *testing.T) {
	t.Parallel()

	srv, c := newPair(t)
	srv.SetSilent(true)
	if _, err := c.Read(context.Background(), "help"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v", err)
	}
	if c.Ping(context.Background()) {
		t.Fatal("silent edge answered ping")
	}
}

func TestCall_KeyAndTagSequence(t *testing.T) {
	t.Parallel()

	srv, c := newPair(t, WithKey("secret"))
	srv.Handle("stop", func(kind string) ([]map[string]any, string) {
		if kind != "w" {
			return nil, "readonly"
		}
		return nil, ""
	})
	if !c.Ping(context.Background()) {
		t.Fatal("ping failed")
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	reqs := srv.Requests()
	if reqs[0] != "r 0:1:secret help" || reqs[1] != "w 1:1:secret stop" {
		t.Fatalf("requests=%v", reqs)
	}
}

func TestAlive_RetriesThenGivesUp(t *testing.T) {
	t.Parallel()

	srv, c := newPair(t)
	srv.SetSilent(true)
	if c.Alive(context.Background(), 2, 10*time.Millisecond) {
		t.Fatal("expected not alive")
	}
	if n := len(srv.Requests()); n != 2 {
		t.Fatalf("requests=%d", n)
	}
	srv.SetSilent(false)
	if !c.Alive(context.Background(), 3, 10*time.Millisecond) {
		t.Fatal("expected alive")
	}
}

func TestTagWrapsAt1000(t *testing.T) {
	t.Parallel()

	srv, c := newPair(t)
	c.tag = 999
	if !c.Ping(context.Background()) || !c.Ping(context.Background()) {
		t.Fatal("ping failed")
	}
	reqs := srv.Requests()
	if !strings.HasPrefix(reqs[0], "r 999 ") || !strings.HasPrefix(reqs[1], "r 0 ") {
		t.Fatalf("requests=%v", reqs)
	}
}
