package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"n2nctl/internal/api"
	"n2nctl/internal/model"
)

type fakeBackend struct {
	mu      sync.Mutex
	running bool
	pinged  []string
	shared  string
}

func (f *fakeBackend) Members(context.Context) ([]model.PeerInfo, error) {
	return []model.PeerInfo{{Name: "alice", Address: "10.0.0.2/24", Mode: "p2p"}}, nil
}

func (f *fakeBackend) Ping(_ context.Context, host string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinged = append(f.pinged, host)
	return 17, nil
}

func (f *fakeBackend) Status(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

func (f *fakeBackend) Start(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return true, nil
}

func (f *fakeBackend) Stop(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return true, nil
}

func (f *fakeBackend) SelfIP(context.Context) (string, error) { return "10.0.0.7", nil }
func (f *fakeBackend) NATDetect(context.Context) (string, error) {
	return "", errors.New("udp is blocked")
}
func (f *fakeBackend) CheckAdapter() bool                     { return true }
func (f *fakeBackend) EdgeFirewallCheck() (bool, error)       { return false, nil }
func (f *fakeBackend) EdgeFirewallAdd() error                 { return nil }
func (f *fakeBackend) PingFirewallCheck() (bool, error)       { return true, nil }
func (f *fakeBackend) PingFirewallAdd() error                 { return nil }
func (f *fakeBackend) ShareFirewallCheck() (bool, error)      { return true, nil }
func (f *fakeBackend) ShareFirewallAdd() error                { return nil }
func (f *fakeBackend) ShareStop() (bool, error)               { return true, nil }
func (f *fakeBackend) BroadcastStart() (bool, error)          { return true, nil }
func (f *fakeBackend) BroadcastStop() (bool, error)           { return true, nil }
func (f *fakeBackend) BroadcastStatus() bool                  { return false }

func (f *fakeBackend) ShareStart(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shared = dir
	return nil
}

func newTestServer(t *testing.T, b Backend) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(b, Options{Logger: log.New(io.Discard, "", 0)})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, url, body string) (int, api.Envelope) {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer res.Body.Close()
	var env api.Envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return res.StatusCode, env
}

func TestInvoke_StatusCodes(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, &fakeBackend{})

	code, env := post(t, ts.URL+"/invoke/n2n_self_ip", "")
	if code != http.StatusOK || !env.OK || string(env.Result) != `"10.0.0.7"` {
		t.Fatalf("code=%d env=%+v", code, env)
	}

	code, env = post(t, ts.URL+"/invoke/no_such_command", "{}")
	if code != http.StatusNotFound || env.OK {
		t.Fatalf("code=%d env=%+v", code, env)
	}

	code, _ = post(t, ts.URL+"/invoke/ping_method", `{"hots":"10.0.0.2"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("unknown field: code=%d", code)
	}
	code, _ = post(t, ts.URL+"/invoke/ping_method", `{}`)
	if code != http.StatusBadRequest {
		t.Fatalf("missing host: code=%d", code)
	}

	res, err := http.Get(ts.URL + "/invoke/n2n_status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET code=%d", res.StatusCode)
	}
}

func TestInvoke_FaultIsRecorded(t *testing.T) {
	t.Parallel()

	s, ts := newTestServer(t, &fakeBackend{})
	code, env := post(t, ts.URL+"/invoke/nat_detect", "")
	if code != http.StatusOK || env.OK || env.Error != "udp is blocked" {
		t.Fatalf("code=%d env=%+v", code, env)
	}

	notes := s.Drain()
	if len(notes) != 1 || notes[0].Command != api.CmdNATDetect {
		t.Fatalf("notes=%+v", notes)
	}
	if again := s.Drain(); len(again) != 0 {
		t.Fatalf("not drained: %+v", again)
	}
}

func TestRecord_RingIsBounded(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeBackend{}, Options{Logger: log.New(io.Discard, "", 0)})
	for i := 0; i < MaxNotifications+10; i++ {
		s.record("n2n_members", errors.New("boom"))
	}
	if got := len(s.Drain()); got != MaxNotifications {
		t.Fatalf("len=%d", got)
	}
}

func TestClientRoundTrip(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	_, ts := newTestServer(t, b)
	c := api.NewClient(ts.URL)
	ctx := context.Background()

	if ok, err := c.Status(ctx); err != nil || ok {
		t.Fatalf("status: ok=%v err=%v", ok, err)
	}
	if ok, err := c.Start(ctx); err != nil || !ok {
		t.Fatalf("start: ok=%v err=%v", ok, err)
	}
	if ok, _ := c.Status(ctx); !ok {
		t.Fatal("not running after start")
	}

	members, err := c.Members(ctx)
	if err != nil || len(members) != 1 || members[0].Name != "alice" {
		t.Fatalf("members=%+v err=%v", members, err)
	}
	ms, err := c.Ping(ctx, "10.0.0.2")
	if err != nil || ms != 17 {
		t.Fatalf("ms=%d err=%v", ms, err)
	}
	if err := c.ShareStart(ctx, "/srv/share"); err != nil {
		t.Fatalf("ShareStart: %v", err)
	}
	b.mu.Lock()
	shared := b.shared
	b.mu.Unlock()
	if shared != "/srv/share" {
		t.Fatalf("shared=%q", shared)
	}
	if ok, err := c.FirewallCheck(ctx, api.CmdFirewallCheck); err != nil || ok {
		t.Fatalf("firewall: ok=%v err=%v", ok, err)
	}
	if err := c.FirewallAdd(ctx, api.CmdPingFirewallAdd); err != nil {
		t.Fatalf("FirewallAdd: %v", err)
	}

	_, err = c.NATDetect(ctx)
	var fault *api.Fault
	if !errors.As(err, &fault) || fault.Message != "udp is blocked" {
		t.Fatalf("err=%v", err)
	}
	notes, err := c.Notifications(ctx)
	if err != nil || len(notes) != 1 {
		t.Fatalf("notes=%+v err=%v", notes, err)
	}
}

func TestEveryCommandIsRouted(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeBackend{}, Options{Logger: log.New(io.Discard, "", 0)})
	for _, name := range []string{
		api.CmdMembers, api.CmdPing, api.CmdStatus, api.CmdStart, api.CmdStop,
		api.CmdSelfIP, api.CmdNATDetect, api.CmdCheckAdapter, api.CmdFirewallCheck,
		api.CmdFirewallAdd, api.CmdPingFirewallCheck, api.CmdPingFirewallAdd,
		api.CmdShareStart, api.CmdShareStop, api.CmdShareFirewallCheck,
		api.CmdShareFirewallAdd, api.CmdBroadcastStart, api.CmdBroadcastStop,
		api.CmdBroadcastStatus,
	} {
		if _, ok := s.commands[name]; !ok {
			t.Fatalf("command %s not routed", name)
		}
	}
}
