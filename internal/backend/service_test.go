package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"n2nctl/internal/config"
	"n2nctl/internal/direct"
	"n2nctl/internal/execx"
	"n2nctl/internal/n2n/n2ntest"
	"n2nctl/internal/store"
	"n2nctl/internal/supervise"
)

type fakeProcess struct {
	once sync.Once
	done chan struct{}
}

func (p *fakeProcess) Wait() error { <-p.done; return nil }
func (p *fakeProcess) Kill() error { p.once.Do(func() { close(p.done) }); return nil }
func (p *fakeProcess) Pid() int    { return 4242 }

type fakeLauncher struct {
	mu       sync.Mutex
	launched []string
}

func (l *fakeLauncher) Launch(path string, args []string, _ io.Writer) (execx.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launched = append(l.launched, strings.TrimSpace(path+" "+strings.Join(args, " ")))
	return &fakeProcess{done: make(chan struct{})}, nil
}

func (l *fakeLauncher) Launched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.launched...)
}

type recordRunner struct {
	mu   sync.Mutex
	cmds []string
	out  string
}

func (r *recordRunner) Run(name string, args ...string) error {
	_, err := r.Output(name, args...)
	return err
}

func (r *recordRunner) Output(name string, args ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, name+" "+strings.Join(args, " "))
	return r.out, nil
}

type fixture struct {
	svc      *Service
	launcher *fakeLauncher
	edge     *n2ntest.Server
	settings *store.Settings
	runner   *recordRunner
}

func newFixture(t *testing.T, members string) *fixture {
	t.Helper()

	edge, err := n2ntest.NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = edge.Close() })

	dir := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/members/lers10" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(members))
	}))
	t.Cleanup(dir.Close)

	settings, err := store.Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("store.Load: %v", err)
	}
	cfg := config.Default()
	cfg.N2N.Server = "sn.example.net"
	cfg.N2N.MemberServer = dir.URL
	cfg.N2N.ControlPort = edge.Port()
	if err := config.ToSettings(settings, cfg); err != nil {
		t.Fatalf("ToSettings: %v", err)
	}

	launcher := &fakeLauncher{}
	runner := &recordRunner{}
	svc, err := New(Options{
		Settings:    settings,
		Supervisor:  supervise.New(launcher, log.New(io.Discard, "", 0)),
		Runner:      runner,
		Logger:      log.New(io.Discard, "", 0),
		BaseDir:     "/opt/n2nctl",
		GOOS:        "linux",
		MgmtTimeout: 100 * time.Millisecond,
		AliveTries:  2,
		AliveDelay:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return &fixture{svc: svc, launcher: launcher, edge: edge, settings: settings, runner: runner}
}

func (f *fixture) updateConfig(t *testing.T, fn func(*config.Config)) {
	t.Helper()
	cfg, err := config.FromSettings(f.settings)
	if err != nil {
		t.Fatalf("FromSettings: %v", err)
	}
	fn(&cfg)
	if err := config.ToSettings(f.settings, cfg); err != nil {
		t.Fatalf("ToSettings: %v", err)
	}
}

func TestStart_LaunchesEdgeOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"status":true,"members":[]}`)
	for i := 0; i < 2; i++ {
		ok, err := f.svc.Start(context.Background())
		if err != nil || !ok {
			t.Fatalf("Start #%d: ok=%v err=%v", i, ok, err)
		}
	}
	got := f.launcher.Launched()
	want := fmt.Sprintf("/opt/n2nctl/client/x64/edge -c lers10 -l sn.example.net:49898 -I Default -E -p 49898 -t %d", f.edge.Port())
	if len(got) != 1 || got[0] != want {
		t.Fatalf("launched=%v", got)
	}
}

func TestStart_RequiresServer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"status":true,"members":[]}`)
	f.updateConfig(t, func(c *config.Config) { c.N2N.Server = "" })
	if _, err := f.svc.Start(context.Background()); err == nil {
		t.Fatal("expected validation error")
	}
	if len(f.launcher.Launched()) != 0 {
		t.Fatal("edge launched with invalid config")
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"status":true,"members":[]}`)
	ok, err := f.svc.Status(context.Background())
	if err != nil || ok {
		t.Fatalf("before start: ok=%v err=%v", ok, err)
	}

	if _, err := f.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ok, err = f.svc.Status(context.Background())
	if err != nil || !ok {
		t.Fatalf("running: ok=%v err=%v", ok, err)
	}

	f.edge.SetSilent(true)
	if _, err := f.svc.Status(context.Background()); !errors.Is(err, ErrNotResponding) {
		t.Fatalf("silent: err=%v", err)
	}
}

func TestStop_SendsStopAndKills(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"status":true,"members":[]}`)
	f.edge.Rows("stop")
	if _, err := f.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ok, err := f.svc.Stop(context.Background())
	if err != nil || !ok {
		t.Fatalf("Stop: ok=%v err=%v", ok, err)
	}
	reqs := f.edge.Requests()
	if len(reqs) == 0 || !strings.HasPrefix(reqs[len(reqs)-1], "w ") || !strings.HasSuffix(reqs[len(reqs)-1], " stop") {
		t.Fatalf("requests=%v", reqs)
	}
	if ok, _ := f.svc.Status(context.Background()); ok {
		t.Fatal("still running after Stop")
	}
	if _, err := f.svc.SelfIP(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err=%v", err)
	}
	if ok, err := f.svc.Stop(context.Background()); err != nil || !ok {
		t.Fatalf("second Stop: ok=%v err=%v", ok, err)
	}
}

func TestMembers_FiltersSelfAndFillsMode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"status":true,"members":[
		{"ip4addr":"10.0.0.7/24","desc":"me"},
		{"ip4addr":"10.0.0.2/24","desc":"alice"},
		{"ip4addr":"10.0.0.3/24"}]}`)
	f.edge.Rows("info", map[string]any{"ip4addr": "10.0.0.7"})
	f.edge.Rows("edges", map[string]any{"ip4addr": "10.0.0.2", "desc": "alice", "mode": "p2p"})

	if _, err := f.svc.Members(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("before start: err=%v", err)
	}
	if _, err := f.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got, err := f.svc.Members(context.Background())
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("members=%+v", got)
	}
	if got[0].Address != "10.0.0.2/24" || got[0].Name != "alice" || got[0].Mode != "p2p" {
		t.Fatalf("member0=%+v", got[0])
	}
	if got[1].Name != "Default" || got[1].Mode != "None" {
		t.Fatalf("member1=%+v", got[1])
	}
}

func TestMembers_EdgesFailureKeepsDefaults(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"status":true,"members":[{"ip4addr":"10.0.0.2/24","desc":"alice"}]}`)
	f.edge.Rows("info", map[string]any{"ip4addr": "10.0.0.7"})
	if _, err := f.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got, err := f.svc.Members(context.Background())
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(got) != 1 || got[0].Mode != "None" {
		t.Fatalf("members=%+v", got)
	}
}

func TestMembers_DirectoryRejects(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"status":false}`)
	f.edge.Rows("info", map[string]any{"ip4addr": "10.0.0.7"})
	if _, err := f.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.svc.Members(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPing_UDPMode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"status":true,"members":[]}`)
	resp, err := direct.StartResponder("127.0.0.1:0")
	if err != nil {
		t.Fatalf("StartResponder: %v", err)
	}
	defer resp.Close()
	port, err := strconv.Atoi(resp.LocalAddr()[strings.LastIndexByte(resp.LocalAddr(), ':')+1:])
	if err != nil {
		t.Fatalf("port: %v", err)
	}

	f.updateConfig(t, func(c *config.Config) {
		c.Ping.Method = "udp"
		c.Ping.ProbePort = port
		c.Ping.Count = 2
		c.Ping.Interval = time.Millisecond
		c.Ping.Timeout = time.Second
	})

	ms, err := f.svc.Ping(context.Background(), "127.0.0.1/8")
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if ms < 0 || ms > 1000 {
		t.Fatalf("ms=%d", ms)
	}
	if resp.Served() != 2 {
		t.Fatalf("served=%d", resp.Served())
	}
}

func TestPing_InvalidHost(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"status":true,"members":[]}`)
	if _, err := f.svc.Ping(context.Background(), "not-an-ip"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNATDetect_NeedsTwoServers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"status":true,"members":[]}`)
	f.updateConfig(t, func(c *config.Config) { c.STUNServers = []string{"stun.example.net:3478"} })
	if _, err := f.svc.NATDetect(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestShareLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"status":true,"members":[]}`)
	dir := t.TempDir()
	if err := f.svc.ShareStart(dir); err != nil {
		t.Fatalf("ShareStart: %v", err)
	}
	if err := f.svc.ShareStart(dir); err != nil {
		t.Fatalf("second ShareStart: %v", err)
	}
	got := f.launcher.Launched()
	want := "/opt/n2nctl/client/x64/miniserve " + dir + " -p 8090 -H -r -D -F"
	if len(got) != 1 || got[0] != want {
		t.Fatalf("launched=%v", got)
	}
	if ok, err := f.svc.ShareStop(); err != nil || !ok {
		t.Fatalf("ShareStop: ok=%v err=%v", ok, err)
	}
	if err := f.svc.ShareStart(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestBroadcastLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"status":true,"members":[]}`)
	if f.svc.BroadcastStatus() {
		t.Fatal("running before start")
	}
	if ok, err := f.svc.BroadcastStart(); err != nil || !ok {
		t.Fatalf("BroadcastStart: ok=%v err=%v", ok, err)
	}
	if !f.svc.BroadcastStatus() {
		t.Fatal("not running after start")
	}
	if got := f.launcher.Launched(); got[0] != "/opt/n2nctl/client/x64/WinIPBroadcast run" {
		t.Fatalf("launched=%v", got)
	}
	if ok, err := f.svc.BroadcastStop(); err != nil || !ok {
		t.Fatalf("BroadcastStop: ok=%v err=%v", ok, err)
	}
	if f.svc.BroadcastStatus() {
		t.Fatal("running after stop")
	}
}

func TestFirewall_WindowsUsesAbsoluteProgramPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"status":true,"members":[]}`)
	f.svc.opts.GOOS = "windows"
	f.svc.opts.BaseDir = `C:\n2nctl`
	f.runner.out = "No rules match the specified criteria."

	ok, err := f.svc.EdgeFirewallCheck()
	if err != nil || ok {
		t.Fatalf("check: ok=%v err=%v", ok, err)
	}
	if err := f.svc.PingFirewallAdd(); err != nil {
		t.Fatalf("PingFirewallAdd: %v", err)
	}
	if len(f.runner.cmds) != 2 || !strings.Contains(f.runner.cmds[1], "protocol=icmpv4:8,any") {
		t.Fatalf("cmds=%v", f.runner.cmds)
	}
}

func TestBinPath(t *testing.T) {
	t.Parallel()

	s := &Service{opts: Options{GOOS: "windows", BaseDir: "base"}}
	if got := s.binPath("client/x64/edge"); got != filepath.Join("base", "client/x64/edge.exe") {
		t.Fatalf("got=%q", got)
	}
	s.opts.GOOS = "linux"
	if got := s.binPath("/usr/sbin/edge"); got != "/usr/sbin/edge" {
		t.Fatalf("got=%q", got)
	}
}

func TestCheckAdapter_Linux(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"status":true,"members":[]}`)
	// Result depends on the host; the call must not touch the runner.
	_ = f.svc.CheckAdapter()
	if len(f.runner.cmds) != 0 {
		t.Fatalf("cmds=%v", f.runner.cmds)
	}
}
