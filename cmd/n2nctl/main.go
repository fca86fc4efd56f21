package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"n2nctl/internal/api"
	"n2nctl/internal/backend"
	"n2nctl/internal/config"
	"n2nctl/internal/controller"
	"n2nctl/internal/direct"
	"n2nctl/internal/execx"
	"n2nctl/internal/metrics"
	"n2nctl/internal/nat"
	"n2nctl/internal/store"
	"n2nctl/internal/supervise"
)

const usage = `n2nctl - n2n virtual LAN client control

Usage:
  n2nctl serve [--config <path>] [--listen 127.0.0.1:7480] [--base-dir <dir>] [--probe-listen :51900]
  n2nctl up|down|status|ip [--controller <addr>]
  n2nctl members [--controller <addr>]
  n2nctl ping --host <addr> [--controller <addr>]
  n2nctl nat [--controller <addr>]
  n2nctl compat --peer <class> [--self <class>] [--controller <addr>]
  n2nctl watch [--controller <addr>] [--interval 5s] [--probe-interval 30s] [--metrics-path <file>] [--tty-only]
  n2nctl watch --local [--config <path>] [--base-dir <dir>]
  n2nctl adapter [--controller <addr>]
  n2nctl firewall check|add [--kind edge|ping|share] [--controller <addr>]
  n2nctl share start <dir>|stop [--controller <addr>]
  n2nctl broadcast start|stop|status [--controller <addr>]
  n2nctl stats [--config <path>] [--path <file>] [--window 5m] [--peer <addr>]
  n2nctl config show|set|reset [--config <path>] [--group <name>] [--identification <name>] ...
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "serve":
		handleServe(os.Args[2:])
	case "up":
		handleUp(os.Args[2:])
	case "down":
		handleDown(os.Args[2:])
	case "status":
		handleStatus(os.Args[2:])
	case "ip":
		handleIP(os.Args[2:])
	case "members":
		handleMembers(os.Args[2:])
	case "ping":
		handlePing(os.Args[2:])
	case "nat":
		handleNAT(os.Args[2:])
	case "compat":
		handleCompat(os.Args[2:])
	case "watch":
		handleWatch(os.Args[2:])
	case "adapter":
		handleAdapter(os.Args[2:])
	case "firewall":
		handleFirewall(os.Args[2:])
	case "share":
		handleShare(os.Args[2:])
	case "broadcast":
		handleBroadcast(os.Args[2:])
	case "stats":
		handleStats(os.Args[2:])
	case "config":
		handleConfig(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to settings file")
	listen := fs.String("listen", "", "invoke API listen address")
	baseDir := fs.String("base-dir", "", "directory the helper binary paths are relative to")
	probeListen := fs.String("probe-listen", "", "UDP probe responder address (default :<ping.probe_port> when ping.method is udp)")
	_ = fs.Parse(args)

	svc, settings, err := openBackend(*configPath, *baseDir)
	if err != nil {
		fatal(err)
	}
	defer svc.Close()

	cfg, err := config.FromSettings(settings)
	if err != nil {
		fatal(err)
	}
	if *listen != "" {
		cfg.Controller.Listen = *listen
	}

	addr := *probeListen
	if addr == "" && cfg.Ping.Method == "udp" {
		addr = fmt.Sprintf(":%d", cfg.Ping.ProbePort)
	}
	if addr != "" {
		responder, err := direct.StartResponder(addr)
		if err != nil {
			fatal(err)
		}
		defer responder.Close()
		log.Printf("probe responder on %s", responder.LocalAddr())
	}

	ctx, cancel := signalContext()
	defer cancel()

	server := controller.NewServer(svc, controller.Options{Listen: cfg.Controller.Listen})
	if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func handleUp(args []string) {
	client, ctx, cancel := clientFromFlags("up", args)
	defer cancel()
	ok, err := client.Start(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "running=%t\n", ok)
}

func handleDown(args []string) {
	client, ctx, cancel := clientFromFlags("down", args)
	defer cancel()
	if _, err := client.Stop(ctx); err != nil {
		fatal(err)
	}
	fmt.Fprintln(os.Stdout, "stopped")
}

func handleStatus(args []string) {
	client, ctx, cancel := clientFromFlags("status", args)
	defer cancel()
	ok, err := client.Status(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "running=%t\n", ok)
}

func handleIP(args []string) {
	client, ctx, cancel := clientFromFlags("ip", args)
	defer cancel()
	ip, err := client.SelfIP(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintln(os.Stdout, ip)
}

func handleMembers(args []string) {
	client, ctx, cancel := clientFromFlags("members", args)
	defer cancel()
	members, err := client.Members(ctx)
	if err != nil {
		fatal(err)
	}
	if len(members) == 0 {
		fmt.Fprintln(os.Stdout, "no members")
		return
	}
	for _, m := range members {
		fmt.Fprintf(os.Stdout, "%-20s %-18s %s\n", m.Name, m.Address, m.Mode)
	}
}

func handlePing(args []string) {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	controllerAddr := fs.String("controller", config.DefaultListen, "invoke API address")
	host := fs.String("host", "", "virtual address of the peer")
	_ = fs.Parse(args)

	if *host == "" && fs.NArg() > 0 {
		*host = fs.Arg(0)
	}
	if *host == "" {
		fatal(errors.New("--host is required"))
	}

	ctx, cancel := signalContext()
	defer cancel()
	ms, err := api.NewClient(*controllerAddr).Ping(ctx, *host)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "host=%s rtt=%dms\n", *host, ms)
}

func handleNAT(args []string) {
	client, ctx, cancel := clientFromFlags("nat", args)
	defer cancel()
	class, err := client.NATDetect(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintln(os.Stdout, class)
}

func handleCompat(args []string) {
	fs := flag.NewFlagSet("compat", flag.ExitOnError)
	controllerAddr := fs.String("controller", config.DefaultListen, "invoke API address")
	self := fs.String("self", "", "own NAT class (detected through the controller when empty)")
	peer := fs.String("peer", "", "peer NAT class")
	_ = fs.Parse(args)

	if *peer == "" {
		fatal(fmt.Errorf("--peer is required (one of %s)", classList()))
	}
	if *self == "" {
		ctx, cancel := signalContext()
		defer cancel()
		detected, err := api.NewClient(*controllerAddr).NATDetect(ctx)
		if err != nil {
			fatal(err)
		}
		*self = detected
	}

	a, b := nat.ParseClass(*self), nat.ParseClass(*peer)
	score, verdict := nat.Compatible(a, b)
	fmt.Fprintf(os.Stdout, "self=%s peer=%s score=%.1f verdict=%s\n", a, b, score, verdict)
}

func handleAdapter(args []string) {
	client, ctx, cancel := clientFromFlags("adapter", args)
	defer cancel()
	ok, err := client.CheckAdapter(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "adapter=%t\n", ok)
}

func handleFirewall(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "firewall subcommand required\n")
		os.Exit(2)
	}
	action := args[0]
	fs := flag.NewFlagSet("firewall "+action, flag.ExitOnError)
	controllerAddr := fs.String("controller", config.DefaultListen, "invoke API address")
	kind := fs.String("kind", "edge", "rule kind: edge|ping|share")
	_ = fs.Parse(args[1:])

	check, add, err := firewallCommands(*kind)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := signalContext()
	defer cancel()
	client := api.NewClient(*controllerAddr)

	switch action {
	case "check":
		ok, err := client.FirewallCheck(ctx, check)
		if err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "%s rule present=%t\n", *kind, ok)
	case "add":
		if err := client.FirewallAdd(ctx, add); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "%s rule added\n", *kind)
	default:
		fmt.Fprintf(os.Stderr, "unknown firewall subcommand %q\n", action)
		os.Exit(2)
	}
}

func firewallCommands(kind string) (string, string, error) {
	switch kind {
	case "edge":
		return api.CmdFirewallCheck, api.CmdFirewallAdd, nil
	case "ping":
		return api.CmdPingFirewallCheck, api.CmdPingFirewallAdd, nil
	case "share":
		return api.CmdShareFirewallCheck, api.CmdShareFirewallAdd, nil
	default:
		return "", "", fmt.Errorf("unknown firewall kind %q", kind)
	}
}

func handleShare(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "share subcommand required\n")
		os.Exit(2)
	}
	action := args[0]
	fs := flag.NewFlagSet("share "+action, flag.ExitOnError)
	controllerAddr := fs.String("controller", config.DefaultListen, "invoke API address")
	_ = fs.Parse(args[1:])

	ctx, cancel := signalContext()
	defer cancel()
	client := api.NewClient(*controllerAddr)

	switch action {
	case "start":
		if fs.NArg() != 1 {
			fatal(errors.New("share start needs exactly one directory"))
		}
		dir, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			fatal(err)
		}
		if err := client.ShareStart(ctx, dir); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "sharing %s\n", dir)
	case "stop":
		if _, err := client.ShareStop(ctx); err != nil {
			fatal(err)
		}
		fmt.Fprintln(os.Stdout, "stopped")
	default:
		fmt.Fprintf(os.Stderr, "unknown share subcommand %q\n", action)
		os.Exit(2)
	}
}

func handleBroadcast(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "broadcast subcommand required\n")
		os.Exit(2)
	}
	action := args[0]
	fs := flag.NewFlagSet("broadcast "+action, flag.ExitOnError)
	controllerAddr := fs.String("controller", config.DefaultListen, "invoke API address")
	_ = fs.Parse(args[1:])

	ctx, cancel := signalContext()
	defer cancel()
	client := api.NewClient(*controllerAddr)

	var ok bool
	var err error
	switch action {
	case "start":
		ok, err = client.BroadcastStart(ctx)
	case "stop":
		ok, err = client.BroadcastStop(ctx)
	case "status":
		ok, err = client.BroadcastStatus(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown broadcast subcommand %q\n", action)
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "%s=%t\n", action, ok)
}

func handleStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to settings file")
	window := fs.Duration("window", config.DefaultMetricsWindow, "time window")
	path := fs.String("path", "", "metrics CSV path override")
	peer := fs.String("peer", "", "only this peer address")
	_ = fs.Parse(args)

	metricsPath := *path
	if metricsPath == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		metricsPath = cfg.MetricsPath
	}
	if metricsPath == "" {
		fatal(errors.New("metrics path required"))
	}

	items, err := metrics.ReadCSV(metricsPath)
	if err != nil {
		fatal(err)
	}

	cutoff := time.Now().UTC().Add(-*window)
	summary := metrics.Summarize(items, cutoff, *peer)
	if summary.Count == 0 {
		fmt.Fprintln(os.Stdout, "no samples in window")
		return
	}

	fmt.Fprintf(os.Stdout, "samples=%d from=%s to=%s\n", summary.Count, summary.From.Format(time.RFC3339), summary.To.Format(time.RFC3339))
	fmt.Fprintf(os.Stdout, "rtt avg=%.2fms p95=%.2fms min=%.2fms max=%.2fms\n", summary.AvgRTTMs, summary.P95RTTMs, summary.MinRTTMs, summary.MaxRTTMs)
	if *peer != "" {
		return
	}

	byPeer := metrics.ByPeer(items, cutoff)
	addrs := make([]string, 0, len(byPeer))
	for addr := range byPeer {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		s := byPeer[addr]
		fmt.Fprintf(os.Stdout, "  %-18s samples=%d avg=%.2fms p95=%.2fms\n", addr, s.Count, s.AvgRTTMs, s.P95RTTMs)
	}
}

func handleConfig(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "config subcommand required\n")
		os.Exit(2)
	}
	action := args[0]
	fs := flag.NewFlagSet("config "+action, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to settings file")
	group := fs.String("group", "", "n2n community name")
	ident := fs.String("identification", "", "description announced to the group")
	server := fs.String("server", "", "supernode host")
	port := fs.Int("port", 0, "supernode port")
	memberServer := fs.String("member-server", "", "member directory base URL")
	controlPort := fs.Int("control-port", 0, "edge management port")
	stunList := fs.String("stun", "", "comma-separated STUN servers")
	pingMethod := fs.String("ping-method", "", "icmp|udp")
	metricsPath := fs.String("metrics-path", "", "latency CSV path")
	_ = fs.Parse(args[1:])

	if action == "reset" {
		if err := config.Reset(*configPath); err != nil {
			fatal(err)
		}
		action = "show"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}

	switch action {
	case "show":
	case "set":
		overrideN2N(&cfg.N2N, *group, *ident, *server, *memberServer, *port, *controlPort)
		if *stunList != "" {
			cfg.STUNServers = splitList(*stunList)
		}
		if *pingMethod != "" {
			cfg.Ping.Method = *pingMethod
		}
		if *metricsPath != "" {
			cfg.MetricsPath = *metricsPath
		}
		if err := config.Save(*configPath, cfg); err != nil {
			fatal(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown config subcommand %q\n", action)
		os.Exit(2)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		fatal(err)
	}
	fmt.Fprint(os.Stdout, string(out))
}

func overrideN2N(cfg *config.N2NConfig, group, ident, server, memberServer string, port, controlPort int) {
	if group != "" {
		cfg.Group = group
	}
	if ident != "" {
		cfg.Identification = ident
	}
	if server != "" {
		cfg.Server = server
	}
	if memberServer != "" {
		cfg.MemberServer = memberServer
	}
	if port != 0 {
		cfg.Port = port
	}
	if controlPort != 0 {
		cfg.ControlPort = controlPort
	}
}

// openBackend builds an in-process backend around the settings file at path.
func openBackend(path, baseDir string) (*backend.Service, *store.Settings, error) {
	settings, err := store.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if baseDir != "" {
		if baseDir, err = filepath.Abs(baseDir); err != nil {
			return nil, nil, err
		}
	}
	logger := log.Default()
	svc, err := backend.New(backend.Options{
		Settings:   settings,
		Supervisor: supervise.New(execx.OSLauncher{Dir: baseDir}, logger),
		Runner:     execx.NewOSRunner(nil, nil),
		Logger:     logger,
		BaseDir:    baseDir,
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, settings, nil
}

func clientFromFlags(name string, args []string) (*api.Client, context.Context, context.CancelFunc) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	controllerAddr := fs.String("controller", config.DefaultListen, "invoke API address")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	return api.NewClient(*controllerAddr), ctx, cancel
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "n2nctl.yaml"
	}
	return filepath.Join(dir, "n2nctl", "settings.yaml")
}

func classList() string {
	names := make([]string, 0, len(nat.Classes()))
	for _, c := range nat.Classes() {
		names = append(names, c.String())
	}
	return strings.Join(names, ", ")
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
