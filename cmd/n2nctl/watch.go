package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"n2nctl/internal/agent"
	"n2nctl/internal/api"
	"n2nctl/internal/config"
	"n2nctl/internal/model"
	"n2nctl/internal/roster"
)

func handleWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	controllerAddr := fs.String("controller", config.DefaultListen, "invoke API address")
	configPath := fs.String("config", defaultConfigPath(), "path to settings file")
	interval := fs.Duration("interval", 0, "member poll interval (default controller.poll_interval)")
	probeInterval := fs.Duration("probe-interval", 0, "probe every peer this often (0 disables)")
	metricsPath := fs.String("metrics-path", "", "append latency samples to this CSV")
	local := fs.Bool("local", false, "run the backend in-process instead of using a controller")
	baseDir := fs.String("base-dir", "", "helper binary directory for --local")
	ttyOnly := fs.Bool("tty-only", false, "pause polling while stdout is not a terminal")
	_ = fs.Parse(args)

	// The config record is read once for the lifetime of the view.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *interval <= 0 {
		*interval = cfg.Controller.PollInterval
	}
	if *metricsPath == "" {
		*metricsPath = cfg.MetricsPath
	}

	ctx, cancel := signalContext()
	defer cancel()

	var gw agent.Gateway
	if *local {
		svc, _, err := openBackend(*configPath, *baseDir)
		if err != nil {
			fatal(err)
		}
		defer svc.Close()
		if _, err := svc.Start(ctx); err != nil {
			fatal(err)
		}
		gw = svc
	} else {
		gw = api.NewClient(*controllerAddr)
	}

	visible := roster.VisibilityFunc(roster.AlwaysVisible)
	if *ttyOnly {
		visible = func() bool { return isTerminal(os.Stdout) }
	}

	fmt.Fprintf(os.Stdout, "watching group %s (every %s)\n", cfg.N2N.Group, *interval)
	err = agent.Run(ctx, agent.Options{
		Gateway:       gw,
		Interval:      *interval,
		ProbeInterval: *probeInterval,
		Visible:       visible,
		Render:        func(recs []model.PeerRecord) { renderRoster(os.Stdout, recs) },
		Notifier:      roster.LogNotifier{Logger: log.New(os.Stderr, "", log.LstdFlags)},
		MetricsPath:   *metricsPath,
	})
	if err != nil {
		fatal(err)
	}
}

func renderRoster(w io.Writer, recs []model.PeerRecord) {
	fmt.Fprintf(w, "[%s] %d peers\n", time.Now().Format("15:04:05"), len(recs))
	for _, rec := range recs {
		latency := "-"
		if rec.LatencyMs > 0 {
			latency = fmt.Sprintf("%dms", rec.LatencyMs)
		}
		fmt.Fprintf(w, "  %-20s %-18s %-8s %s\n", rec.Info.Name, rec.Info.Address, rec.Info.Mode, latency)
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
