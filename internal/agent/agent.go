// Package agent runs a roster view: it follows the tunnel state, keeps the
// member roster fresh and optionally measures every peer on a schedule.
package agent

import (
	"context"
	"log"
	"time"

	"n2nctl/internal/metrics"
	"n2nctl/internal/model"
	"n2nctl/internal/roster"
)

// Gateway is the part of the command gateway a roster view calls.
type Gateway interface {
	roster.MemberSource
	roster.Pinger
	Status(ctx context.Context) (bool, error)
}

// Options configures Run. Gateway is required.
type Options struct {
	Gateway Gateway
	// Interval drives both the status check and the member poll.
	Interval time.Duration
	// ProbeInterval enables periodic latency probes of every peer when > 0.
	ProbeInterval time.Duration
	Visible       roster.VisibilityFunc
	// Render receives a copy of the roster after every change.
	Render      func([]model.PeerRecord)
	Notifier    roster.Notifier
	MetricsPath string
	Logger      *log.Logger
	// Store lets callers observe the roster; a new one is created when nil.
	Store *roster.Store
}

// Run drives the view until ctx is done. The store is closed on return so
// results still in flight are discarded.
func Run(ctx context.Context, opts Options) error {
	if opts.Interval <= 0 {
		opts.Interval = roster.DefaultInterval
	}
	if opts.Visible == nil {
		opts.Visible = roster.AlwaysVisible
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = roster.LogNotifier{Logger: opts.Logger}
	}
	st := opts.Store
	if st == nil {
		st = roster.NewStore()
	}
	defer st.Close()
	if opts.Render != nil {
		st.OnChange(opts.Render)
	}

	sched := roster.NewScheduler(st, opts.Gateway, opts.Notifier)
	prober := roster.NewProber(st, opts.Gateway, opts.Notifier)

	checkStatus(ctx, opts.Gateway, st, opts.Notifier)
	sched.Tick(ctx, st.Active, opts.Visible)

	statusTicker := time.NewTicker(opts.Interval)
	defer statusTicker.Stop()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx, opts.Interval, st.Active, opts.Visible)
	}()
	defer func() { <-schedDone }()

	var probeC <-chan time.Time
	if opts.ProbeInterval > 0 {
		probeTicker := time.NewTicker(opts.ProbeInterval)
		defer probeTicker.Stop()
		probeC = probeTicker.C
	}
	probing := false
	probeDone := make(chan []model.PeerRecord, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-statusTicker.C:
			checkStatus(ctx, opts.Gateway, st, opts.Notifier)
		case <-probeC:
			if probing || !st.Active() || !opts.Visible() {
				break
			}
			probing = true
			go func() { probeDone <- prober.ProbeAll(ctx) }()
		case measured := <-probeDone:
			probing = false
			if ctx.Err() != nil {
				break
			}
			record(opts.MetricsPath, measured, opts.Logger)
		}
	}
}

func record(path string, measured []model.PeerRecord, logger *log.Logger) {
	if path == "" || len(measured) == 0 {
		return
	}
	now := time.Now().UTC()
	samples := make([]model.Sample, 0, len(measured))
	for _, rec := range measured {
		samples = append(samples, model.Sample{
			Timestamp: now,
			Address:   rec.Info.Address,
			Name:      rec.Info.Name,
			Mode:      rec.Info.Mode,
			RTTMs:     float64(rec.LatencyMs),
		})
	}
	if err := metrics.AppendCSV(path, samples); err != nil {
		logger.Printf("append metrics failed: %v", err)
	}
}
