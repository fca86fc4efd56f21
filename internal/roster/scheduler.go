package roster

import (
	"context"
	"time"
)

// DefaultInterval is the member poll period.
const DefaultInterval = 5 * time.Second

// VisibilityFunc reports whether the roster view is currently in the
// foreground.
type VisibilityFunc func() bool

// AlwaysVisible is a VisibilityFunc for views with no window.
func AlwaysVisible() bool { return true }

// Scheduler periodically refreshes a Store from a MemberSource.
type Scheduler struct {
	store    *Store
	source   MemberSource
	notifier Notifier
}

// NewScheduler wires a scheduler to its store and gateway.
func NewScheduler(store *Store, source MemberSource, notifier Notifier) *Scheduler {
	return &Scheduler{store: store, source: source, notifier: notifier}
}

// Tick performs one poll. Nothing happens while the tunnel is inactive or
// the view is hidden; otherwise exactly one snapshot is fetched and
// dispatched under the generation current at fetch time, so a result for
// a session that has since been stopped is discarded. The generation is
// read before active is consulted, so a shutdown between the two still
// invalidates the result. It returns whether a fetch was issued.
func (s *Scheduler) Tick(ctx context.Context, active func() bool, visible VisibilityFunc) bool {
	gen := s.store.Generation()
	if active == nil || !active() {
		return false
	}
	if visible != nil && !visible() {
		return false
	}

	peers, err := s.source.Members(ctx)
	if ctx.Err() != nil || s.store.Closed() {
		return true
	}
	if err != nil {
		notify(s.notifier, err)
		return true
	}
	s.store.Dispatch(MembersChanged{Generation: gen, Peers: peers})
	return true
}

// Run ticks every interval until ctx is done, then closes the store so
// fetches still in flight are dropped. Each tick runs on its own
// goroutine; a fetch that never returns does not hold back later ticks.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, active func() bool, visible VisibilityFunc) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.store.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go s.Tick(ctx, active, visible)
		}
	}
}
