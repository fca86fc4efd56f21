package roster

import (
	"context"
	"log"

	"n2nctl/internal/model"
)

// MemberSource fetches the current member snapshot.
type MemberSource interface {
	Members(ctx context.Context) ([]model.PeerInfo, error)
}

// Pinger measures round-trip latency to host in milliseconds.
type Pinger interface {
	Ping(ctx context.Context, host string) (int, error)
}

// Notifier surfaces backend faults to the user. Notify must not block.
type Notifier interface {
	Notify(err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(error)

func (f NotifierFunc) Notify(err error) { f(err) }

// LogNotifier writes faults to a logger (log.Default when nil).
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Notify(err error) {
	if err == nil {
		return
	}
	l := n.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf("error: %v", err)
}

func notify(n Notifier, err error) {
	if n == nil || err == nil {
		return
	}
	n.Notify(err)
}
