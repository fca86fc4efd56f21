package roster

import (
	"context"

	"n2nctl/internal/addrutil"
	"n2nctl/internal/model"
)

// Prober runs on-demand latency probes and folds results into a Store.
// Concurrent probes, including two for the same address, are independent.
type Prober struct {
	store    *Store
	pinger   Pinger
	notifier Notifier
}

// NewProber wires a prober to its store and gateway.
func NewProber(store *Store, pinger Pinger, notifier Notifier) *Prober {
	return &Prober{store: store, pinger: pinger, notifier: notifier}
}

// Probe measures the peer at index, whose address is expected to be
// address. An empty address returns 0 without calling the gateway. A
// gateway fault is notified and returned; the roster keeps its previous
// value for that peer. Faults arriving after ctx is done or the store is
// closed are returned without notification.
func (p *Prober) Probe(ctx context.Context, index int, address string) (int, error) {
	host := addrutil.StripPrefix(address)
	if host == "" {
		return 0, nil
	}

	gen := p.store.Generation()
	ms, err := p.pinger.Ping(ctx, host)
	if err != nil {
		if ctx.Err() == nil && !p.store.Closed() {
			notify(p.notifier, err)
		}
		return 0, err
	}
	if ms < 0 {
		ms = 0
	}
	p.store.Dispatch(LatencyMeasured{
		Generation: gen,
		Index:      index,
		Address:    address,
		LatencyMs:  ms,
	})
	return ms, nil
}

// ProbeAll probes every peer of the current roster one after another and
// returns the records that were measured, with their new latency.
func (p *Prober) ProbeAll(ctx context.Context) []model.PeerRecord {
	var measured []model.PeerRecord
	for i, rec := range p.store.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		if rec.Info.Address == "" {
			continue
		}
		ms, err := p.Probe(ctx, i, rec.Info.Address)
		if err != nil {
			continue
		}
		rec.LatencyMs = ms
		measured = append(measured, rec)
	}
	return measured
}
