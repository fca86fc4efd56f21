// Package roster keeps the member list of the active tunnel session in
// sync with the backend and annotates each member with measured latency.
package roster

import (
	"sync"

	"n2nctl/internal/model"
)

// Action is a roster transition. The concrete types are MembersChanged,
// LatencyMeasured and Shutdown.
type Action interface {
	isAction()
}

// MembersChanged carries a fresh snapshot fetched during Generation.
type MembersChanged struct {
	Generation uint64
	Peers      []model.PeerInfo
}

// LatencyMeasured patches the latency of the record at Index, provided it
// still belongs to Address.
type LatencyMeasured struct {
	Generation uint64
	Index      int
	Address    string
	LatencyMs  int
}

// Shutdown clears the roster and starts a new generation.
type Shutdown struct{}

func (MembersChanged) isAction()  {}
func (LatencyMeasured) isAction() {}
func (Shutdown) isAction()        {}

// State is the value Reduce operates on.
type State struct {
	Generation uint64
	Records    []model.PeerRecord
}

// Merge builds the roster for snapshot, carrying latency forward from
// existing records with the same address. Records absent from snapshot
// are dropped. The result is shorter than snapshot when it repeats an
// address.
func Merge(existing []model.PeerRecord, snapshot []model.PeerInfo) []model.PeerRecord {
	if len(snapshot) == 0 {
		return []model.PeerRecord{}
	}
	latency := make(map[string]int, len(existing))
	for _, r := range existing {
		if _, ok := latency[r.Info.Address]; !ok {
			latency[r.Info.Address] = r.LatencyMs
		}
	}

	out := make([]model.PeerRecord, 0, len(snapshot))
	seen := make(map[string]struct{}, len(snapshot))
	for _, p := range snapshot {
		// A repeated address keeps its first position only.
		if _, dup := seen[p.Address]; dup {
			continue
		}
		seen[p.Address] = struct{}{}
		out = append(out, model.PeerRecord{Info: p, LatencyMs: latency[p.Address]})
	}
	return out
}

// Reduce applies a to s and returns the next state. s is never mutated.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case MembersChanged:
		if a.Generation != s.Generation {
			return s
		}
		return State{Generation: s.Generation, Records: Merge(s.Records, a.Peers)}
	case LatencyMeasured:
		if a.Generation != s.Generation {
			return s
		}
		if a.Index < 0 || a.Index >= len(s.Records) {
			return s
		}
		if s.Records[a.Index].Info.Address != a.Address {
			return s
		}
		if a.LatencyMs < 0 {
			return s
		}
		records := append([]model.PeerRecord(nil), s.Records...)
		records[a.Index].LatencyMs = a.LatencyMs
		return State{Generation: s.Generation, Records: records}
	case Shutdown:
		return State{Generation: s.Generation + 1, Records: []model.PeerRecord{}}
	default:
		return s
	}
}

// Store is the roster owned by one view. Mutations happen only through
// Dispatch, SetActive and Close.
type Store struct {
	mu       sync.Mutex
	state    State
	version  uint64
	active   bool
	closed   bool
	onChange func([]model.PeerRecord)

	// deliverMu orders OnChange calls; delivered is the newest version
	// handed to onChange.
	deliverMu sync.Mutex
	delivered uint64
}

// NewStore returns an empty, inactive store.
func NewStore() *Store {
	return &Store{state: State{Records: []model.PeerRecord{}}}
}

// OnChange registers fn to receive a copy of the roster after every
// applied change. Calls are serialized and never go back to an older
// roster; a change superseded before it could be delivered is skipped.
// fn must not call Dispatch or SetActive.
func (s *Store) OnChange(fn func([]model.PeerRecord)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Dispatch applies a and reports whether the roster changed. Actions
// arriving after Close are dropped.
func (s *Store) Dispatch(a Action) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	prev := s.state
	s.state = Reduce(s.state, a)
	changed := !sameState(prev, s.state)
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.version++
	version := s.version
	fn := s.onChange
	var snap []model.PeerRecord
	if fn != nil {
		snap = copyRecords(s.state.Records)
	}
	s.mu.Unlock()

	if fn != nil {
		s.deliver(version, snap, fn)
	}
	return true
}

func (s *Store) deliver(version uint64, snap []model.PeerRecord, fn func([]model.PeerRecord)) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if version <= s.delivered {
		return
	}
	s.delivered = version
	fn(snap)
}

// SetActive records the tunnel state. An active to inactive transition
// clears the roster and invalidates every in-flight fetch.
func (s *Store) SetActive(active bool) {
	s.mu.Lock()
	was := s.active
	s.active = active
	s.mu.Unlock()

	if was && !active {
		s.Dispatch(Shutdown{})
	}
}

// Active reports the last state passed to SetActive.
func (s *Store) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Generation returns the current session generation.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Generation
}

// Snapshot returns a copy of the current roster.
func (s *Store) Snapshot() []model.PeerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRecords(s.state.Records)
}

// Close tears the store down. Any later Dispatch is a no-op.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func copyRecords(in []model.PeerRecord) []model.PeerRecord {
	return append([]model.PeerRecord{}, in...)
}

func sameState(a, b State) bool {
	if a.Generation != b.Generation || len(a.Records) != len(b.Records) {
		return false
	}
	for i := range a.Records {
		if a.Records[i] != b.Records[i] {
			return false
		}
	}
	return true
}
