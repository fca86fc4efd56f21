package backend

import (
	"context"

	"n2nctl/internal/addrutil"
	"n2nctl/internal/directory"
	"n2nctl/internal/model"
)

const (
	defaultDesc = "Default"
	defaultMode = "None"
)

// Members returns the group members other than this edge. The mode of
// each member comes from the edge's own peer table when it knows the
// peer.
func (s *Service) Members(ctx context.Context) ([]model.PeerInfo, error) {
	mgmt, err := s.client()
	if err != nil {
		return nil, err
	}
	if !mgmt.Ping(ctx) {
		return nil, ErrNotResponding
	}
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}

	listed, err := directory.NewClient(cfg.N2N.MemberServer).Members(ctx, cfg.N2N.Group)
	if err != nil {
		return nil, err
	}
	self, err := mgmt.Info(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.PeerInfo, 0, len(listed))
	for _, m := range listed {
		if addrutil.SameHost(m.Address, self) {
			continue
		}
		name := m.Desc
		if name == "" {
			name = defaultDesc
		}
		out = append(out, model.PeerInfo{Name: name, Address: m.Address, Mode: defaultMode})
	}

	edges, err := mgmt.Edges(ctx)
	if err != nil {
		s.logger.Printf("edges query failed: %v", err)
		return out, nil
	}
	for _, e := range edges {
		for i := range out {
			if addrutil.SameHost(out[i].Address, e.Address) {
				out[i].Mode = e.Mode
				break
			}
		}
	}
	return out, nil
}
