package metrics

import (
	"math"
	"sort"
	"time"

	"n2nctl/internal/model"
)

// Summary is a basic statistics snapshot.
type Summary struct {
	Count    int
	From     time.Time
	To       time.Time
	AvgRTTMs float64
	P95RTTMs float64
	MinRTTMs float64
	MaxRTTMs float64
}

// Summarize computes summary metrics for items at or after since.
// An empty address filter matches every peer.
func Summarize(items []model.Sample, since time.Time, address string) Summary {
	filtered := make([]model.Sample, 0, len(items))
	for _, s := range items {
		if address != "" && s.Address != address {
			continue
		}
		if s.Timestamp.After(since) || s.Timestamp.Equal(since) {
			filtered = append(filtered, s)
		}
	}

	if len(filtered) == 0 {
		return Summary{Count: 0}
	}

	values := make([]float64, 0, len(filtered))
	var sumRTT float64
	minRTT := math.MaxFloat64
	maxRTT := 0.0
	from := filtered[0].Timestamp
	to := filtered[0].Timestamp

	for _, s := range filtered {
		values = append(values, s.RTTMs)
		sumRTT += s.RTTMs
		if s.RTTMs < minRTT {
			minRTT = s.RTTMs
		}
		if s.RTTMs > maxRTT {
			maxRTT = s.RTTMs
		}
		if s.Timestamp.Before(from) {
			from = s.Timestamp
		}
		if s.Timestamp.After(to) {
			to = s.Timestamp
		}
	}

	sort.Float64s(values)

	return Summary{
		Count:    len(filtered),
		From:     from,
		To:       to,
		AvgRTTMs: sumRTT / float64(len(filtered)),
		P95RTTMs: percentile(values, 0.95),
		MinRTTMs: minRTT,
		MaxRTTMs: maxRTT,
	}
}

// ByPeer groups summaries by address.
func ByPeer(items []model.Sample, since time.Time) map[string]Summary {
	addrs := make(map[string]struct{})
	for _, s := range items {
		addrs[s.Address] = struct{}{}
	}
	out := make(map[string]Summary, len(addrs))
	for addr := range addrs {
		if sum := Summarize(items, since, addr); sum.Count > 0 {
			out[addr] = sum
		}
	}
	return out
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
