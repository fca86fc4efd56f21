package model

import "time"

// PeerInfo is one member of the current group as reported by the backend.
// Address is the identity key.
type PeerInfo struct {
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
	Mode    string `json:"mode" yaml:"mode"` // p2p|relay|...
}

// PeerRecord is a PeerInfo annotated with the last measured latency.
// LatencyMs is 0 until a probe for this address succeeds.
type PeerRecord struct {
	Info      PeerInfo `json:"info"`
	LatencyMs int      `json:"latency_ms"`
}

// Sample is a single latency measurement.
type Sample struct {
	Timestamp time.Time
	Address   string
	Name      string
	Mode      string
	RTTMs     float64
}
