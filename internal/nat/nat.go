// Package nat holds the NAT classification used across n2nctl and the
// heuristic that estimates whether two classified endpoints can reach
// each other directly.
package nat

import "strings"

// Class is a NAT classification as produced by a STUN detection run.
type Class int

const (
	Unknown Class = iota
	OpenInternet
	FullCone
	RestrictedCone
	PortRestrictedCone
	Symmetric
)

var classNames = map[Class]string{
	Unknown:            "Unknown",
	OpenInternet:       "OpenInternet",
	FullCone:           "FullCone",
	RestrictedCone:     "RestrictedCone",
	PortRestrictedCone: "PortRestrictedCone",
	Symmetric:          "Symmetric",
}

var weights = map[Class]float64{
	OpenInternet:       3,
	FullCone:           2,
	RestrictedCone:     1,
	PortRestrictedCone: 0.5,
	Symmetric:          -1,
	Unknown:            -2,
}

// Classes lists every class in display order.
func Classes() []Class {
	return []Class{OpenInternet, FullCone, RestrictedCone, PortRestrictedCone, Symmetric, Unknown}
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return classNames[Unknown]
}

// ParseClass maps a class name (case-insensitive) back to a Class.
// Unrecognised names yield Unknown.
func ParseClass(s string) Class {
	s = strings.TrimSpace(s)
	for c, name := range classNames {
		if strings.EqualFold(name, s) {
			return c
		}
	}
	return Unknown
}

// Weight returns the compatibility weight of c. Values outside the
// enumeration weigh as Unknown.
func Weight(c Class) float64 {
	if w, ok := weights[c]; ok {
		return w
	}
	return weights[Unknown]
}

// Verdict is the three-way outcome of Estimate.
type Verdict int

const (
	Uncertain Verdict = iota
	Reachable
	Unreachable
)

func (v Verdict) String() string {
	switch v {
	case Reachable:
		return "likely reachable"
	case Unreachable:
		return "likely unreachable"
	default:
		return "uncertain, possibly reachable"
	}
}

// Estimate scores a pair of NAT classes. Positive means a direct path is
// likely, negative means unlikely, zero is undecided.
func Estimate(self, peer Class) float64 {
	return Weight(self) + Weight(peer)
}

// Judge converts an Estimate score into a Verdict.
func Judge(score float64) Verdict {
	switch {
	case score > 0:
		return Reachable
	case score < 0:
		return Unreachable
	default:
		return Uncertain
	}
}

// Compatible is Judge(Estimate(self, peer)).
func Compatible(self, peer Class) (float64, Verdict) {
	score := Estimate(self, peer)
	return score, Judge(score)
}
