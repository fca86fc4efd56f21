package addrutil

import (
	"net"
	"strconv"
	"strings"
)

// StripPrefix returns the host part of a virtual address. The member
// directory reports addresses with their network prefix ("10.0.0.2/24");
// ping targets and self comparisons need the bare IP.
func StripPrefix(addr string) string {
	a := strings.TrimSpace(addr)
	if i := strings.IndexByte(a, '/'); i >= 0 {
		a = a[:i]
	}
	return a
}

// SameHost reports whether a and b name the same host, ignoring any
// prefix length or port.
func SameHost(a, b string) bool {
	ha := hostFromAddr(StripPrefix(a))
	hb := hostFromAddr(StripPrefix(b))
	if ha == "" || hb == "" {
		return false
	}
	if ia, ib := net.ParseIP(ha), net.ParseIP(hb); ia != nil && ib != nil {
		return ia.Equal(ib)
	}
	return ha == hb
}

// ProbeAddr builds the UDP probe address for a peer.
//
// The peer address may carry a prefix or a port of its own; both are
// dropped and the host is joined with probePort.
func ProbeAddr(addr string, probePort int) (string, bool) {
	if probePort <= 0 {
		return "", false
	}
	host := hostFromAddr(StripPrefix(addr))
	if host == "" {
		return "", false
	}
	return net.JoinHostPort(host, strconv.Itoa(probePort)), true
}

func hostFromAddr(addr string) string {
	a := strings.TrimSpace(addr)
	if a == "" {
		return ""
	}

	if h, _, err := net.SplitHostPort(a); err == nil {
		return h
	}

	// Unbracketed IPv6 "host:port".
	if strings.Count(a, ":") > 1 && !strings.HasPrefix(a, "[") {
		if net.ParseIP(a) != nil {
			return a
		}
		if last := strings.LastIndexByte(a, ':'); last > 0 && last < len(a)-1 {
			if _, err := strconv.Atoi(a[last+1:]); err == nil {
				return a[:last]
			}
		}
	}

	if strings.Contains(a, ":") {
		return strings.Trim(a, "[]")
	}
	return a
}
