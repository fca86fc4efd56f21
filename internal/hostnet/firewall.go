// Package hostnet inspects and prepares the host for the tunnel: inbound
// firewall rules and the virtual network adapter.
package hostnet

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"n2nctl/internal/execx"
)

const (
	EdgeRuleName  = "N2NCtl_Allow_Edge"
	PingRuleName  = "N2NCtl_Allow_Ping"
	ShareRuleName = "N2NCtl_Allow_Share"
)

// ErrUnsupported is returned for firewall operations on hosts without
// netsh.
var ErrUnsupported = errors.New("firewall rules are only managed on windows")

// netsh prints one of these when a rule lookup finds nothing.
var noRuleMarkers = []string{
	"No rules match the specified criteria",
	"没有与指定标准相匹配的规则",
}

// Firewall manages inbound allow rules through netsh advfirewall.
type Firewall struct {
	Runner execx.Runner
	// GOOS defaults to runtime.GOOS.
	GOOS string
}

func (f Firewall) goos() string {
	if f.GOOS != "" {
		return f.GOOS
	}
	return runtime.GOOS
}

// Exists reports whether a rule called name is present.
func (f Firewall) Exists(name string) (bool, error) {
	if f.goos() != "windows" {
		return false, ErrUnsupported
	}
	out, err := f.Runner.Output("netsh", "advfirewall", "firewall", "show", "rule", "name="+name)
	if err != nil {
		// netsh exits non-zero when nothing matches.
		if hasNoRuleMarker(err.Error()) {
			return false, nil
		}
		return false, fmt.Errorf("netsh show rule %s: %w", name, err)
	}
	return !hasNoRuleMarker(out), nil
}

// AllowProgram adds an inbound rule allowing program.
func (f Firewall) AllowProgram(name, program string) error {
	if f.goos() != "windows" {
		return ErrUnsupported
	}
	if program == "" {
		return fmt.Errorf("rule %s: empty program path", name)
	}
	_, err := f.Runner.Output("netsh", "advfirewall", "firewall", "add", "rule",
		"name="+name, "dir=in", "action=allow", "program="+program, "enable=yes")
	if err != nil {
		return fmt.Errorf("netsh add rule %s: %w", name, err)
	}
	return nil
}

// AllowICMPEcho adds an inbound rule allowing ICMPv4 echo requests.
func (f Firewall) AllowICMPEcho(name string) error {
	if f.goos() != "windows" {
		return ErrUnsupported
	}
	_, err := f.Runner.Output("netsh", "advfirewall", "firewall", "add", "rule",
		"name="+name, "protocol=icmpv4:8,any", "dir=in", "action=allow")
	if err != nil {
		return fmt.Errorf("netsh add rule %s: %w", name, err)
	}
	return nil
}

func hasNoRuleMarker(s string) bool {
	for _, m := range noRuleMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
