package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"n2nctl/internal/hostnet"
)

// CheckAdapter reports whether the virtual network adapter is installed.
// Lookup failures count as not installed.
func (s *Service) CheckAdapter() bool {
	ok, err := hostnet.AdapterChecker{Runner: s.opts.Runner, GOOS: s.opts.GOOS, Logger: s.logger}.Check()
	if err != nil {
		s.logger.Printf("adapter check failed: %v", err)
		return false
	}
	return ok
}

func (s *Service) firewall() hostnet.Firewall {
	return hostnet.Firewall{Runner: s.opts.Runner, GOOS: s.opts.GOOS}
}

// EdgeFirewallCheck reports whether the inbound rule for the edge exists.
func (s *Service) EdgeFirewallCheck() (bool, error) {
	return s.firewall().Exists(hostnet.EdgeRuleName)
}

// EdgeFirewallAdd allows inbound traffic to the edge binary.
func (s *Service) EdgeFirewallAdd() error {
	cfg, err := s.Config()
	if err != nil {
		return err
	}
	prog, err := absPath(s.binPath(cfg.Paths.Edge))
	if err != nil {
		return err
	}
	return s.firewall().AllowProgram(hostnet.EdgeRuleName, prog)
}

// PingFirewallCheck reports whether inbound echo requests are allowed.
func (s *Service) PingFirewallCheck() (bool, error) {
	return s.firewall().Exists(hostnet.PingRuleName)
}

// PingFirewallAdd allows inbound echo requests.
func (s *Service) PingFirewallAdd() error {
	return s.firewall().AllowICMPEcho(hostnet.PingRuleName)
}

// ShareFirewallCheck reports whether the inbound rule for the file-share
// server exists.
func (s *Service) ShareFirewallCheck() (bool, error) {
	return s.firewall().Exists(hostnet.ShareRuleName)
}

// ShareFirewallAdd allows inbound traffic to the file-share server.
func (s *Service) ShareFirewallAdd() error {
	cfg, err := s.Config()
	if err != nil {
		return err
	}
	prog, err := absPath(s.binPath(cfg.Paths.Miniserve))
	if err != nil {
		return err
	}
	return s.firewall().AllowProgram(hostnet.ShareRuleName, prog)
}

// ShareStart serves dir over HTTP on the configured port. It does nothing
// when the server is already running.
func (s *Service) ShareStart(dir string) error {
	if s.opts.Supervisor.Running(ShareName) {
		return nil
	}
	if dir == "" {
		return fmt.Errorf("share path is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	cfg, err := s.Config()
	if err != nil {
		return err
	}
	return s.opts.Supervisor.Start(ShareName, s.binPath(cfg.Paths.Miniserve), ShareArgs(dir, cfg.SharePort)...)
}

// ShareArgs builds the file-share server command line: show hidden files,
// allow tar downloads, list directories first, hide the footer.
func ShareArgs(dir string, port int) []string {
	return []string{dir, "-p", strconv.Itoa(port), "-H", "-r", "-D", "-F"}
}

// ShareStop stops the file-share server.
func (s *Service) ShareStop() (bool, error) {
	if err := s.opts.Supervisor.Stop(ShareName); err != nil {
		return false, err
	}
	return true, nil
}

// BroadcastStart starts the UDP broadcast relay.
func (s *Service) BroadcastStart() (bool, error) {
	if s.opts.Supervisor.Running(BroadcastName) {
		return true, nil
	}
	cfg, err := s.Config()
	if err != nil {
		return false, err
	}
	if err := s.opts.Supervisor.Start(BroadcastName, s.binPath(cfg.Paths.Broadcast), "run"); err != nil {
		return false, err
	}
	return true, nil
}

// BroadcastStop stops the UDP broadcast relay.
func (s *Service) BroadcastStop() (bool, error) {
	if err := s.opts.Supervisor.Stop(BroadcastName); err != nil {
		return false, err
	}
	return true, nil
}

// BroadcastStatus reports whether the relay is running.
func (s *Service) BroadcastStatus() bool {
	return s.opts.Supervisor.Running(BroadcastName)
}

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	return abs, nil
}
