// Package backend implements every command the invoke server exposes: it
// owns the edge process and its helpers and answers queries about them.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"n2nctl/internal/config"
	"n2nctl/internal/execx"
	"n2nctl/internal/n2n"
	"n2nctl/internal/store"
	"n2nctl/internal/stunutil"
	"n2nctl/internal/supervise"
)

// Child process names.
const (
	EdgeName      = "edge"
	ShareName     = "miniserve"
	BroadcastName = "broadcast"
)

const (
	DefaultAliveTries = 3
	DefaultAliveDelay = 600 * time.Millisecond
)

var (
	ErrNotRunning    = errors.New("edge is not running")
	ErrNotResponding = errors.New("edge management port is not responding")
)

// Options wires a Service. Settings and Supervisor are required.
type Options struct {
	Settings   *store.Settings
	Supervisor *supervise.Supervisor
	Runner     execx.Runner
	Logger     *log.Logger
	// BaseDir anchors relative helper binary paths; defaults to the
	// working directory.
	BaseDir string
	// GOOS defaults to runtime.GOOS.
	GOOS        string
	Detector    stunutil.Detector
	MgmtTimeout time.Duration
	AliveTries  int
	AliveDelay  time.Duration
}

// Service is the backend. It is safe for concurrent use.
type Service struct {
	opts   Options
	logger *log.Logger

	mu   sync.Mutex
	mgmt *n2n.Client
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Settings == nil {
		return nil, fmt.Errorf("settings store is required")
	}
	if opts.Supervisor == nil {
		return nil, fmt.Errorf("supervisor is required")
	}
	if opts.Runner == nil {
		opts.Runner = execx.NewOSRunner(nil, nil)
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.AliveTries <= 0 {
		opts.AliveTries = DefaultAliveTries
	}
	if opts.AliveDelay <= 0 {
		opts.AliveDelay = DefaultAliveDelay
	}
	return &Service{opts: opts, logger: opts.Logger}, nil
}

// Config reads the current config record. It is re-read on every command
// so edits made through the settings store apply to the next start.
func (s *Service) Config() (config.Config, error) {
	return config.FromSettings(s.opts.Settings)
}

// Start launches the edge. It reports true when the edge is running
// afterwards, including when it was already running.
func (s *Service) Start(ctx context.Context) (bool, error) {
	if s.opts.Supervisor.Running(EdgeName) {
		return true, nil
	}
	cfg, err := s.Config()
	if err != nil {
		return false, err
	}
	if err := config.Validate(cfg); err != nil {
		return false, err
	}

	mgmt, err := n2n.Dial(cfg.N2N.ControlPort, n2n.WithTimeout(s.mgmtTimeout()))
	if err != nil {
		return false, fmt.Errorf("management client: %w", err)
	}
	if err := s.opts.Supervisor.Start(EdgeName, s.binPath(cfg.Paths.Edge), EdgeArgs(cfg.N2N)...); err != nil {
		_ = mgmt.Close()
		if errors.Is(err, supervise.ErrAlreadyRunning) {
			return true, nil
		}
		return false, err
	}

	s.mu.Lock()
	old := s.mgmt
	s.mgmt = mgmt
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return true, nil
}

// EdgeArgs builds the edge command line.
func EdgeArgs(c config.N2NConfig) []string {
	return []string{
		"-c", c.Group,
		"-l", c.Server + ":" + strconv.Itoa(c.Port),
		"-I", c.Identification,
		"-E",
		"-p", strconv.Itoa(c.Port),
		"-t", strconv.Itoa(c.ControlPort),
	}
}

// Stop asks the edge to exit through its management port, then kills it.
func (s *Service) Stop(ctx context.Context) (bool, error) {
	s.mu.Lock()
	mgmt := s.mgmt
	s.mgmt = nil
	s.mu.Unlock()

	if mgmt != nil {
		if s.opts.Supervisor.Running(EdgeName) {
			if err := mgmt.Stop(ctx); err != nil {
				s.logger.Printf("edge stop via management port failed: %v", err)
			}
		}
		_ = mgmt.Close()
	}
	if err := s.opts.Supervisor.Stop(EdgeName); err != nil {
		return false, err
	}
	return true, nil
}

// Status reports false when the edge is not running and true when it runs
// and answers on its management port. A running edge that never answers
// is an error.
func (s *Service) Status(ctx context.Context) (bool, error) {
	mgmt, err := s.client()
	if errors.Is(err, ErrNotRunning) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if mgmt.Alive(ctx, s.opts.AliveTries, s.opts.AliveDelay) {
		return true, nil
	}
	return false, ErrNotResponding
}

// SelfIP returns the virtual IPv4 address of the edge.
func (s *Service) SelfIP(ctx context.Context) (string, error) {
	mgmt, err := s.client()
	if err != nil {
		return "", err
	}
	return mgmt.Info(ctx)
}

// Close stops every helper process.
func (s *Service) Close() error {
	s.mu.Lock()
	mgmt := s.mgmt
	s.mgmt = nil
	s.mu.Unlock()
	if mgmt != nil {
		_ = mgmt.Close()
	}
	s.opts.Supervisor.StopAll()
	return nil
}

func (s *Service) client() (*n2n.Client, error) {
	if !s.opts.Supervisor.Running(EdgeName) {
		return nil, ErrNotRunning
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mgmt == nil {
		return nil, ErrNotRunning
	}
	return s.mgmt, nil
}

func (s *Service) mgmtTimeout() time.Duration {
	if s.opts.MgmtTimeout > 0 {
		return s.opts.MgmtTimeout
	}
	return n2n.DefaultTimeout
}

func (s *Service) binPath(p string) string {
	if s.opts.GOOS == "windows" && filepath.Ext(p) == "" {
		p += ".exe"
	}
	if filepath.IsAbs(p) || s.opts.BaseDir == "" {
		return p
	}
	return filepath.Join(s.opts.BaseDir, p)
}
