package config

import (
	"errors"
	"fmt"
	"time"

	"n2nctl/internal/store"
)

const (
	DefaultIdentification = "Default"
	DefaultGroup          = "lers10"
	DefaultPort           = 49898
	DefaultControlPort    = 5644
	DefaultSharePort      = 8090
	DefaultListen         = "127.0.0.1:7480"
	DefaultPingMethod     = "icmp"
	DefaultPingCount      = 3
	DefaultPingTimeout    = 3 * time.Second
	DefaultPingInterval   = time.Second
	DefaultProbePort      = 51900
	DefaultPollInterval   = 5 * time.Second
	DefaultMetricsWindow  = 5 * time.Minute

	DefaultEdgePath      = "client/x64/edge"
	DefaultMiniservePath = "client/x64/miniserve"
	DefaultBroadcastPath = "client/x64/WinIPBroadcast"
)

// SettingsKey is the key the config record is stored under.
const SettingsKey = "config"

// DefaultSTUNServers are the two servers used for NAT detection.
var DefaultSTUNServers = []string{"stun.nextcloud.com:3478", "stun.miwifi.com:3478"}

// Config is the persisted client configuration.
type Config struct {
	N2N         N2NConfig     `yaml:"n2n"`
	STUNServers []string      `yaml:"nat_detect"`
	SharePort   int           `yaml:"miniserve_port"`
	Ping        PingConfig    `yaml:"ping"`
	Paths       PathsConfig   `yaml:"paths"`
	Controller  ControlConfig `yaml:"controller"`
	MetricsPath string        `yaml:"metrics_path,omitempty"`
}

// N2NConfig holds the parameters passed to the edge binary.
type N2NConfig struct {
	Identification string `yaml:"identification"`
	Group          string `yaml:"group"`
	Server         string `yaml:"server"`
	Port           int    `yaml:"port"`
	MemberServer   string `yaml:"member_server"`
	ControlPort    int    `yaml:"control_port"`
}

// PingConfig selects how peer latency is measured.
type PingConfig struct {
	Method    string        `yaml:"method"`
	Count     int           `yaml:"count"`
	Timeout   time.Duration `yaml:"timeout"`
	Interval  time.Duration `yaml:"interval"`
	ProbePort int           `yaml:"probe_port"`
}

// PathsConfig locates the bundled helper binaries.
type PathsConfig struct {
	Edge      string `yaml:"edge"`
	Miniserve string `yaml:"miniserve"`
	Broadcast string `yaml:"broadcast"`
}

// ControlConfig is used by the invoke server and its clients.
type ControlConfig struct {
	Listen       string        `yaml:"listen"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns a config with every default applied.
func Default() Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return cfg
}

// FromSettings reads the config record. A missing record yields Default.
func FromSettings(s *store.Settings) (Config, error) {
	var cfg Config
	if _, err := s.Get(SettingsKey, &cfg); err != nil {
		return Config{}, err
	}
	ApplyDefaults(&cfg)
	return cfg, nil
}

// ToSettings stores cfg under SettingsKey and saves the file.
func ToSettings(s *store.Settings, cfg Config) error {
	ApplyDefaults(&cfg)
	if err := s.Set(SettingsKey, cfg); err != nil {
		return err
	}
	return s.Save()
}

// Load reads the settings file at path and returns its config record.
func Load(path string) (Config, error) {
	s, err := store.Load(path)
	if err != nil {
		return Config{}, err
	}
	return FromSettings(s)
}

// Save writes cfg into the settings file at path, keeping other keys.
func Save(path string, cfg Config) error {
	s, err := store.Load(path)
	if err != nil {
		return err
	}
	return ToSettings(s, cfg)
}

// Reset removes the config record from the settings file at path, keeping
// other keys. The next Load returns Default.
func Reset(path string) error {
	s, err := store.Load(path)
	if err != nil {
		return err
	}
	s.Delete(SettingsKey)
	return s.Save()
}

// Validate checks the fields needed to start the edge.
func Validate(cfg Config) error {
	var errs []error
	if cfg.N2N.Group == "" {
		errs = append(errs, errors.New("n2n.group is required"))
	}
	if cfg.N2N.Server == "" {
		errs = append(errs, errors.New("n2n.server is required"))
	}
	if cfg.N2N.Port <= 0 || cfg.N2N.Port > 65535 {
		errs = append(errs, fmt.Errorf("n2n.port out of range: %d", cfg.N2N.Port))
	}
	if cfg.N2N.ControlPort <= 0 || cfg.N2N.ControlPort > 65535 {
		errs = append(errs, fmt.Errorf("n2n.control_port out of range: %d", cfg.N2N.ControlPort))
	}
	if cfg.Ping.Method != "icmp" && cfg.Ping.Method != "udp" {
		errs = append(errs, fmt.Errorf("ping.method must be icmp or udp, got %q", cfg.Ping.Method))
	}
	return errors.Join(errs...)
}

// ValidateNAT checks that two STUN servers are configured.
func ValidateNAT(cfg Config) error {
	if len(cfg.STUNServers) < 2 {
		return fmt.Errorf("nat_detect needs two stun servers, have %d", len(cfg.STUNServers))
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.N2N.Identification == "" {
		cfg.N2N.Identification = DefaultIdentification
	}
	if cfg.N2N.Group == "" {
		cfg.N2N.Group = DefaultGroup
	}
	if cfg.N2N.Port == 0 {
		cfg.N2N.Port = DefaultPort
	}
	if cfg.N2N.ControlPort == 0 {
		cfg.N2N.ControlPort = DefaultControlPort
	}
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = append([]string(nil), DefaultSTUNServers...)
	}
	if cfg.SharePort == 0 {
		cfg.SharePort = DefaultSharePort
	}
	if cfg.Ping.Method == "" {
		cfg.Ping.Method = DefaultPingMethod
	}
	if cfg.Ping.Count == 0 {
		cfg.Ping.Count = DefaultPingCount
	}
	if cfg.Ping.Timeout == 0 {
		cfg.Ping.Timeout = DefaultPingTimeout
	}
	if cfg.Ping.Interval == 0 {
		cfg.Ping.Interval = DefaultPingInterval
	}
	if cfg.Ping.ProbePort == 0 {
		cfg.Ping.ProbePort = DefaultProbePort
	}
	if cfg.Paths.Edge == "" {
		cfg.Paths.Edge = DefaultEdgePath
	}
	if cfg.Paths.Miniserve == "" {
		cfg.Paths.Miniserve = DefaultMiniservePath
	}
	if cfg.Paths.Broadcast == "" {
		cfg.Paths.Broadcast = DefaultBroadcastPath
	}
	if cfg.Controller.Listen == "" {
		cfg.Controller.Listen = DefaultListen
	}
	if cfg.Controller.PollInterval == 0 {
		cfg.Controller.PollInterval = DefaultPollInterval
	}
}
