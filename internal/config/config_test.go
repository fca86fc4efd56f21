package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"n2nctl/internal/store"
)

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.N2N.Group != DefaultGroup || cfg.N2N.Identification != DefaultIdentification {
		t.Fatalf("n2n=%+v", cfg.N2N)
	}
	if cfg.N2N.Port != 49898 || cfg.N2N.ControlPort != 5644 {
		t.Fatalf("ports=%d/%d", cfg.N2N.Port, cfg.N2N.ControlPort)
	}
	if len(cfg.STUNServers) != 2 || cfg.STUNServers[0] != "stun.nextcloud.com:3478" {
		t.Fatalf("stun=%v", cfg.STUNServers)
	}
	if cfg.SharePort != 8090 {
		t.Fatalf("share_port=%d", cfg.SharePort)
	}
	if cfg.Ping.Count != 3 || cfg.Ping.Timeout != 3*time.Second || cfg.Ping.Method != "icmp" {
		t.Fatalf("ping=%+v", cfg.Ping)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := Config{N2N: N2NConfig{Group: "team", Port: 7000}, STUNServers: []string{"a:1", "b:2"}}
	ApplyDefaults(&cfg)
	if cfg.N2N.Group != "team" || cfg.N2N.Port != 7000 {
		t.Fatalf("n2n=%+v", cfg.N2N)
	}
	if cfg.STUNServers[1] != "b:2" {
		t.Fatalf("stun=%v", cfg.STUNServers)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error without server")
	}
	cfg.N2N.Server = "sn.example.net"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	cfg.Ping.Method = "tcp"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected ping method error")
	}
}

func TestValidateNAT(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := ValidateNAT(cfg); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	cfg.STUNServers = cfg.STUNServers[:1]
	if err := ValidateNAT(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSaveLoad_KeepsOtherKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "client", "config.yaml")
	s, err := store.Load(path)
	if err != nil {
		t.Fatalf("store.Load: %v", err)
	}
	if err := s.Set("theme", "dark"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cfg := Default()
	cfg.N2N.Identification = "alice"
	cfg.N2N.Server = "sn.example.net"
	cfg.Ping.Timeout = 1500 * time.Millisecond
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.N2N.Identification != "alice" || got.N2N.Server != "sn.example.net" {
		t.Fatalf("n2n=%+v", got.N2N)
	}
	if got.Ping.Timeout != 1500*time.Millisecond {
		t.Fatalf("timeout=%v", got.Ping.Timeout)
	}

	s2, _ := store.Load(path)
	var theme string
	if ok, _ := s2.Get("theme", &theme); !ok || theme != "dark" {
		t.Fatalf("theme=%q ok=%v", theme, ok)
	}
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.N2N.Group != DefaultGroup {
		t.Fatalf("group=%q", cfg.N2N.Group)
	}
}

func TestReset_DropsConfigKeepsOtherKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	cfg := Default()
	cfg.N2N.Group = "games"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s, err := store.Load(path)
	if err != nil {
		t.Fatalf("store.Load: %v", err)
	}
	if err := s.Set("theme", "dark"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := Reset(path); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.N2N.Group != DefaultGroup {
		t.Fatalf("group=%q", got.N2N.Group)
	}
	s, err = store.Load(path)
	if err != nil {
		t.Fatalf("store.Load: %v", err)
	}
	var theme string
	if ok, err := s.Get("theme", &theme); err != nil || !ok || theme != "dark" {
		t.Fatalf("theme=%q ok=%v err=%v", theme, ok, err)
	}
}
