package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is a small YAML file-backed key/value store. Values are kept as
// YAML nodes so each key can hold any structured record.
type Settings struct {
	path string

	mu     sync.Mutex
	values map[string]yaml.Node
}

type settingsFile struct {
	UpdatedAt time.Time            `yaml:"updated_at"`
	Values    map[string]yaml.Node `yaml:"values"`
}

// Load opens the settings file at path. A missing file yields an empty store.
func Load(path string) (*Settings, error) {
	s := &Settings{path: path, values: map[string]yaml.Node{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	var f settingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for k, v := range f.Values {
		s.values[k] = v
	}
	return s, nil
}

// Path returns the file backing the store.
func (s *Settings) Path() string { return s.path }

// Get decodes the value stored under key into out. It reports false when
// the key is absent.
func (s *Settings) Get(key string, out any) (bool, error) {
	s.mu.Lock()
	node, ok := s.values[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := node.Decode(out); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// Set stores value under key. The change is kept in memory until Save.
func (s *Settings) Set(key string, value any) error {
	var node yaml.Node
	if err := node.Encode(value); err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	s.mu.Lock()
	s.values[key] = node
	s.mu.Unlock()
	return nil
}

// Delete removes key.
func (s *Settings) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Save writes the store to disk.
func (s *Settings) Save() error {
	s.mu.Lock()
	f := settingsFile{UpdatedAt: time.Now().UTC(), Values: make(map[string]yaml.Node, len(s.values))}
	for k, v := range s.values {
		f.Values[k] = v
	}
	s.mu.Unlock()

	data, err := yaml.Marshal(&f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
