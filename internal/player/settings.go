/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings holds the per-player output configuration.
type Settings struct {
	OutputCodec       string  `yaml:"output_codec"`
	OutputChannels    string  `yaml:"output_channels"` // stereo, mono, left, right
	EQBass            float64 `yaml:"eq_bass"`
	EQMid             float64 `yaml:"eq_mid"`
	EQTreble          float64 `yaml:"eq_treble"`
	CrossfadeDuration int     `yaml:"crossfade_duration"`
}

// DefaultSettings returns the settings applied when a player has no stored
// configuration.
func DefaultSettings() Settings {
	return Settings{
		OutputCodec:       "flac",
		OutputChannels:    "stereo",
		CrossfadeDuration: 8,
	}
}

// SettingsStore persists per-player settings in a single YAML document.
type SettingsStore struct {
	path string

	mu       sync.RWMutex
	settings map[string]Settings
}

// OpenSettingsStore loads the settings file, creating an empty store when
// the file does not exist yet.
func OpenSettingsStore(path string) (*SettingsStore, error) {
	s := &SettingsStore{path: path, settings: make(map[string]Settings)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read player settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.settings); err != nil {
		return nil, fmt.Errorf("parse player settings: %w", err)
	}
	return s, nil
}

// Get returns the settings for a player, with defaults filled in.
func (s *SettingsStore) Get(playerID string) Settings {
	s.mu.RLock()
	stored, ok := s.settings[playerID]
	s.mu.RUnlock()
	if !ok {
		return DefaultSettings()
	}
	if stored.OutputCodec == "" {
		stored.OutputCodec = "flac"
	}
	if stored.OutputChannels == "" {
		stored.OutputChannels = "stereo"
	}
	if stored.CrossfadeDuration == 0 {
		stored.CrossfadeDuration = 8
	}
	return stored
}

// Set stores the settings for a player and writes the file.
func (s *SettingsStore) Set(playerID string, settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[playerID] = settings
	return s.save()
}

func (s *SettingsStore) save() error {
	data, err := yaml.Marshal(s.settings)
	if err != nil {
		return fmt.Errorf("encode player settings: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write player settings: %w", err)
	}
	return os.Rename(tmp, s.path)
}
