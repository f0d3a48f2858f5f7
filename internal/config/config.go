// Package config loads the server's YAML configuration, following the
// pack's idiom of small YAML-tagged structs (rather than the teacher's
// code-constructed Options, since the teacher has no file-based
// configuration of its own).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration. Every field has a
// spec-conformant zero-value default (see Defaults), so a YAML file
// only needs to specify the overrides it cares about.
type Config struct {
	ListenAddr               string   `yaml:"listen_addr"`
	SupportedVersions        []string `yaml:"supported_versions"`
	DefaultHeartbeatSeconds  int      `yaml:"default_heartbeat_seconds"`
	MinHeartbeatSeconds      int      `yaml:"min_heartbeat_seconds"`
	MaxHeartbeatSeconds      int      `yaml:"max_heartbeat_seconds"`
	WindowSizeDefault        int      `yaml:"window_size_default"`
	WindowSizeMax            int      `yaml:"window_size_max"`
	IdempotencyCacheSize     int      `yaml:"idempotency_cache_size"`
	SyncedIDsCap             int      `yaml:"synced_ids_cap"`
}

// Defaults returns the hardcoded values the spec requires when the
// YAML document omits a field.
func Defaults() Config {
	return Config{
		ListenAddr:              ":8080",
		SupportedVersions:       []string{"12.1", "14.0", "14.1", "16.0", "16.1"},
		DefaultHeartbeatSeconds: 540,
		MinHeartbeatSeconds:     300,
		MaxHeartbeatSeconds:     1800,
		WindowSizeDefault:       25,
		WindowSizeMax:           100,
		IdempotencyCacheSize:    1024,
		SyncedIDsCap:            2000,
	}
}

// Load reads and parses the YAML document at path, filling any field
// the document omits with its Defaults() value.
func Load(path string) (Config, error) {
	cfg := Defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	overlay := struct {
		ListenAddr              *string   `yaml:"listen_addr"`
		SupportedVersions       *[]string `yaml:"supported_versions"`
		DefaultHeartbeatSeconds *int      `yaml:"default_heartbeat_seconds"`
		MinHeartbeatSeconds     *int      `yaml:"min_heartbeat_seconds"`
		MaxHeartbeatSeconds     *int      `yaml:"max_heartbeat_seconds"`
		WindowSizeDefault       *int      `yaml:"window_size_default"`
		WindowSizeMax           *int      `yaml:"window_size_max"`
		IdempotencyCacheSize    *int      `yaml:"idempotency_cache_size"`
		SyncedIDsCap            *int      `yaml:"synced_ids_cap"`
	}{}
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if overlay.ListenAddr != nil {
		cfg.ListenAddr = *overlay.ListenAddr
	}
	if overlay.SupportedVersions != nil {
		cfg.SupportedVersions = *overlay.SupportedVersions
	}
	if overlay.DefaultHeartbeatSeconds != nil {
		cfg.DefaultHeartbeatSeconds = *overlay.DefaultHeartbeatSeconds
	}
	if overlay.MinHeartbeatSeconds != nil {
		cfg.MinHeartbeatSeconds = *overlay.MinHeartbeatSeconds
	}
	if overlay.MaxHeartbeatSeconds != nil {
		cfg.MaxHeartbeatSeconds = *overlay.MaxHeartbeatSeconds
	}
	if overlay.WindowSizeDefault != nil {
		cfg.WindowSizeDefault = *overlay.WindowSizeDefault
	}
	if overlay.WindowSizeMax != nil {
		cfg.WindowSizeMax = *overlay.WindowSizeMax
	}
	if overlay.IdempotencyCacheSize != nil {
		cfg.IdempotencyCacheSize = *overlay.IdempotencyCacheSize
	}
	if overlay.SyncedIDsCap != nil {
		cfg.SyncedIDsCap = *overlay.SyncedIDsCap
	}
	return cfg, nil
}
