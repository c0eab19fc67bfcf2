package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type loadConfig struct {
	DefaultBase  string
	Modules      []string
	Sync         bool
	Timeout      time.Duration
	Manifest     string
	MaxInFlight  int
	Overrides    map[string]string
	PackageBases map[string]string
	Archives     []archiveEntry
}

type archiveEntry struct {
	Location string   `toml:"location"`
	Modules  []string `toml:"modules"`
}

type fileConfig struct {
	DefaultBase  string            `toml:"default_base"`
	Modules      []string          `toml:"modules"`
	Sync         bool              `toml:"sync"`
	Timeout      string            `toml:"timeout"`
	Manifest     string            `toml:"manifest"`
	MaxInFlight  int               `toml:"max_in_flight"`
	Overrides    map[string]string `toml:"overrides"`
	PackageBases map[string]string `toml:"package_bases"`
	Archives     []archiveEntry    `toml:"archive"`
}

func loadLoadConfig(path string) (loadConfig, error) {
	cfg := loadConfig{Timeout: 30 * time.Second}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return loadConfig{}, fmt.Errorf("load loader config: %w", err)
	}

	cfg.DefaultBase = strings.TrimSpace(raw.DefaultBase)
	cfg.Manifest = strings.TrimSpace(raw.Manifest)
	cfg.Sync = raw.Sync
	cfg.MaxInFlight = raw.MaxInFlight
	cfg.Overrides = raw.Overrides
	cfg.PackageBases = raw.PackageBases
	cfg.Archives = raw.Archives

	for _, m := range raw.Modules {
		if m = strings.TrimSpace(m); m != "" {
			cfg.Modules = append(cfg.Modules, m)
		}
	}
	if len(cfg.Modules) == 0 {
		return loadConfig{}, fmt.Errorf("loader config %s: no modules listed", path)
	}

	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return loadConfig{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}

	return cfg, nil
}
