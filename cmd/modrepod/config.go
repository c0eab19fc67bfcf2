package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type repoConfig struct {
	ID          string
	Addr        string
	Root        string
	CorsOrigins []string
}

type fileConfig struct {
	ID          string   `toml:"id"`
	Addr        string   `toml:"addr"`
	Root        string   `toml:"root"`
	CorsOrigins []string `toml:"cors_origins"`
}

func defaultRepoConfig() repoConfig {
	return repoConfig{
		ID:   "modrepo.local",
		Addr: "127.0.0.1:9301",
		Root: "repo",
	}
}

func loadRepoConfig(path string) (repoConfig, error) {
	cfg := defaultRepoConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return repoConfig{}, fmt.Errorf("load repo config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.ID = id
		}
	}
	if meta.IsDefined("addr") {
		if addr := strings.TrimSpace(raw.Addr); addr != "" {
			cfg.Addr = addr
		}
	}
	if meta.IsDefined("root") {
		if root := strings.TrimSpace(raw.Root); root != "" {
			cfg.Root = root
		}
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	return cfg, nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
