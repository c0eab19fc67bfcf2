package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/skriptd/modload/internal/logging"
	"github.com/skriptd/modload/internal/repo"
)

func main() {
	logging.ConfigureRuntime()

	configPath := "cmd/modrepod/config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := loadRepoConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load repo config")
	}
	log.Info().Str("path", configPath).Msg("loaded repo config")

	server := repo.Open(cfg.ID, cfg.Addr, cfg.Root, cfg.CorsOrigins)
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("module repository stopped")
	}
}
