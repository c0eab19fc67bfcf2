package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/skriptd/modload/internal/logging"
	"github.com/skriptd/modload/pkg/loader"
)

func main() {
	logging.ConfigureRuntime()

	configPath := "cmd/modloadctl/config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := loadLoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load loader config")
	}
	log.Info().Str("path", configPath).Int("modules", len(cfg.Modules)).
		Msg("loaded loader config")

	l := loader.New(loader.Config{
		DefaultBase: cfg.DefaultBase,
		MaxInFlight: int64(cfg.MaxInFlight),
	})
	for name, location := range cfg.Overrides {
		if err := l.RegisterOverride(name, location); err != nil {
			log.Fatal().Str("module", name).Err(err).Msg("bad override")
		}
	}
	for prefix, base := range cfg.PackageBases {
		if err := l.RegisterPackageBase(prefix, base); err != nil {
			log.Fatal().Str("prefix", prefix).Err(err).Msg("bad package base")
		}
	}
	for _, a := range cfg.Archives {
		if err := l.RegisterArchive(a.Location, a.Modules); err != nil {
			log.Fatal().Str("location", a.Location).Err(err).Msg("bad archive")
		}
	}
	if cfg.Manifest != "" {
		if err := l.LoadArchiveManifest(cfg.Manifest); err != nil {
			log.Fatal().Str("path", cfg.Manifest).Err(err).Msg("bad archive manifest")
		}
	}

	opts := loader.LoadOptions{ForceSynchronous: cfg.Sync, Timeout: cfg.Timeout}
	var wg sync.WaitGroup
	failed := false
	var mu sync.Mutex
	for _, name := range cfg.Modules {
		name := name
		wg.Add(1)
		err := l.Load(name, func(mod *loader.Module, err error) {
			defer wg.Done()
			if err != nil {
				log.Error().Str("module", name).Err(err).Msg("load failed")
				mu.Lock()
				failed = true
				mu.Unlock()
				return
			}
			log.Info().Str("module", mod.Name).Uint64("seq", mod.Seq).Msg("load complete")
		}, opts)
		if err != nil {
			wg.Done()
			log.Error().Str("module", name).Err(err).Msg("load rejected")
			mu.Lock()
			failed = true
			mu.Unlock()
		}
	}
	wg.Wait()

	for _, mod := range l.DeclarationOrder() {
		fmt.Printf("%3d  %s\n", mod.Seq, mod.Name)
	}
	if failed {
		os.Exit(1)
	}
}
