package main

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/knowledge-engine/recommender/internal/config"
	"github.com/knowledge-engine/recommender/internal/engine"
	"github.com/knowledge-engine/recommender/internal/fetcher"
	"github.com/knowledge-engine/recommender/internal/ingest"
	"github.com/knowledge-engine/recommender/internal/poster"
	"github.com/knowledge-engine/recommender/internal/storage"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:           "recommender",
	Short:         "Content-based movie recommender",
	Long:          `Builds a bag-of-words similarity index over the TMDB 5000 dataset and serves top-k recommendations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		newLogger().WithError(err).Error("Command failed")
	}
	return err
}

func newLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger.WithField("service", "recommender")
}

// app is the wiring shared by every command
type app struct {
	cfg    *config.Config
	logger *logrus.Entry
	store  storage.ArtifactStore
	engine *engine.Engine
}

func newApp() (*app, error) {
	logger := newLogger()
	cfg := config.Load()

	store, err := newStore(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	ft := fetcher.NewFetcher(fetcher.Options{
		Timeout:       cfg.Dataset.Timeout,
		UserAgent:     cfg.Dataset.UserAgent,
		RespectRobots: cfg.Dataset.RespectRobots,
	}, logger.WithField("component", "fetcher"))

	source := ingest.NewTMDBSource(ingest.Options{
		MoviesPath:  cfg.Dataset.MoviesPath,
		CreditsPath: cfg.Dataset.CreditsPath,
		MoviesURL:   cfg.Dataset.MoviesURL,
		CreditsURL:  cfg.Dataset.CreditsURL,
		CastLimit:   cfg.Corpus.CastLimit,
		DirectorJob: cfg.Corpus.DirectorJob,
	}, ft, logger.WithField("component", "tmdb_source"))

	posterFetcher := fetcher.NewFetcher(fetcher.Options{
		Timeout:       cfg.Poster.Timeout,
		UserAgent:     cfg.Dataset.UserAgent,
		RespectRobots: cfg.Dataset.RespectRobots,
	}, logger.WithField("component", "poster_fetcher"))
	resolver, err := poster.NewResolverFromConfig(cfg.Poster, posterFetcher, logger.WithField("component", "poster_resolver"))
	if err != nil {
		store.Close()
		return nil, err
	}

	eng, err := engine.New(engine.OptionsFromConfig(cfg), source, store, resolver, logger.WithField("component", "engine"))
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, store: store, engine: eng}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close artifact store")
	}
}

func newStore(cfg config.StorageConfig, logger *logrus.Entry) (storage.ArtifactStore, error) {
	switch cfg.Backend {
	case "file", "":
		return storage.NewFileStore(cfg.Dir, logger.WithField("component", "file_store"))
	case "badger":
		return storage.OpenBadgerStore(filepath.Join(cfg.Dir, "badger"), logger.WithField("component", "badger_store"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
