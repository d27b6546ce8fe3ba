package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mcnoble1/Medisphere-sub001/internal/clock"
	"github.com/Mcnoble1/Medisphere-sub001/internal/config"
	"github.com/Mcnoble1/Medisphere-sub001/internal/engine"
	"github.com/Mcnoble1/Medisphere-sub001/internal/mirror"
	"github.com/Mcnoble1/Medisphere-sub001/internal/stats"
	"github.com/Mcnoble1/Medisphere-sub001/internal/store"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	db      store.DataStore
	records store.RecordStore
	redis   *store.RedisStore
	engine  *engine.Engine
	stats   *stats.Aggregator
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	return logger.Level(level)
}

// openApp connects the stores and builds the engine and aggregator.
func openApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	// PostgreSQL when configured, SQLite otherwise
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Msg("migrations completed")

		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres connection failed: %w", err)
		}
		a.db = pg
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		lite, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite open failed: %w", err)
		}
		a.db = lite
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")
	}
	a.records = a.db

	var dir engine.Directory
	if cfg.RedisURL != "" {
		rs, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			a.db.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		a.redis = rs
		a.records = store.NewCachedRecords(a.db, rs, logger)
		dir = rs
		logger.Info().Msg("connected to Redis")
	}

	client := mirror.NewClient(cfg.MirrorURL, cfg.HTTPTimeout, logger)
	client.PageLimit = cfg.PageLimit
	client.PageDelay = cfg.PageDelay

	engineStore := struct {
		store.CursorStore
		store.RecordStore
	}{a.db, a.records}

	a.engine = engine.New(client, engineStore, dir, clock.Real(), engine.Config{
		Topics:       cfg.TopicIDs,
		PollInterval: cfg.PollInterval,
	}, logger)
	a.stats = stats.New(a.db, clock.Real(), logger)

	if len(cfg.TopicIDs) == 0 {
		logger.Warn().Msg("no TOPIC_IDS configured; nothing will be indexed")
	}
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.db.Close()
}
