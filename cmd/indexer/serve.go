package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mcnoble1/Medisphere-sub001/internal/api"
	"github.com/Mcnoble1/Medisphere-sub001/internal/crypto"
	"github.com/Mcnoble1/Medisphere-sub001/internal/handlers"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the indexer, the stats updater and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	logger := a.logger
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var operatorKey ed25519.PublicKey
	if a.cfg.OperatorPublicKey != "" {
		key, err := crypto.ValidatePublicKey(a.cfg.OperatorPublicKey)
		if err != nil {
			return err
		}
		operatorKey = key
	} else {
		logger.Warn().Msg("OPERATOR_PUBLIC_KEY not set; admin API disabled")
	}

	h := handlers.NewHandler(handlers.Deps{
		DB:      a.db,
		Records: a.records,
		Redis:   a.redis,
		Indexer: a.engine,
		Stats:   a.stats,
		Logger:  logger,
		Base:    ctx,
	})
	router := api.NewRouter(api.Options{
		Logger:      logger,
		Handler:     h,
		Redis:       a.redis,
		OperatorKey: operatorKey,
	})

	srv := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", a.cfg.Port).
			Str("env", a.cfg.Env).
			Strs("topics", a.cfg.TopicIDs).
			Msg("starting indexer API")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Stats run on their own timer from the start.
	a.stats.StartAutoUpdate(ctx, a.cfg.StatsInterval)
	go func() {
		if _, err := a.stats.GenerateHistoricalStats(ctx, a.cfg.HistoryDays); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("historical stats failed")
		}
	}()

	// Backfill, then follow the topics.
	go func() {
		if err := a.engine.InitializeState(ctx); err != nil {
			logger.Error().Err(err).Msg("initialize state failed")
			return
		}
		if err := a.engine.SyncAll(ctx); err != nil {
			logger.Error().Err(err).Msg("initial sync finished with errors")
		}
		if ctx.Err() != nil {
			return
		}
		if err := a.engine.StartRealtime(ctx); err != nil {
			logger.Error().Err(err).Msg("realtime start failed")
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		logger.Error().Err(runErr).Msg("server failed")
	}

	logger.Info().Msg("shutting down...")

	cancel()
	a.engine.Stop()
	a.stats.StopAutoUpdate()

	// Graceful shutdown with 30 second timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	done := make(chan struct{})
	go func() {
		a.engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("poll loops still running at shutdown")
	}

	logger.Info().Msg("indexer stopped")
	return runErr
}
