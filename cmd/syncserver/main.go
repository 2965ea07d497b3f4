// Package main provides the super sync server binary: the session
// HTTP surface and the websocket sync socket on one listener, plus the
// idle-session sweeper.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pokesync/supersync/internal/config"
	"github.com/pokesync/supersync/internal/httpapi"
	"github.com/pokesync/supersync/internal/observability"
	"github.com/pokesync/supersync/internal/server"
	"github.com/pokesync/supersync/internal/session"
	"github.com/pokesync/supersync/internal/store"
	"github.com/pokesync/supersync/internal/ws"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file; empty = built-in defaults")
	flag.Parse()

	ctx := context.Background()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Fatal("opening store", zap.String("path", cfg.Store.Path), zap.Error(err))
	}
	defer st.Close()

	registry := session.NewRegistry(cfg.Session.IdleTimeout, session.NewRelay(logger), logger)
	sweeper := session.NewSweeper(registry, cfg.Session.CheckInterval, logger)
	wsServer := ws.NewServer(cfg.WebSocket, registry, logger)
	api := httpapi.New(registry, st, wsServer, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: api.Router(),
	}

	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("http", &server.FuncService{
		StartFn: func() error {
			logger.Info("sync server listening", zap.String("addr", cfg.Server.Addr()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		StopFn: func() {
			wsServer.CloseAll()
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
		},
	})

	lifecycle.Add("sweeper", sweeper)

	logger.Info("sync server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Duration("session_idle_timeout", cfg.Session.IdleTimeout),
		zap.Duration("session_check_interval", cfg.Session.CheckInterval),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
