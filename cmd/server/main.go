package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/open-same/collab-hub/api/handlers"
	"github.com/open-same/collab-hub/internal/auth"
	"github.com/open-same/collab-hub/internal/config"
	"github.com/open-same/collab-hub/internal/db"
	"github.com/open-same/collab-hub/internal/document"
	"github.com/open-same/collab-hub/internal/logger"
	"github.com/open-same/collab-hub/internal/repository"
	"github.com/open-same/collab-hub/internal/ws"
	"github.com/open-same/collab-hub/pkg/metrics"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		log.Error("failed to create database directory", "err", err)
		os.Exit(1)
	}

	// Initialize database
	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		log.Error("failed to initialize database", "err", err)
		os.Exit(1)
	}
	defer db.CloseDB()

	documents := document.NewService(repository.NewDocumentRepository(database), cfg.Document, log)
	defer documents.Close()

	hub := ws.NewHub(ws.ConfigFrom(cfg.Hub), log)
	hub.SetCollaborator(documents)

	if cfg.Redis.Addr != "" {
		bus, err := ws.NewRedisBus(ctx, cfg.Redis, log)
		if err != nil {
			log.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "err", err)
			os.Exit(1)
		}
		defer bus.Close()
		hub.SetBus(bus)
		log.Info("redis bus enabled", "addr", cfg.Redis.Addr)
	}

	if err := metrics.RegisterHub(prometheus.DefaultRegisterer, hub); err != nil {
		log.Error("failed to register metrics", "err", err)
		os.Exit(1)
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	router := handlers.NewRouter(handlers.RouterConfig{
		Hub:          hub,
		Documents:    documents,
		Verifier:     auth.NewVerifier(cfg.Auth.JWTSecret),
		AuthOptions:  auth.Options{AllowAnonymous: cfg.Auth.AllowAnonymous},
		AllowOrigins: cfg.Server.AllowOrigins,
		Logger:       log,
	})

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("starting server", "port", cfg.Server.Port, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	// Closing the hub tears down every WebSocket; the HTTP server does not
	// track hijacked connections.
	stopHub()
	<-hub.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}
}
