package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"kanban/config"
	"kanban/config/database"
	handler "kanban/internal/kanban"
	"kanban/internal/kanban/repository"
	"kanban/internal/kanban/service"
	"kanban/pkg/logger"
	"kanban/pkg/metrics"
	"kanban/router"
	"kanban/socket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.IsProduction(), cfg.LogDir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Log.Sync()

	boardRepo, err := repository.NewBoardRepository(cfg.DataDir)
	if err != nil {
		logger.Sugar.Fatalf("Failed to prepare data directory: %v", err)
	}

	// A nil interface (not a nil *JournalRepository) disables journaling.
	var journal service.Journal
	if cfg.JournalDriver != config.DriverNone {
		db, err := database.Open(cfg.JournalDriver, cfg.JournalDSN)
		if err != nil {
			logger.Sugar.Fatalf("Failed to open revision journal: %v", err)
		}
		defer db.Close()

		journalRepo := repository.NewJournalRepository(db, cfg.JournalDriver == config.DriverPostgres)
		if err := journalRepo.EnsureSchema(context.Background()); err != nil {
			logger.Sugar.Fatalf("Failed to prepare revision journal: %v", err)
		}
		journal = journalRepo
	}

	hub := socket.NewHub()
	go hub.Run()
	defer hub.Stop()

	collector := metrics.NewCollector("kanban")
	boardService := service.NewBoardService(boardRepo, journal, hub)
	boardHandler := handler.NewBoardHandler(boardService, hub, collector)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router.Setup(boardHandler, collector, cfg.AllowedOrigins),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Sugar.Infof("Kanban API listening on %s (env=%s, data=%s)", cfg.Addr, cfg.Env, cfg.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Sugar.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Sugar.Errorf("Graceful shutdown failed: %v", err)
	}
}
