package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/karateway/controlplane/internal/api"
	"github.com/karateway/controlplane/internal/audit"
	"github.com/karateway/controlplane/internal/config"
	"github.com/karateway/controlplane/internal/db"
	"github.com/karateway/controlplane/internal/feed"
	"github.com/karateway/controlplane/internal/gateway"
	"github.com/karateway/controlplane/internal/snapshot"
	"github.com/karateway/controlplane/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(os.Getenv("KARATEWAY_CONFIG"))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	st := store.NewPostgres(conn.Pool)

	sequences, err := st.CurrentSequences(ctx)
	if err != nil {
		logger.Fatal("failed to read current sequences", zap.Error(err))
	}

	changeFeed := feed.New(cfg.BacklogCapacity, sequences, logger)
	defer changeFeed.Close()

	gw := gateway.New(st, changeFeed)
	trail := audit.NewTrail(st)
	snapshots := snapshot.NewManager(st)

	reaper := audit.NewReaper(st, time.Duration(cfg.RetentionDays)*24*time.Hour, cfg.ReaperInterval, logger)
	go reaper.Run(ctx)

	apiServer := api.NewServer(gw, st, trail, snapshots, changeFeed, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: corsHandler.Handler(apiServer.Handler()),
		// Request contexts descend from ctx, so cancelling it ends the
		// open event streams and lets graceful shutdown finish.
		BaseContext: func(net.Listener) context.Context { return ctx },
		ReadTimeout: 15 * time.Second,
		// No write timeout: the change event stream holds its
		// connection open indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Cancel first: event streams and the reaper stop, so Shutdown only has
	// to drain ordinary requests.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
