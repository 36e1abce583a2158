package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mossy-p/watchparty-signaling/config"
	"github.com/mossy-p/watchparty-signaling/internal/handlers"
	"github.com/mossy-p/watchparty-signaling/internal/logger"
	"github.com/mossy-p/watchparty-signaling/internal/metrics"
	"github.com/mossy-p/watchparty-signaling/internal/redis"
	"github.com/mossy-p/watchparty-signaling/internal/registry"
	"github.com/mossy-p/watchparty-signaling/internal/relay"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.NewNamed("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var presence relay.Presence
	stopMirror := func() {}
	if cfg.Redis.Enabled {
		mirror, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer mirror.Close()

		// The mirror outlives the hub so the hub's final departures are flushed.
		mirrorCtx, cancelMirror := context.WithCancel(context.Background())
		mirrorDone := make(chan struct{})
		go func() {
			defer close(mirrorDone)
			mirror.Run(mirrorCtx)
		}()
		stopMirror = func() {
			cancelMirror()
			<-mirrorDone
		}
		defer stopMirror()

		presence = mirror
		log.Info("Redis presence mirror enabled", zap.String("addr", cfg.Redis.Addr()))
	}

	m := metrics.New()
	hub := relay.NewHub(relay.New(registry.New(), m, presence))
	go hub.Run(ctx)

	if cfg.AllowAnyOrigin() {
		log.Warn("accepting connections from any origin")
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.NewRouter(cfg, hub, m),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebRTC signaling server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	stop()
	<-hub.Done()
	stopMirror()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
