package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"github.com/groxpi/groxpi-redis/internal/config"
	"github.com/groxpi/groxpi-redis/internal/kvstore"
	"github.com/groxpi/groxpi-redis/internal/logger"
	"github.com/groxpi/groxpi-redis/internal/server"
	"github.com/groxpi/groxpi-redis/internal/storage"
	"github.com/groxpi/groxpi-redis/internal/upstream"
	"github.com/groxpi/groxpi-redis/internal/worker"
)

func main() {
	cfg := config.Load()

	logger.Init(logger.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Color:  cfg.LogColor,
	})

	log.Info().
		Str("mode", string(cfg.Mode)).
		Str("package_type", string(cfg.PackageType)).
		Str("storage_driver", string(cfg.StorageDriver)).
		Msg("starting groxpi")

	kv, err := kvstore.New(cfg.RedisURL, cfg.RedisPrefix, string(cfg.PackageType))
	if err != nil {
		log.Fatal().Err(err).Msg("connect to redis")
	}
	defer kv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := kv.Ping(ctx); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("redis unreachable")
	}
	cancel()

	backend, err := newStorageBackend(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize storage")
	}
	defer backend.Close()

	switch cfg.Mode {
	case config.ModeWorker:
		runWorker(cfg, kv, backend)
	default:
		runServer(cfg, kv, backend)
	}
}

func newStorageBackend(cfg *config.Config) (storage.Backend, error) {
	if cfg.StorageDriver == config.StorageS3 {
		return storage.NewS3(cfg)
	}
	return storage.NewLocal(cfg.FileStorageDir, cfg.PackageType)
}

func runServer(cfg *config.Config, kv *kvstore.Client, backend storage.Backend) {
	srv := server.New(cfg, kv, backend)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Router(),
	}

	go func() {
		log.Info().Str("address", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	waitForShutdownSignal()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server stopped gracefully")
}

func runWorker(cfg *config.Config, kv *kvstore.Client, backend storage.Backend) {
	const maxConcurrency = 8
	w := worker.New(kv, backend, upstream.New(cfg), maxConcurrency)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	waitForShutdownSignal()
	log.Info().Msg("worker shutting down")
	cancel()
	<-done
	log.Info().Msg("worker stopped gracefully")
}

func waitForShutdownSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Warn().Msg("shutdown signal received")
}
