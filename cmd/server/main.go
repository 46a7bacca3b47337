package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"assetcache/internal/cache"
	"assetcache/internal/config"
	httphandlers "assetcache/internal/http"
	"assetcache/internal/imageprobe"
	"assetcache/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	// the engine waits for this before touching the cache directory
	hostReady := make(chan struct{})
	readiness := func(ctx context.Context) error {
		select {
		case <-hostReady:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	blobs, err := cache.NewBlobCache(cfg.MemoryCache, cfg.MemoryCacheItems, log)
	if err != nil {
		log.Fatal("Failed to initialize blob cache", zap.Error(err))
	}

	engine, err := cache.New(cfg.AppDataRoot,
		cache.WithLogger(log),
		cache.WithLimits(cfg.CacheMaxBytes, cfg.CacheMaxFiles),
		cache.WithRetention(time.Duration(cfg.RetentionDays)*24*time.Hour),
		cache.WithBlobCache(blobs),
		cache.WithMetrics(cache.NewMetrics(registry)),
		cache.WithReadiness(readiness),
	)
	if err != nil {
		log.Fatal("Failed to create cache engine", zap.Error(err))
	}

	imageprobe.Startup(cfg.VipsConcurrency, cfg.VipsMaxCacheMB, log)
	defer imageprobe.Shutdown()
	close(hostReady)

	log.Info("Starting asset cache server",
		zap.Int("port", cfg.Port),
		zap.String("cache_dir", engine.Dir()),
		zap.Int64("max_bytes", cfg.CacheMaxBytes),
		zap.Int("max_files", cfg.CacheMaxFiles),
	)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := engine.Initialize(initCtx); err != nil {
		// requests retry initialization lazily
		log.Error("Cache initialization failed", zap.Error(err))
	}
	cancelInit()

	handlers := httphandlers.New(cfg, log, engine, imageprobe.Probe)

	mux := http.NewServeMux()
	handlers.Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handler := handlers.CORSMiddleware(handlers.RequestLoggingMiddleware(mux))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := engine.Shutdown(ctx); err != nil {
		log.Error("Cache shutdown failed", zap.Error(err))
	}

	log.Info("Server stopped")
}
