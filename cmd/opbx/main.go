package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/cache"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/cdrstore"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/config"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/guard"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/idempotency"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/metrics"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/notify"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/routing"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/webhook"
)

// keyPrefix namespaces every Redis key the engine writes.
const keyPrefix = "opbx"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting opbx",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"redis", cfg.RedisAddr != "",
		"cdr_archive", cfg.CDRStoreDSN != "",
	)

	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Shared state (cache, locks, idempotency) lives in Redis when an
	// address is configured; otherwise everything stays in-process.
	var redisClient *redis.Client
	var cacheBackend cache.Backend
	var lockGuard guard.Guard
	var idemStore idempotency.Store
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(appCtx).Err(); err != nil {
			slog.Error("failed to reach redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		cacheBackend = cache.NewRedis(redisClient, keyPrefix)
		lockGuard = guard.NewRedis(redisClient, keyPrefix)
		idemStore = idempotency.NewRedis(redisClient, keyPrefix, cfg.IdempotencyTTL, cfg.IdempotencyMaxBody)
	} else {
		memCache := cache.NewMemory()
		defer memCache.Close()
		cacheBackend = memCache
		lockGuard = guard.NewMemory()
		memIdem := idempotency.NewMemory(cfg.IdempotencyTTL, cfg.IdempotencyMaxBody)
		defer memIdem.Close()
		idemStore = memIdem
	}

	// Metrics.
	registry := metrics.NewRegistry(prometheus.DefaultRegisterer)

	// Configuration read path: repositories behind the read-through cache.
	configStore := database.NewConfigStore(db)
	cachedStore := cache.NewStore(configStore, cacheBackend,
		cfg.ExtensionCacheTTL, cfg.ScheduleCacheTTL, logger)
	cachedStore.SetStats(registry)

	resolver := routing.NewResolver(cachedStore, lockGuard, cfg.LockWait, logger)

	// Optional CDR archive.
	var cdrArchive webhook.CDRArchive
	var cdrCounter metrics.CDRDirectionCounter
	if cfg.CDRStoreDSN != "" {
		store, err := cdrstore.Open(appCtx, cfg.CDRStoreDSN)
		if err != nil {
			slog.Error("failed to open cdr archive", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		cdrArchive = store
		cdrCounter = store
	}
	prometheus.MustRegister(metrics.NewCollector(cdrCounter, time.Now()))

	forwarder := notify.NewForwarder(cfg.NotifyURL, cfg.NotifyAuthKey, logger)

	allowedNets, err := cfg.AllowedNets()
	if err != nil {
		slog.Error("invalid webhook allowlist", "error", err)
		os.Exit(1)
	}
	auth := webhook.NewAuthenticator(
		database.NewTenantRepository(db),
		database.NewCredentialRepository(db),
		database.NewDidNumberRepository(db),
		cfg.CXSignatureSecret,
		cfg.SignatureTolerance,
		allowedNets,
	)

	handler, err := webhook.NewServer(webhook.Deps{
		Config:      cfg,
		Logger:      logger,
		Auth:        auth,
		Resolver:    resolver,
		Idempotency: idemStore,
		Guard:       lockGuard,
		Invalidator: cachedStore,
		Forwarder:   forwarder,
		CDRArchive:  cdrArchive,
		Metrics:     registry,
	})
	if err != nil {
		slog.Error("failed to create webhook server", "error", err)
		os.Exit(1)
	}
	defer handler.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("opbx stopped")
}
