package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"kgsink/db/migrations"
	"kgsink/internal/app"
	"kgsink/internal/config"
	"kgsink/internal/feed"
	"kgsink/internal/ipfs"
	"kgsink/internal/merge"
	"kgsink/internal/pipeline"
	"kgsink/internal/resolver"
	"kgsink/internal/retry"
	"kgsink/internal/search"
	"kgsink/internal/store"
	"kgsink/internal/telemetry"
	"kgsink/internal/writer"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if strings.TrimSpace(cfg.MigrationsDir) != "" {
		err = store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	} else {
		err = store.ApplyMigrationsFS(ctx, db, migrations.FS)
	}
	if err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	dataStore := store.NewPostgresStore(db)

	var cache resolver.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for the space cache")
		redisCache, err := resolver.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisCache.Close()
		cache = redisCache
	} else {
		log.Printf("Using in-process space cache")
		memoryCache := resolver.NewMemoryCache(cfg.CacheTTL, cfg.CacheCapacity)
		defer memoryCache.Close()
		cache = memoryCache
	}
	spaces := resolver.New(dataStore, cache)

	var fetcher ipfs.Fetcher = ipfs.NewClient(cfg.GatewayURL, cfg.FetchTimeout)
	if strings.TrimSpace(cfg.ArchiveEndpoint) != "" {
		client, err := ipfs.NewArchiveClient(cfg.ArchiveEndpoint, cfg.ArchiveAccessKey, cfg.ArchiveSecretKey, cfg.ArchiveUseSSL)
		if err != nil {
			log.Fatalf("archive client failed: %v", err)
		}
		archive := ipfs.NewArchiveFetcher(fetcher, client, cfg.ArchiveBucket)
		if err := archive.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: archive bucket unavailable, fetching from gateway only: %v", err)
		} else {
			fetcher = archive
		}
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient)
	defer searchService.Close()

	collector := telemetry.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	policy := retry.Default(cfg.RetryAttempts, cfg.RetryDelay)
	processor := pipeline.New(pipeline.Deps{
		Resolver: spaces,
		Fetcher:  fetcher,
		Store:    dataStore,
		Merger:   merge.NewMerger(dataStore, cfg.MergeConcurrency),
		Writer:   writer.New(dataStore, searchService, cfg.NameAttribute),
		Recorder: telemetry.NewRecorder(collector),
	}, pipeline.Config{
		Workers:      cfg.Workers,
		FetchTimeout: cfg.FetchTimeout,
		Retry:        policy,
	})

	blocks := feed.NewClient(cfg.FeedURL, policy)
	if cfg.FeedToken != "" {
		blocks.WithHeader(http.Header{"Authorization": []string{"Bearer " + cfg.FeedToken}})
	}

	service := app.NewService(cfg, dataStore, spaces, processor, blocks, searchService)
	if err := service.Bootstrap(ctx); err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	httpServer := app.NewHTTPServer(service, registry)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("kgsink listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("feed stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
