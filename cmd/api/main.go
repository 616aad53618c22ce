package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"librioo/api/internal/app"
	"librioo/api/internal/cache"
	"librioo/api/internal/config"
	"librioo/api/internal/media"
	"librioo/api/internal/search"
	"librioo/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG(ctx)

	var rankingCache *cache.RankingCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rankingCache, err = cache.NewRankingCache(ctx, cfg.RedisURL, cfg.RankingCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer rankingCache.Close()
		log.Printf("Ranking cache enabled")
	}

	var mediaStore *media.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		mediaStore, err = media.NewStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MediaBaseURL, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("media storage failed: %v", err)
		}
		log.Printf("Media storage enabled (bucket %s)", cfg.MinioBucket)
	}

	service := app.New(cfg, dataStore, searchService, rankingCache, mediaStore)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Librioo API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
