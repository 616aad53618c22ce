// Command sweeper promotes due scheduled chapters to published and fans out
// their notifications. Run it from cron or a scheduler; a run with nothing
// to promote still exits 0.
package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"librioo/api/internal/app"
	"librioo/api/internal/cache"
	"librioo/api/internal/config"
	"librioo/api/internal/search"
	"librioo/api/internal/store"
)

func main() {
	nowFlag := flag.String("now", "", "sweep as of this RFC3339 instant instead of the wall clock")
	flag.Parse()

	now := time.Now()
	if *nowFlag != "" {
		parsed, err := time.Parse(time.RFC3339, *nowFlag)
		if err != nil {
			log.Fatalf("invalid -now value: %v", err)
		}
		now = parsed
	}

	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	dataStore := store.NewPostgresStore(db)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db))

	var rankingCache *cache.RankingCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rankingCache, err = cache.NewRankingCache(ctx, cfg.RedisURL, cfg.RankingCacheTTL)
		if err != nil {
			log.Printf("redis unavailable, sweeping without cache invalidation: %v", err)
		} else {
			defer rankingCache.Close()
		}
	}

	service := app.New(cfg, dataStore, searchService, rankingCache, nil)

	promoted, err := service.RunSweep(ctx, now)
	if err != nil {
		log.Fatalf("sweep failed: %v", err)
	}
	log.Printf("sweep complete: %d chapter(s) promoted", promoted)
}
