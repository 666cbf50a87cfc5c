package di

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"insight-orchestrator/internal/adapter/api"
	"insight-orchestrator/internal/adapter/backendapi"
	"insight-orchestrator/internal/adapter/insightcache"
	"insight-orchestrator/internal/infra/config"
	"insight-orchestrator/internal/infra/httpclient"
	"insight-orchestrator/internal/typewriter"
	"insight-orchestrator/internal/usecase"
	"insight-orchestrator/internal/worker"
)

// ApplicationComponents holds all wired dependencies for the application.
type ApplicationComponents struct {
	Registry  *usecase.Registry
	Cache     *insightcache.Cache
	Handler   *api.Handler
	Refresher *worker.CacheRefresher
}

// NewApplicationComponents wires all dependencies from config. redisClient
// may be nil, in which case the cache runs without a shared layer.
func NewApplicationComponents(cfg *config.Config, redisClient *redis.Client, log *slog.Logger) *ApplicationComponents {
	// Shared HTTP clients with connection pooling
	backendHTTP := httpclient.NewPooledClient(time.Duration(cfg.BackendTimeout) * time.Second)

	// Backend clients
	gateway := backendapi.NewGateway(cfg.BackendURL, backendHTTP, log)
	contexts := backendapi.NewContextStoreClient(cfg.BackendURL, backendHTTP, time.Duration(cfg.ContextTTLMin)*time.Minute)
	listClient := backendapi.NewInsightListClient(cfg.BackendURL, backendHTTP)

	// Cache with optional Redis shared layer
	var shared insightcache.SharedStore
	if redisClient != nil {
		shared = insightcache.NewRedisStore(redisClient)
		log.Info("shared_cache_enabled", slog.String("url", cfg.RedisURL))
	}
	cache := insightcache.New(
		cfg.CacheSize,
		time.Duration(cfg.CacheTTLMinutes)*time.Minute,
		listClient.Fetch,
		shared,
		log,
	)

	// One limiter shared by every controller keeps total generation load
	// bounded regardless of how many metrics the page shows.
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.GeneratePerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.GeneratePerMin)), cfg.GeneratePerMin)
	}

	animator := typewriter.New(cfg.RevealChars, time.Duration(cfg.RevealTickMillis)*time.Millisecond)

	registry := usecase.NewRegistry(usecase.ControllerDeps{
		Gateway:   gateway,
		Cache:     cache,
		Contexts:  contexts,
		Animator:  animator,
		Limiter:   limiter,
		Logger:    log,
		OpTimeout: time.Duration(cfg.OpTimeoutSeconds) * time.Second,
	})

	handler := api.NewHandler(registry, log)
	refresher := worker.NewCacheRefresher(registry, cache, time.Duration(cfg.RefreshSeconds)*time.Second, log)

	return &ApplicationComponents{
		Registry:  registry,
		Cache:     cache,
		Handler:   handler,
		Refresher: refresher,
	}
}
