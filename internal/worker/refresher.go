package worker

import (
	"context"
	"log/slog"
	"time"

	"insight-orchestrator/internal/domain"
	"insight-orchestrator/internal/usecase"

	"golang.org/x/sync/errgroup"
)

const (
	defaultRefreshInterval = 45 * time.Second
	sweepTimeout           = 30 * time.Second
	initialBackoff         = 5 * time.Second
	maxBackoff             = 5 * time.Minute
	maxConcurrentFetches   = 4
)

// CacheRefresher periodically re-reads the shared cache entries backing the
// live controllers and offers the result for hydration. Controllers that are
// busy drop the offer through the hydration guard, so a sweep can never
// overwrite in-flight local state.
type CacheRefresher struct {
	registry *usecase.Registry
	cache    domain.InsightCache
	interval time.Duration
	logger   *slog.Logger
	stopChan chan struct{}
	backoff  time.Duration
}

func NewCacheRefresher(
	registry *usecase.Registry,
	cache domain.InsightCache,
	interval time.Duration,
	logger *slog.Logger,
) *CacheRefresher {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return &CacheRefresher{
		registry: registry,
		cache:    cache,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (w *CacheRefresher) Start() {
	w.logger.Info("Starting CacheRefresher", "interval", w.interval)
	go w.run()
}

func (w *CacheRefresher) Stop() {
	w.logger.Info("Stopping CacheRefresher")
	close(w.stopChan)
}

func (w *CacheRefresher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.sweep()
			if w.backoff > 0 {
				ticker.Reset(w.backoff)
			} else {
				ticker.Reset(w.interval)
			}
		}
	}
}

// sweep fetches each distinct cache key once and hydrates every controller
// sharing it.
func (w *CacheRefresher) sweep() {
	controllers := w.registry.Controllers()
	if len(controllers) == 0 {
		return
	}

	byKey := make(map[domain.CacheKey][]*usecase.Controller)
	for _, ctrl := range controllers {
		cacheKey := ctrl.Key().CacheKey()
		byKey[cacheKey] = append(byKey[cacheKey], ctrl)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)

	for cacheKey, group := range byKey {
		g.Go(func() error {
			entry, err := w.cache.Get(gctx, cacheKey)
			if err != nil {
				return err
			}
			for _, ctrl := range group {
				ctrl.Hydrate(entry)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		w.backoff = w.nextBackoff(w.backoff)
		w.logger.Warn("Refresher backing off", "backoff", w.backoff, "error", err)
		return
	}
	w.backoff = 0
}

func (w *CacheRefresher) nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return initialBackoff
	}
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
