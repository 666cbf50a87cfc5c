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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"insight-orchestrator/internal/adapter/insightcache"
	"insight-orchestrator/internal/di"
	"insight-orchestrator/internal/infra/config"
	"insight-orchestrator/internal/infra/logger"
)

func main() {
	// 1. Load Config
	cfg := config.Load()

	// 2. Initialize Logger
	log := logger.New()
	slog.SetDefault(log)

	// 3. Optional shared cache layer
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := insightcache.ConnectRedis(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		redisClient = client
		defer redisClient.Close()
	}

	// 4. Wire components
	components := di.NewApplicationComponents(cfg, redisClient, log)

	// 5. Start background cache refresher
	components.Refresher.Start()
	defer func() {
		log.Info("Stopping refresher...")
		components.Refresher.Stop()
	}()

	// 6. Initialize Echo
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// 7. Register Handlers
	components.Handler.RegisterRoutes(e)

	// 8. Health Checks
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", func(c echo.Context) error {
		if redisClient != nil {
			if err := redisClient.Ping(c.Request().Context()).Err(); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "redis down", "error": err.Error()})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})

	// 9. Start Server
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		log.Info("Starting server", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	// 10. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
}
