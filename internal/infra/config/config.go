package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Env              string
	Port             string
	BackendURL       string
	BackendTimeout   int    // seconds
	RedisURL         string // empty disables the shared cache layer
	CacheSize        int
	CacheTTLMinutes  int
	ContextTTLMin    int
	RevealChars      int // characters revealed per tick
	RevealTickMillis int
	GeneratePerMin   int // generation rate limit across the active page
	RefreshSeconds   int // background cache refresh interval
	OpTimeoutSeconds int
}

func Load() *Config {
	// A local .env is a development convenience; absence is normal.
	_ = godotenv.Load()

	return &Config{
		Env:              getEnv("ENV", "development"),
		Port:             getEnv("PORT", "9020"),
		BackendURL:       getEnv("INSIGHT_BACKEND_URL", "http://insight-backend:8080"),
		BackendTimeout:   getEnvInt("INSIGHT_BACKEND_TIMEOUT", 60),
		RedisURL:         getEnv("REDIS_URL", ""),
		CacheSize:        getEnvInt("INSIGHT_CACHE_SIZE", 256),
		CacheTTLMinutes:  getEnvInt("INSIGHT_CACHE_TTL_MIN", 10),
		ContextTTLMin:    getEnvInt("CONTEXT_MEMO_TTL_MIN", 5),
		RevealChars:      getEnvInt("REVEAL_CHARS_PER_TICK", 2),
		RevealTickMillis: getEnvInt("REVEAL_TICK_MS", 30),
		GeneratePerMin:   getEnvInt("GENERATE_RATE_PER_MIN", 20),
		RefreshSeconds:   getEnvInt("CACHE_REFRESH_SEC", 45),
		OpTimeoutSeconds: getEnvInt("OPERATION_TIMEOUT_SEC", 90),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
