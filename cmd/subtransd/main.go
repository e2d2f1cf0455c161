package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dddepg/subtrans/internal/cache"
	"github.com/dddepg/subtrans/internal/cache/fs"
	"github.com/dddepg/subtrans/internal/cache/rediscache"
	"github.com/dddepg/subtrans/internal/config"
	"github.com/dddepg/subtrans/internal/core"
	"github.com/dddepg/subtrans/internal/db"
	"github.com/dddepg/subtrans/internal/historyrepo"
	"github.com/dddepg/subtrans/internal/httpapi"
	"github.com/dddepg/subtrans/internal/logger"
	"github.com/dddepg/subtrans/internal/network"
	"github.com/dddepg/subtrans/internal/provider"
	"github.com/dddepg/subtrans/internal/provider/anthropicp"
	"github.com/dddepg/subtrans/internal/provider/deepl"
	"github.com/dddepg/subtrans/internal/provider/gemini"
	"github.com/dddepg/subtrans/internal/provider/googletranslate"
	"github.com/dddepg/subtrans/internal/provider/openaicompat"
	"github.com/dddepg/subtrans/internal/snowflake"
)

func main() {
	logger.Init(logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	cfg := config.Load()

	if err := snowflake.Init(envInt64("SNOWFLAKE_NODE_ID", 1)); err != nil {
		log.Fatalf("init snowflake: %v", err)
	}

	dbConn, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer dbConn.Close()

	backend, closeBackend, err := buildCacheBackend(cfg, dbConn)
	if err != nil {
		log.Fatalf("build cache backend: %v", err)
	}
	defer closeBackend()

	history := historyrepo.New(dbConn)

	registry, brokers := buildProviders()

	coreCtx := core.New(cache.New(backend), registry, brokers, history, nil)

	router := httpapi.NewRouter(coreCtx.Orchestrator)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down", "module", "main", "action", "shutdown", "resource", "server", "result", "started")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := router.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", "module", "main", "action", "shutdown", "resource", "server", "result", "failed", "error", err)
		}
	}()

	if err := router.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("start server: %v", err)
	}

	logger.Info("server stopped", "module", "main", "action", "shutdown", "resource", "server", "result", "ok")
}

// buildCacheBackend wires the cache.Backend selected by STORAGE_TYPE. The
// sqlite-backed filesystem backend reuses the process's own db connection
// for its metadata index; the Redis backend owns a separate client.
func buildCacheBackend(cfg config.Config, dbConn *sql.DB) (cache.Backend, func(), error) {
	limits := map[cache.Namespace]int64{
		cache.NamespaceTranslation: cfg.CacheLimits.Translation,
		cache.NamespacePartial:     cfg.CacheLimits.Partial,
		cache.NamespaceHistory:     cfg.CacheLimits.History,
		cache.NamespaceSession:     cfg.CacheLimits.Session,
	}

	switch cfg.StorageType {
	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		backend := rediscache.New(client, cfg.Redis.KeyPrefix, limits)
		return backend, func() { _ = backend.Close() }, nil
	default:
		backend, err := fs.New(cfg.CacheBase, dbConn, limits)
		if err != nil {
			return nil, nil, fmt.Errorf("build filesystem cache: %w", err)
		}
		return backend, func() {}, nil
	}
}

// buildProviders constructs the provider registry and one Broker per
// provider from environment-supplied API keys. A provider with no key
// configured is still registered (so it can be a secondary for requests
// that never use it) but will fail auth on first dispatch.
func buildProviders() (*provider.Registry, map[string]*provider.Broker) {
	factory := network.NewClientFactory(os.Getenv("OUTBOUND_PROXY_URL"), os.Getenv("OUTBOUND_IP_STACK"))

	providers := []provider.Provider{
		openaicompat.New(openaicompat.FlavorOpenAI, os.Getenv("OPENAI_BASE_URL")),
		openaicompat.New(openaicompat.FlavorOpenRouter, envOr("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")),
		openaicompat.New(openaicompat.FlavorXAI, envOr("XAI_BASE_URL", "https://api.x.ai/v1")),
		openaicompat.New(openaicompat.FlavorDeepSeek, envOr("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1")),
		openaicompat.New(openaicompat.FlavorMistral, envOr("MISTRAL_BASE_URL", "https://api.mistral.ai/v1")),
		openaicompat.New(openaicompat.FlavorCFWorkers, os.Getenv("CFWORKERS_BASE_URL")),
		anthropicp.New(os.Getenv("ANTHROPIC_BASE_URL")),
		gemini.New(factory, envOr("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta")),
		deepl.New(factory, envOr("DEEPL_BASE_URL", "https://api-free.deepl.com/v2/translate")),
		googletranslate.New(factory),
	}

	registry := provider.NewRegistry(providers...)
	brokers := make(map[string]*provider.Broker, len(providers))
	for _, p := range providers {
		keys := apiKeysFor(p.Name())
		limiter := provider.NewRateLimiter(envInt("PROVIDER_RATE_LIMIT_"+strings.ToUpper(p.Name()), provider.DefaultRateLimit))
		broker := provider.NewBroker(limiter, provider.NewKeyPool(keys), envInt("PROVIDER_MAX_RETRIES", 0))
		brokers[p.Name()] = broker.WithConcurrency(int64(envInt("PROVIDER_MAX_CONCURRENCY", 8)))
	}
	return registry, brokers
}

// apiKeysFor reads a comma-separated key pool from
// <PROVIDER>_API_KEYS, falling back to the single-key <PROVIDER>_API_KEY.
func apiKeysFor(providerName string) []string {
	envName := strings.ToUpper(strings.ReplaceAll(providerName, "-", "_"))
	if raw := os.Getenv(envName + "_API_KEYS"); raw != "" {
		var keys []string
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		return keys
	}
	if key := os.Getenv(envName + "_API_KEY"); key != "" {
		return []string{key}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
