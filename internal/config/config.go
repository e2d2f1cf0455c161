package config

import (
	"os"
	"path/filepath"
	"strconv"
)

const (
	AppName    = "subtrans"
	AppVersion = "1.0.0"
	AppRepo    = "https://github.com/dddepg/subtrans"
)

// SubtransUserAgent identifies outbound HTTP calls that don't need a
// browser-shaped fingerprint (the azuretls-backed providers use their own
// Chrome profile headers instead, see ChromeUserAgent below).
var SubtransUserAgent = "Mozilla/5.0 (compatible; " + AppName + "/" + AppVersion + "; +" + AppRepo + ")"

// Chrome headers for TLS fingerprinting (must match the azuretls Chrome
// profile version used by the DeepL/Google Translate HTTP clients).
const (
	ChromeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36"
	ChromeSecChUa   = `"Google Chrome";v="135", "Chromium";v="135", "Not-A.Brand";v="8"`
)

// StorageType selects which cache.Backend implementation is wired at
// startup.
type StorageType string

const (
	StorageFilesystem StorageType = "filesystem"
	StorageRedis      StorageType = "redis"
)

// CacheLimits holds the per-namespace ceilings that the active
// cache.Backend evicts against (spec §4.2's LRU-to-80% rule triggers
// against these). The filesystem and in-memory backends treat them as
// byte totals; the Redis backend treats the same values as entry counts,
// not bytes.
type CacheLimits struct {
	Translation int64
	Partial     int64
	History     int64
	Session     int64
}

// RedisConfig is only consulted when StorageType == StorageRedis.
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// Config is the process-wide static configuration loaded once at startup.
type Config struct {
	Addr    string
	DBPath  string
	DataDir string

	StorageType StorageType
	CacheBase   string // base directory for the filesystem backend
	CacheLimits CacheLimits
	Redis       RedisConfig

	DefaultMaxOutputTokens int
	MaxOutputTokenLimit    int
	DefaultWorkerConcurrency int
	DefaultBatchMaxEntries int
	DefaultContextSize     int
}

func Load() Config {
	addr := os.Getenv("SUBTRANS_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	dataDir := os.Getenv("SUBTRANS_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	dbPath := os.Getenv("SUBTRANS_DB_PATH")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "subtrans.db")
	}
	cacheBase := os.Getenv("SUBTRANS_CACHE_DIR")
	if cacheBase == "" {
		cacheBase = filepath.Join(dataDir, "cache")
	}

	storageType := StorageType(os.Getenv("STORAGE_TYPE"))
	if storageType != StorageRedis {
		storageType = StorageFilesystem
	}

	return Config{
		Addr:        addr,
		DBPath:      filepath.Clean(dbPath),
		DataDir:     filepath.Clean(dataDir),
		StorageType: storageType,
		CacheBase:   filepath.Clean(cacheBase),
		CacheLimits: CacheLimits{
			Translation: envInt64("CACHE_LIMIT_TRANSLATION", 2<<30),  // 2 GiB
			Partial:     envInt64("CACHE_LIMIT_PARTIAL", 256<<20),    // 256 MiB
			History:     envInt64("CACHE_LIMIT_HISTORY", 512<<20),    // 512 MiB
			Session:     envInt64("CACHE_LIMIT_SESSION", 64<<20),     // 64 MiB
		},
		Redis: RedisConfig{
			Host:      envString("REDIS_HOST", "localhost"),
			Port:      envInt("REDIS_PORT", 6379),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        envInt("REDIS_DB", 0),
			KeyPrefix: envString("REDIS_KEY_PREFIX", "subtrans:"),
		},
		DefaultMaxOutputTokens:   envInt("DEFAULT_MAX_OUTPUT_TOKENS", 65536),
		MaxOutputTokenLimit:      envInt("MAX_OUTPUT_TOKEN_LIMIT", 200000),
		DefaultWorkerConcurrency: clamp(envInt("DEFAULT_WORKER_CONCURRENCY", 3), 1, 5),
		DefaultBatchMaxEntries:   envInt("DEFAULT_BATCH_MAX_ENTRIES", 50),
		DefaultContextSize:       clamp(envInt("DEFAULT_CONTEXT_SIZE", 0), 0, 10),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
