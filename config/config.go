// Package config loads service configuration from the environment, with an
// optional .env file for local development. Zero values for tunables mean
// "use the owning package's default", so an empty environment produces a
// fully working in-memory instance.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Settings holds everything the service reads from the environment.
type Settings struct {
	Port string

	KVBackend   string
	BlobBackend string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Profile      string
	S3UsePathStyle bool

	GCSBucket string
	GCSPrefix string

	// BloomEnabled turns on the bloom fast path. It only takes effect with
	// the Redis backend, which provides the filter.
	BloomEnabled bool

	DedupThreshold      float64
	DedupPriceTolerance float64

	BatchWorkers       int
	BatchRatePerSecond float64

	BackupRetentionDays int

	LogLevel string
}

// Load reads settings from the environment. A .env file is loaded first when
// present; loading is non-fatal if it is missing.
func Load() Settings {
	_ = godotenv.Load()

	return Settings{
		Port:        getEnvOrDefault("PORT", DefaultPort),
		KVBackend:   strings.ToLower(getEnvOrDefault("KV_BACKEND", KVBackendMemory)),
		BlobBackend: strings.ToLower(getEnvOrDefault("BLOB_BACKEND", BlobBackendMemory)),

		RedisAddr:     getEnvOrDefault("REDIS_ADDR", DefaultRedisAddr),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("REDIS_DB", 0),

		S3Bucket:       strings.TrimSpace(os.Getenv("S3_BUCKET")),
		S3Prefix:       strings.TrimSpace(os.Getenv("S3_PREFIX")),
		S3Region:       strings.TrimSpace(os.Getenv("S3_REGION")),
		S3Profile:      strings.TrimSpace(os.Getenv("S3_PROFILE")),
		S3UsePathStyle: getEnvBoolOrDefault("S3_USE_PATH_STYLE", false),

		GCSBucket: strings.TrimSpace(os.Getenv("GCS_BUCKET")),
		GCSPrefix: strings.TrimSpace(os.Getenv("GCS_PREFIX")),

		BloomEnabled: getEnvBoolOrDefault("BLOOM_FILTER_ENABLED", true),

		DedupThreshold:      getEnvFloatOrDefault("DEDUP_SIMILARITY_THRESHOLD", 0),
		DedupPriceTolerance: getEnvFloatOrDefault("DEDUP_PRICE_TOLERANCE", 0),

		BatchWorkers:       getEnvIntOrDefault("BATCH_WORKERS", 0),
		BatchRatePerSecond: getEnvFloatOrDefault("BATCH_RATE_PER_SECOND", 0),

		BackupRetentionDays: getEnvIntOrDefault("BACKUP_RETENTION_DAYS", 0),

		LogLevel: getEnvOrDefault("LOG_LEVEL", DefaultLogLevel),
	}
}

// Addr returns the HTTP listen address.
func (s Settings) Addr() string {
	return ":" + s.Port
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) int {
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

func getEnvFloatOrDefault(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return strings.EqualFold(v, "true") || v == "1"
}
