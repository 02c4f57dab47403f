package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "KV_BACKEND", "BLOB_BACKEND", "REDIS_ADDR", "REDIS_DB",
		"BLOOM_FILTER_ENABLED", "DEDUP_SIMILARITY_THRESHOLD", "BATCH_WORKERS",
		"BACKUP_RETENTION_DAYS", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	s := Load()
	if s.Port != DefaultPort || s.Addr() != ":"+DefaultPort {
		t.Fatalf("port = %q addr = %q", s.Port, s.Addr())
	}
	if s.KVBackend != KVBackendMemory || s.BlobBackend != BlobBackendMemory {
		t.Fatalf("backends = %q/%q, want memory/memory", s.KVBackend, s.BlobBackend)
	}
	if s.RedisAddr != DefaultRedisAddr {
		t.Fatalf("redis addr = %q", s.RedisAddr)
	}
	if !s.BloomEnabled {
		t.Fatal("bloom should default to enabled")
	}
	if s.DedupThreshold != 0 || s.BatchWorkers != 0 || s.BackupRetentionDays != 0 {
		t.Fatalf("tunables should default to zero (package defaults): %+v", s)
	}
	if s.LogLevel != DefaultLogLevel {
		t.Fatalf("log level = %q", s.LogLevel)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("KV_BACKEND", "Redis")
	t.Setenv("BLOB_BACKEND", "S3")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("S3_BUCKET", " product-backups ")
	t.Setenv("S3_USE_PATH_STYLE", "TRUE")
	t.Setenv("BLOOM_FILTER_ENABLED", "false")
	t.Setenv("DEDUP_SIMILARITY_THRESHOLD", "0.9")
	t.Setenv("BATCH_WORKERS", "16")
	t.Setenv("BATCH_RATE_PER_SECOND", "250.5")
	t.Setenv("BACKUP_RETENTION_DAYS", "14")

	s := Load()
	if s.Port != "9090" {
		t.Fatalf("port = %q", s.Port)
	}
	if s.KVBackend != KVBackendRedis || s.BlobBackend != BlobBackendS3 {
		t.Fatalf("backends = %q/%q", s.KVBackend, s.BlobBackend)
	}
	if s.RedisAddr != "redis.internal:6380" || s.RedisDB != 3 {
		t.Fatalf("redis = %q db %d", s.RedisAddr, s.RedisDB)
	}
	if s.S3Bucket != "product-backups" {
		t.Fatalf("s3 bucket = %q, want trimmed", s.S3Bucket)
	}
	if !s.S3UsePathStyle {
		t.Fatal("path style should parse TRUE")
	}
	if s.BloomEnabled {
		t.Fatal("bloom should be disabled")
	}
	if s.DedupThreshold != 0.9 || s.BatchWorkers != 16 || s.BatchRatePerSecond != 250.5 {
		t.Fatalf("tunables = %+v", s)
	}
	if s.BackupRetentionDays != 14 {
		t.Fatalf("retention = %d", s.BackupRetentionDays)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("DEDUP_SIMILARITY_THRESHOLD", "high")
	t.Setenv("BATCH_WORKERS", "")

	s := Load()
	if s.RedisDB != 0 || s.DedupThreshold != 0 || s.BatchWorkers != 0 {
		t.Fatalf("malformed values should fall back: %+v", s)
	}
}
