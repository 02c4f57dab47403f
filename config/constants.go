package config

// Key-Value Backend Selectors
const (
	// KVBackendMemory keeps records in process memory, for tests and demos
	KVBackendMemory = "memory"

	// KVBackendRedis stores records in Redis
	KVBackendRedis = "redis"
)

// Blob Backend Selectors
const (
	// BlobBackendMemory keeps backups in process memory, for tests and demos
	BlobBackendMemory = "memory"

	// BlobBackendS3 stores backups in an S3 bucket
	BlobBackendS3 = "s3"

	// BlobBackendGCS stores backups in a Google Cloud Storage bucket
	BlobBackendGCS = "gcs"
)

// Service Defaults
const (
	// DefaultPort is the HTTP listen port when PORT is unset
	DefaultPort = "8080"

	// DefaultRedisAddr is the Redis endpoint when REDIS_ADDR is unset
	DefaultRedisAddr = "localhost:6379"

	// DefaultLogLevel is the logrus level when LOG_LEVEL is unset
	DefaultLogLevel = "info"
)
