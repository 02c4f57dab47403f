package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"prodvault/api"
	"prodvault/config"
	"prodvault/guard"
	"prodvault/ingest"
	"prodvault/protection"
	"prodvault/storage"
)

func main() {
	consumeMode := flag.Bool("consume", false, "Run in Kafka consumer mode (ingest scraped records from the stream)")
	backupMode := flag.Bool("backup", false, "Create the daily backup and exit")
	dedupMode := flag.Bool("dedup", false, "Run one deduplication pass and exit")
	statusMode := flag.Bool("status", false, "Print protection status as JSON and exit")
	flag.Parse()

	// config.Load reads .env if present (non-fatal if missing)
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)

	ctx := context.Background()
	p, err := buildProtector(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to assemble protection stack")
	}

	switch {
	case *backupMode:
		runBackup(ctx, p, logger)
	case *dedupMode:
		runDedup(ctx, p, logger)
	case *statusMode:
		runStatus(ctx, p, logger)
	case *consumeMode:
		runConsumer(p, logger)
	default:
		runServer(cfg, p, logger)
	}
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// buildProtector wires the configured KV and blob backends into a Protector.
// The Redis backend also brings the bloom fast path and the distributed
// deduplication lock; everything degrades to in-memory for local runs.
func buildProtector(ctx context.Context, cfg config.Settings, logger *logrus.Logger) (*protection.Protector, error) {
	pcfg := protection.Config{
		DedupThreshold:      cfg.DedupThreshold,
		DedupPriceTolerance: cfg.DedupPriceTolerance,
		BatchWorkers:        cfg.BatchWorkers,
		BatchRatePerSecond:  cfg.BatchRatePerSecond,
		KVBackendName:       cfg.KVBackend,
		BlobBackendName:     cfg.BlobBackend,
		Logger:              logger,
	}

	switch cfg.KVBackend {
	case config.KVBackendRedis:
		rdb, err := storage.NewRedisClient(ctx, storage.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		pcfg.KV = storage.NewRedisKV(rdb)
		pcfg.Locker = redislock.New(rdb)
		if cfg.BloomEnabled {
			filter, err := guard.NewFingerprintFilter(guard.FilterConfig{Client: rdb})
			if err != nil {
				logger.WithError(err).Warn("bloom filter unavailable, continuing without fast path")
			} else {
				pcfg.Filter = filter
			}
		}
		logger.WithField("addr", cfg.RedisAddr).Info("using Redis KV backend")
	default:
		pcfg.KV = storage.NewMemoryKV()
		logger.Info("using in-memory KV backend")
	}

	switch cfg.BlobBackend {
	case config.BlobBackendS3:
		blobs, err := storage.NewS3Blob(ctx, storage.S3Config{
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			Region:       cfg.S3Region,
			Profile:      cfg.S3Profile,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		pcfg.Blobs = blobs
		logger.WithField("bucket", cfg.S3Bucket).Info("using S3 backup store")
	case config.BlobBackendGCS:
		blobs, err := storage.NewGCSBlob(ctx, storage.GCSConfig{
			Bucket: cfg.GCSBucket,
			Prefix: cfg.GCSPrefix,
		})
		if err != nil {
			return nil, err
		}
		pcfg.Blobs = blobs
		logger.WithField("bucket", cfg.GCSBucket).Info("using GCS backup store")
	default:
		pcfg.Blobs = storage.NewMemoryBlob()
		logger.Info("using in-memory backup store")
	}

	return protection.New(pcfg)
}

func runServer(cfg config.Settings, p *protection.Protector, logger *logrus.Logger) {
	r := api.NewRouter(p)

	logger.Infof("starting API server on %s", cfg.Addr())
	logger.Info("API endpoints available:")
	logger.Info("  GET  /api/health")
	logger.Info("  POST /api/products")
	logger.Info("  POST /api/products/batch")
	logger.Info("  GET  /api/products")
	logger.Info("  GET  /api/products/:id")
	logger.Info("  GET  /api/status")
	logger.Info("  GET  /api/statistics")
	logger.Info("  GET  /api/backups")
	logger.Info("  POST /api/backups/daily")
	logger.Info("  POST /api/backups/emergency")
	logger.Info("  POST /api/backups/restore")
	logger.Info("  POST /api/backups/cleanup")
	logger.Info("  POST /api/deduplication/detect")
	logger.Info("  POST /api/deduplication/run")
	logger.Info("  GET  /api/export/csv")
	logger.Info("  GET  /api/export/json")
	logger.Info("  GET  /api/export/xlsx")

	if err := http.ListenAndServe(cfg.Addr(), r); err != nil {
		logger.WithError(err).Fatal("server error")
	}
}

func runConsumer(p *protection.Protector, logger *logrus.Logger) {
	scfg := ingest.StreamConfig{
		Brokers:   ingest.KafkaBrokersFromEnv(),
		Topic:     ingest.KafkaTopicFromEnv(),
		GroupID:   ingest.KafkaGroupIDFromEnv(),
		Processor: p.Processor(),
		Logger:    logger,
	}

	logger.WithFields(logrus.Fields{
		"brokers": scfg.Brokers,
		"topic":   scfg.Topic,
		"group":   scfg.GroupID,
	}).Info("running in Kafka consumer mode")

	if err := ingest.RunStreamUntilSignal(scfg); err != nil {
		logger.WithError(err).Fatal("kafka consumer failed")
	}
}

func runBackup(ctx context.Context, p *protection.Protector, logger *logrus.Logger) {
	ref, err := p.CreateDailyBackup(ctx)
	if err != nil {
		logger.WithError(err).Fatal("daily backup failed")
	}
	logger.WithFields(logrus.Fields{
		"backup_key":     ref.Key,
		"total_products": ref.TotalProducts,
	}).Info("daily backup complete")
}

func runDedup(ctx context.Context, p *protection.Protector, logger *logrus.Logger) {
	report, err := p.RunDeduplication(ctx, 0)
	if err != nil {
		logger.WithError(err).Fatal("deduplication failed")
	}
	logger.WithFields(logrus.Fields{
		"groups":     report.Groups,
		"merged":     report.Merged,
		"superseded": report.Superseded,
	}).Info("deduplication complete")
}

func runStatus(ctx context.Context, p *protection.Protector, logger *logrus.Logger) {
	status, err := p.Status(ctx)
	if err != nil {
		logger.WithError(err).Fatal("status read failed")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		logger.WithError(err).Fatal("encode status")
	}
}
