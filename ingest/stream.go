package ingest

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	sharedKafka "prodvault/shared/kafka"
	"prodvault/types"
)

// StreamConfig holds the Kafka wiring for streaming ingestion.
type StreamConfig struct {
	Brokers   []string
	Topic     string
	GroupID   string
	Processor *Processor
	Logger    *logrus.Logger
}

// NewStreamHandler builds the message handler for scraped-product topics.
// Undecodable and invalid payloads are marked so they are skipped; an upsert
// failure leaves the message unmarked so the group redelivers it.
func NewStreamHandler(processor *Processor, log *logrus.Logger) *sharedKafka.TypedMessageHandler[types.ProductRecord] {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}

	return &sharedKafka.TypedMessageHandler[types.ProductRecord]{
		Validate: func(rec *types.ProductRecord) bool {
			if err := processor.checkRecord(*rec); err != nil {
				log.WithError(err).Warn("skipping invalid product message")
				return false
			}
			return true
		},
		Process: func(ctx context.Context, rec *types.ProductRecord) error {
			res, err := processor.guard.Upsert(ctx, *rec)
			if err != nil {
				log.WithError(err).WithField("name", rec.Name).Error("stream upsert failed")
				return err
			}
			log.WithFields(logrus.Fields{
				"storage_id": res.StorageID,
				"outcome":    res.Outcome,
			}).Info("stream upsert applied")
			return nil
		},
		AlwaysMark: true,
		Logger:     log,
	}
}

// StartStream connects the consumer group and begins consuming. The returned
// consumer keeps running until the context is canceled; callers own Close.
func StartStream(ctx context.Context, cfg StreamConfig) (*sharedKafka.Consumer, error) {
	consumer, err := sharedKafka.NewConsumer(sharedKafka.ConsumerConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
		Handler: NewStreamHandler(cfg.Processor, cfg.Logger),
		Logger:  cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		return nil, err
	}
	return consumer, nil
}

// RunStreamUntilSignal consumes until SIGINT or SIGTERM, then drains briefly
// and closes the group.
func RunStreamUntilSignal(cfg StreamConfig) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer, err := StartStream(ctx, cfg)
	if err != nil {
		return err
	}

	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigterm:
		if cfg.Logger != nil {
			cfg.Logger.Info("received termination signal")
		}
	case <-ctx.Done():
	}

	cancel()

	// Give in-flight upserts a moment to finish before closing.
	time.Sleep(2 * time.Second)

	return consumer.Close()
}

// KafkaBrokersFromEnv parses the broker list from KAFKA_BOOTSTRAP_SERVERS.
func KafkaBrokersFromEnv() []string {
	brokers := os.Getenv("KAFKA_BOOTSTRAP_SERVERS")
	if brokers == "" {
		brokers = "localhost:9093"
	}
	return strings.Split(brokers, ",")
}

// KafkaTopicFromEnv returns the scraped-products topic name.
func KafkaTopicFromEnv() string {
	topic := os.Getenv("KAFKA_TOPIC_PRODUCTS")
	if topic == "" {
		topic = "scraped-products"
	}
	return topic
}

// KafkaGroupIDFromEnv returns the consumer group ID.
func KafkaGroupIDFromEnv() string {
	groupID := os.Getenv("KAFKA_CONSUMER_GROUP_ID")
	if groupID == "" {
		groupID = "prodvault-ingest"
	}
	return groupID
}
