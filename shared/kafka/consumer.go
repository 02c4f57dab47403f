// Package kafka provides the consumer-group plumbing for the streaming
// ingestion mode: a Consumer wrapping a sarama consumer group, and a
// TypedMessageHandler that decodes JSON payloads into a concrete message
// type before handing them to service code.
package kafka

import (
	"context"
	"encoding/json"
	"io"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// MessageHandler processes one consumed message. Returning shouldMark=false
// or an error leaves the message unmarked so the group redelivers it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, message []byte) (shouldMark bool, err error)
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Handler MessageHandler
	Logger  *logrus.Logger
}

// Consumer consumes one topic through a consumer group and delegates each
// message to the configured handler.
type Consumer struct {
	group   sarama.ConsumerGroup
	handler MessageHandler
	topic   string
	groupID string
	log     *logrus.Logger
	ready   chan bool
}

// NewConsumer builds a consumer group client. Offsets start at newest; a
// fresh group therefore only sees messages produced after it joins.
func NewConsumer(config ConsumerConfig) (*Consumer, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
		config.Logger.SetOutput(io.Discard)
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(config.Brokers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		group:   group,
		handler: config.Handler,
		topic:   config.Topic,
		groupID: config.GroupID,
		log:     config.Logger,
		ready:   make(chan bool),
	}, nil
}

// Start begins consuming until the context is canceled. It returns once the
// first session is set up, so callers know the group join succeeded.
func (c *Consumer) Start(ctx context.Context) error {
	handler := &groupHandler{handler: c.handler, log: c.log, ready: c.ready}

	go func() {
		for {
			if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
				if err == context.Canceled {
					return
				}
				c.log.WithError(err).Error("kafka consume failed")
			}
			if ctx.Err() != nil {
				return
			}
			// A rebalance ends the session; a fresh ready channel is
			// needed before the next Setup runs.
			handler.ready = make(chan bool)
		}
	}()

	<-c.ready
	c.log.WithFields(logrus.Fields{"group": c.groupID, "topic": c.topic}).Info("kafka consumer started")

	go func() {
		for err := range c.group.Errors() {
			c.log.WithError(err).Error("kafka consumer error")
		}
	}()

	return nil
}

// Close shuts the consumer group down.
func (c *Consumer) Close() error {
	c.log.Info("closing kafka consumer")
	return c.group.Close()
}

type groupHandler struct {
	handler MessageHandler
	log     *logrus.Logger
	ready   chan bool
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			h.log.WithFields(logrus.Fields{
				"partition": message.Partition,
				"offset":    message.Offset,
				"key":       string(message.Key),
			}).Debug("received kafka message")

			shouldMark, err := h.handler.HandleMessage(session.Context(), message.Value)
			if err != nil {
				h.log.WithError(err).Error("message handling failed")
			}
			if shouldMark {
				session.MarkMessage(message, "")
			}

		case <-session.Context().Done():
			return nil
		}
	}
}

// TypedMessageHandler decodes JSON messages into T and applies Validate,
// then Process. Undecodable or invalid messages are marked (skipped) when
// AlwaysMark is set; a Process error always leaves the message unmarked so
// the group redelivers it.
type TypedMessageHandler[T any] struct {
	Validate   func(msg *T) bool
	Process    func(ctx context.Context, msg *T) error
	AlwaysMark bool
	Logger     *logrus.Logger
}

// HandleMessage implements MessageHandler.
func (h *TypedMessageHandler[T]) HandleMessage(ctx context.Context, message []byte) (bool, error) {
	var msg T
	if err := json.Unmarshal(message, &msg); err != nil {
		if h.Logger != nil {
			h.Logger.WithError(err).Warn("dropping undecodable message")
		}
		return h.AlwaysMark, nil
	}

	if h.Validate != nil && !h.Validate(&msg) {
		return h.AlwaysMark, nil
	}

	if err := h.Process(ctx, &msg); err != nil {
		return false, err
	}
	return true, nil
}
