package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SourceKafka is the context source of documents delivered by the consumer.
const SourceKafka = "kafka"

// Retry delays for a message whose save failed grow as a fibonacci sequence
// of retryUnit up to maxRetryDelay.
const (
	defaultRetryUnit = 500 * time.Millisecond
	maxRetryDelay    = 30 * time.Second
)

// MessageHandler processes incoming Kafka messages
type MessageHandler func(ctx context.Context, msg *IncomingMessage) error

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer handles Kafka message consumption
type Consumer struct {
	reader  Reader
	topic   string
	logger  ectologger.Logger
	handler MessageHandler
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	running atomic.Bool

	retryUnit time.Duration
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0, // commits are synchronous, after a successful save
	})
	return NewConsumerWithReader(reader, cfg.Topic, logger, handler)
}

func NewConsumerWithReader(reader Reader, topic string, logger ectologger.Logger, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:    reader,
		topic:     topic,
		logger:    logger,
		handler:   handler,
		retryUnit: defaultRetryUnit,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.running.Store(true)
	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithField("topic", c.topic).Info("Kafka consumer started")
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	defer c.running.Store(false)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				c.logger.WithContext(ctx).Info("Consumer loop stopping")
				return
			}
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
			continue
		}

		c.processMessage(ctx, msg)
	}
}

// processMessage commits after a successful save. Messages rejected as
// malformed are committed too so they cannot block the partition. Any other
// failure is retried in place until it succeeds or the consumer stops:
// committing a later offset of the partition would commit this one as well.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	for attempt := 1; ; attempt++ {
		err := c.handle(ctx, msg)
		if err == nil {
			metrics.KafkaMessages.WithLabelValues("processed").Inc()
			break
		}
		if isRejected(err) {
			metrics.KafkaMessages.WithLabelValues("rejected").Inc()
			log.WithError(err).Warn("Rejected malformed message")
			break
		}

		metrics.KafkaMessages.WithLabelValues("failed").Inc()
		delay := c.retryDelay(attempt)
		log.WithError(err).WithField("attempt", attempt).Errorf("Failed to process message, retrying in %s", delay)
		select {
		case <-ctx.Done():
			log.Warn("Consumer stopped before the message was processed, leaving it uncommitted")
			return
		case <-time.After(delay):
		}
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to commit message")
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processMessage")
	defer span.End()

	ctx = appctx.SetSource(ctx, SourceKafka)
	ctx = appctx.SetMessagePosition(ctx, msg.Topic, msg.Partition, msg.Offset)
	if err := c.handler(ctx, newIncomingMessage(msg)); err != nil {
		return tracing.RecordError(span, err)
	}
	return nil
}

func (c *Consumer) retryDelay(attempt int) time.Duration {
	a, b := 1, 1
	for i := 1; i < attempt; i++ {
		if time.Duration(b)*c.retryUnit >= maxRetryDelay {
			return maxRetryDelay
		}
		a, b = b, a+b
	}
	return min(time.Duration(a)*c.retryUnit, maxRetryDelay)
}

func isRejected(err error) bool {
	if !httperror.IsHTTPError(err) {
		return false
	}
	code := httperror.GetStatusCode(err)
	return code >= 400 && code < 500
}

// Health reports whether the consume loop is running.
func (c *Consumer) Health() bool {
	return c.running.Load()
}
