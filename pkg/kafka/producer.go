package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// EventDocumentPersisted is published after each committed save.
const EventDocumentPersisted = "document.persisted"

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles Kafka event emission
type Producer struct {
	writer Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	var compression kafka.Compression
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "snappy":
		compression = kafka.Snappy
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}
	return NewProducerWithWriter(writer, cfg.Topic, logger)
}

func NewProducerWithWriter(writer Writer, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// DocumentEvent announces a persisted document.
type DocumentEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	DocumentID    int64     `json:"document_id"`
	AnalysisBatch string    `json:"analysis_batch,omitempty"`
	Records       int       `json:"records"`
	SourceTopic   string    `json:"source_topic,omitempty"`
	SourceOffset  int64     `json:"source_offset,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	TraceID       string    `json:"trace_id,omitempty"`
}

// PublishDocumentEvent writes evt keyed by document id.
func (p *Producer) PublishDocumentEvent(ctx context.Context, evt *DocumentEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishDocumentEvent",
		attribute.Int64("document_id", evt.DocumentID))
	defer span.End()

	if evt.EventID == "" {
		evt.EventID = uuid.New().String()
	}
	if evt.EventType == "" {
		evt.EventType = EventDocumentPersisted
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if evt.TraceID == "" {
		evt.TraceID = tracing.GetTraceID(ctx)
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return tracing.RecordError(span, errors.Wrap(err, "failed to marshal document event"))
	}

	id := strconv.FormatInt(evt.DocumentID, 10)
	msg := kafka.Message{
		Key:   []byte(id),
		Value: data,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(evt.EventType)},
			{Key: HeaderDocumentID, Value: []byte(id)},
			{Key: HeaderAnalysisBatch, Value: []byte(evt.AnalysisBatch)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("document_id", evt.DocumentID).Error("Failed to publish document event")
		return tracing.RecordError(span, errors.Wrap(err, "failed to publish document event"))
	}
	return nil
}
