package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string
}

func newIncomingMessage(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Topic:     msg.Topic,
	}
}

// AnalysisBatch returns the batch header, if any. It applies when the body
// names no batch of its own.
func (m *IncomingMessage) AnalysisBatch() string {
	return m.Headers[HeaderAnalysisBatch]
}

// Header keys
const (
	HeaderAnalysisBatch = "analysis_batch"
	HeaderEventType     = "type"
	HeaderDocumentID    = "document_id"
)
