package exporters

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel/sdk/trace"
)

// ConsoleExporter writes one JSON line per finished span.
type ConsoleExporter struct {
	Out io.Writer
	mu  sync.Mutex
}

type consoleSpan struct {
	Name       string         `json:"name"`
	TraceID    string         `json:"trace_id"`
	SpanID     string         `json:"span_id"`
	ParentID   string         `json:"parent_id,omitempty"`
	DurationMs float64        `json:"duration_ms"`
	Status     string         `json:"status"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (c *ConsoleExporter) ExportSpans(ctx context.Context, spans []trace.ReadOnlySpan) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	enc := json.NewEncoder(out)

	for _, span := range spans {
		line := consoleSpan{
			Name:       span.Name(),
			TraceID:    span.SpanContext().TraceID().String(),
			SpanID:     span.SpanContext().SpanID().String(),
			DurationMs: float64(span.EndTime().Sub(span.StartTime()).Microseconds()) / 1000,
			Status:     span.Status().Code.String(),
		}
		if span.Parent().IsValid() {
			line.ParentID = span.Parent().SpanID().String()
		}
		if attrs := span.Attributes(); len(attrs) > 0 {
			line.Attributes = make(map[string]any, len(attrs))
			for _, kv := range attrs {
				line.Attributes[string(kv.Key)] = kv.Value.AsInterface()
			}
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsoleExporter) Shutdown(ctx context.Context) error {
	return nil
}
