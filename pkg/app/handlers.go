package app

import (
	"context"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/ingest"
	"github.com/Ramsey-B/fern/pkg/kafka"
)

// handleMessage saves one document delivered on the input topic. The batch
// header applies when the body names none.
func (a *App) handleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	return ingestMessage(ctx, a.Ingest, msg)
}

func ingestMessage(ctx context.Context, svc *ingest.Service, msg *kafka.IncomingMessage) error {
	req, err := ingest.Parse(msg.Value)
	if err != nil {
		return err
	}
	if req.AnalysisBatch == "" {
		req.AnalysisBatch = msg.AnalysisBatch()
	}
	if err := ingest.Validate(req); err != nil {
		return err
	}
	_, err = svc.Ingest(ctx, req)
	return err
}

// DocumentPublisher is the part of the producer the notifier needs.
type DocumentPublisher interface {
	PublishDocumentEvent(ctx context.Context, evt *kafka.DocumentEvent) error
}

// eventNotifier announces committed saves on the output topic.
type eventNotifier struct {
	producer DocumentPublisher
}

func (n *eventNotifier) DocumentSaved(ctx context.Context, result *ingest.Result) error {
	evt := &kafka.DocumentEvent{
		DocumentID:    result.DocumentID,
		AnalysisBatch: result.AnalysisBatch,
		Records:       result.Records,
	}
	if pos, ok := appctx.GetMessagePosition(ctx); ok {
		evt.SourceTopic = pos.Topic
		evt.SourceOffset = pos.Offset
	}
	return n.producer.PublishDocumentEvent(ctx, evt)
}
