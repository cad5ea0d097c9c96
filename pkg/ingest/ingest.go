// Package ingest turns save requests in the JSON interchange format into
// document saves. The HTTP route, the Kafka consumer and the CLI share it.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/persist"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Options struct {
	StoreText              bool `json:"store_text"`
	StoreSnapshot          bool `json:"store_snapshot"`
	InsertContainmentLinks bool `json:"insert_containment_links"`
}

type Request struct {
	AnalysisBatch string             `json:"analysis_batch" validate:"max=50"`
	Options       Options            `json:"options"`
	IgnoreTypes   []string           `json:"ignore_types" validate:"dive,required"`
	Document      graph.WireDocument `json:"document"`
}

type Result struct {
	DocumentID    int64  `json:"document_id"`
	AnalysisBatch string `json:"analysis_batch,omitempty"`
	Records       int    `json:"records"`
}

// Saver persists one decoded document.
type Saver interface {
	Save(ctx context.Context, doc *graph.Document, opts persist.SaveOptions) (int64, error)
}

// Notifier is told about every committed save. A failing notification is
// logged; the document stays saved.
type Notifier interface {
	DocumentSaved(ctx context.Context, result *Result) error
}

type Service struct {
	types    *graph.TypeSystem
	saver    Saver
	notifier Notifier
	logger   ectologger.Logger
}

func NewService(types *graph.TypeSystem, saver Saver, logger ectologger.Logger) *Service {
	return &Service{types: types, saver: saver, logger: logger}
}

// WithNotifier sets the notifier and returns s.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// Parse decodes and validates a request body. Failures are 400 errors.
func Parse(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid request body: %v", err)
	}
	if err := Validate(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

func Validate(req *Request) error {
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, validationMessage(err))
	}
	if len(req.Document.Records) == 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "document has no records")
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s'", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// Ingest decodes the request's document and saves it.
func (s *Service) Ingest(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Ingest")
	defer span.End()

	doc, err := graph.Decode(s.types, req.Document)
	if err != nil {
		return nil, tracing.RecordError(span, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid document: %v", err))
	}

	ctx = appctx.SetAnalysisBatch(ctx, req.AnalysisBatch)
	id, err := s.saver.Save(ctx, doc, persist.SaveOptions{
		AnalysisBatch:          req.AnalysisBatch,
		StoreText:              req.Options.StoreText,
		StoreSnapshot:          req.Options.StoreSnapshot,
		InsertContainmentLinks: req.Options.InsertContainmentLinks,
		IgnoreTypes:            req.IgnoreTypes,
	})
	if err != nil {
		var pe *persist.PersistError
		if errors.As(err, &pe) {
			return nil, tracing.RecordError(span, pe.ToHTTPError())
		}
		return nil, tracing.RecordError(span, err)
	}

	ctx = appctx.SetDocumentID(ctx, id)
	result := &Result{DocumentID: id, AnalysisBatch: req.AnalysisBatch, Records: len(doc.Records)}
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"document_id": id,
		"records":     result.Records,
	}).Debug("ingested document")

	if s.notifier != nil {
		if err := s.notifier.DocumentSaved(ctx, result); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("failed to announce saved document")
		}
	}
	return result, nil
}

// IngestJSON is Parse followed by Ingest.
func (s *Service) IngestJSON(ctx context.Context, data []byte) (*Result, error) {
	req, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return s.Ingest(ctx, req)
}
