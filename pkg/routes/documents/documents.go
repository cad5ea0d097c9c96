package documents

import (
	"io"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/ingest"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// MaxBodyBytes bounds one request body.
const MaxBodyBytes = 64 << 20

// Register registers document routes
func Register(g *echo.Group) {
	g.POST("", createDocument)
}

// createDocument saves one document and responds 201 with its id.
func createDocument(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "documents_handler.Create")
	defer span.End()

	ctx, service, err := ectoinject.GetContext[*ingest.Service](ctx)
	if err != nil {
		return tracing.RecordError(span, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to get ingest service: %v", err))
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, MaxBodyBytes+1))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if len(body) > MaxBodyBytes {
		return httperror.NewHTTPError(http.StatusRequestEntityTooLarge, "request body is too large")
	}

	result, err := service.IngestJSON(ctx, body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}
