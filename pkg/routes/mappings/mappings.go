package mappings

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type Response struct {
	Type    string               `json:"type"`
	Mapped  bool                 `json:"mapped"`
	Mapping *mapping.MappingInfo `json:"mapping,omitempty"`
}

// Register registers mapping routes
func Register(g *echo.Group) {
	g.GET("/:type", getMapping)
}

// getMapping resolves the mapping of one type, introspecting its table on
// first use.
func getMapping(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "mappings_handler.Get")
	defer span.End()

	typeName := c.Param("type")
	if typeName == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "type is required")
	}

	ctx, db, err := ectoinject.GetContext[database.DB](ctx)
	if err != nil {
		return tracing.RecordError(span, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to get database: %v", err))
	}
	ctx, resolver, err := ectoinject.GetContext[*mapping.Resolver](ctx)
	if err != nil {
		return tracing.RecordError(span, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to get mapping resolver: %v", err))
	}

	info, err := resolver.Resolve(ctx, db, typeName)
	if err != nil {
		return tracing.RecordError(span, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to resolve mapping for %s: %v", typeName, err))
	}

	if info == nil {
		ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
		if logger != nil {
			logger.WithContext(ctx).WithField("type", typeName).Debug("Type is not mapped to a table")
		}
	}
	return c.JSON(http.StatusOK, Response{Type: typeName, Mapped: info != nil, Mapping: info})
}
