package document

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	TableName = "document"

	ColumnID            = "document_id"
	ColumnAnalysisBatch = "analysis_batch"
	ColumnText          = "doc_text"
	ColumnSnapshot      = "graph_snapshot"
	ColumnInstanceID    = "instance_id"
	ColumnInstanceKey   = "instance_key"
)

// Document is the row created at the start of a save. Nil fields are left
// out of the insert.
type Document struct {
	AnalysisBatch string
	Text          *string
	Snapshot      []byte
	InstanceID    *int64
	InstanceKey   *string
}

// Repository writes document rows. Statements run in the transaction carried
// by the context when there is one.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the document and returns its generated id.
func (r *Repository) Create(ctx context.Context, doc Document) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "DocumentRepository.Create")
	defer span.End()

	cols := []string{ColumnAnalysisBatch}
	vals := []any{doc.AnalysisBatch}
	if doc.Text != nil {
		cols, vals = append(cols, ColumnText), append(vals, *doc.Text)
	}
	if doc.Snapshot != nil {
		cols, vals = append(cols, ColumnSnapshot), append(vals, doc.Snapshot)
	}
	if doc.InstanceID != nil {
		cols, vals = append(cols, ColumnInstanceID), append(vals, *doc.InstanceID)
	}
	if doc.InstanceKey != nil {
		cols, vals = append(cols, ColumnInstanceKey), append(vals, *doc.InstanceKey)
	}

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(TableName)
	ib.Cols(cols...)
	ib.Values(vals...)
	ib.Returning(ColumnID)

	query, args := ib.Build()

	var id int64
	if err := database.From(ctx, r.db).GetContext(ctx, &id, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create document")
		return 0, tracing.RecordError(span, fmt.Errorf("failed to create document: %w", err))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"document_id":    id,
		"analysis_batch": doc.AnalysisBatch,
	}).Debug("created document")

	return id, nil
}

// Update sets columns of one document. Column names are quoted as given.
func (r *Repository) Update(ctx context.Context, id int64, columns []string, values []any) error {
	ctx, span := tracing.StartSpan(ctx, "DocumentRepository.Update")
	defer span.End()

	if len(columns) == 0 {
		return nil
	}
	if len(columns) != len(values) {
		return fmt.Errorf("update of document %d has %d columns and %d values", id, len(columns), len(values))
	}

	flavor := r.db.Flavor()
	ub := database.NewUpdateBuilder(flavor)
	ub.Update(TableName)
	assignments := make([]string, len(columns))
	for i, col := range columns {
		assignments[i] = ub.Assign(flavor.Quote(col), values[i])
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal(ColumnID, id))

	query, args := ub.Build()

	if _, err := database.From(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("document_id", id).Error("failed to update document")
		return tracing.RecordError(span, fmt.Errorf("failed to update document %d: %w", id, err))
	}
	return nil
}
