package annobase

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/batch"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	TableName = "anno_base"
	LinkTable = "anno_link"

	ColumnID         = "anno_base_id"
	ColumnDocumentID = "document_id"
	ColumnBegin      = "span_begin"
	ColumnEnd        = "span_end"
	ColumnTypeID     = "type_id"

	// ContainsLabel labels derived containment edges.
	ContainsLabel = "contains"
)

type Row struct {
	DocumentID int64
	Begin      int
	End        int
	TypeID     int
}

var insertStatement = batch.Statement{
	Table:     TableName,
	Columns:   []string{ColumnDocumentID, ColumnBegin, ColumnEnd, ColumnTypeID},
	Returning: ColumnID,
}

type Repository struct {
	db       database.DB
	executor *batch.Executor
	logger   ectologger.Logger
}

func NewRepository(db database.DB, executor *batch.Executor, logger ectologger.Logger) *Repository {
	return &Repository{
		db:       db,
		executor: executor,
		logger:   logger,
	}
}

// Insert writes base rows and returns their generated ids in row order.
func (r *Repository) Insert(ctx context.Context, rows []Row) ([]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "AnnoBaseRepository.Insert")
	defer span.End()

	ids, err := batch.Query(ctx, r.executor, database.From(ctx, r.db), insertStatement, rows, func(row Row) ([]any, error) {
		return []any{row.DocumentID, row.Begin, row.End, row.TypeID}, nil
	})
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("rows", len(rows)).Error("failed to insert base rows")
		return nil, tracing.RecordError(span, err)
	}
	return ids, nil
}

// LinkContainment adds an edge A -> B for every pair of distinct base rows of
// the document where A's span covers B's.
func (r *Repository) LinkContainment(ctx context.Context, documentID int64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "AnnoBaseRepository.LinkContainment")
	defer span.End()

	flavor := r.db.Flavor()
	sb := flavor.NewSelectBuilder()
	sb.Select("a."+ColumnID, "b."+ColumnID, "'"+ContainsLabel+"'")
	sb.From(TableName + " a")
	sb.Join(TableName+" b",
		"b."+ColumnDocumentID+" = a."+ColumnDocumentID,
		"b."+ColumnID+" <> a."+ColumnID,
		"a."+ColumnBegin+" <= b."+ColumnBegin,
		"a."+ColumnEnd+" >= b."+ColumnEnd,
	)
	sb.Where(sb.Equal("a."+ColumnDocumentID, documentID))

	insert := sqlbuilder.Buildf("INSERT INTO "+LinkTable+" (parent_anno_base_id, child_anno_base_id, label) %v", sb)
	query, args := sqlbuilder.WithFlavor(insert, flavor).Build()

	res, err := database.From(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("document_id", documentID).Error("failed to insert containment links")
		return 0, tracing.RecordError(span, fmt.Errorf("failed to insert containment links: %w", err))
	}
	n, _ := res.RowsAffected()
	return n, nil
}
