package annolink

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/batch"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const TableName = "anno_link"

// Edge is a relationship between two base rows that no single foreign key
// column can express.
type Edge struct {
	Parent int64
	Child  int64
	Label  string
}

var insertStatement = batch.Statement{
	Table:   TableName,
	Columns: []string{"parent_anno_base_id", "child_anno_base_id", "label"},
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

func (r *Repository) Insert(ctx context.Context, edges []Edge) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "AnnoLinkRepository.Insert")
	defer span.End()

	n, err := batch.Write(ctx, r.executor, database.From(ctx, r.db), insertStatement, edges, func(e Edge) ([]any, error) {
		return []any{e.Parent, e.Child, e.Label}, nil
	})
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("edges", len(edges)).Error("failed to insert links")
		return 0, tracing.RecordError(span, err)
	}
	return n, nil
}
