package schema

import (
	"context"
	"strings"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/huandu/go-sqlbuilder"
	"github.com/pkg/errors"
)

// PostgresInspector reads information_schema.columns. An empty Schema means
// the connection's current_schema().
type PostgresInspector struct {
	Schema string
}

type pgColumn struct {
	Name     string `db:"column_name"`
	DataType string `db:"data_type"`
	Size     int    `db:"size"`
	Ordinal  int    `db:"ordinal_position"`
}

func (p PostgresInspector) Columns(ctx context.Context, q database.Querier, table string) ([]Column, error) {
	ctx, span := tracing.StartSpan(ctx, "schema.PostgresInspector.Columns")
	defer span.End()

	schemaName, tableName := splitQualified(table)
	if schemaName == "" {
		schemaName = p.Schema
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("column_name", "data_type", "COALESCE(character_maximum_length, 0) AS size", "ordinal_position")
	sb.From("information_schema.columns")
	sb.Where(sb.Equal("table_name", strings.ToLower(tableName)))
	if schemaName != "" {
		sb.Where(sb.Equal("table_schema", schemaName))
	} else {
		sb.Where("table_schema = current_schema()")
	}
	sb.OrderBy("ordinal_position")

	query, args := sb.Build()

	var rows []pgColumn
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, tracing.RecordError(span, errors.Wrapf(err, "failed to read columns of %s", table))
	}

	columns := make([]Column, len(rows))
	for i, r := range rows {
		columns[i] = Column{
			Name:     r.Name,
			DataType: r.DataType,
			Kind:     ClassifyType(r.DataType),
			Size:     r.Size,
			Ordinal:  r.Ordinal,
		}
	}
	return columns, nil
}

func splitQualified(table string) (string, string) {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}
