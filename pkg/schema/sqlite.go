package schema

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/pkg/errors"
)

// SQLiteInspector reads pragma_table_info. SQLite only records the declared
// type, so sizes are parsed out of declarations such as VARCHAR(20).
type SQLiteInspector struct{}

type sqliteColumn struct {
	CID      int    `db:"cid"`
	Name     string `db:"name"`
	DataType string `db:"type"`
}

var declaredSize = regexp.MustCompile(`\(\s*(\d+)\s*(?:,\s*\d+\s*)?\)`)

func (SQLiteInspector) Columns(ctx context.Context, q database.Querier, table string) ([]Column, error) {
	ctx, span := tracing.StartSpan(ctx, "schema.SQLiteInspector.Columns")
	defer span.End()

	var rows []sqliteColumn
	err := q.SelectContext(ctx, &rows, "SELECT cid, name, type FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, tracing.RecordError(span, errors.Wrapf(err, "failed to read columns of %s", table))
	}

	columns := make([]Column, len(rows))
	for i, r := range rows {
		kind := ClassifyType(r.DataType)
		col := Column{
			Name:     r.Name,
			DataType: strings.ToLower(r.DataType),
			Kind:     kind,
			Ordinal:  r.CID + 1,
		}
		if kind == KindText {
			if m := declaredSize.FindStringSubmatch(r.DataType); m != nil {
				col.Size, _ = strconv.Atoi(m[1])
			}
		}
		columns[i] = col
	}
	return columns, nil
}
