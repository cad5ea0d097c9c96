// Package batch writes rows in bounded chunks, one multi-row statement per
// chunk, inside whatever transaction the caller's executor belongs to.
package batch

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/metrics"
)

// DefaultSize keeps chunks under the bind parameter limits of the supported
// backends for the widest reference tables.
const DefaultSize = 100

// Statement is an insert of one row per item into Columns of Table.
type Statement struct {
	Table   string
	Columns []string
	// Returning names the generated key column read back by Query.
	Returning string
}

type Executor struct {
	flavor sqlbuilder.Flavor
	size   int
	logger ectologger.Logger
}

func NewExecutor(flavor sqlbuilder.Flavor, size int, logger ectologger.Logger) *Executor {
	if size <= 0 {
		size = DefaultSize
	}
	return &Executor{flavor: flavor, size: size, logger: logger}
}

func (x *Executor) Size() int {
	return x.size
}

// Build renders the insert for a chunk of already bound rows.
func (x *Executor) Build(stmt Statement, rows [][]any) (string, []any) {
	ib := database.NewInsertBuilder(x.flavor)
	ib.InsertInto(stmt.Table)
	ib.QuotedCols(stmt.Columns...)
	for _, row := range rows {
		ib.Values(row...)
	}
	if stmt.Returning != "" {
		ib.Returning(x.flavor.Quote(stmt.Returning))
	}
	return ib.Build()
}

// Write binds and inserts items chunk by chunk, in order. It returns the
// number of rows the statements reported.
func Write[T any](ctx context.Context, x *Executor, exec database.Execer, stmt Statement, items []T, bind func(T) ([]any, error)) (int64, error) {
	var affected int64
	err := chunks(len(items), x.size, func(start, end int) error {
		rows, err := bindRows(stmt, items[start:end], bind)
		if err != nil {
			return err
		}
		query, args := x.Build(stmt, rows)
		res, err := exec.ExecContext(ctx, query, args...)
		if err != nil {
			return errors.Wrapf(err, "failed to insert %d rows into %s", len(rows), stmt.Table)
		}
		metrics.BatchStatements.WithLabelValues(stmt.Table).Inc()
		x.logChunk(ctx, stmt, len(rows))
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}
		return nil
	})
	return affected, err
}

// Query inserts items like Write and returns the generated keys in item
// order. Keys of one statement come from a monotonic sequence, so sorting
// them restores the VALUES order.
func Query[T any](ctx context.Context, x *Executor, q database.Querier, stmt Statement, items []T, bind func(T) ([]any, error)) ([]int64, error) {
	if stmt.Returning == "" {
		return nil, errors.Errorf("statement for %s has no returning column", stmt.Table)
	}

	ids := make([]int64, 0, len(items))
	err := chunks(len(items), x.size, func(start, end int) error {
		rows, err := bindRows(stmt, items[start:end], bind)
		if err != nil {
			return err
		}
		query, args := x.Build(stmt, rows)

		var chunk []int64
		if err := q.SelectContext(ctx, &chunk, query, args...); err != nil {
			return errors.Wrapf(err, "failed to insert %d rows into %s", len(rows), stmt.Table)
		}
		metrics.BatchStatements.WithLabelValues(stmt.Table).Inc()
		x.logChunk(ctx, stmt, len(rows))
		if len(chunk) != len(rows) {
			return errors.Errorf("insert into %s returned %d keys for %d rows", stmt.Table, len(chunk), len(rows))
		}
		sort.Slice(chunk, func(i, j int) bool { return chunk[i] < chunk[j] })
		ids = append(ids, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (x *Executor) logChunk(ctx context.Context, stmt Statement, rows int) {
	x.logger.WithContext(ctx).WithFields(map[string]any{
		"table": stmt.Table,
		"rows":  rows,
	}).Debug("batched insert")
}

func bindRows[T any](stmt Statement, items []T, bind func(T) ([]any, error)) ([][]any, error) {
	rows := make([][]any, len(items))
	for i, item := range items {
		row, err := bind(item)
		if err != nil {
			return nil, err
		}
		if len(row) != len(stmt.Columns) {
			return nil, errors.Errorf("%s: bound %d values for %d columns", stmt.Table, len(row), len(stmt.Columns))
		}
		rows[i] = row
	}
	return rows, nil
}

func chunks(total, size int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if size <= 0 {
		size = total
	}
	for start := 0; start < total; start += size {
		end := min(start+size, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}
