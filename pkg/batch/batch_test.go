package batch_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"

	"github.com/huandu/go-sqlbuilder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/batch"
)

type recordingExecer struct {
	queries []string
	args    [][]any
	fail    int
}

func (e *recordingExecer) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	e.queries = append(e.queries, query)
	e.args = append(e.args, args)
	if e.fail > 0 && len(e.queries) == e.fail {
		return nil, errors.New("boom")
	}
	return driver.RowsAffected(len(args) / 2), nil
}

var pairs = batch.Statement{Table: "anno_link", Columns: []string{"parent_anno_base_id", "child_anno_base_id"}}

func bindPair(i int) ([]any, error) {
	return []any{int64(i), int64(i + 1)}, nil
}

func items(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestWrite_SplitsIntoChunks(t *testing.T) {
	exec := &recordingExecer{}
	x := batch.NewExecutor(sqlbuilder.PostgreSQL, 0, testutil.Logger(t))
	require.Equal(t, batch.DefaultSize, x.Size())

	n, err := batch.Write(context.Background(), x, exec, pairs, items(101), bindPair)
	require.NoError(t, err)
	assert.Equal(t, int64(101), n)

	require.Len(t, exec.queries, 2)
	assert.Len(t, exec.args[0], 200)
	assert.Len(t, exec.args[1], 2)
	assert.Equal(t, []any{int64(100), int64(101)}, exec.args[1])
	assert.True(t, strings.HasPrefix(exec.queries[0], `INSERT INTO anno_link ("parent_anno_base_id", "child_anno_base_id") VALUES ($1, $2), ($3, $4)`))
}

func TestWrite_ExactMultipleAndEmpty(t *testing.T) {
	exec := &recordingExecer{}
	x := batch.NewExecutor(sqlbuilder.PostgreSQL, 10, testutil.Logger(t))

	_, err := batch.Write(context.Background(), x, exec, pairs, items(20), bindPair)
	require.NoError(t, err)
	assert.Len(t, exec.queries, 2)

	_, err = batch.Write(context.Background(), x, exec, pairs, nil, bindPair)
	require.NoError(t, err)
	assert.Len(t, exec.queries, 2)
}

func TestWrite_StopsAtFirstFailure(t *testing.T) {
	exec := &recordingExecer{fail: 2}
	x := batch.NewExecutor(sqlbuilder.PostgreSQL, 10, testutil.Logger(t))

	_, err := batch.Write(context.Background(), x, exec, pairs, items(35), bindPair)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anno_link")
	assert.Len(t, exec.queries, 2)
}

func TestWrite_BindErrors(t *testing.T) {
	exec := &recordingExecer{}
	x := batch.NewExecutor(sqlbuilder.PostgreSQL, 10, testutil.Logger(t))

	_, err := batch.Write(context.Background(), x, exec, pairs, items(3), func(int) ([]any, error) {
		return []any{1}, nil
	})
	require.Error(t, err)
	assert.Empty(t, exec.queries)

	_, err = batch.Write(context.Background(), x, exec, pairs, items(3), func(int) ([]any, error) {
		return nil, errors.New("cannot bind")
	})
	require.EqualError(t, err, "cannot bind")
}

func TestQuery_ReturnsKeysInItemOrder(t *testing.T) {
	db := testutil.NewSQLite(t)
	testutil.Exec(t, db, `INSERT INTO document (analysis_batch) VALUES ('b')`)
	x := batch.NewExecutor(db.Flavor(), 4, testutil.Logger(t))

	stmt := batch.Statement{
		Table:     "anno_base",
		Columns:   []string{"document_id", "span_begin", "span_end", "type_id"},
		Returning: "anno_base_id",
	}
	ids, err := batch.Query(context.Background(), x, db, stmt, items(10), func(i int) ([]any, error) {
		return []any{1, i, i + 1, 7}, nil
	})
	require.NoError(t, err)
	require.Len(t, ids, 10)

	for i, id := range ids {
		var begin int
		require.NoError(t, db.GetContext(context.Background(), &begin, "SELECT span_begin FROM anno_base WHERE anno_base_id = ?", id))
		assert.Equal(t, i, begin)
	}
}

func TestQuery_NeedsReturning(t *testing.T) {
	x := batch.NewExecutor(sqlbuilder.SQLite, 4, testutil.Logger(t))
	_, err := batch.Query(context.Background(), x, nil, pairs, items(1), bindPair)
	require.Error(t, err)
}
