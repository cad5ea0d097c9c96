package schema_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/schema"
)

func TestSQLiteInspector_Columns(t *testing.T) {
	db := testutil.NewSQLite(t)
	inspector := schema.NewInspector(db.DriverName())

	columns, err := inspector.Columns(context.Background(), db, "anno_token")
	require.NoError(t, err)

	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"anno_base_id", "covered_text", "tokenNumber", "normalizedForm", "partOfSpeech", "capitalization", "numPosition"}, names)

	covered, ok := schema.Find(columns, "COVERED_TEXT")
	require.True(t, ok)
	assert.Equal(t, schema.KindText, covered.Kind)
	assert.Equal(t, 20, covered.Size)

	number, _ := schema.Find(columns, "TOKENNUMBER")
	assert.True(t, number.IsNumeric())
	assert.Equal(t, 0, number.Size)
	assert.Equal(t, 3, number.Ordinal)
}

func TestSQLiteInspector_MissingTableHasNoColumns(t *testing.T) {
	db := testutil.NewSQLite(t)

	columns, err := schema.SQLiteInspector{}.Columns(context.Background(), db, "anno_does_not_exist")
	require.NoError(t, err)
	assert.Empty(t, columns)
}

func TestClassifyType(t *testing.T) {
	assert.Equal(t, schema.KindText, schema.ClassifyType("character varying"))
	assert.Equal(t, schema.KindText, schema.ClassifyType("CHAR(8)"))
	assert.Equal(t, schema.KindNumeric, schema.ClassifyType("bigint"))
	assert.Equal(t, schema.KindNumeric, schema.ClassifyType("double precision"))
	assert.Equal(t, schema.KindNumeric, schema.ClassifyType("numeric(10,2)"))
	assert.Equal(t, schema.KindBoolean, schema.ClassifyType("boolean"))
	assert.Equal(t, schema.KindTemporal, schema.ClassifyType("timestamp without time zone"))
	assert.Equal(t, schema.KindTemporal, schema.ClassifyType("interval"))
	assert.Equal(t, schema.KindBinary, schema.ClassifyType("bytea"))
	assert.Equal(t, schema.KindOther, schema.ClassifyType(""))

	for _, integer := range []string{"INTEGER", "int4", "smallint", "unsigned big int", "integer[]"} {
		assert.Equal(t, schema.KindNumeric, schema.ClassifyType(integer), integer)
	}
	// "int" inside a longer word is not an integer type
	assert.Equal(t, schema.KindOther, schema.ClassifyType("point"))
	assert.Equal(t, schema.KindOther, schema.ClassifyType("tsvector"))
}

func TestColumnKind_TextRoundTrip(t *testing.T) {
	for _, k := range []schema.ColumnKind{schema.KindOther, schema.KindText, schema.KindNumeric, schema.KindBoolean, schema.KindTemporal, schema.KindBinary} {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var got schema.ColumnKind
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, k, got)
	}

	var k schema.ColumnKind
	assert.Error(t, k.UnmarshalText([]byte("geometry")))
}

func TestPostgresInspector_Columns(t *testing.T) {
	db := testutil.NewPostgres(t)

	columns, err := schema.NewInspector(db.DriverName()).Columns(context.Background(), db, "anno_token")
	require.NoError(t, err)
	require.NotEmpty(t, columns)

	covered, ok := schema.Find(columns, "covered_text")
	require.True(t, ok)
	assert.Equal(t, 20, covered.Size)
	assert.Equal(t, schema.KindText, covered.Kind)
}
