package persist_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/batch"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/persist"
	"github.com/Ramsey-B/fern/pkg/registry"
	"github.com/Ramsey-B/fern/pkg/schema"
)

const (
	segmentType  = "org.example.Segment"
	sentenceType = "org.example.Sentence"
	tokenType    = "org.example.Token"
	entityType   = "org.example.NamedEntity"
	conceptType  = "org.example.OntologyConcept"
	argType      = "org.example.RelationArgument"
	relationType = "org.example.LocationOfTextRelation"
	docIDType    = "org.example.DocumentID"
	docKeyType   = "org.example.DocKey"
	pairType     = "org.example.KeyValuePair"
)

const text = "Patient has chest pain today."

func field(name string, kind graph.Kind, rng string) graph.FieldDescriptor {
	return graph.FieldDescriptor{Name: name, Kind: kind, Range: rng}
}

func newTypes() *graph.TypeSystem {
	ts := graph.NewTypeSystem()
	ts.Register(graph.NewTypeDescriptor(segmentType, true,
		field("id", graph.KindPrimitive, graph.RangeString),
	))
	ts.Register(graph.NewTypeDescriptor(sentenceType, true,
		field("sentenceNumber", graph.KindPrimitive, graph.RangeInt),
		field("tokens", graph.KindCollection, tokenType),
	))
	ts.Register(graph.NewTypeDescriptor(tokenType, true,
		field("tokenNumber", graph.KindPrimitive, graph.RangeInt),
		field("normalizedForm", graph.KindPrimitive, graph.RangeString),
		field("partOfSpeech", graph.KindPrimitive, graph.RangeString),
	))
	ts.Register(graph.NewTypeDescriptor(entityType, true,
		field("polarity", graph.KindPrimitive, graph.RangeInt),
		field("confidence", graph.KindPrimitive, graph.RangeFloat),
		field("segment", graph.KindReference, segmentType),
		field("ontologyConceptArr", graph.KindCollection, conceptType),
	))
	ts.Register(graph.NewTypeDescriptor(conceptType, false,
		field("code", graph.KindPrimitive, graph.RangeString),
		field("cui", graph.KindPrimitive, graph.RangeString),
		field("codingScheme", graph.KindPrimitive, graph.RangeString),
	))
	ts.Register(graph.NewTypeDescriptor(argType, false,
		field("argument", graph.KindReference, ""),
	))
	ts.Register(graph.NewTypeDescriptor(relationType, false,
		field("arg1", graph.KindReference, argType),
		field("arg2", graph.KindReference, argType),
	))
	ts.Register(graph.NewTypeDescriptor(docIDType, false,
		field("documentID", graph.KindPrimitive, graph.RangeString),
	))
	ts.Register(graph.NewTypeDescriptor(docKeyType, false,
		field("keyValuePairs", graph.KindCollection, pairType),
	))
	ts.Register(graph.NewTypeDescriptor(pairType, false,
		field("key", graph.KindPrimitive, graph.RangeString),
		field("valueString", graph.KindPrimitive, graph.RangeString),
		field("valueLong", graph.KindPrimitive, graph.RangeLong),
	))
	return ts
}

func newRegistry() *registry.Registry {
	return registry.New([]registry.TypeInfo{
		{ID: 1, Name: segmentType},
		{ID: 2, Name: sentenceType},
		{ID: 3, Name: tokenType},
		{ID: 4, Name: entityType, TableName: "anno_named_entity"},
		{ID: 5, Name: conceptType, TableName: "anno_ontology_concept"},
	})
}

const overridesYAML = `
mappings:
  - type: org.example.NamedEntity
    columns:
      - {column: segmentID, path: "segment.id"}
  - type: org.example.LocationOfTextRelation
    link:
      parent: {field: arg1, path: argument}
      child: {field: arg2, path: argument}
`

type fixture struct {
	db     database.DB
	types  *graph.TypeSystem
	writer *persist.Writer
}

func newFixture(t *testing.T, db database.DB) *fixture {
	t.Helper()
	logger := testutil.Logger(t)
	ts := newTypes()
	reg := newRegistry()
	overrides, err := mapping.ParseOverrides([]byte(overridesYAML))
	require.NoError(t, err)

	resolver := mapping.NewResolver(ts, reg, schema.NewInspector(db.DriverName()), overrides, db.Flavor(), logger)
	w, err := persist.NewWriter(context.Background(), db, resolver, reg, ts, batch.NewExecutor(db.Flavor(), 2, logger), logger)
	require.NoError(t, err)
	return &fixture{db: db, types: ts, writer: w}
}

type builder struct {
	ts  *graph.TypeSystem
	doc *graph.Document
}

func (b *builder) add(typeName string, span *graph.Span, values map[string]graph.Value) graph.Ref {
	desc, ok := b.ts.Lookup(typeName)
	if !ok {
		panic("unknown type " + typeName)
	}
	vals := make([]graph.Value, len(desc.Fields))
	for _, f := range desc.Fields {
		if v, ok := values[f.Name]; ok {
			vals[f.Index()] = v
		}
	}
	return b.doc.Add(graph.Record{Type: typeName, Span: span, Values: vals})
}

func (b *builder) set(ref graph.Ref, name string, v graph.Value) {
	rec := b.doc.Record(ref)
	desc, _ := b.ts.Lookup(rec.Type)
	f, ok := desc.Field(name)
	if !ok {
		panic("unknown field " + name)
	}
	rec.Values[f.Index()] = v
}

func span(begin, end int) *graph.Span {
	return &graph.Span{Begin: begin, End: end}
}

// sampleDocument has one segment and sentence over the whole text, two
// tokens, one entity with two concepts, a relation from the entity to the
// second token and a document key.
func sampleDocument(ts *graph.TypeSystem) *graph.Document {
	b := &builder{ts: ts, doc: &graph.Document{Text: text}}

	seg := b.add(segmentType, span(0, 29), map[string]graph.Value{"id": graph.String("SIMPLE_SEGMENT")})
	sentence := b.add(sentenceType, span(0, 29), map[string]graph.Value{"sentenceNumber": graph.Int(0)})
	patient := b.add(tokenType, span(0, 7), map[string]graph.Value{
		"tokenNumber":    graph.Int(0),
		"normalizedForm": graph.String("patient"),
		"partOfSpeech":   graph.String("NN"),
	})
	chest := b.add(tokenType, span(12, 17), map[string]graph.Value{
		"tokenNumber":    graph.Int(2),
		"normalizedForm": graph.String("chest"),
		"partOfSpeech":   graph.String("NN"),
	})
	b.set(sentence, "tokens", graph.List(graph.RefTo(patient), graph.RefTo(chest)))

	c1 := b.add(conceptType, nil, map[string]graph.Value{
		"code": graph.String("29857009"), "cui": graph.String("C0008031"), "codingScheme": graph.String("SNOMED"),
	})
	c2 := b.add(conceptType, nil, map[string]graph.Value{
		"code": graph.String("R07.4"), "cui": graph.String("C0008031"), "codingScheme": graph.String("ICD10"),
	})
	entity := b.add(entityType, span(12, 22), map[string]graph.Value{
		"polarity":           graph.Int(1),
		"confidence":         graph.Float(0.5),
		"segment":            graph.RefTo(seg),
		"ontologyConceptArr": graph.List(graph.RefTo(c1), graph.RefTo(c2)),
	})

	a1 := b.add(argType, nil, map[string]graph.Value{"argument": graph.RefTo(entity)})
	a2 := b.add(argType, nil, map[string]graph.Value{"argument": graph.RefTo(chest)})
	b.add(relationType, nil, map[string]graph.Value{"arg1": graph.RefTo(a1), "arg2": graph.RefTo(a2)})

	b.add(docIDType, nil, map[string]graph.Value{"documentID": graph.String("note-0042.txt")})

	p1 := b.add(pairType, nil, map[string]graph.Value{"key": graph.String("instance_id"), "valueLong": graph.Int(42)})
	p2 := b.add(pairType, nil, map[string]graph.Value{"key": graph.String("patient_id"), "valueLong": graph.Int(7)})
	p3 := b.add(pairType, nil, map[string]graph.Value{"key": graph.String("DOC_GROUP"), "valueString": graph.String("notes")})
	p4 := b.add(pairType, nil, map[string]graph.Value{"key": graph.String("site_id"), "valueLong": graph.Int(3)})
	p5 := b.add(pairType, nil, map[string]graph.Value{"key": graph.String("unknown_key"), "valueString": graph.String("x")})
	b.add(docKeyType, nil, map[string]graph.Value{
		"keyValuePairs": graph.List(graph.RefTo(p1), graph.RefTo(p2), graph.RefTo(p3), graph.RefTo(p4), graph.RefTo(p5)),
	})
	return b.doc
}

func TestSave_PersistsDocumentGraph(t *testing.T) {
	db := testutil.NewSQLite(t)
	f := newFixture(t, db)
	ctx := context.Background()

	docID, err := f.writer.Save(ctx, sampleDocument(f.types), persist.SaveOptions{
		AnalysisBatch: "batch-1",
		StoreText:     true,
	})
	require.NoError(t, err)
	assert.Positive(t, docID)

	var doc struct {
		Batch       string         `db:"analysis_batch"`
		Text        sql.NullString `db:"doc_text"`
		InstanceKey sql.NullString `db:"instance_key"`
	}
	require.NoError(t, db.GetContext(ctx, &doc, db.Rebind("SELECT analysis_batch, doc_text, instance_key FROM document WHERE document_id = ?"), docID))
	assert.Equal(t, "batch-1", doc.Batch)
	assert.Equal(t, text, doc.Text.String)
	assert.Equal(t, "note-0042.txt", doc.InstanceKey.String)

	assert.Equal(t, 5, testutil.Count(t, db, "anno_base WHERE document_id = ?", docID), "segment, sentence, two tokens and the entity")

	var tokens []struct {
		Covered string `db:"covered_text"`
		Number  int    `db:"tokenNumber"`
		Form    string `db:"normalizedForm"`
		TypeID  int    `db:"type_id"`
	}
	require.NoError(t, db.SelectContext(ctx, &tokens, `SELECT t.covered_text, t.tokenNumber, t.normalizedForm, b.type_id
		FROM anno_token t JOIN anno_base b ON b.anno_base_id = t.anno_base_id ORDER BY b.span_begin`))
	require.Len(t, tokens, 2)
	assert.Equal(t, "Patient", tokens[0].Covered)
	assert.Equal(t, "chest", tokens[1].Form)
	assert.Equal(t, 2, tokens[1].Number)
	assert.Equal(t, 3, tokens[1].TypeID)

	var entity struct {
		ID        int64   `db:"anno_base_id"`
		Covered   string  `db:"covered_text"`
		Polarity  int     `db:"polarity"`
		Conf      float64 `db:"confidence"`
		SegmentID string  `db:"segmentID"`
	}
	require.NoError(t, db.GetContext(ctx, &entity, "SELECT anno_base_id, covered_text, polarity, confidence, segmentID FROM anno_named_entity"))
	assert.Equal(t, "chest pain", entity.Covered)
	assert.Equal(t, 1, entity.Polarity)
	assert.InDelta(t, 0.5, entity.Conf, 1e-9)
	assert.Equal(t, "SIMPLE_SEGMENT", entity.SegmentID)

	var concepts []struct {
		BaseID int64  `db:"anno_base_id"`
		TypeID int    `db:"type_id"`
		Code   string `db:"code"`
		Scheme string `db:"codingScheme"`
	}
	require.NoError(t, db.SelectContext(ctx, &concepts, "SELECT anno_base_id, type_id, code, codingScheme FROM anno_ontology_concept ORDER BY code"))
	require.Len(t, concepts, 2)
	for _, c := range concepts {
		assert.Equal(t, entity.ID, c.BaseID, "nested rows carry the owning record's id")
		assert.Equal(t, 5, c.TypeID)
	}
	assert.Equal(t, "29857009", concepts[0].Code)
	assert.Equal(t, "ICD10", concepts[1].Scheme)

	assert.Equal(t, 1, testutil.Count(t, db, "anno_segment WHERE id = 'SIMPLE_SEGMENT'"))
	assert.Equal(t, 1, testutil.Count(t, db, "anno_sentence WHERE sentenceNumber = 0"))

	assert.Equal(t, 2, testutil.Count(t, db, "anno_link WHERE label = 'tokens'"))
	assert.Equal(t, 0, testutil.Count(t, db, "anno_link WHERE label = 'contains'"))

	var relation struct {
		Parent int64 `db:"parent_anno_base_id"`
		Child  int64 `db:"child_anno_base_id"`
	}
	require.NoError(t, db.GetContext(ctx, &relation, "SELECT parent_anno_base_id, child_anno_base_id FROM anno_link WHERE label = 'LocationOfTextRelation'"))
	assert.Equal(t, entity.ID, relation.Parent)
	var chestID int64
	require.NoError(t, db.GetContext(ctx, &chestID, "SELECT anno_base_id FROM anno_base WHERE span_begin = 12 AND span_end = 17"))
	assert.Equal(t, chestID, relation.Child)
}

func TestSave_AppliesDocumentKey(t *testing.T) {
	db := testutil.NewSQLite(t)
	f := newFixture(t, db)
	ctx := context.Background()

	docID, err := f.writer.Save(ctx, sampleDocument(f.types), persist.SaveOptions{AnalysisBatch: "b"})
	require.NoError(t, err)

	var doc struct {
		InstanceID sql.NullInt64  `db:"instance_id"`
		PatientID  sql.NullInt64  `db:"patient_id"`
		Group      sql.NullString `db:"doc_group"`
		Site       sql.NullString `db:"site_id"`
	}
	require.NoError(t, db.GetContext(ctx, &doc, db.Rebind("SELECT instance_id, patient_id, doc_group, site_id FROM document WHERE document_id = ?"), docID))
	assert.Equal(t, int64(42), doc.InstanceID.Int64)
	assert.Equal(t, int64(7), doc.PatientID.Int64)
	assert.Equal(t, "notes", doc.Group.String)
	assert.False(t, doc.Site.Valid, "a numeric value does not fit a text column")
}

func TestSave_ContainmentLinks(t *testing.T) {
	db := testutil.NewSQLite(t)
	f := newFixture(t, db)

	_, err := f.writer.Save(context.Background(), sampleDocument(f.types), persist.SaveOptions{
		AnalysisBatch:          "b",
		InsertContainmentLinks: true,
	})
	require.NoError(t, err)

	// Segment and sentence share a span, so each contains the other and
	// everything else. The entity contains the second token.
	assert.Equal(t, 9, testutil.Count(t, db, "anno_link WHERE label = 'contains'"))
	assert.Equal(t, 0, testutil.Count(t, db, "anno_link l JOIN anno_base a ON a.anno_base_id = l.parent_anno_base_id JOIN anno_base c ON c.anno_base_id = l.child_anno_base_id WHERE l.label = 'contains' AND a.document_id <> c.document_id"))
}

func TestSave_ContainmentStaysWithinDocument(t *testing.T) {
	db := testutil.NewSQLite(t)
	f := newFixture(t, db)
	opts := persist.SaveOptions{AnalysisBatch: "b", InsertContainmentLinks: true}

	_, err := f.writer.Save(context.Background(), sampleDocument(f.types), opts)
	require.NoError(t, err)
	_, err = f.writer.Save(context.Background(), sampleDocument(f.types), opts)
	require.NoError(t, err)

	assert.Equal(t, 18, testutil.Count(t, db, "anno_link WHERE label = 'contains'"))
}

func TestSave_TruncatesCoveredText(t *testing.T) {
	db := testutil.NewSQLite(t)
	f := newFixture(t, db)
	ctx := context.Background()

	b := &builder{ts: f.types, doc: &graph.Document{Text: text}}
	b.add(tokenType, span(0, 29), map[string]graph.Value{"normalizedForm": graph.String("a very long normalized form")})

	_, err := f.writer.Save(ctx, b.doc, persist.SaveOptions{AnalysisBatch: "b"})
	require.NoError(t, err)

	var row struct {
		Covered string `db:"covered_text"`
		Form    string `db:"normalizedForm"`
	}
	require.NoError(t, db.GetContext(ctx, &row, "SELECT covered_text, normalizedForm FROM anno_token"))
	assert.Equal(t, "Patient has chest pa", row.Covered)
	assert.Equal(t, "a very long normaliz", row.Form)
}

func TestSave_NullReferenceColumn(t *testing.T) {
	db := testutil.NewSQLite(t)
	f := newFixture(t, db)
	ctx := context.Background()

	b := &builder{ts: f.types, doc: &graph.Document{Text: text}}
	b.add(entityType, span(12, 22), map[string]graph.Value{"polarity": graph.Int(-1)})

	_, err := f.writer.Save(ctx, b.doc, persist.SaveOptions{AnalysisBatch: "b"})
	require.NoError(t, err)

	var segmentID sql.NullString
	require.NoError(t, db.GetContext(ctx, &segmentID, "SELECT segmentID FROM anno_named_entity"))
	assert.False(t, segmentID.Valid)
	assert.Equal(t, 0, testutil.Count(t, db, "anno_ontology_concept"))
}

func TestSave_IgnoreTypes(t *testing.T) {
	db := testutil.NewSQLite(t)
	f := newFixture(t, db)

	_, err := f.writer.Save(context.Background(), sampleDocument(f.types), persist.SaveOptions{
		AnalysisBatch: "b",
		IgnoreTypes:   []string{tokenType, conceptType},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, testutil.Count(t, db, "anno_base"))
	assert.Equal(t, 0, testutil.Count(t, db, "anno_token"))
	assert.Equal(t, 0, testutil.Count(t, db, "anno_ontology_concept"))
	assert.Equal(t, 0, testutil.Count(t, db, "anno_link WHERE label = 'tokens'"), "edges need both ends")
}

func TestSave_DefaultBatchLabelAndSnapshot(t *testing.T) {
	db := testutil.NewSQLite(t)
	f := newFixture(t, db)
	ctx := context.Background()
	doc := sampleDocument(f.types)

	docID, err := f.writer.Save(ctx, doc, persist.SaveOptions{StoreSnapshot: true})
	require.NoError(t, err)

	var row struct {
		Batch    string         `db:"analysis_batch"`
		Snapshot []byte         `db:"graph_snapshot"`
		Text     sql.NullString `db:"doc_text"`
	}
	require.NoError(t, db.GetContext(ctx, &row, db.Rebind("SELECT analysis_batch, graph_snapshot, doc_text FROM document WHERE document_id = ?"), docID))
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}$`, row.Batch)
	assert.False(t, row.Text.Valid, "text is stored only on request")

	restored, err := graph.RestoreSnapshot(f.types, row.Snapshot)
	require.NoError(t, err)
	assert.Equal(t, text, restored.Text)
	assert.Len(t, restored.Records, len(doc.Records))
}

func TestSave_RollsBackOnFailure(t *testing.T) {
	db := testutil.NewSQLite(t)
	f := newFixture(t, db)
	testutil.Exec(t, db, `CREATE TRIGGER fail_links BEFORE INSERT ON anno_link BEGIN SELECT RAISE(ABORT, 'links are read only'); END`)

	_, err := f.writer.Save(context.Background(), sampleDocument(f.types), persist.SaveOptions{AnalysisBatch: "b"})
	require.Error(t, err)

	var pe *persist.PersistError
	require.True(t, errors.As(err, &pe), "got %T", err)
	assert.Equal(t, persist.PhaseEdges, pe.Phase)
	assert.Contains(t, err.Error(), "phase 'persist_edges'")

	for _, table := range []string{"document", "anno_base", "anno_token", "anno_named_entity", "anno_ontology_concept", "anno_link"} {
		assert.Equal(t, 0, testutil.Count(t, db, table), table)
	}
}

func TestSave_FailingAttributeTableNamesType(t *testing.T) {
	db := testutil.NewSQLite(t)
	f := newFixture(t, db)
	testutil.Exec(t, db, `CREATE TRIGGER fail_tokens BEFORE INSERT ON anno_token BEGIN SELECT RAISE(ABORT, 'no tokens'); END`)

	_, err := f.writer.Save(context.Background(), sampleDocument(f.types), persist.SaveOptions{AnalysisBatch: "b"})
	var pe *persist.PersistError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, persist.PhaseAttributes, pe.Phase)
	assert.Equal(t, tokenType, pe.Type)
	assert.Equal(t, 0, testutil.Count(t, db, "anno_base"))
}

func TestSave_JoinsCallerTransaction(t *testing.T) {
	db := testutil.NewSQLite(t)
	f := newFixture(t, db)
	logger := testutil.Logger(t)

	ctx, tx, err := database.GetTx(context.Background(), logger, db, nil)
	require.NoError(t, err)

	_, err = f.writer.Save(ctx, sampleDocument(f.types), persist.SaveOptions{AnalysisBatch: "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.Count(t, tx, "document"))

	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, 0, testutil.Count(t, db, "document"))
}

func TestSave_Concurrent(t *testing.T) {
	db := testutil.NewSQLite(t)
	f := newFixture(t, db)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.writer.Save(context.Background(), sampleDocument(f.types), persist.SaveOptions{AnalysisBatch: "b"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 4, testutil.Count(t, db, "document"))
	assert.Equal(t, 20, testutil.Count(t, db, "anno_base"))
	assert.Equal(t, 8, testutil.Count(t, db, "anno_ontology_concept"))
}

func TestSave_Postgres(t *testing.T) {
	db := testutil.NewPostgres(t)
	f := newFixture(t, db)
	ctx := context.Background()

	docID, err := f.writer.Save(ctx, sampleDocument(f.types), persist.SaveOptions{
		AnalysisBatch:          "pg",
		InsertContainmentLinks: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, testutil.Count(t, db, "anno_base WHERE document_id = ?", docID))
	assert.Equal(t, 2, testutil.Count(t, db, "anno_token"))
	assert.Equal(t, 2, testutil.Count(t, db, "anno_ontology_concept"))
	assert.Equal(t, 9, testutil.Count(t, db, "anno_link WHERE label = 'contains'"))
	assert.Equal(t, 1, testutil.Count(t, db, "anno_named_entity WHERE segmentid = 'SIMPLE_SEGMENT'"))
}

func TestNewWriter_RequiresDocumentTable(t *testing.T) {
	db := testutil.NewSQLite(t)
	testutil.Exec(t, db, "DROP TABLE anno_link", "DROP TABLE anno_date", "DROP TABLE anno_ontology_concept",
		"DROP TABLE anno_named_entity", "DROP TABLE anno_token", "DROP TABLE anno_sentence", "DROP TABLE anno_segment",
		"DROP TABLE anno_base", "DROP TABLE document")

	logger := testutil.Logger(t)
	resolver := mapping.NewResolver(newTypes(), newRegistry(), schema.NewInspector(db.DriverName()), nil, db.Flavor(), logger)
	_, err := persist.NewWriter(context.Background(), db, resolver, newRegistry(), newTypes(), batch.NewExecutor(db.Flavor(), 0, logger), logger)
	assert.Error(t, err)
}
