package graph

import (
	"testing"

	"github.com/jmespath/go-jmespath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `{
  "text": "Patient denies chest pain.",
  "types": [
    {"name": "org.example.NamedEntity", "span": true, "fields": [
      {"name": "polarity", "kind": "primitive", "range": "int"},
      {"name": "concepts", "kind": "collection"}
    ]}
  ],
  "records": [
    {"type": "org.example.NamedEntity", "begin": 15, "end": 25, "fields": {"polarity": -1, "concepts": [{"$ref": 1}]}},
    {"type": "org.example.Concept", "fields": {"cui": "C0008031", "score": 0.8, "entity": {"$ref": 0}}},
    {"type": "org.example.Token", "begin": 0, "end": 7, "fields": {"pos": "NN"}}
  ]
}`

func TestDecodeJSON(t *testing.T) {
	ts := NewTypeSystem()
	doc, err := DecodeJSON(ts, []byte(sampleDoc))
	require.NoError(t, err)
	require.Len(t, doc.Records, 3)

	entity, ok := ts.Lookup("org.example.NamedEntity")
	require.True(t, ok)
	assert.True(t, entity.Spanned)
	assert.Equal(t, "NamedEntity", entity.ShortName)

	polarity, ok := entity.Field("polarity")
	require.True(t, ok)
	assert.Equal(t, int64(-1), doc.Get(0, polarity).Scalar())

	concepts, _ := entity.Field("concepts")
	items, ok := doc.Get(0, concepts).List()
	require.True(t, ok)
	require.Len(t, items, 1)
	ref, ok := items[0].Ref()
	require.True(t, ok)
	assert.Equal(t, Ref(1), ref)

	assert.Equal(t, "chest pain", doc.CoveredText(0))
	assert.Equal(t, []Ref{2}, doc.OfType("org.example.Token"))
	assert.Equal(t, []Ref{0, 1, 2}, doc.Refs())
}

func TestDecodeJSON_InfersUndeclaredTypes(t *testing.T) {
	ts := NewTypeSystem()
	_, err := DecodeJSON(ts, []byte(sampleDoc))
	require.NoError(t, err)

	concept, ok := ts.Lookup("org.example.Concept")
	require.True(t, ok)
	assert.False(t, concept.Spanned)
	require.Len(t, concept.Fields, 3)
	// inferred fields are sorted by name
	assert.Equal(t, "cui", concept.Fields[0].Name)
	assert.Equal(t, "entity", concept.Fields[1].Name)
	assert.Equal(t, KindReference, concept.Fields[1].Kind)
	assert.Equal(t, RangeDouble, concept.Fields[2].Range)

	token, _ := ts.Lookup("org.example.Token")
	assert.True(t, token.Spanned)
}

func TestDecodeJSON_KeepsRegisteredDescriptor(t *testing.T) {
	ts := NewTypeSystem()
	first := ts.Register(NewTypeDescriptor("org.example.Token", true,
		FieldDescriptor{Name: "pos", Kind: KindPrimitive, Range: RangeString},
		FieldDescriptor{Name: "lemma", Kind: KindPrimitive, Range: RangeString}))

	doc, err := DecodeJSON(ts, []byte(`{"types": [{"name": "org.example.Token", "fields": [{"name": "pos"}]}],
		"records": [{"type": "org.example.Token", "begin": 0, "end": 1, "fields": {"pos": "DT", "lemma": null}}]}`))
	require.NoError(t, err)

	got, _ := ts.Lookup("org.example.Token")
	assert.Same(t, first, got)
	assert.Equal(t, "DT", doc.Get(0, first.Fields[0]).Scalar())
}

func TestDecodeJSON_RejectsFieldsTheDescriptorLacks(t *testing.T) {
	ts := NewTypeSystem()
	ts.Register(NewTypeDescriptor("org.example.Token", true,
		FieldDescriptor{Name: "pos", Kind: KindPrimitive, Range: RangeString}))

	cases := map[string]string{
		"undeclared record fields": `{"records": [{"type": "org.example.Token", "begin": 0, "end": 1,
			"fields": {"pos": "DT", "stem": "x", "lemma": "the"}}]}`,
		"conflicting declaration": `{"types": [{"name": "org.example.Token", "fields": [{"name": "other"}]}],
			"records": [{"type": "org.example.Token", "begin": 0, "end": 1}]}`,
		"kind mismatch": `{"types": [{"name": "org.example.Token", "fields": [{"name": "pos", "kind": "reference"}]}],
			"records": [{"type": "org.example.Token", "begin": 0, "end": 1}]}`,
		"fields beyond a declaration in the same document": `{"types": [{"name": "org.example.Word", "fields": [{"name": "a"}]}],
			"records": [{"type": "org.example.Word", "fields": {"a": "x", "b": "y"}}]}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeJSON(ts, []byte(input))
			require.Error(t, err)
		})
	}

	_, err := DecodeJSON(ts, []byte(cases["undeclared record fields"]))
	assert.Contains(t, err.Error(), "type org.example.Token has no fields lemma, stem")
	_, ok := ts.Lookup("org.example.Word")
	assert.False(t, ok)
}

func TestDecodeJSON_RejectedDocumentRegistersNothing(t *testing.T) {
	ts := NewTypeSystem()

	_, err := DecodeJSON(ts, []byte(`{"records": [{"type": "x.T", "fields": {"a": "x", "bad": {"$ref": 9}}}]}`))
	require.Error(t, err)
	_, ok := ts.Lookup("x.T")
	assert.False(t, ok, "types of a rejected document stay unregistered")

	doc, err := DecodeJSON(ts, []byte(`{"records": [{"type": "x.T", "fields": {"a": "1", "b": "2", "c": "3", "d": [null]}}]}`))
	require.NoError(t, err)
	desc, ok := ts.Lookup("x.T")
	require.True(t, ok)
	require.Len(t, desc.Fields, 3)
	for i, want := range []string{"1", "2", "3"} {
		assert.Equal(t, want, doc.Get(0, desc.Fields[i]).Scalar())
	}

	_, err = DecodeJSON(ts, []byte(`{"records": [{"type": "x.T", "fields": {"a": "1", "e": "5"}}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no fields e")
}

func TestDecodeJSON_Errors(t *testing.T) {
	cases := map[string]string{
		"ref out of range": `{"records": [{"type": "a.B", "fields": {"r": {"$ref": 4}}}]}`,
		"half span":        `{"records": [{"type": "a.B", "begin": 2}]}`,
		"inverted span":    `{"records": [{"type": "a.B", "begin": 4, "end": 2}]}`,
		"missing type":     `{"records": [{"begin": 0, "end": 1}]}`,
		"bad json":         `{"records": [`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeJSON(NewTypeSystem(), []byte(input))
			assert.Error(t, err)
		})
	}
}

func TestSliceRunesAndTruncate(t *testing.T) {
	text := "naïve café"
	assert.Equal(t, "naïve", SliceRunes(text, 0, 5))
	assert.Equal(t, "café", SliceRunes(text, 6, 10))
	assert.Equal(t, "café", SliceRunes(text, 6, 99))
	assert.Equal(t, "", SliceRunes(text, 10, 12))
	assert.Equal(t, "", SliceRunes(text, 3, 3))

	assert.Equal(t, "naï", Truncate(text, 3))
	assert.Equal(t, text, Truncate(text, 0))
	assert.Equal(t, text, Truncate(text, 10))
}

func TestProject_FollowsReferencesAndStopsAtCycles(t *testing.T) {
	ts := NewTypeSystem()
	doc, err := DecodeJSON(ts, []byte(sampleDoc))
	require.NoError(t, err)

	projected := doc.Project(ts, 0, DefaultProjectionDepth)

	cui, err := jmespath.Search("concepts[0].cui", projected)
	require.NoError(t, err)
	assert.Equal(t, "C0008031", cui)

	// concept.entity points back at the entity; the cycle collapses to a stub
	back, err := jmespath.Search("concepts[0].entity", projected)
	require.NoError(t, err)
	stub, ok := back.(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, stub, "polarity")
	ref, ok := ProjectedRef(stub)
	require.True(t, ok)
	assert.Equal(t, Ref(0), ref)

	polarity, err := jmespath.Search("polarity", projected)
	require.NoError(t, err)
	assert.Equal(t, float64(-1), polarity)
}

func TestSnapshotRestore(t *testing.T) {
	ts := NewTypeSystem()
	doc, err := DecodeJSON(ts, []byte(sampleDoc))
	require.NoError(t, err)

	data, err := Snapshot(ts, doc)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b}, data[:2])

	restored, err := RestoreSnapshot(ts, data)
	require.NoError(t, err)
	assert.Equal(t, doc, restored)
}

func TestParseTypes(t *testing.T) {
	ts := NewTypeSystem()
	n, err := ParseTypes(ts, []byte(`
types:
  - name: org.example.Sentence
    span: true
    fields:
      - {name: sentenceNumber, kind: primitive, range: int}
      - {name: tokens, kind: collection}
`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	desc, ok := ts.Lookup("org.example.Sentence")
	require.True(t, ok)
	tokens, ok := desc.FieldFold("TOKENS")
	require.True(t, ok)
	assert.Equal(t, KindCollection, tokens.Kind)
	assert.Equal(t, 1, tokens.Index())
}
