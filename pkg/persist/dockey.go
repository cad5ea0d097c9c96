package persist

import (
	"context"
	"strings"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/fern/internal/repositories/document"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/schema"
)

// Type and field names of the document key record.
const (
	DocKeyType        = "DocKey"
	KeyValuePairsName = "keyValuePairs"
	KeyName           = "key"
	ValueStringName   = "valueString"
	ValueLongName     = "valueLong"
)

// Records that can supply the instance key, tried in order.
var instanceKeySources = []struct{ typeName, field string }{
	{"DocumentID", "documentID"},
	{"SourceDocumentInformation", "uri"},
}

// Columns the writer sets itself and key pairs may never overwrite, except
// through the instance_id and instance_key keys.
var reservedColumns = []string{
	document.ColumnID,
	document.ColumnAnalysisBatch,
	document.ColumnText,
	document.ColumnSnapshot,
	document.ColumnInstanceID,
	document.ColumnInstanceKey,
}

type keyPair struct {
	key         string
	valueString *string
	valueLong   *int64
}

type keyUpdate struct {
	columns []string
	values  []any
}

func (u *keyUpdate) set(column string, value any) {
	if i := ectolinq.FindIndexWhere(u.columns, func(c string) bool { return strings.EqualFold(c, column) }); i >= 0 {
		u.values[i] = value
		return
	}
	u.columns = append(u.columns, column)
	u.values = append(u.values, value)
}

// keyColumns keeps the document columns key pairs may target.
func keyColumns(columns []schema.Column) []schema.Column {
	return ectolinq.Filter(columns, func(c schema.Column) bool {
		return !ectolinq.Contains(reservedColumns, strings.ToLower(c.Name))
	})
}

// findByShortName returns the records whose type's short name is name, in
// arena order.
func findByShortName(doc *graph.Document, name string) []graph.Ref {
	return ectolinq.Filter(doc.Refs(), func(r graph.Ref) bool {
		return graph.ShortName(doc.Records[r].Type) == name
	})
}

// instanceKey returns the first non-empty identifier supplied by a
// DocumentID or SourceDocumentInformation record.
func instanceKey(ts *graph.TypeSystem, doc *graph.Document) string {
	for _, src := range instanceKeySources {
		for _, ref := range findByShortName(doc, src.typeName) {
			desc, ok := ts.Lookup(doc.Records[ref].Type)
			if !ok {
				continue
			}
			f, ok := desc.Field(src.field)
			if !ok {
				continue
			}
			if s, ok := doc.Get(ref, f).Scalar().(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// readKeyPairs decodes the pairs of a DocKey record.
func readKeyPairs(ts *graph.TypeSystem, doc *graph.Document, key graph.Ref) []keyPair {
	desc, ok := ts.Lookup(doc.Records[key].Type)
	if !ok {
		return nil
	}
	f, ok := desc.Field(KeyValuePairsName)
	if !ok {
		return nil
	}
	items, ok := doc.Get(key, f).List()
	if !ok {
		return nil
	}

	pairs := make([]keyPair, 0, len(items))
	for _, item := range items {
		ref, ok := item.Ref()
		if !ok || !doc.Valid(ref) {
			continue
		}
		pd, ok := ts.Lookup(doc.Records[ref].Type)
		if !ok {
			continue
		}
		var p keyPair
		if kf, ok := pd.Field(KeyName); ok {
			p.key, _ = doc.Get(ref, kf).Scalar().(string)
		}
		if p.key == "" {
			continue
		}
		if vf, ok := pd.Field(ValueStringName); ok {
			if s, ok := doc.Get(ref, vf).Scalar().(string); ok {
				p.valueString = &s
			}
		}
		if vf, ok := pd.Field(ValueLongName); ok {
			switch n := doc.Get(ref, vf).Scalar().(type) {
			case int64:
				p.valueLong = &n
			case float64:
				v := int64(n)
				p.valueLong = &v
			}
		}
		pairs = append(pairs, p)
	}
	return pairs
}

// applyDocumentKey translates the first DocKey record into an update of the
// document row. Pairs that match no column, or whose value does not fit the
// column's kind, are logged and skipped.
func (s *save) applyDocumentKey(ctx context.Context) error {
	keys := findByShortName(s.doc, DocKeyType)
	if len(keys) == 0 {
		return nil
	}
	log := s.w.logger.WithContext(ctx).WithField("document_id", s.documentID)
	if len(keys) > 1 {
		log.Warnf("document has %d key records, using the first", len(keys))
	}

	var update keyUpdate
	for _, p := range readKeyPairs(s.w.types, s.doc, keys[0]) {
		switch {
		case strings.EqualFold(p.key, document.ColumnInstanceID):
			if p.valueLong == nil {
				log.Warnf("key %s needs a numeric value", p.key)
				continue
			}
			update.set(document.ColumnInstanceID, *p.valueLong)
		case strings.EqualFold(p.key, document.ColumnInstanceKey):
			if p.valueString == nil {
				log.Warnf("key %s needs a string value", p.key)
				continue
			}
			update.set(document.ColumnInstanceKey, graph.Truncate(*p.valueString, s.w.instanceKeySize))
		default:
			col, ok := schema.Find(s.w.keyColumns, p.key)
			if !ok {
				log.Warnf("could not map key attribute %s", p.key)
				continue
			}
			switch {
			case p.valueString != nil && col.IsText():
				update.set(col.Name, graph.Truncate(*p.valueString, col.Size))
			case p.valueLong != nil && col.IsNumeric():
				update.set(col.Name, *p.valueLong)
			default:
				log.WithField("column_kind", col.Kind.String()).Warnf("bad value type for key %s", p.key)
			}
		}
	}

	return s.w.documents.Update(ctx, s.documentID, update.columns, update.values)
}
