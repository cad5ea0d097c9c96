// Package mapping decides, per record type, which table and columns a
// record's fields are written to, and renders the insert for them.
package mapping

import (
	"math"
	"strings"

	"github.com/jmespath/go-jmespath"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/schema"
)

// Well-known column names. Matching is case-insensitive.
const (
	ColumnID          = "anno_base_id"
	ColumnTypeID      = "type_id"
	ColumnTypeIDAlias = "uima_type_id"
	ColumnCovered     = "covered_text"
	ColumnCoveredAlt  = "coveredtext"
)

// IDs resolves records to the ids generated for them in the current save.
type IDs interface {
	Lookup(ref graph.Ref) (int64, bool)
}

type ColumnBinding struct {
	Column    string            `json:"column"`
	Field     string            `json:"field,omitempty"`
	FieldKind graph.Kind        `json:"field_kind"`
	DataType  string            `json:"data_type"`
	Kind      schema.ColumnKind `json:"kind"`
	Size      int               `json:"size,omitempty"`
	Path      string            `json:"path,omitempty"`
	Converter string            `json:"converter,omitempty"`

	field     graph.FieldDescriptor
	hasField  bool
	path      *jmespath.JMESPath
	converter Converter
}

// LinkEndpoint locates one end of a link-mapped record.
type LinkEndpoint struct {
	Field string `json:"field,omitempty"`
	Path  string `json:"path,omitempty"`

	field    graph.FieldDescriptor
	hasField bool
	path     *jmespath.JMESPath
}

type LinkMapping struct {
	Parent LinkEndpoint `json:"parent"`
	Child  LinkEndpoint `json:"child"`
	Label  string       `json:"label"`
}

// MappingInfo is the resolved mapping of one record type. It is shared by
// every save in the process and must not be modified.
type MappingInfo struct {
	TypeName string `json:"type_name"`
	Table    string `json:"table"`
	// SQL is the single row insert. Batches render multi-row variants of it
	// from Columns.
	SQL          string          `json:"sql,omitempty"`
	Columns      []string        `json:"columns,omitempty"`
	Bindings     []ColumnBinding `json:"bindings,omitempty"`
	CoveredText  *ColumnBinding  `json:"covered_text,omitempty"`
	TypeIDColumn string          `json:"type_id_column,omitempty"`
	TypeID       int             `json:"type_id,omitempty"`
	Link         *LinkMapping    `json:"link,omitempty"`
}

// IsLink reports whether records of this type are persisted as edges.
func (m *MappingInfo) IsLink() bool {
	return m.Link != nil
}

// Row builds the bind arguments for one record in Columns order.
func (m *MappingInfo) Row(doc *graph.Document, ts *graph.TypeSystem, ref graph.Ref, id int64, ids IDs) ([]any, error) {
	row := make([]any, 0, len(m.Columns))
	row = append(row, id)
	if m.CoveredText != nil {
		row = append(row, graph.Truncate(doc.CoveredText(ref), m.CoveredText.Size))
	}
	if m.TypeIDColumn != "" {
		row = append(row, m.TypeID)
	}
	for i := range m.Bindings {
		v, err := m.Bindings[i].Value(doc, ts, ref, ids)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", m.Table, m.Bindings[i].Column)
		}
		row = append(row, v)
	}
	return row, nil
}

// Value computes the bind value of the binding for record ref.
func (b *ColumnBinding) Value(doc *graph.Document, ts *graph.TypeSystem, ref graph.Ref, ids IDs) (any, error) {
	var v any
	switch {
	case b.path != nil:
		var subject any
		if b.hasField {
			subject = doc.ProjectValue(ts, doc.Get(ref, b.field), graph.DefaultProjectionDepth)
		} else {
			subject = doc.Project(ts, ref, graph.DefaultProjectionDepth)
		}
		if subject == nil {
			return nil, nil
		}
		result, err := b.path.Search(subject)
		if err != nil {
			return nil, errors.Wrapf(err, "path %s", b.Path)
		}
		v = b.fromProjection(result, ids)
	case b.FieldKind == graph.KindReference:
		target, ok := doc.Get(ref, b.field).Ref()
		if !ok {
			return nil, nil
		}
		id, ok := ids.Lookup(target)
		if !ok {
			return nil, nil
		}
		return id, nil
	default:
		v = doc.Get(ref, b.field).Scalar()
	}

	if b.converter != nil {
		converted, err := b.converter(v)
		if err != nil {
			return nil, err
		}
		v = converted
	}
	return b.fit(v), nil
}

// fromProjection turns a path result back into a bindable value. Projected
// records bind as their generated id.
func (b *ColumnBinding) fromProjection(result any, ids IDs) any {
	switch x := result.(type) {
	case nil:
		return nil
	case map[string]any:
		ref, ok := graph.ProjectedRef(x)
		if !ok {
			return nil
		}
		if id, ok := ids.Lookup(ref); ok {
			return id
		}
		return nil
	case []any:
		return nil
	case float64:
		if b.Kind != schema.KindText && x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	default:
		return x
	}
}

// fit truncates strings to the column size.
func (b *ColumnBinding) fit(v any) any {
	if s, ok := v.(string); ok && b.Size > 0 {
		return graph.Truncate(s, b.Size)
	}
	return v
}

// Endpoints returns the records a link-mapped record connects.
func (l *LinkMapping) Endpoints(doc *graph.Document, ts *graph.TypeSystem, ref graph.Ref) (parents, children []graph.Ref, err error) {
	if parents, err = l.Parent.resolve(doc, ts, ref); err != nil {
		return nil, nil, errors.Wrap(err, "parent")
	}
	if children, err = l.Child.resolve(doc, ts, ref); err != nil {
		return nil, nil, errors.Wrap(err, "child")
	}
	return parents, children, nil
}

func (e *LinkEndpoint) resolve(doc *graph.Document, ts *graph.TypeSystem, ref graph.Ref) ([]graph.Ref, error) {
	if e.path == nil {
		if !e.hasField {
			return nil, nil
		}
		return refsOf(doc.Get(ref, e.field)), nil
	}

	var subject any
	if e.hasField {
		subject = doc.ProjectValue(ts, doc.Get(ref, e.field), graph.DefaultProjectionDepth)
	} else {
		subject = doc.Project(ts, ref, graph.DefaultProjectionDepth)
	}
	if subject == nil {
		return nil, nil
	}
	result, err := e.path.Search(subject)
	if err != nil {
		return nil, errors.Wrapf(err, "path %s", e.Path)
	}

	var refs []graph.Ref
	switch x := result.(type) {
	case map[string]any:
		if r, ok := graph.ProjectedRef(x); ok {
			refs = append(refs, r)
		}
	case []any:
		for _, item := range x {
			if r, ok := graph.ProjectedRef(item); ok {
				refs = append(refs, r)
			}
		}
	}
	return refs, nil
}

func refsOf(v graph.Value) []graph.Ref {
	if r, ok := v.Ref(); ok {
		return []graph.Ref{r}
	}
	items, ok := v.List()
	if !ok {
		return nil
	}
	refs := make([]graph.Ref, 0, len(items))
	for _, item := range items {
		if r, ok := item.Ref(); ok {
			refs = append(refs, r)
		}
	}
	return refs
}

func isTypeIDColumn(name string) bool {
	return strings.EqualFold(name, ColumnTypeID) || strings.EqualFold(name, ColumnTypeIDAlias)
}

func isCoveredTextColumn(name string) bool {
	return strings.EqualFold(name, ColumnCovered) || strings.EqualFold(name, ColumnCoveredAlt)
}
