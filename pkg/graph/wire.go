package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// WireType declares a record type in the JSON interchange format.
type WireType struct {
	Name   string            `json:"name" yaml:"name" validate:"required"`
	Span   bool              `json:"span,omitempty" yaml:"span,omitempty"`
	Fields []FieldDescriptor `json:"fields,omitempty" yaml:"fields,omitempty"`
}

type WireRecord struct {
	Type   string                     `json:"type" validate:"required"`
	Begin  *int                       `json:"begin,omitempty"`
	End    *int                       `json:"end,omitempty"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
}

// WireDocument is the JSON form of a document graph. References are encoded
// as {"$ref": n} where n indexes Records.
type WireDocument struct {
	Text    string       `json:"text,omitempty"`
	Types   []WireType   `json:"types,omitempty" validate:"dive"`
	Records []WireRecord `json:"records" validate:"dive"`
}

const refKey = "$ref"

// Descriptor builds the type descriptor a WireType declares.
func (w WireType) Descriptor() *TypeDescriptor {
	return NewTypeDescriptor(w.Name, w.Span, w.Fields...)
}

// Decode converts a wire document into an arena document. Types the
// TypeSystem already knows keep their descriptor. Declared and inferred
// descriptors for new types are registered only after every record decodes,
// so a rejected document leaves the TypeSystem untouched.
func Decode(ts *TypeSystem, wd WireDocument) (*Document, error) {
	for {
		local, err := documentTypes(ts, wd)
		if err != nil {
			return nil, err
		}
		doc, err := decodeRecords(ts, local, wd)
		if err != nil {
			return nil, err
		}
		// A concurrent document may have registered one of these types first;
		// decode again against the descriptor that won.
		if registerAll(ts, local) {
			return doc, nil
		}
	}
}

func decodeRecords(ts *TypeSystem, local map[string]*TypeDescriptor, wd WireDocument) (*Document, error) {
	doc := &Document{
		Text:    wd.Text,
		Records: make([]Record, len(wd.Records)),
	}
	for i, wr := range wd.Records {
		desc, ok := local[wr.Type]
		if !ok {
			desc, _ = ts.Lookup(wr.Type)
		}
		if err := checkFields(desc, wr); err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		rec, err := decodeRecord(desc, wr, len(wd.Records))
		if err != nil {
			return nil, errors.Wrapf(err, "record %d (%s)", i, wr.Type)
		}
		doc.Records[i] = rec
	}
	return doc, nil
}

func registerAll(ts *TypeSystem, local map[string]*TypeDescriptor) bool {
	won := true
	for _, desc := range local {
		if ts.Register(desc) != desc {
			won = false
		}
	}
	return won
}

// checkFields rejects a record carrying values for fields its descriptor
// lacks. Null and empty values carry nothing and are allowed.
func checkFields(desc *TypeDescriptor, wr WireRecord) error {
	var missing []string
	for name, raw := range wr.Fields {
		if _, ok := desc.Field(name); ok {
			continue
		}
		v, err := parseRaw(raw)
		if err != nil {
			return errors.Wrapf(err, "%s.%s", wr.Type, name)
		}
		if isEmpty(v) {
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("type %s has no fields %s", wr.Type, strings.Join(missing, ", "))
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	items, ok := v.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if item != nil {
			return false
		}
	}
	return true
}

// documentTypes collects the descriptors a document introduces without
// registering them. A declaration of an already registered type must agree
// with the registered descriptor.
func documentTypes(ts *TypeSystem, wd WireDocument) (map[string]*TypeDescriptor, error) {
	local := map[string]*TypeDescriptor{}
	for _, wt := range wd.Types {
		if wt.Name == "" {
			return nil, errors.New("type declaration without a name")
		}
		existing, ok := ts.Lookup(wt.Name)
		if !ok {
			existing, ok = local[wt.Name]
		}
		if ok {
			if err := checkDeclaration(existing, wt); err != nil {
				return nil, err
			}
			continue
		}
		local[wt.Name] = wt.Descriptor()
	}

	if err := inferTypes(ts, local, wd.Records); err != nil {
		return nil, err
	}
	return local, nil
}

func checkDeclaration(existing *TypeDescriptor, wt WireType) error {
	for _, f := range wt.Fields {
		got, ok := existing.Field(f.Name)
		if !ok {
			return fmt.Errorf("type %s is already declared without field %s", wt.Name, f.Name)
		}
		if got.Kind != f.Kind {
			return fmt.Errorf("type %s field %s is already declared as %s", wt.Name, f.Name, got.Kind)
		}
	}
	return nil
}

// DecodeJSON parses and decodes a wire document.
func DecodeJSON(ts *TypeSystem, data []byte) (*Document, error) {
	var wd WireDocument
	if err := json.Unmarshal(data, &wd); err != nil {
		return nil, errors.Wrap(err, "invalid document json")
	}
	return Decode(ts, wd)
}

func decodeRecord(desc *TypeDescriptor, wr WireRecord, size int) (Record, error) {
	rec := Record{
		Type:   wr.Type,
		Values: make([]Value, len(desc.Fields)),
	}
	if wr.Begin != nil || wr.End != nil {
		if wr.Begin == nil || wr.End == nil {
			return rec, errors.New("span needs both begin and end")
		}
		if *wr.Begin < 0 || *wr.End < *wr.Begin {
			return rec, fmt.Errorf("invalid span [%d, %d)", *wr.Begin, *wr.End)
		}
		rec.Span = &Span{Begin: *wr.Begin, End: *wr.End}
	}

	for _, f := range desc.Fields {
		raw, ok := wr.Fields[f.Name]
		if !ok {
			continue
		}
		v, err := decodeValue(f, raw, size)
		if err != nil {
			return rec, errors.Wrapf(err, "field %s", f.Name)
		}
		rec.Values[f.index] = v
	}
	return rec, nil
}

func parseRaw(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeValue(f FieldDescriptor, raw json.RawMessage, size int) (Value, error) {
	v, err := parseRaw(raw)
	if err != nil {
		return Null(), err
	}
	if v == nil {
		return Null(), nil
	}

	switch f.Kind {
	case KindReference:
		return decodeRef(v, size)
	case KindCollection:
		items, ok := v.([]any)
		if !ok {
			return Null(), fmt.Errorf("expected an array, got %T", v)
		}
		values := make([]Value, 0, len(items))
		for i, item := range items {
			var (
				elem Value
				err  error
			)
			if isRefObject(item) {
				elem, err = decodeRef(item, size)
			} else {
				elem, err = decodeScalar(f.Range, item)
			}
			if err != nil {
				return Null(), errors.Wrapf(err, "element %d", i)
			}
			values = append(values, elem)
		}
		return List(values...), nil
	default:
		return decodeScalar(f.Range, v)
	}
}

func isRefObject(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m[refKey]
	return ok
}

func decodeRef(v any, size int) (Value, error) {
	if v == nil {
		return Null(), nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return Null(), fmt.Errorf("expected {\"$ref\": n}, got %T", v)
	}
	n, ok := m[refKey].(json.Number)
	if !ok {
		return Null(), errors.New("reference without numeric $ref")
	}
	i, err := n.Int64()
	if err != nil {
		return Null(), err
	}
	if i < 0 || int(i) >= size {
		return Null(), fmt.Errorf("reference %d out of range", i)
	}
	return RefTo(Ref(i)), nil
}

func decodeScalar(rng string, v any) (Value, error) {
	if v == nil {
		return Null(), nil
	}
	switch {
	case IsIntegerRange(rng):
		switch x := v.(type) {
		case json.Number:
			if i, err := x.Int64(); err == nil {
				return Int(i), nil
			}
			f, err := x.Float64()
			if err != nil {
				return Null(), err
			}
			return Int(int64(f)), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return Null(), err
			}
			return Int(i), nil
		case bool:
			if x {
				return Int(1), nil
			}
			return Int(0), nil
		}
	case IsFloatRange(rng):
		switch x := v.(type) {
		case json.Number:
			f, err := x.Float64()
			if err != nil {
				return Null(), err
			}
			return Float(f), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return Null(), err
			}
			return Float(f), nil
		}
	case rng == RangeBoolean:
		switch x := v.(type) {
		case bool:
			return Bool(x), nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return Null(), err
			}
			return Bool(b), nil
		case json.Number:
			return Bool(x.String() != "0"), nil
		}
	default:
		switch x := v.(type) {
		case string:
			return String(x), nil
		case json.Number:
			return String(x.String()), nil
		case bool:
			return String(strconv.FormatBool(x)), nil
		}
	}
	return Null(), fmt.Errorf("cannot use %T as %s", v, rangeOrString(rng))
}

func rangeOrString(rng string) string {
	if rng == "" {
		return RangeString
	}
	return rng
}

// inferTypes adds descriptors to local for record types neither registered
// nor declared. Fields are the union over all instances, sorted by name.
func inferTypes(ts *TypeSystem, local map[string]*TypeDescriptor, records []WireRecord) error {
	type inferred struct {
		spanned bool
		fields  map[string]FieldDescriptor
	}
	pending := map[string]*inferred{}
	var order []string

	for _, wr := range records {
		if wr.Type == "" {
			return errors.New("record without a type")
		}
		if _, ok := local[wr.Type]; ok {
			continue
		}
		if _, ok := ts.Lookup(wr.Type); ok {
			continue
		}
		inf, ok := pending[wr.Type]
		if !ok {
			inf = &inferred{fields: map[string]FieldDescriptor{}}
			pending[wr.Type] = inf
			order = append(order, wr.Type)
		}
		if wr.Begin != nil {
			inf.spanned = true
		}
		for name, raw := range wr.Fields {
			if _, seen := inf.fields[name]; seen {
				continue
			}
			v, err := parseRaw(raw)
			if err != nil {
				return errors.Wrapf(err, "%s.%s", wr.Type, name)
			}
			if f, ok := inferField(name, v); ok {
				inf.fields[name] = f
			}
		}
	}

	for _, name := range order {
		inf := pending[name]
		names := make([]string, 0, len(inf.fields))
		for fieldName := range inf.fields {
			names = append(names, fieldName)
		}
		sort.Strings(names)
		fields := make([]FieldDescriptor, len(names))
		for i, fieldName := range names {
			fields[i] = inf.fields[fieldName]
		}
		local[name] = NewTypeDescriptor(name, inf.spanned, fields...)
	}
	return nil
}

func inferField(name string, v any) (FieldDescriptor, bool) {
	if v == nil {
		return FieldDescriptor{}, false
	}
	if isRefObject(v) {
		return FieldDescriptor{Name: name, Kind: KindReference}, true
	}
	if items, ok := v.([]any); ok {
		for _, item := range items {
			if item == nil {
				continue
			}
			if isRefObject(item) {
				return FieldDescriptor{Name: name, Kind: KindCollection}, true
			}
			return FieldDescriptor{Name: name, Kind: KindCollection, Range: scalarRange(item)}, true
		}
		return FieldDescriptor{}, false
	}
	return FieldDescriptor{Name: name, Kind: KindPrimitive, Range: scalarRange(v)}, true
}

func scalarRange(v any) string {
	switch x := v.(type) {
	case bool:
		return RangeBoolean
	case json.Number:
		if strings.ContainsAny(x.String(), ".eE") {
			return RangeDouble
		}
		return RangeLong
	}
	return RangeString
}

// Encode is the inverse of Decode. Every record type must be registered.
func Encode(ts *TypeSystem, doc *Document) (WireDocument, error) {
	wd := WireDocument{
		Text:    doc.Text,
		Records: make([]WireRecord, len(doc.Records)),
	}
	seen := map[string]bool{}
	for i, rec := range doc.Records {
		desc, ok := ts.Lookup(rec.Type)
		if !ok {
			return wd, fmt.Errorf("record %d has unregistered type %s", i, rec.Type)
		}
		if !seen[rec.Type] {
			seen[rec.Type] = true
			wd.Types = append(wd.Types, WireType{Name: desc.Name, Span: desc.Spanned, Fields: desc.Fields})
		}

		wr := WireRecord{Type: rec.Type}
		if rec.Span != nil {
			begin, end := rec.Span.Begin, rec.Span.End
			wr.Begin, wr.End = &begin, &end
		}
		for _, f := range desc.Fields {
			if f.index >= len(rec.Values) || rec.Values[f.index].IsNull() {
				continue
			}
			raw, err := json.Marshal(encodeValue(rec.Values[f.index]))
			if err != nil {
				return wd, err
			}
			if wr.Fields == nil {
				wr.Fields = map[string]json.RawMessage{}
			}
			wr.Fields[f.Name] = raw
		}
		wd.Records[i] = wr
	}
	return wd, nil
}

func encodeValue(v Value) any {
	if r, ok := v.Ref(); ok {
		return map[string]int{refKey: int(r)}
	}
	if items, ok := v.List(); ok {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = encodeValue(item)
		}
		return out
	}
	return v.Scalar()
}
