package graph

import (
	"fmt"
	"unicode/utf8"

	"github.com/Gobusters/ectolinq"
)

// Ref identifies a record by its index in Document.Records.
type Ref int

const NoRef Ref = -1

// Value is a field value: null, a scalar (string, int64, float64, bool), a
// reference, or an ordered list of values.
type Value struct {
	data any
}

func Null() Value                { return Value{} }
func String(s string) Value      { return Value{data: s} }
func Int(i int64) Value          { return Value{data: i} }
func Float(f float64) Value      { return Value{data: f} }
func Bool(b bool) Value          { return Value{data: b} }
func RefTo(r Ref) Value          { return Value{data: r} }
func List(values ...Value) Value { return Value{data: values} }

func (v Value) IsNull() bool {
	return v.data == nil
}

func (v Value) Ref() (Ref, bool) {
	r, ok := v.data.(Ref)
	return r, ok
}

func (v Value) List() ([]Value, bool) {
	l, ok := v.data.([]Value)
	return l, ok
}

// Scalar returns the primitive payload or nil for refs, lists and null.
func (v Value) Scalar() any {
	switch v.data.(type) {
	case string, int64, float64, bool:
		return v.data
	}
	return nil
}

func (v Value) String() string {
	if v.data == nil {
		return "null"
	}
	if r, ok := v.Ref(); ok {
		return fmt.Sprintf("$ref(%d)", int(r))
	}
	return fmt.Sprint(v.data)
}

type Span struct {
	Begin int `json:"begin"`
	End   int `json:"end"`
}

// Contains reports whether s covers o. Equal spans contain each other.
func (s Span) Contains(o Span) bool {
	return s.Begin <= o.Begin && s.End >= o.End
}

// Record is one node of the document graph. Values is positional and follows
// the field order of the record type's descriptor.
type Record struct {
	Type   string
	Span   *Span
	Values []Value
}

func (r Record) HasSpan() bool {
	return r.Span != nil
}

type Document struct {
	Text    string
	Records []Record
}

// Add appends a record and returns its reference.
func (d *Document) Add(rec Record) Ref {
	d.Records = append(d.Records, rec)
	return Ref(len(d.Records) - 1)
}

func (d *Document) Valid(r Ref) bool {
	return r >= 0 && int(r) < len(d.Records)
}

func (d *Document) Record(r Ref) *Record {
	if !d.Valid(r) {
		return nil
	}
	return &d.Records[r]
}

// Get returns the value of field f of record r, null when absent.
func (d *Document) Get(r Ref, f FieldDescriptor) Value {
	rec := d.Record(r)
	if rec == nil || f.index < 0 || f.index >= len(rec.Values) {
		return Null()
	}
	return rec.Values[f.index]
}

// Refs returns a reference to every record in arena order.
func (d *Document) Refs() []Ref {
	refs := make([]Ref, len(d.Records))
	for i := range refs {
		refs[i] = Ref(i)
	}
	return refs
}

// OfType returns references to all records of the given type in arena order.
func (d *Document) OfType(typeName string) []Ref {
	return ectolinq.Filter(d.Refs(), func(r Ref) bool { return d.Records[r].Type == typeName })
}

// CoveredText slices the document text by the record's span. Offsets count
// characters; spans outside the text are clamped.
func (d *Document) CoveredText(r Ref) string {
	rec := d.Record(r)
	if rec == nil || rec.Span == nil {
		return ""
	}
	return SliceRunes(d.Text, rec.Span.Begin, rec.Span.End)
}

// SliceRunes returns runes [begin, end) of s.
func SliceRunes(s string, begin, end int) string {
	if begin < 0 {
		begin = 0
	}
	if end <= begin {
		return ""
	}
	start, stop := -1, len(s)
	pos := 0
	for i := range s {
		if pos == begin {
			start = i
		}
		if pos == end {
			stop = i
			break
		}
		pos++
	}
	if start < 0 {
		return ""
	}
	return s[start:stop]
}

// Truncate caps s at size characters. size <= 0 means unbounded.
func Truncate(s string, size int) string {
	if size <= 0 || utf8.RuneCountInString(s) <= size {
		return s
	}
	return SliceRunes(s, 0, size)
}
