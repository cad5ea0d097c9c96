// Package graph models an annotated document: an arena of typed records, some
// of which carry a character span into the document text, linked by references.
package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Kind int

const (
	KindPrimitive Kind = iota
	KindReference
	KindCollection
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindReference:
		return "reference"
	case KindCollection:
		return "collection"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts the names produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "primitive", "":
		return KindPrimitive, nil
	case "reference", "ref":
		return KindReference, nil
	case "collection", "array", "list":
		return KindCollection, nil
	}
	return 0, fmt.Errorf("unknown field kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Primitive ranges a field can declare.
const (
	RangeString  = "string"
	RangeInt     = "int"
	RangeShort   = "short"
	RangeLong    = "long"
	RangeByte    = "byte"
	RangeFloat   = "float"
	RangeDouble  = "double"
	RangeBoolean = "boolean"
)

func IsIntegerRange(r string) bool {
	switch r {
	case RangeInt, RangeShort, RangeLong, RangeByte:
		return true
	}
	return false
}

func IsFloatRange(r string) bool {
	return r == RangeFloat || r == RangeDouble
}

func IsPrimitiveRange(r string) bool {
	return r == RangeString || r == RangeBoolean || IsIntegerRange(r) || IsFloatRange(r)
}

// FieldDescriptor describes one named field. For collections Range names the
// element range: a primitive range, a type name, or empty for any record.
type FieldDescriptor struct {
	Name  string `json:"name" yaml:"name"`
	Kind  Kind   `json:"kind" yaml:"kind"`
	Range string `json:"range,omitempty" yaml:"range,omitempty"`
	index int
}

// Index is the position of the field's value in Record.Values.
func (f FieldDescriptor) Index() int {
	return f.index
}

// PrimitiveElements reports whether a collection holds scalars rather than records.
func (f FieldDescriptor) PrimitiveElements() bool {
	return f.Kind == KindCollection && IsPrimitiveRange(f.Range)
}

type TypeDescriptor struct {
	Name      string
	ShortName string
	// Spanned types are annotations: their instances carry a span.
	Spanned bool
	Fields  []FieldDescriptor
	byName  map[string]int
}

// ShortName is the part of a qualified type name after the last '.'.
func ShortName(name string) string {
	if i := strings.LastIndexAny(name, ".$"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// NewTypeDescriptor assigns field indexes in declaration order. Duplicate
// field names keep the first declaration.
func NewTypeDescriptor(name string, spanned bool, fields ...FieldDescriptor) *TypeDescriptor {
	t := &TypeDescriptor{
		Name:      name,
		ShortName: ShortName(name),
		Spanned:   spanned,
		byName:    make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if _, dup := t.byName[f.Name]; dup {
			continue
		}
		f.index = len(t.Fields)
		t.byName[f.Name] = f.index
		t.Fields = append(t.Fields, f)
	}
	return t
}

// Field looks a field up by exact name.
func (t *TypeDescriptor) Field(name string) (FieldDescriptor, bool) {
	i, ok := t.byName[name]
	if !ok {
		return FieldDescriptor{}, false
	}
	return t.Fields[i], true
}

// FieldFold looks a field up ignoring case; an exact match wins.
func (t *TypeDescriptor) FieldFold(name string) (FieldDescriptor, bool) {
	if f, ok := t.Field(name); ok {
		return f, true
	}
	for _, f := range t.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// TypeSystem is the process wide set of type descriptors. Registration is
// first-wins so a descriptor never changes once mapping has seen it.
type TypeSystem struct {
	mu    sync.RWMutex
	types map[string]*TypeDescriptor
}

func NewTypeSystem() *TypeSystem {
	return &TypeSystem{types: make(map[string]*TypeDescriptor)}
}

// Register stores desc unless the name is taken and returns the descriptor in effect.
func (ts *TypeSystem) Register(desc *TypeDescriptor) *TypeDescriptor {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if existing, ok := ts.types[desc.Name]; ok {
		return existing
	}
	ts.types[desc.Name] = desc
	return desc
}

func (ts *TypeSystem) Lookup(name string) (*TypeDescriptor, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	desc, ok := ts.types[name]
	return desc, ok
}

// Names returns the registered type names in sorted order.
func (ts *TypeSystem) Names() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	names := make([]string, 0, len(ts.types))
	for name := range ts.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
