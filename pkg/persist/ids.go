package persist

import "github.com/Ramsey-B/fern/pkg/graph"

// IDMap is the record <-> generated id map of one save. It is never shared
// between saves.
type IDMap struct {
	ids   map[graph.Ref]int64
	refs  map[int64]graph.Ref
	order []graph.Ref
}

func NewIDMap(capacity int) *IDMap {
	return &IDMap{
		ids:   make(map[graph.Ref]int64, capacity),
		refs:  make(map[int64]graph.Ref, capacity),
		order: make([]graph.Ref, 0, capacity),
	}
}

// Assign records the id generated for ref. A record is assigned at most once.
func (m *IDMap) Assign(ref graph.Ref, id int64) {
	if _, ok := m.ids[ref]; ok {
		return
	}
	m.ids[ref] = id
	m.refs[id] = ref
	m.order = append(m.order, ref)
}

// Zip assigns ids[i] to refs[i].
func (m *IDMap) Zip(refs []graph.Ref, ids []int64) {
	for i := range refs {
		if i >= len(ids) {
			return
		}
		m.Assign(refs[i], ids[i])
	}
}

func (m *IDMap) Lookup(ref graph.Ref) (int64, bool) {
	id, ok := m.ids[ref]
	return id, ok
}

// Record is the reverse lookup.
func (m *IDMap) Record(id int64) (graph.Ref, bool) {
	ref, ok := m.refs[id]
	return ref, ok
}

// Refs returns the identified records in assignment order.
func (m *IDMap) Refs() []graph.Ref {
	return m.order
}

func (m *IDMap) Len() int {
	return len(m.order)
}
