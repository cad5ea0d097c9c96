package graph

// Keys added to every projected record next to its fields.
const (
	ProjectRefKey   = "_ref"
	ProjectTypeKey  = "_type"
	ProjectBeginKey = "_begin"
	ProjectEndKey   = "_end"
)

// DefaultProjectionDepth bounds how many references Project follows.
const DefaultProjectionDepth = 3

// Project materializes record r as nested maps and slices for path
// evaluation. Numbers become float64. References are followed up to depth
// levels; deeper or cyclic references collapse to {"_ref": n, "_type": t}.
func (d *Document) Project(ts *TypeSystem, r Ref, depth int) any {
	return d.project(ts, r, depth, map[Ref]bool{})
}

func (d *Document) project(ts *TypeSystem, r Ref, depth int, path map[Ref]bool) any {
	rec := d.Record(r)
	if rec == nil {
		return nil
	}

	out := map[string]any{
		ProjectRefKey:  float64(r),
		ProjectTypeKey: rec.Type,
	}
	if rec.Span != nil {
		out[ProjectBeginKey] = float64(rec.Span.Begin)
		out[ProjectEndKey] = float64(rec.Span.End)
	}
	if depth < 0 || path[r] {
		return out
	}

	desc, ok := ts.Lookup(rec.Type)
	if !ok {
		return out
	}

	path[r] = true
	defer delete(path, r)

	for _, f := range desc.Fields {
		if f.index >= len(rec.Values) {
			continue
		}
		out[f.Name] = d.projectValue(ts, rec.Values[f.index], depth, path)
	}
	return out
}

// ProjectValue materializes a field value the way Project does.
func (d *Document) ProjectValue(ts *TypeSystem, v Value, depth int) any {
	return d.projectValue(ts, v, depth+1, map[Ref]bool{})
}

func (d *Document) projectValue(ts *TypeSystem, v Value, depth int, path map[Ref]bool) any {
	if ref, ok := v.Ref(); ok {
		return d.project(ts, ref, depth-1, path)
	}
	if items, ok := v.List(); ok {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = d.projectValue(ts, item, depth, path)
		}
		return out
	}
	switch x := v.Scalar().(type) {
	case int64:
		return float64(x)
	default:
		return x
	}
}

// ProjectedRef recovers the record reference from a projected value.
func ProjectedRef(v any) (Ref, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return NoRef, false
	}
	f, ok := m[ProjectRefKey].(float64)
	if !ok {
		return NoRef, false
	}
	return Ref(int(f)), true
}
