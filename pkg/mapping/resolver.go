package mapping

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/registry"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// TablePrefix is prepended to the lowercased short type name when neither an
// override nor the registry names a table.
const TablePrefix = "anno_"

// Resolver resolves and caches one MappingInfo per type name for the life of
// the process. It is safe for concurrent use.
type Resolver struct {
	types     *graph.TypeSystem
	registry  *registry.Registry
	inspector schema.Inspector
	overrides Overrides
	flavor    sqlbuilder.Flavor
	logger    ectologger.Logger

	cache sync.Map // type name -> *MappingInfo, nil when unmapped
	group singleflight.Group
}

func NewResolver(types *graph.TypeSystem, reg *registry.Registry, inspector schema.Inspector, overrides Overrides, flavor sqlbuilder.Flavor, logger ectologger.Logger) *Resolver {
	if overrides == nil {
		overrides = Overrides{}
	}
	return &Resolver{
		types:     types,
		registry:  reg,
		inspector: inspector,
		overrides: overrides,
		flavor:    flavor,
		logger:    logger,
	}
}

// Resolve returns the mapping for typeName, or nil when the type is unmapped.
// Concurrent first calls for one type share a single resolution. Failures are
// not cached.
func (r *Resolver) Resolve(ctx context.Context, q database.Querier, typeName string) (*MappingInfo, error) {
	if cached, ok := r.cache.Load(typeName); ok {
		return cached.(*MappingInfo), nil
	}

	// Types without a descriptor are not cached: a later document may declare them.
	if _, ok := r.types.Lookup(typeName); !ok {
		return nil, nil
	}

	v, err, _ := r.group.Do(typeName, func() (any, error) {
		if cached, ok := r.cache.Load(typeName); ok {
			return cached, nil
		}
		info, err := r.resolve(ctx, q, typeName)
		if err != nil {
			metrics.MappingResolutions.WithLabelValues("error").Inc()
			return nil, err
		}
		if info == nil {
			metrics.MappingResolutions.WithLabelValues("unmapped").Inc()
		} else {
			metrics.MappingResolutions.WithLabelValues("mapped").Inc()
		}
		r.cache.Store(typeName, info)
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*MappingInfo), nil
}

// Warm resolves every registered type that has a descriptor. Any
// introspection failure is returned so startup can abort.
func (r *Resolver) Warm(ctx context.Context, q database.Querier) (mapped int, err error) {
	for _, info := range r.registry.Types() {
		if _, ok := r.types.Lookup(info.Name); !ok {
			continue
		}
		m, err := r.Resolve(ctx, q, info.Name)
		if err != nil {
			return mapped, err
		}
		if m != nil {
			mapped++
		}
	}
	return mapped, nil
}

// Cached returns a resolved mapping without touching the database.
func (r *Resolver) Cached(typeName string) (*MappingInfo, bool) {
	v, ok := r.cache.Load(typeName)
	if !ok {
		return nil, false
	}
	return v.(*MappingInfo), true
}

// IsLinkType reports whether records of typeName are stored as edges.
func (r *Resolver) IsLinkType(typeName string) bool {
	o, ok := r.overrides[typeName]
	return ok && o.Link != nil
}

// TableFor applies the table naming priority: override, registry, convention.
func (r *Resolver) TableFor(typeName string) string {
	if o, ok := r.overrides[typeName]; ok && o.Table != "" {
		return o.Table
	}
	if info, ok := r.registry.Lookup(typeName); ok && info.TableName != "" {
		return info.TableName
	}
	return TablePrefix + strings.ToLower(graph.ShortName(typeName))
}

func (r *Resolver) resolve(ctx context.Context, q database.Querier, typeName string) (*MappingInfo, error) {
	ctx, span := tracing.StartSpan(ctx, "mapping.Resolve")
	defer span.End()

	log := r.logger.WithContext(ctx).WithField("type", typeName)

	desc, ok := r.types.Lookup(typeName)
	if !ok {
		return nil, nil
	}

	override, hasOverride := r.overrides[typeName]
	info := &MappingInfo{
		TypeName: typeName,
		Table:    r.TableFor(typeName),
	}

	if hasOverride && override.Link != nil {
		link, err := buildLink(desc, override)
		if err != nil {
			return nil, tracing.RecordError(span, err)
		}
		info.Link = link
		log.WithField("table", info.Table).Infof("type %s maps to edges labelled %s", typeName, link.Label)
		return info, nil
	}

	columns, err := r.inspector.Columns(ctx, q, info.Table)
	if err != nil {
		return nil, tracing.RecordError(span, errors.Wrapf(err, "failed to inspect table %s for type %s", info.Table, typeName))
	}

	pinned := map[string]ColumnOverride{}
	if hasOverride {
		for _, c := range override.Columns {
			if _, ok := schema.Find(columns, c.Column); !ok && len(columns) > 0 {
				return nil, tracing.RecordError(span, errors.Errorf("override %s.%s: column not found in table %s", typeName, c.Column, info.Table))
			}
			pinned[strings.ToLower(c.Column)] = c
		}
	}

	regInfo, registered := r.registry.Lookup(typeName)

	for _, col := range columns {
		switch {
		case strings.EqualFold(col.Name, ColumnID):
			continue
		case isTypeIDColumn(col.Name):
			if registered && !desc.Spanned && info.TypeIDColumn == "" {
				info.TypeIDColumn = col.Name
				info.TypeID = regInfo.ID
			}
			continue
		case isCoveredTextColumn(col.Name):
			if desc.Spanned && info.CoveredText == nil {
				info.CoveredText = &ColumnBinding{
					Column:   col.Name,
					DataType: col.DataType,
					Kind:     col.Kind,
					Size:     col.Size,
				}
			}
			continue
		}

		if o, ok := pinned[strings.ToLower(col.Name)]; ok {
			b, err := bindOverride(desc, o, col)
			if err != nil {
				return nil, tracing.RecordError(span, errors.Wrapf(err, "override %s.%s", typeName, col.Name))
			}
			if b == nil {
				log.Warnf("override field %s is not declared on %s, skipping column %s", o.Field, typeName, col.Name)
				continue
			}
			info.Bindings = append(info.Bindings, *b)
			continue
		}

		if b, ok := bindByName(desc, col); ok {
			info.Bindings = append(info.Bindings, b)
		}
	}

	if len(info.Bindings) == 0 && info.CoveredText == nil && info.TypeIDColumn == "" {
		log.WithField("table", info.Table).Infof("no columns of %s match type %s, attributes will not be stored", info.Table, typeName)
		return nil, nil
	}

	info.Columns = info.columnNames()
	info.SQL = r.render(info)

	log.WithFields(map[string]any{
		"table":    info.Table,
		"bindings": len(info.Bindings),
	}).Debug("resolved mapping")
	return info, nil
}

// bindByName tries a primitive field first, then a reference field on a
// numeric column.
func bindByName(desc *graph.TypeDescriptor, col schema.Column) (ColumnBinding, bool) {
	f, ok := matchField(desc, col.Name, graph.KindPrimitive)
	if !ok && col.IsNumeric() {
		f, ok = matchField(desc, col.Name, graph.KindReference)
	}
	if !ok {
		return ColumnBinding{}, false
	}
	return ColumnBinding{
		Column:    col.Name,
		Field:     f.Name,
		FieldKind: f.Kind,
		DataType:  col.DataType,
		Kind:      col.Kind,
		Size:      col.Size,
		field:     f,
		hasField:  true,
	}, true
}

func matchField(desc *graph.TypeDescriptor, column string, kind graph.Kind) (graph.FieldDescriptor, bool) {
	i := ectolinq.FindIndexWhere(desc.Fields, func(f graph.FieldDescriptor) bool {
		return f.Kind == kind && strings.EqualFold(f.Name, column)
	})
	if i < 0 {
		return graph.FieldDescriptor{}, false
	}
	return desc.Fields[i], true
}

// bindOverride returns nil, nil when the override names a field the type
// does not declare.
func bindOverride(desc *graph.TypeDescriptor, o ColumnOverride, col schema.Column) (*ColumnBinding, error) {
	b := &ColumnBinding{
		Column:    col.Name,
		DataType:  col.DataType,
		Kind:      col.Kind,
		Size:      col.Size,
		Path:      o.Path,
		Converter: o.Converter,
	}
	if o.Field != "" {
		f, ok := desc.Field(o.Field)
		if !ok {
			if f, ok = desc.FieldFold(o.Field); !ok {
				return nil, nil
			}
		}
		b.Field, b.FieldKind, b.field, b.hasField = f.Name, f.Kind, f, true
		if f.Kind == graph.KindCollection && o.Path == "" {
			return nil, errors.Errorf("collection field %s needs a path", f.Name)
		}
	}

	var err error
	if b.path, err = compilePath(o.Path); err != nil {
		return nil, err
	}
	if b.converter, err = LookupConverter(o.Converter); err != nil {
		return nil, err
	}
	return b, nil
}

func buildLink(desc *graph.TypeDescriptor, o Override) (*LinkMapping, error) {
	link := &LinkMapping{Label: o.Link.Label}
	if link.Label == "" {
		link.Label = desc.ShortName
	}
	var err error
	if link.Parent, err = endpoint(desc, o.Link.Parent); err != nil {
		return nil, errors.Wrapf(err, "%s parent", o.Type)
	}
	if link.Child, err = endpoint(desc, o.Link.Child); err != nil {
		return nil, errors.Wrapf(err, "%s child", o.Type)
	}
	return link, nil
}

func endpoint(desc *graph.TypeDescriptor, o EndpointOverride) (LinkEndpoint, error) {
	ep := LinkEndpoint{Field: o.Field, Path: o.Path}
	if o.Field != "" {
		f, ok := desc.Field(o.Field)
		if !ok {
			return ep, errors.Errorf("field %s is not declared", o.Field)
		}
		if f.Kind == graph.KindPrimitive {
			return ep, errors.Errorf("field %s is not a reference", o.Field)
		}
		ep.field, ep.hasField = f, true
	}
	var err error
	ep.path, err = compilePath(o.Path)
	return ep, err
}

func (m *MappingInfo) columnNames() []string {
	cols := []string{ColumnID}
	if m.CoveredText != nil {
		cols = append(cols, m.CoveredText.Column)
	}
	if m.TypeIDColumn != "" {
		cols = append(cols, m.TypeIDColumn)
	}
	for _, b := range m.Bindings {
		cols = append(cols, b.Column)
	}
	return cols
}

// render produces the single-row insert with the flavor's placeholders.
func (r *Resolver) render(m *MappingInfo) string {
	ib := database.NewInsertBuilder(r.flavor)
	ib.InsertInto(m.Table)
	ib.QuotedCols(m.Columns...)
	ib.Values(make([]any, len(m.Columns))...)
	sql, _ := ib.Build()
	return sql
}

func (m *MappingInfo) String() string {
	if m.IsLink() {
		return fmt.Sprintf("%s -> %s (link %s)", m.TypeName, m.Table, m.Link.Label)
	}
	return fmt.Sprintf("%s -> %s %v", m.TypeName, m.Table, m.Columns)
}
