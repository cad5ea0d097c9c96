// Package persist writes one annotated document graph into the relational
// schema per call, all-or-nothing.
package persist

import (
	"context"
	"sort"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/fern/internal/repositories/annobase"
	"github.com/Ramsey-B/fern/internal/repositories/annolink"
	"github.com/Ramsey-B/fern/internal/repositories/document"
	"github.com/Ramsey-B/fern/pkg/batch"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/registry"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// BatchLabelLayout formats the default analysis batch label.
const BatchLabelLayout = "2006-01-02 15:04"

const defaultInstanceKeySize = 256

type SaveOptions struct {
	AnalysisBatch          string   `json:"analysis_batch"`
	StoreText              bool     `json:"store_text"`
	StoreSnapshot          bool     `json:"store_snapshot"`
	InsertContainmentLinks bool     `json:"insert_containment_links"`
	IgnoreTypes            []string `json:"ignore_types"`
}

// Writer saves documents. It is safe for concurrent use; each Save runs in
// its own transaction.
type Writer struct {
	db        database.DB
	resolver  *mapping.Resolver
	registry  *registry.Registry
	types     *graph.TypeSystem
	executor  *batch.Executor
	documents *document.Repository
	bases     *annobase.Repository
	links     *annolink.Repository
	logger    ectologger.Logger

	docColumns      []schema.Column
	keyColumns      []schema.Column
	batchLabelSize  int
	instanceKeySize int
	linkLabelSize   int
}

// NewWriter discovers the document and link table columns once. Failing to
// read them is fatal.
func NewWriter(ctx context.Context, db database.DB, resolver *mapping.Resolver, reg *registry.Registry, types *graph.TypeSystem, executor *batch.Executor, logger ectologger.Logger) (*Writer, error) {
	inspector := schema.NewInspector(db.DriverName())

	docColumns, err := inspector.Columns(ctx, db, document.TableName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to inspect the document table")
	}
	if len(docColumns) == 0 {
		return nil, errors.Errorf("table %s does not exist", document.TableName)
	}
	linkColumns, err := inspector.Columns(ctx, db, annolink.TableName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to inspect the link table")
	}

	w := &Writer{
		db:              db,
		resolver:        resolver,
		registry:        reg,
		types:           types,
		executor:        executor,
		documents:       document.NewRepository(db, logger),
		bases:           annobase.NewRepository(db, executor, logger),
		links:           annolink.NewRepository(db, executor, logger),
		logger:          logger,
		docColumns:      docColumns,
		keyColumns:      keyColumns(docColumns),
		instanceKeySize: defaultInstanceKeySize,
	}
	if c, ok := schema.Find(docColumns, document.ColumnAnalysisBatch); ok {
		w.batchLabelSize = c.Size
	}
	if c, ok := schema.Find(docColumns, document.ColumnInstanceKey); ok && c.Size > 0 {
		w.instanceKeySize = c.Size
	}
	if c, ok := schema.Find(linkColumns, "label"); ok {
		w.linkLabelSize = c.Size
	}

	names := ectolinq.Map(w.keyColumns, func(c schema.Column) string { return c.Name })
	logger.WithContext(ctx).WithField("columns", names).Info("discovered document key columns")
	return w, nil
}

type nestedRow struct {
	parent int64
	ref    graph.Ref
}

// save is the state of one Save call.
type save struct {
	w          *Writer
	doc        *graph.Document
	opts       SaveOptions
	ignore     map[string]bool
	documentID int64
	ids        *IDMap
	nested     map[string][]nestedRow
	queued     map[nestedRow]bool
	edges      []annolink.Edge
}

// Save persists doc and returns the generated document id. Any failure rolls
// the whole document back and is returned as a *PersistError.
func (w *Writer) Save(ctx context.Context, doc *graph.Document, opts SaveOptions) (documentID int64, err error) {
	ctx, span := tracing.StartSpan(ctx, "Writer.Save", attribute.Int("records", len(doc.Records)))
	defer span.End()
	started := time.Now()

	ctx, tx, err := database.GetTx(ctx, w.logger, w.db, nil)
	if err != nil {
		return 0, tracing.RecordError(span, newError(PhaseBegin, "", err))
	}

	s := &save{
		w:      w,
		doc:    doc,
		opts:   opts,
		ignore: make(map[string]bool, len(opts.IgnoreTypes)),
		ids:    NewIDMap(len(doc.Records)),
		nested: map[string][]nestedRow{},
		queued: map[nestedRow]bool{},
	}
	for _, t := range opts.IgnoreTypes {
		s.ignore[t] = true
	}

	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				w.logger.WithContext(ctx).WithError(rbErr).Error("failed to roll back document")
			}
			tracing.RecordError(span, err)
			w.logger.WithContext(ctx).WithError(err).Error("failed to save document")
		}
		metrics.DocumentsSaved.WithLabelValues(status).Inc()
		metrics.SaveDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	}()

	phases := []struct {
		phase Phase
		run   func(context.Context) error
	}{
		{PhaseDocument, s.createDocument},
		{PhaseBaseRows, s.persistBaseRows},
		{PhaseContainment, s.linkContainment},
		{PhaseAttributes, s.persistAttributes},
		{PhaseNested, s.persistNested},
		{PhaseEdges, s.persistEdges},
		{PhaseDocumentKey, s.applyDocumentKey},
	}
	for _, p := range phases {
		if err := w.runPhase(ctx, p.phase, p.run); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, newError(PhaseCommit, "", err)
	}

	w.logger.WithContext(ctx).WithFields(map[string]any{
		"document_id": s.documentID,
		"base_rows":   s.ids.Len(),
		"edges":       len(s.edges),
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("saved document")
	return s.documentID, nil
}

func (w *Writer) runPhase(ctx context.Context, phase Phase, run func(context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "Writer."+string(phase))
	defer span.End()
	started := time.Now()

	err := run(ctx)
	metrics.PhaseDuration.WithLabelValues(string(phase)).Observe(time.Since(started).Seconds())
	if err == nil {
		return nil
	}
	var pe *PersistError
	if !errors.As(err, &pe) {
		pe = newError(phase, "", err)
	}
	return tracing.RecordError(span, pe)
}

func (s *save) querier(ctx context.Context) database.Querier {
	return database.From(ctx, s.w.db)
}

func (s *save) hasDocColumn(name string) bool {
	_, ok := schema.Find(s.w.docColumns, name)
	return ok
}

func (s *save) createDocument(ctx context.Context) error {
	label := s.opts.AnalysisBatch
	if label == "" {
		label = time.Now().Format(BatchLabelLayout)
	}
	row := document.Document{AnalysisBatch: graph.Truncate(label, s.w.batchLabelSize)}

	if s.opts.StoreText && s.hasDocColumn(document.ColumnText) {
		text := s.doc.Text
		row.Text = &text
	}
	if s.opts.StoreSnapshot && s.hasDocColumn(document.ColumnSnapshot) {
		data, err := graph.Snapshot(s.w.types, s.doc)
		if err != nil {
			s.w.logger.WithContext(ctx).WithError(err).Error("failed to serialize graph snapshot, saving without it")
		} else {
			row.Snapshot = data
		}
	}
	if key := instanceKey(s.w.types, s.doc); key != "" && s.hasDocColumn(document.ColumnInstanceKey) {
		key = graph.Truncate(key, s.w.instanceKeySize)
		row.InstanceKey = &key
	}

	id, err := s.w.documents.Create(ctx, row)
	if err != nil {
		return err
	}
	s.documentID = id
	metrics.RowsWritten.WithLabelValues(document.TableName).Inc()
	return nil
}

// persistBaseRows identifies every span-bearing record of a registered,
// non-ignored type.
func (s *save) persistBaseRows(ctx context.Context) error {
	var (
		refs []graph.Ref
		rows []annobase.Row
	)
	for i := range s.doc.Records {
		rec := &s.doc.Records[i]
		if !rec.HasSpan() || s.ignore[rec.Type] {
			continue
		}
		info, ok := s.w.registry.Lookup(rec.Type)
		if !ok {
			continue
		}
		refs = append(refs, graph.Ref(i))
		rows = append(rows, annobase.Row{
			DocumentID: s.documentID,
			Begin:      rec.Span.Begin,
			End:        rec.Span.End,
			TypeID:     info.ID,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	ids, err := s.w.bases.Insert(ctx, rows)
	if err != nil {
		return err
	}
	s.ids.Zip(refs, ids)
	metrics.RowsWritten.WithLabelValues(annobase.TableName).Add(float64(len(ids)))
	return nil
}

func (s *save) linkContainment(ctx context.Context) error {
	if !s.opts.InsertContainmentLinks || s.ids.Len() == 0 {
		return nil
	}
	n, err := s.w.bases.LinkContainment(ctx, s.documentID)
	if err != nil {
		return err
	}
	metrics.RowsWritten.WithLabelValues(annolink.TableName).Add(float64(n))
	return nil
}

// persistAttributes writes one attribute row per identified record of each
// mapped type, in type name order, and collects nested records and edges.
func (s *save) persistAttributes(ctx context.Context) error {
	byType := map[string][]graph.Ref{}
	for _, ref := range s.ids.Refs() {
		t := s.doc.Records[ref].Type
		byType[t] = append(byType[t], ref)
	}

	for _, name := range sortedKeys(byType) {
		info, err := s.w.resolver.Resolve(ctx, s.querier(ctx), name)
		if err != nil {
			return newError(PhaseAttributes, name, err)
		}
		if info == nil || info.IsLink() {
			continue
		}

		refs := byType[name]
		_, err = batch.Write(ctx, s.w.executor, s.querier(ctx), statementFor(info), refs, func(ref graph.Ref) ([]any, error) {
			id, _ := s.ids.Lookup(ref)
			return info.Row(s.doc, s.w.types, ref, id, s.ids)
		})
		if err != nil {
			return newError(PhaseAttributes, name, err)
		}
		metrics.RowsWritten.WithLabelValues(info.Table).Add(float64(len(refs)))

		desc, ok := s.w.types.Lookup(name)
		if !ok {
			continue
		}
		for _, ref := range refs {
			id, _ := s.ids.Lookup(ref)
			s.collect(desc, ref, id)
		}
	}
	return nil
}

// collect queues non-span records reachable from ref for their own rows and
// turns collection elements that already have ids into edges.
func (s *save) collect(desc *graph.TypeDescriptor, ref graph.Ref, parent int64) {
	for _, f := range desc.Fields {
		v := s.doc.Get(ref, f)
		switch f.Kind {
		case graph.KindReference:
			if target, ok := v.Ref(); ok {
				s.queueNested(parent, target)
			}
		case graph.KindCollection:
			if f.PrimitiveElements() {
				continue
			}
			items, _ := v.List()
			for _, item := range items {
				target, ok := item.Ref()
				if !ok {
					continue
				}
				if child, ok := s.ids.Lookup(target); ok {
					s.addEdge(parent, child, f.Name)
					continue
				}
				s.queueNested(parent, target)
			}
		}
	}
}

func (s *save) queueNested(parent int64, target graph.Ref) {
	rec := s.doc.Record(target)
	if rec == nil || rec.HasSpan() || s.ignore[rec.Type] || s.w.resolver.IsLinkType(rec.Type) {
		return
	}
	key := nestedRow{parent: parent, ref: target}
	if s.queued[key] {
		return
	}
	s.queued[key] = true
	s.nested[rec.Type] = append(s.nested[rec.Type], key)
}

func (s *save) addEdge(parent, child int64, label string) {
	s.edges = append(s.edges, annolink.Edge{
		Parent: parent,
		Child:  child,
		Label:  graph.Truncate(label, s.w.linkLabelSize),
	})
}

// persistNested writes the records queued by persistAttributes, keyed by the
// id of the record that referenced them. Their own references are not
// followed further.
func (s *save) persistNested(ctx context.Context) error {
	for _, name := range sortedKeys(s.nested) {
		info, err := s.w.resolver.Resolve(ctx, s.querier(ctx), name)
		if err != nil {
			return newError(PhaseNested, name, err)
		}
		if info == nil || info.IsLink() {
			continue
		}

		rows := s.nested[name]
		_, err = batch.Write(ctx, s.w.executor, s.querier(ctx), statementFor(info), rows, func(n nestedRow) ([]any, error) {
			return info.Row(s.doc, s.w.types, n.ref, n.parent, s.ids)
		})
		if err != nil {
			return newError(PhaseNested, name, err)
		}
		metrics.RowsWritten.WithLabelValues(info.Table).Add(float64(len(rows)))
	}
	return nil
}

// persistEdges adds the edges of link mapped records to the collected ones
// and writes them all.
func (s *save) persistEdges(ctx context.Context) error {
	for i := range s.doc.Records {
		name := s.doc.Records[i].Type
		if s.ignore[name] || !s.w.resolver.IsLinkType(name) {
			continue
		}
		info, err := s.w.resolver.Resolve(ctx, s.querier(ctx), name)
		if err != nil {
			return newError(PhaseEdges, name, err)
		}
		if info == nil || !info.IsLink() {
			continue
		}
		parents, children, err := info.Link.Endpoints(s.doc, s.w.types, graph.Ref(i))
		if err != nil {
			return newError(PhaseEdges, name, err)
		}
		for _, p := range parents {
			pid, ok := s.ids.Lookup(p)
			if !ok {
				continue
			}
			for _, c := range children {
				if cid, ok := s.ids.Lookup(c); ok {
					s.addEdge(pid, cid, info.Link.Label)
				}
			}
		}
	}

	if len(s.edges) == 0 {
		return nil
	}
	n, err := s.w.links.Insert(ctx, s.edges)
	if err != nil {
		return err
	}
	metrics.RowsWritten.WithLabelValues(annolink.TableName).Add(float64(n))
	return nil
}

func statementFor(info *mapping.MappingInfo) batch.Statement {
	return batch.Statement{Table: info.Table, Columns: info.Columns}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
