// Package upsert implements the uniqueness-preserving write protocol on top
// of a store.Adapter: create-or-reuse for entities, check-then-write for
// relations, and the assessment and file-set sub-protocols built from them.
package upsert

import (
	"context"
	"fmt"

	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/graph"
	"github.com/dusk-indust/cohortgraph/internal/logger"
	"github.com/dusk-indust/cohortgraph/internal/schema"
	"github.com/dusk-indust/cohortgraph/internal/store"
	"github.com/dusk-indust/cohortgraph/internal/telemetry"
)

// Uniqueness is the predicate the resolver treats as unique for a type:
// one attribute and its value.
type Uniqueness struct {
	Attr  string
	Value any
}

func (u Uniqueness) String() string {
	return u.Attr + "=" + schema.KeyString(u.Value)
}

// Writer is the GraphWriter: a store adapter plus the per-run memo caches
// of the resolver and the linker. It is owned by one importer run and is not
// safe for concurrent use.
type Writer struct {
	store store.Adapter
	reg   *schema.Registry
	log   *logger.Logger

	resolved map[string]string   // type + predicate -> id
	types    map[string]string   // id -> entity type, for ids this writer touched
	linked   map[graph.Edge]bool // edges known to exist

	counts Counts
}

// Counts tallies what a writer did during its run.
type Counts struct {
	Created int `json:"created"`
	Reused  int `json:"reused"`
	Linked  int `json:"linked"`
	Skipped int `json:"skipped"`
}

// Sub returns c - o.
func (c Counts) Sub(o Counts) Counts {
	return Counts{
		Created: c.Created - o.Created,
		Reused:  c.Reused - o.Reused,
		Linked:  c.Linked - o.Linked,
		Skipped: c.Skipped - o.Skipped,
	}
}

// NewWriter wraps a store adapter.
func NewWriter(a store.Adapter, log *logger.Logger) *Writer {
	return &Writer{
		store:    a,
		reg:      a.Registry(),
		log:      logger.OrNop(log),
		resolved: make(map[string]string),
		types:    make(map[string]string),
		linked:   make(map[graph.Edge]bool),
	}
}

// Store returns the underlying adapter.
func (w *Writer) Store() store.Adapter { return w.store }

// Registry returns the schema the adapter validates against.
func (w *Writer) Registry() *schema.Registry { return w.reg }

// Counts returns the running totals.
func (w *Writer) Counts() Counts { return w.counts }

// Logger returns the writer's logger.
func (w *Writer) Logger() *logger.Logger { return w.log }

func memoKey(etype string, u Uniqueness) string {
	return etype + "\x00" + u.Attr + "\x00" + schema.KeyString(u.Value)
}

func (w *Writer) fail(f *faults.Fault) error {
	telemetry.Faults.WithLabelValues(string(f.Kind)).Inc()
	w.log.Error("upsert fault", "kind", string(f.Kind), "error", f.Error())
	return f
}

// Prime records an id known to satisfy u, so later resolutions skip the
// store query. Importers use it for indexes built in one pass.
func (w *Writer) Prime(etype string, u Uniqueness, id string) {
	w.resolved[memoKey(etype, u)] = id
	w.types[id] = etype
}

// ---------- UniqueEntityResolver ----------

// Find looks up the single entity of etype matching u. More than one match
// is a DataCorruption fault.
func (w *Writer) Find(ctx context.Context, etype string, u Uniqueness) (id string, found bool, err error) {
	key := memoKey(etype, u)
	if id, ok := w.resolved[key]; ok {
		return id, true, nil
	}
	rows, err := w.store.Query(ctx, graph.Pattern{
		Type:  etype,
		Attrs: map[string]any{u.Attr: u.Value},
		Limit: 2,
	})
	if err != nil {
		return "", false, err
	}
	switch len(rows) {
	case 0:
		return "", false, nil
	case 1:
		w.resolved[key] = rows[0].ID
		w.types[rows[0].ID] = etype
		return rows[0].ID, true, nil
	default:
		return "", false, w.fail(faults.New(faults.DataCorruption, "%s %s matches more than one entity", etype, u).
			With(faults.CtxEntityType, etype).
			With(faults.CtxIdentifier, schema.KeyString(u.Value)).
			With(faults.CtxMatches, len(rows)))
	}
}

// Resolve returns the entity of etype matching u, creating it from attrs
// when nothing matches. attrs always receives u's attribute.
func (w *Writer) Resolve(ctx context.Context, etype string, u Uniqueness, attrs map[string]any) (id string, created bool, err error) {
	id, found, err := w.Find(ctx, etype, u)
	if err != nil {
		return "", false, err
	}
	if found {
		w.counts.Reused++
		telemetry.EntitiesReused.WithLabelValues(etype).Inc()
		return id, false, nil
	}
	full := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		full[k] = v
	}
	full[u.Attr] = u.Value
	id, err = w.Create(ctx, etype, full)
	if err != nil {
		return "", false, err
	}
	w.resolved[memoKey(etype, u)] = id
	return id, true, nil
}

// ResolveByKey resolves on the natural key the registry declares for etype.
func (w *Writer) ResolveByKey(ctx context.Context, etype string, attrs map[string]any) (string, bool, error) {
	decl, ok := w.reg.Entity(etype)
	if !ok || decl.Key == "" {
		return "", false, w.fail(faults.New(faults.InvalidInput, "%s has no natural key", etype).
			With(faults.CtxEntityType, etype))
	}
	v, ok := attrs[decl.Key]
	if !ok || v == nil || schema.KeyString(v) == "" {
		return "", false, w.fail(faults.New(faults.InvalidInput, "%s record without %s", etype, decl.Key).
			With(faults.CtxEntityType, etype))
	}
	return w.Resolve(ctx, etype, Uniqueness{Attr: decl.Key, Value: v}, attrs)
}

// Create stores a new entity without any uniqueness check. Callers must
// guarantee uniqueness by construction.
func (w *Writer) Create(ctx context.Context, etype string, attrs map[string]any) (string, error) {
	id, err := w.store.CreateEntity(ctx, etype, attrs)
	if err != nil {
		return "", err
	}
	w.types[id] = etype
	w.counts.Created++
	telemetry.EntitiesCreated.WithLabelValues(etype).Inc()
	return id, nil
}

// ---------- UniqueRelationLinker ----------

// Link writes from -rtype-> to. With check set an existing edge is reused
// instead of duplicated; without it the edge is written unconditionally.
// Symmetric relations are written in both directions.
func (w *Writer) Link(ctx context.Context, from, rtype, to string, check bool) error {
	decl, ok := w.reg.Relation(rtype)
	if !ok {
		return w.fail(faults.New(faults.Backend, "unknown relation %q", rtype).With(faults.CtxRelation, rtype))
	}
	if err := w.link(ctx, graph.Edge{From: from, Type: rtype, To: to}, check); err != nil {
		return err
	}
	if decl.Symmetric && from != to {
		return w.link(ctx, graph.Edge{From: to, Type: rtype, To: from}, check)
	}
	return nil
}

func (w *Writer) link(ctx context.Context, e graph.Edge, check bool) error {
	if check {
		exists, err := w.edgeExists(ctx, e)
		if err != nil {
			return err
		}
		if exists {
			w.counts.Skipped++
			telemetry.RelationsSkipped.WithLabelValues(e.Type).Inc()
			return nil
		}
	}
	var opts []store.RelationOption
	if t, ok := w.types[e.From]; ok {
		opts = append(opts, store.FromType(t))
	}
	if err := w.store.CreateRelation(ctx, e.From, e.Type, e.To, opts...); err != nil {
		return err
	}
	w.linked[e] = true
	w.counts.Linked++
	telemetry.RelationsWritten.WithLabelValues(e.Type).Inc()
	return nil
}

func (w *Writer) edgeExists(ctx context.Context, e graph.Edge) (bool, error) {
	if w.linked[e] {
		return true, nil
	}
	found, err := w.store.Edges(ctx, graph.EdgePattern{From: e.From, Type: e.Type, To: e.To})
	if err != nil {
		return false, err
	}
	if len(found) > 0 {
		w.linked[e] = true
		return true, nil
	}
	return false, nil
}

// ---------- Batching ----------

// Flush hands queued writes to the engine.
func (w *Writer) Flush(ctx context.Context) error { return w.store.Flush(ctx) }

// Commit flushes and makes the run's writes durable.
func (w *Writer) Commit(ctx context.Context) error { return w.store.Commit(ctx) }

// FlushIfOver flushes once more than limit writes are pending. A limit of
// zero or less never flushes.
func (w *Writer) FlushIfOver(ctx context.Context, limit int) error {
	if limit <= 0 || w.store.Pending() < limit {
		return nil
	}
	w.log.Debug("batch limit reached", "pending", w.store.Pending(), "limit", limit)
	if err := w.store.Flush(ctx); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}
	return nil
}
