// Package store is the write-strategy layer between the import engine and a
// graph engine. An Adapter assigns entity ids, validates writes against the
// schema registry and applies them in one of three modes.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/graph"
	"github.com/dusk-indust/cohortgraph/internal/logger"
	"github.com/dusk-indust/cohortgraph/internal/schema"
	"github.com/dusk-indust/cohortgraph/internal/telemetry"
)

// Adapter is the storage capability every importer writes through.
type Adapter interface {
	Mode() Mode
	Registry() *schema.Registry

	// CreateEntity stores a new entity and returns its id. Direct mode
	// writes at once; the other modes queue the write until Flush.
	CreateEntity(ctx context.Context, etype string, attrs map[string]any) (string, error)
	// CreateRelation links two entities. Unknown ids fail with a Backend
	// fault, at call time except in Bulk mode where it happens at Flush.
	CreateRelation(ctx context.Context, from, rtype, to string, opts ...RelationOption) error

	// Query and Edges read flushed state only.
	Query(ctx context.Context, p graph.Pattern) ([]graph.Node, error)
	Edges(ctx context.Context, p graph.EdgePattern) ([]graph.Edge, error)
	Stats(ctx context.Context) (*graph.Stats, error)

	// Pending is the number of queued writes not yet flushed.
	Pending() int
	Flush(ctx context.Context) error
	// Commit flushes and makes everything written so far durable.
	Commit(ctx context.Context) error
	// Finish discards unflushed writes and releases the engine when the
	// adapter owns it. It must be called exactly once.
	Finish(ctx context.Context) error
}

// RelationOption tunes one CreateRelation call.
type RelationOption func(*relationOpts)

type relationOpts struct {
	fromType string
}

// FromType tells the adapter the entity type of the relation's source so it
// does not have to look it up.
func FromType(etype string) RelationOption {
	return func(o *relationOpts) { o.fromType = etype }
}

// Options configures New.
type Options struct {
	Mode   Mode
	Logger *logger.Logger
	// NewID generates entity ids. Defaults to random UUIDs.
	NewID func() string
}

// New wraps an engine the caller keeps ownership of: Finish does not close
// it.
func New(eng graph.Engine, reg *schema.Registry, opts Options) (Adapter, error) {
	b, err := newBase(eng, reg, opts)
	if err != nil {
		return nil, err
	}
	return b.variant()
}

func newBase(eng graph.Engine, reg *schema.Registry, opts Options) (*base, error) {
	if eng == nil {
		return nil, faults.New(faults.UnsupportedBackend, "no graph engine")
	}
	if reg == nil {
		reg = schema.Default()
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &base{
		mode:  opts.Mode,
		eng:   eng,
		reg:   reg,
		log:   logger.OrNop(opts.Logger).With("store_mode", opts.Mode.String()),
		newID: newID,
		types: make(map[string]string),
	}, nil
}

func (b *base) variant() (Adapter, error) {
	switch b.mode {
	case Direct:
		return &direct{b}, nil
	case Buffered:
		return &buffered{b}, nil
	case Bulk:
		return &bulk{b}, nil
	default:
		return nil, faults.New(faults.UnsupportedBackend, "unknown store mode %d", int(b.mode))
	}
}

// base holds the state shared by every mode.
type base struct {
	mode     Mode
	eng      graph.Engine
	reg      *schema.Registry
	log      *logger.Logger
	owned    bool
	finished bool
	newID    func() string
	// types maps every id this adapter created or read to its entity type.
	types   map[string]string
	pending graph.Batch
}

func (b *base) Mode() Mode                 { return b.mode }
func (b *base) Registry() *schema.Registry { return b.reg }
func (b *base) Pending() int               { return b.pending.Len() }

// ---------- Faults ----------

func backend(err error, format string, args ...any) *faults.Fault {
	return &faults.Fault{Kind: faults.Backend, Message: fmt.Sprintf(format, args...), Err: err}
}

func (b *base) fail(f *faults.Fault) error {
	telemetry.Faults.WithLabelValues(string(f.Kind)).Inc()
	b.log.Error("store fault", "kind", string(f.Kind), "error", f.Error())
	return f
}

func (b *base) live() error {
	if b.finished {
		return b.fail(backend(nil, "store used after finish"))
	}
	return nil
}

// ---------- Shared write helpers ----------

// node builds an engine node with a fresh id and its natural key.
func (b *base) node(etype string, attrs map[string]any) graph.Node {
	copied := make(map[string]any, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return graph.Node{
		ID:    b.newID(),
		Type:  etype,
		Key:   b.reg.KeyOf(etype, attrs),
		Attrs: copied,
	}
}

func (b *base) validateEntity(etype string, attrs map[string]any) error {
	if err := b.reg.ValidateEntity(etype, attrs); err != nil {
		return b.fail(backend(err, "rejected entity").With(faults.CtxEntityType, etype))
	}
	return nil
}

// typesOf resolves the entity type of every id, consulting the engine for
// ids this adapter has not seen. Ids unknown to the engine are returned in
// missing.
func (b *base) typesOf(ctx context.Context, ids ...string) (missing []string, err error) {
	var lookup []string
	for _, id := range ids {
		if _, ok := b.types[id]; !ok {
			lookup = append(lookup, id)
		}
	}
	if len(lookup) == 0 {
		return nil, nil
	}
	nodes, err := b.eng.GetNodes(ctx, lookup)
	if err != nil {
		return nil, b.fail(backend(err, "look up entity types"))
	}
	for _, n := range nodes {
		b.types[n.ID] = n.Type
	}
	for _, id := range lookup {
		if _, ok := b.types[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

// checkRelation verifies both endpoints exist and the relation may link
// their types. fromType, when set, is trusted for the source.
func (b *base) checkRelation(ctx context.Context, from, rtype, to, fromType string) error {
	if fromType != "" {
		if _, known := b.types[from]; !known {
			b.types[from] = fromType
		}
	}
	missing, err := b.typesOf(ctx, from, to)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return b.fail(backend(graph.ErrUnknownNode, "relation endpoint(s) %v", missing).With(faults.CtxRelation, rtype))
	}
	if err := b.reg.ValidateRelation(rtype, b.types[from], b.types[to]); err != nil {
		return b.fail(backend(err, "rejected relation").With(faults.CtxRelation, rtype))
	}
	return nil
}

// ---------- Reads ----------

// Query promotes a natural-key attribute of p into the indexed key field,
// then reads from the engine.
func (b *base) Query(ctx context.Context, p graph.Pattern) ([]graph.Node, error) {
	if err := b.live(); err != nil {
		return nil, err
	}
	if p.Type != "" && p.Key == "" {
		if decl, ok := b.reg.Entity(p.Type); ok && decl.Key != "" {
			if v, ok := p.Attrs[decl.Key]; ok && v != nil {
				p.Key = schema.KeyString(v)
			}
		}
	}
	nodes, err := b.eng.FindNodes(ctx, p)
	if err != nil {
		return nil, b.fail(backend(err, "query %s", p.Type))
	}
	for _, n := range nodes {
		b.types[n.ID] = n.Type
	}
	return nodes, nil
}

func (b *base) Edges(ctx context.Context, p graph.EdgePattern) ([]graph.Edge, error) {
	if err := b.live(); err != nil {
		return nil, err
	}
	edges, err := b.eng.FindEdges(ctx, p)
	if err != nil {
		return nil, b.fail(backend(err, "query edges"))
	}
	return edges, nil
}

func (b *base) Stats(ctx context.Context) (*graph.Stats, error) {
	if err := b.live(); err != nil {
		return nil, err
	}
	st, err := b.eng.Stats(ctx)
	if err != nil {
		return nil, b.fail(backend(err, "stats"))
	}
	return st, nil
}

// ---------- Flush / commit / finish ----------

// flushWith hands the pending batch to write and clears it. A failed batch
// is dropped: the engine rejected it and the run is expected to abort.
func (b *base) flushWith(ctx context.Context, write func(context.Context, graph.Batch) error) error {
	if err := b.live(); err != nil {
		return err
	}
	if b.pending.Len() == 0 {
		return nil
	}
	batch := b.pending
	b.pending = graph.Batch{}

	ctx, span := telemetry.Tracer().Start(ctx, "store.flush")
	defer span.End()
	start := time.Now()
	mode := b.mode.String()

	if err := write(ctx, batch); err != nil {
		span.RecordError(err)
		if errors.Is(err, graph.ErrUnknownNode) {
			return b.fail(backend(err, "flush: dangling relation"))
		}
		return b.fail(backend(err, "flush %d nodes, %d edges", len(batch.Nodes), len(batch.Edges)))
	}
	telemetry.Flushes.WithLabelValues(mode).Inc()
	telemetry.FlushedWrites.WithLabelValues(mode).Add(float64(batch.Len()))
	telemetry.FlushDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	b.log.Debug("flushed", "nodes", len(batch.Nodes), "edges", len(batch.Edges), "took", time.Since(start))
	return nil
}

func (b *base) commitWith(ctx context.Context, flush func(context.Context) error) error {
	if err := flush(ctx); err != nil {
		return err
	}
	if err := b.eng.Sync(ctx); err != nil {
		return b.fail(backend(err, "commit"))
	}
	return nil
}

func (b *base) Finish(_ context.Context) error {
	if b.finished {
		return b.fail(backend(nil, "store already finished"))
	}
	b.finished = true
	if n := b.pending.Len(); n > 0 {
		b.log.Warn("discarding unflushed writes", "nodes", len(b.pending.Nodes), "edges", len(b.pending.Edges))
		b.pending = graph.Batch{}
	}
	if b.owned {
		if err := b.eng.Close(); err != nil {
			return b.fail(backend(err, "close engine"))
		}
	}
	return nil
}
