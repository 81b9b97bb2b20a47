package store

import (
	"context"

	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/graph"
)

// Compile-time assertions: every mode satisfies Adapter.
var (
	_ Adapter = (*direct)(nil)
	_ Adapter = (*buffered)(nil)
	_ Adapter = (*bulk)(nil)
)

func relationOptions(opts []RelationOption) relationOpts {
	var o relationOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// ---------- Direct ----------

// direct applies one engine batch per call.
type direct struct{ *base }

func (a *direct) CreateEntity(ctx context.Context, etype string, attrs map[string]any) (string, error) {
	if err := a.live(); err != nil {
		return "", err
	}
	if err := a.validateEntity(etype, attrs); err != nil {
		return "", err
	}
	n := a.node(etype, attrs)
	if err := a.eng.Apply(ctx, graph.Batch{Nodes: []graph.Node{n}}); err != nil {
		return "", a.fail(backend(err, "create entity").With(faults.CtxEntityType, etype))
	}
	a.types[n.ID] = etype
	return n.ID, nil
}

func (a *direct) CreateRelation(ctx context.Context, from, rtype, to string, opts ...RelationOption) error {
	if err := a.live(); err != nil {
		return err
	}
	if err := a.checkRelation(ctx, from, rtype, to, relationOptions(opts).fromType); err != nil {
		return err
	}
	e := graph.Edge{From: from, Type: rtype, To: to}
	if err := a.eng.Apply(ctx, graph.Batch{Edges: []graph.Edge{e}}); err != nil {
		return a.fail(backend(err, "create relation").With(faults.CtxRelation, rtype))
	}
	return nil
}

// Flush is a no-op: nothing is ever pending.
func (a *direct) Flush(_ context.Context) error { return a.live() }

func (a *direct) Commit(ctx context.Context) error { return a.commitWith(ctx, a.Flush) }

// ---------- Buffered ----------

// buffered validates at call time and applies the pending batch atomically
// on Flush.
type buffered struct{ *base }

func (a *buffered) CreateEntity(_ context.Context, etype string, attrs map[string]any) (string, error) {
	if err := a.live(); err != nil {
		return "", err
	}
	if err := a.validateEntity(etype, attrs); err != nil {
		return "", err
	}
	n := a.node(etype, attrs)
	a.pending.Nodes = append(a.pending.Nodes, n)
	a.types[n.ID] = etype
	return n.ID, nil
}

func (a *buffered) CreateRelation(ctx context.Context, from, rtype, to string, opts ...RelationOption) error {
	if err := a.live(); err != nil {
		return err
	}
	if err := a.checkRelation(ctx, from, rtype, to, relationOptions(opts).fromType); err != nil {
		return err
	}
	a.pending.Edges = append(a.pending.Edges, graph.Edge{From: from, Type: rtype, To: to})
	return nil
}

func (a *buffered) Flush(ctx context.Context) error { return a.flushWith(ctx, a.eng.Apply) }

func (a *buffered) Commit(ctx context.Context) error { return a.commitWith(ctx, a.Flush) }

// ---------- Bulk ----------

// bulk queues writes without any check and validates the whole batch once,
// right before handing it to the engine's bulk loader.
type bulk struct{ *base }

func (a *bulk) CreateEntity(_ context.Context, etype string, attrs map[string]any) (string, error) {
	if err := a.live(); err != nil {
		return "", err
	}
	n := a.node(etype, attrs)
	a.pending.Nodes = append(a.pending.Nodes, n)
	return n.ID, nil
}

func (a *bulk) CreateRelation(_ context.Context, from, rtype, to string, opts ...RelationOption) error {
	if err := a.live(); err != nil {
		return err
	}
	if t := relationOptions(opts).fromType; t != "" {
		if _, known := a.types[from]; !known {
			a.types[from] = t
		}
	}
	a.pending.Edges = append(a.pending.Edges, graph.Edge{From: from, Type: rtype, To: to})
	return nil
}

func (a *bulk) Flush(ctx context.Context) error {
	if err := a.live(); err != nil {
		return err
	}
	if err := a.validatePending(ctx); err != nil {
		a.pending = graph.Batch{}
		return err
	}
	return a.flushWith(ctx, a.eng.Load)
}

func (a *bulk) Commit(ctx context.Context) error { return a.commitWith(ctx, a.Flush) }

// validatePending runs the checks the other modes make at call time.
func (a *bulk) validatePending(ctx context.Context) error {
	for _, n := range a.pending.Nodes {
		if err := a.validateEntity(n.Type, n.Attrs); err != nil {
			return err
		}
		a.types[n.ID] = n.Type
	}
	for _, e := range a.pending.Edges {
		if err := a.checkRelation(ctx, e.From, e.Type, e.To, ""); err != nil {
			return err
		}
	}
	return nil
}
