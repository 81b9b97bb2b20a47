package store

import (
	"context"
	"errors"

	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/graph"
	"github.com/dusk-indust/cohortgraph/internal/schema"
)

// Open validates the engine/mode combination, opens the engine and returns
// an adapter that owns it: Finish closes the engine.
func Open(ctx context.Context, engine graph.Options, reg *schema.Registry, opts Options) (Adapter, error) {
	if opts.Mode < Direct || opts.Mode > Bulk {
		return nil, faults.New(faults.UnsupportedBackend, "unknown store mode %d", int(opts.Mode))
	}
	if !graph.Available(engine.Kind) {
		return nil, faults.New(faults.UnsupportedBackend, "engine %q is not available in this build", engine.Kind)
	}
	eng, err := graph.Open(ctx, engine)
	if err != nil {
		if errors.Is(err, graph.ErrUnsupported) {
			return nil, faults.Wrap(err, faults.UnsupportedBackend, "open engine %s", engine.Kind)
		}
		return nil, faults.Wrap(err, faults.Backend, "open engine %s", engine.Kind)
	}
	b, err := newBase(eng, reg, opts)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	b.owned = true
	return b.variant()
}
