package importers

import (
	"context"

	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/graph"
	"github.com/dusk-indust/cohortgraph/internal/schema"
	"github.com/dusk-indust/cohortgraph/internal/upsert"
)

// Processings imports processing runs. Each input string is an entity
// pattern (graph.ParsePattern); every entity it matches is linked as an
// input of the run. A pattern matching nothing is logged and skipped.
func Processings(ctx context.Context, w *upsert.Writer, in ProcessingsInput, opts Options) (*Report, error) {
	s := newSession(NameProcessings, w, opts)
	keys := sortedKeys(in)
	total := 0
	patterns := make(map[string]graph.Pattern)
	for _, eps := range in {
		for _, ep := range eps {
			total += len(ep.Processings)
		}
	}
	return s.run(ctx, total, func(ctx context.Context, c *counter) error {
		for _, key := range keys {
			for _, ep := range in[key] {
				if ep.Assessment.str("identifier") == "" {
					return s.fail(faults.New(faults.InvalidInput, "processing episode of %q without assessment identifier", key).
						With(faults.CtxSubject, key))
				}
				for _, p := range ep.Processings {
					for _, q := range p.Inputs {
						if _, done := patterns[q]; done {
							continue
						}
						pat, err := graph.ParsePattern(q)
						if err != nil {
							return s.fail(&faults.Fault{Kind: faults.InvalidInput, Message: "processing input " + q, Err: err})
						}
						patterns[q] = pat
					}
				}
			}
		}
		if err := s.prepare(ctx, keys); err != nil {
			return err
		}
		for _, key := range keys {
			for _, ep := range in[key] {
				assessment, _, err := s.assessment(ctx, ep.Assessment, "", key)
				if err != nil {
					return err
				}
				for _, p := range ep.Processings {
					if err := s.processing(ctx, key, assessment, p, patterns); err != nil {
						return err
					}
					c.step()
				}
			}
		}
		return nil
	})
}

func (s *session) processing(ctx context.Context, subject, assessment string, p ProcessingRecord, patterns map[string]graph.Pattern) error {
	run, created, err := s.w.ResolveByKey(ctx, "ProcessingRun", p.ProcessingRun.clone())
	if err != nil {
		return err
	}
	if !created {
		s.log.Debug("processing run already imported", "identifier", p.ProcessingRun.str("identifier"))
		return nil
	}
	if err := s.episodeLinks(ctx, run, assessment, subject); err != nil {
		return err
	}

	for _, q := range p.Inputs {
		matches, err := s.w.Store().Query(ctx, patterns[q])
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			s.warn("processing input matches nothing", "run", p.ProcessingRun.str("identifier"), "input", q)
			continue
		}
		for _, m := range matches {
			if err := s.w.Link(ctx, run, schema.RelInputs, m.ID, true); err != nil {
				return err
			}
		}
	}

	for i, fs := range p.FileSets {
		var files []Attrs
		if i < len(p.ExternalResources) {
			files = p.ExternalResources[i]
		}
		if err := s.attachFiles(ctx, fs, files, run, assessment); err != nil {
			return err
		}
	}
	return s.attachScores(ctx, run, assessment, p.Scores)
}
