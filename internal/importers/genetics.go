package importers

import (
	"context"

	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/graph"
	"github.com/dusk-indust/cohortgraph/internal/schema"
	"github.com/dusk-indust/cohortgraph/internal/upsert"
)

// Genetics imports genomic measures. Input is keyed by timepoint; the
// subjects of each measure are named by its platform's relatedSubjects.
// Platform to SNP links are written only when the platform is created, and
// pending writes are flushed every BatchSize.
func Genetics(ctx context.Context, w *upsert.Writer, in GeneticsInput, opts Options) (*Report, error) {
	s := newSession(NameGenetics, w, opts)
	timepoints := sortedKeys(in)
	total := 0
	var subjects []string
	for _, eps := range in {
		for _, ep := range eps {
			total += len(ep.GenomicMeasures)
			for _, m := range ep.GenomicMeasures {
				subjects = append(subjects, m.GenomicPlatform.RelatedSubjects...)
			}
		}
	}
	return s.run(ctx, total, func(ctx context.Context, c *counter) error {
		for _, tp := range timepoints {
			for _, ep := range in[tp] {
				if ep.Assessment.str("identifier") == "" {
					return s.fail(faults.New(faults.InvalidInput, "genetics episode at %q without assessment identifier", tp))
				}
			}
		}
		if err := s.prepare(ctx, dedupe(subjects)); err != nil {
			return err
		}
		if err := s.loadSnps(ctx); err != nil {
			return err
		}
		for _, tp := range timepoints {
			for _, ep := range in[tp] {
				if err := s.geneticsEpisode(ctx, tp, ep, c); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// loadSnps primes the writer with every SNP already stored, so platforms
// resolve their SNPs without one query each.
func (s *session) loadSnps(ctx context.Context) error {
	nodes, err := s.w.Store().Query(ctx, graph.Pattern{Type: "Snp"})
	if err != nil {
		return err
	}
	for _, n := range nodes {
		s.w.Prime("Snp", upsert.Uniqueness{Attr: "rsId", Value: n.Key}, n.ID)
	}
	s.log.Debug("snp index loaded", "count", len(nodes))
	return nil
}

func (s *session) geneticsEpisode(ctx context.Context, timepoint string, ep GeneticsEpisode, c *counter) error {
	var subjects []string
	for _, m := range ep.GenomicMeasures {
		subjects = append(subjects, m.GenomicPlatform.RelatedSubjects...)
	}
	subjects = dedupe(subjects)

	attrs := Attrs(ep.Assessment.clone())
	if _, ok := attrs["timepoint"]; !ok {
		attrs["timepoint"] = timepoint
	}
	assessment, _, err := s.assessment(ctx, attrs, "", subjects...)
	if err != nil {
		return err
	}

	for _, m := range ep.GenomicMeasures {
		platform, err := s.platform(ctx, m.GenomicPlatform)
		if err != nil {
			return err
		}
		gm, created, err := s.w.ResolveByKey(ctx, "GenomicMeasure", m.GenomicMeasure.clone())
		if err != nil {
			return err
		}
		if created {
			if err := s.episodeLinks(ctx, gm, assessment, dedupe(m.GenomicPlatform.RelatedSubjects)...); err != nil {
				return err
			}
			if platform != "" {
				if err := s.w.Link(ctx, gm, schema.RelPlatform, platform, false); err != nil {
					return err
				}
			}
			if err := s.attachFiles(ctx, m.FileSet, m.ExternalResources, gm, assessment); err != nil {
				return err
			}
		}
		if err := s.w.FlushIfOver(ctx, s.opts.BatchSize); err != nil {
			return err
		}
		c.step()
	}
	return nil
}

// platform resolves a genomic platform; a new one is linked to its SNPs,
// which are shared across platforms.
func (s *session) platform(ctx context.Context, p PlatformRecord) (string, error) {
	if p.Name == "" {
		return "", nil
	}
	id, created, err := s.w.ResolveByKey(ctx, "GenomicPlatform", map[string]any{"name": p.Name})
	if err != nil || !created {
		return id, err
	}
	for _, rs := range dedupe(p.RelatedSnps) {
		snp, _, err := s.w.ResolveByKey(ctx, "Snp", map[string]any{"rsId": rs})
		if err != nil {
			return "", err
		}
		if err := s.w.Link(ctx, id, schema.RelRelatedSnps, snp, false); err != nil {
			return "", err
		}
		if err := s.w.FlushIfOver(ctx, s.opts.BatchSize); err != nil {
			return "", err
		}
	}
	return id, nil
}
