package importers

import (
	"context"

	"github.com/dusk-indust/cohortgraph/internal/schema"
	"github.com/dusk-indust/cohortgraph/internal/upsert"
)

// MetaGen imports reference genomics: chromosomes, genes, SNPs and
// platforms. Everything is resolved by natural key, and pending writes are
// flushed every BatchSize rows.
func MetaGen(ctx context.Context, w *upsert.Writer, in MetaGenInput, opts Options) (*Report, error) {
	s := newSession(NameMetaGen, w, opts)
	total := len(in.Chromosomes) + len(in.Genes) + len(in.Snps) + len(in.Platforms)
	return s.run(ctx, total, func(ctx context.Context, c *counter) error {
		if err := s.loadSnps(ctx); err != nil {
			return err
		}
		step := func() error {
			c.step()
			return w.FlushIfOver(ctx, s.opts.BatchSize)
		}

		for _, chr := range in.Chromosomes {
			if _, _, err := w.ResolveByKey(ctx, "Chromosome", chr.clone()); err != nil {
				return err
			}
			if err := step(); err != nil {
				return err
			}
		}
		for _, g := range in.Genes {
			gene, created, err := w.ResolveByKey(ctx, "Gene", g.Gene.clone())
			if err != nil {
				return err
			}
			if err := s.linkChromosome(ctx, gene, schema.RelGeneChromosome, g.Chromosome, created); err != nil {
				return err
			}
			if err := step(); err != nil {
				return err
			}
		}
		for _, sn := range in.Snps {
			snp, created, err := w.ResolveByKey(ctx, "Snp", sn.Snp.clone())
			if err != nil {
				return err
			}
			if err := s.linkChromosome(ctx, snp, schema.RelSnpChromosome, sn.Chromosome, created); err != nil {
				return err
			}
			for _, name := range dedupe(sn.Genes) {
				gene, _, err := w.ResolveByKey(ctx, "Gene", map[string]any{"name": name})
				if err != nil {
					return err
				}
				if err := w.Link(ctx, snp, schema.RelSnpGenes, gene, !created); err != nil {
					return err
				}
			}
			if err := step(); err != nil {
				return err
			}
		}
		for _, p := range in.Platforms {
			platform, created, err := w.ResolveByKey(ctx, "GenomicPlatform", map[string]any{"name": p.Name})
			if err != nil {
				return err
			}
			for _, rs := range dedupe(p.RelatedSnps) {
				snp, _, err := w.ResolveByKey(ctx, "Snp", map[string]any{"rsId": rs})
				if err != nil {
					return err
				}
				if err := w.Link(ctx, platform, schema.RelRelatedSnps, snp, !created); err != nil {
					return err
				}
				if err := w.FlushIfOver(ctx, s.opts.BatchSize); err != nil {
					return err
				}
			}
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	})
}

// linkChromosome links entity to the named chromosome, creating the
// chromosome when needed. fresh marks a newly created entity, whose links
// are unique by construction.
func (s *session) linkChromosome(ctx context.Context, entity, rel, name string, fresh bool) error {
	if name == "" {
		return nil
	}
	chr, _, err := s.w.ResolveByKey(ctx, "Chromosome", map[string]any{"name": name})
	if err != nil {
		return err
	}
	return s.w.Link(ctx, entity, rel, chr, !fresh)
}
