package source

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/cohortgraph/internal/config"
	"github.com/dusk-indust/cohortgraph/internal/importers"
)

// Documents holds every decoded input of a run. A nil field means the input
// was not configured.
type Documents struct {
	Groups         importers.GroupsInput
	Users          importers.UsersInput
	Subjects       importers.SubjectsInput
	Scans          importers.ScansInput
	Questionnaires importers.QuestionnairesInput
	Genetics       importers.GeneticsInput
	Processings    importers.ProcessingsInput
	MetaGen        *importers.MetaGenInput
}

// LoadAll fetches and decodes the configured inputs in parallel. The first
// failure cancels the remaining fetches.
func LoadAll(ctx context.Context, l *Loader, in config.Inputs) (*Documents, error) {
	docs := &Documents{}
	g, gctx := errgroup.WithContext(ctx)

	load := func(ref string, decode func(context.Context, string) error) {
		if ref == "" {
			return
		}
		g.Go(func() error { return decode(gctx, ref) })
	}
	load(in.Groups, func(ctx context.Context, ref string) (err error) {
		docs.Groups, err = Decode[importers.GroupsInput](ctx, l, ref)
		return err
	})
	load(in.Users, func(ctx context.Context, ref string) (err error) {
		docs.Users, err = Decode[importers.UsersInput](ctx, l, ref)
		return err
	})
	load(in.Subjects, func(ctx context.Context, ref string) (err error) {
		docs.Subjects, err = Decode[importers.SubjectsInput](ctx, l, ref)
		return err
	})
	load(in.Scans, func(ctx context.Context, ref string) (err error) {
		docs.Scans, err = Decode[importers.ScansInput](ctx, l, ref)
		return err
	})
	load(in.Questionnaires, func(ctx context.Context, ref string) (err error) {
		docs.Questionnaires, err = Decode[importers.QuestionnairesInput](ctx, l, ref)
		return err
	})
	load(in.Genetics, func(ctx context.Context, ref string) (err error) {
		docs.Genetics, err = Decode[importers.GeneticsInput](ctx, l, ref)
		return err
	})
	load(in.Processings, func(ctx context.Context, ref string) (err error) {
		docs.Processings, err = Decode[importers.ProcessingsInput](ctx, l, ref)
		return err
	})
	load(in.MetaGen, func(ctx context.Context, ref string) error {
		v, err := Decode[importers.MetaGenInput](ctx, l, ref)
		if err != nil {
			return err
		}
		docs.MetaGen = &v
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}
