package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dusk-indust/cohortgraph/internal/graph"
	"github.com/dusk-indust/cohortgraph/internal/importers"
	"github.com/dusk-indust/cohortgraph/internal/logger"
	"github.com/dusk-indust/cohortgraph/internal/schema"
	"github.com/dusk-indust/cohortgraph/internal/source"
	"github.com/dusk-indust/cohortgraph/internal/store"
	"github.com/dusk-indust/cohortgraph/internal/telemetry"
	"github.com/dusk-indust/cohortgraph/internal/upsert"
)

// Compile-time interface check.
var _ Orchestrator = (*Pipeline)(nil)

// Config configures a Pipeline.
type Config struct {
	// Mode is the store mode every stage's adapter is created with.
	Mode     store.Mode
	Registry *schema.Registry
	Options  importers.Options
	// Only restricts the run to these stages. Empty runs every stage that
	// has a document.
	Only   []Stage
	Logger *logger.Logger
}

// Pipeline runs importer stages against one engine. Each stage gets its own
// adapter and writer, finished when the stage ends whatever its outcome.
type Pipeline struct {
	eng      graph.Engine
	cfg      Config
	log      *logger.Logger
	progress *ProgressReporter
}

// New creates a Pipeline over eng. The caller keeps ownership of eng.
func New(eng graph.Engine, cfg Config) *Pipeline {
	if cfg.Registry == nil {
		cfg.Registry = schema.Default()
	}
	return &Pipeline{
		eng:      eng,
		cfg:      cfg,
		log:      logger.OrNop(cfg.Logger),
		progress: NewProgressReporter(),
	}
}

// Progress returns a channel that emits progress events.
func (p *Pipeline) Progress() <-chan ProgressEvent {
	return p.progress.Subscribe()
}

// Close shuts down the progress reporter. Callers should invoke this when the
// pipeline is no longer needed.
func (p *Pipeline) Close() {
	p.progress.Close()
}

// Run executes, in stage order, every selected stage whose document is
// present. It stops at the first failing stage; the reports of the stages
// that completed are returned with the error.
func (p *Pipeline) Run(ctx context.Context, docs *source.Documents) ([]*importers.Report, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.run")
	defer span.End()

	var stages []Stage
	for _, s := range Stages {
		if p.selected(s) && has(docs, s) {
			stages = append(stages, s)
			p.progress.Emit(ProgressEvent{Stage: s, Section: s.String(), Status: ProgressPending})
		}
	}
	p.log.Info("pipeline started", "stages", len(stages), "store_mode", p.cfg.Mode.String())

	var reports []*importers.Report
	for _, s := range stages {
		rep, err := p.RunStage(ctx, s, docs)
		if err != nil {
			span.RecordError(err)
			return reports, err
		}
		reports = append(reports, rep)
	}
	p.log.Info("pipeline finished", "stages", len(reports))
	return reports, nil
}

// RunStage executes one stage. It emits a stage header, runs the importer
// through a fresh adapter and emits the outcome.
func (p *Pipeline) RunStage(ctx context.Context, stage Stage, docs *source.Documents) (rep *importers.Report, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.stage",
		trace.WithAttributes(attribute.String("stage", stage.String())))
	defer span.End()

	p.progress.Emit(ProgressEvent{
		Stage:   stage,
		Section: FormatStageHeader(p.cfg.Options.Study, stage),
		Status:  ProgressWorking,
	})
	defer func() {
		if err != nil {
			span.RecordError(err)
			p.progress.Emit(ProgressEvent{
				Stage:   stage,
				Section: stage.String(),
				Status:  ProgressFailed,
				Message: err.Error(),
			})
			return
		}
		p.progress.Emit(ProgressEvent{
			Stage:   stage,
			Section: stage.String(),
			Status:  ProgressComplete,
			Message: summary(rep.Created, rep.Reused, rep.Linked, rep.Warnings),
		})
	}()

	a, err := store.New(p.eng, p.cfg.Registry, store.Options{Mode: p.cfg.Mode, Logger: p.log})
	if err != nil {
		return nil, err
	}
	defer func() {
		if ferr := a.Finish(ctx); ferr != nil {
			err = errors.Join(err, ferr)
			rep = nil
		}
	}()

	w := upsert.NewWriter(a, p.log)
	opts := p.stageOptions(stage)
	before := p.progress.Dropped()
	rep, err = dispatch(ctx, w, stage, docs, opts)
	if n := p.progress.Dropped() - before; n > 0 && rep != nil {
		rep.ProgressDropped = n
		p.log.Warn("progress events dropped", "stage", stage.String(), "dropped", n)
	}
	return rep, err
}

// stageOptions forwards importer progress as working events, one per
// percentage step, on top of any progress sink the caller configured.
func (p *Pipeline) stageOptions(stage Stage) importers.Options {
	opts := p.cfg.Options
	next := opts.Progress
	last := -1
	opts.Progress = importers.ProgressFunc(func(name string, done, total int) {
		if next != nil {
			next.Step(name, done, total)
		}
		pct := importers.Percent(done, total)
		if pct == last {
			return
		}
		last = pct
		p.progress.Emit(ProgressEvent{
			Stage:   stage,
			Section: name,
			Status:  ProgressWorking,
			Message: importers.FormatRatio(name, done, total),
		})
	})
	return opts
}

func (p *Pipeline) selected(s Stage) bool {
	if len(p.cfg.Only) == 0 {
		return true
	}
	for _, o := range p.cfg.Only {
		if o == s {
			return true
		}
	}
	return false
}

func has(docs *source.Documents, s Stage) bool {
	if docs == nil {
		return false
	}
	switch s {
	case StageGroups:
		return docs.Groups != nil
	case StageUsers:
		return docs.Users != nil
	case StageSubjects:
		return docs.Subjects != nil
	case StageScans:
		return docs.Scans != nil
	case StageQuestionnaires:
		return docs.Questionnaires != nil
	case StageGenetics:
		return docs.Genetics != nil
	case StageProcessings:
		return docs.Processings != nil
	case StageMetaGen:
		return docs.MetaGen != nil
	}
	return false
}

func dispatch(ctx context.Context, w *upsert.Writer, s Stage, docs *source.Documents, opts importers.Options) (*importers.Report, error) {
	switch s {
	case StageGroups:
		return importers.Groups(ctx, w, docs.Groups, opts)
	case StageUsers:
		return importers.Users(ctx, w, docs.Users, opts)
	case StageSubjects:
		return importers.Subjects(ctx, w, docs.Subjects, opts)
	case StageScans:
		return importers.Scans(ctx, w, docs.Scans, opts)
	case StageQuestionnaires:
		return importers.Questionnaires(ctx, w, docs.Questionnaires, opts)
	case StageGenetics:
		return importers.Genetics(ctx, w, docs.Genetics, opts)
	case StageProcessings:
		return importers.Processings(ctx, w, docs.Processings, opts)
	case StageMetaGen:
		if docs.MetaGen == nil {
			return importers.MetaGen(ctx, w, importers.MetaGenInput{}, opts)
		}
		return importers.MetaGen(ctx, w, *docs.MetaGen, opts)
	}
	return nil, fmt.Errorf("pipeline: unknown stage %d", int(s))
}
