package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dusk-indust/cohortgraph/internal/config"
	"github.com/dusk-indust/cohortgraph/internal/importers"
	"github.com/dusk-indust/cohortgraph/internal/pipeline"
	"github.com/dusk-indust/cohortgraph/internal/source"
	"github.com/dusk-indust/cohortgraph/internal/telemetry"
)

type importFlags struct {
	commonFlags
	Stages   string
	Study    string
	DataPath string
	Center   string
	Inputs   config.Inputs
}

func runImport(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var flags importFlags
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags.register(fs)
	fs.StringVar(&flags.Stages, "stages", "", "comma-separated stages to run (default: every stage with an input)")
	fs.StringVar(&flags.Study, "study", "", "study name")
	fs.StringVar(&flags.DataPath, "data-path", "", "study data root path")
	fs.StringVar(&flags.Center, "center", "", "acquisition center (default: the study name)")
	fs.StringVar(&flags.Inputs.Groups, "groups", "", "groups document")
	fs.StringVar(&flags.Inputs.Users, "users", "", "users document")
	fs.StringVar(&flags.Inputs.Subjects, "subjects", "", "subjects document")
	fs.StringVar(&flags.Inputs.Scans, "scans", "", "scans document")
	fs.StringVar(&flags.Inputs.Questionnaires, "questionnaires", "", "questionnaires document")
	fs.StringVar(&flags.Inputs.Genetics, "genetics", "", "genetics document")
	fs.StringVar(&flags.Inputs.Processings, "processings", "", "processings document")
	fs.StringVar(&flags.Inputs.MetaGen, "metagen", "", "reference genomics document")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := flags.load()
	if err != nil {
		return err
	}
	flags.apply(cfg)
	only, err := parseStages(flags.Stages)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.MetricsAddr != "" {
		ms := telemetry.NewMetricsServer(cfg.MetricsAddr, log)
		ms.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Stop(stopCtx)
		}()
	}
	if cfg.Tracing {
		shutdown, err := telemetry.InitTracing(ctx, log, "cohortgraph", version, os.Stderr)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	loader := source.NewLoader(source.Options{
		Region:    cfg.S3.Region,
		Endpoint:  cfg.S3.Endpoint,
		PathStyle: cfg.S3.PathStyle,
		Logger:    log,
	})
	docs, err := source.LoadAll(ctx, loader, cfg.Inputs)
	if err != nil {
		return err
	}

	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	p := pipeline.New(eng, pipeline.Config{
		Mode: cfg.Mode(),
		Options: importers.Options{
			Study:     cfg.Study.Name,
			DataPath:  cfg.Study.DataPath,
			Center:    cfg.Center,
			Access:    cfg.Access(),
			Security:  cfg.Security(),
			BatchSize: cfg.BatchSize,
		},
		Only:   only,
		Logger: log,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range p.Progress() {
			fmt.Fprintln(stdout, pipeline.FormatProgress(ev))
		}
	}()
	reports, runErr := p.Run(ctx, docs)
	p.Close()
	<-done

	printReports(stdout, reports)
	return runErr
}

// apply copies the import-specific flags over the configuration.
func (f *importFlags) apply(cfg *config.Config) {
	set := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}
	set(f.Study, &cfg.Study.Name)
	set(f.DataPath, &cfg.Study.DataPath)
	set(f.Center, &cfg.Center)
	set(f.Inputs.Groups, &cfg.Inputs.Groups)
	set(f.Inputs.Users, &cfg.Inputs.Users)
	set(f.Inputs.Subjects, &cfg.Inputs.Subjects)
	set(f.Inputs.Scans, &cfg.Inputs.Scans)
	set(f.Inputs.Questionnaires, &cfg.Inputs.Questionnaires)
	set(f.Inputs.Genetics, &cfg.Inputs.Genetics)
	set(f.Inputs.Processings, &cfg.Inputs.Processings)
	set(f.Inputs.MetaGen, &cfg.Inputs.MetaGen)
}

func parseStages(s string) ([]pipeline.Stage, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []pipeline.Stage
	for _, name := range strings.Split(s, ",") {
		stage, ok := pipeline.ParseStage(strings.ToLower(strings.TrimSpace(name)))
		if !ok {
			return nil, fmt.Errorf("unknown stage %q", name)
		}
		out = append(out, stage)
	}
	return out, nil
}

func printReports(w io.Writer, reports []*importers.Report) {
	if len(reports) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IMPORTER\tRECORDS\tCREATED\tREUSED\tLINKED\tSKIPPED\tWARNINGS\tTOOK")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Importer, r.Records, r.Created, r.Reused, r.Linked, r.Skipped, r.Warnings, r.Took.Round(time.Millisecond))
	}
	_ = tw.Flush()
	dropped := 0
	for _, r := range reports {
		dropped += r.ProgressDropped
	}
	if dropped > 0 {
		fmt.Fprintf(w, "%d progress lines were dropped while the output was busy\n", dropped)
	}
}
