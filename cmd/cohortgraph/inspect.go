package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dusk-indust/cohortgraph/internal/export"
	"github.com/dusk-indust/cohortgraph/internal/graph"
	"github.com/dusk-indust/cohortgraph/internal/mcptools"
	"github.com/dusk-indust/cohortgraph/internal/schema"
	"github.com/dusk-indust/cohortgraph/internal/store"
	"github.com/dusk-indust/cohortgraph/internal/upsert"
)

// ---------- stats ----------

func runStats(ctx context.Context, args []string, stdout io.Writer) (err error) {
	var (
		flags  commonFlags
		asJSON bool
	)
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	flags.register(fs)
	fs.BoolVar(&asJSON, "json", false, "print the counts as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := flags.load()
	if err != nil {
		return err
	}

	a, err := store.Open(ctx, cfg.GraphOptions(), schema.Default(), store.Options{Mode: cfg.Mode()})
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.Finish(ctx)) }()

	stats, err := a.Stats(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	printStats(stdout, stats)
	return nil
}

func printStats(w io.Writer, stats *graph.Stats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ENTITIES\t%d\n", stats.NodeCount)
	for _, t := range sortedKeys(stats.NodesByType) {
		fmt.Fprintf(tw, "  %s\t%d\n", t, stats.NodesByType[t])
	}
	fmt.Fprintf(tw, "RELATIONS\t%d\n", stats.EdgeCount)
	for _, t := range sortedKeys(stats.EdgesByType) {
		fmt.Fprintf(tw, "  %s\t%d\n", t, stats.EdgesByType[t])
	}
	_ = tw.Flush()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------- export ----------

func runExport(ctx context.Context, args []string, stdout io.Writer) error {
	var (
		flags    commonFlags
		etype    string
		key      string
		format   string
		depth    int
		maxNodes int
	)
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	flags.register(fs)
	fs.StringVar(&etype, "type", "", "entity type of the root (required)")
	fs.StringVar(&key, "key", "", "natural key of the root (required)")
	fs.StringVar(&format, "format", "json", "output format: json or mermaid")
	fs.IntVar(&depth, "depth", export.DefaultDepth, "number of hops from the root")
	fs.IntVar(&maxNodes, "max-nodes", export.DefaultMaxNodes, "maximum number of entities to export")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if etype == "" || key == "" {
		return errors.New("export: -type and -key are required")
	}
	format = strings.ToLower(format)
	if format != "json" && format != "mermaid" {
		return fmt.Errorf("export: unknown format %q", format)
	}

	cfg, err := flags.load()
	if err != nil {
		return err
	}
	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	root, err := export.FindRoot(ctx, eng, graph.Pattern{Type: etype, Key: key})
	if err != nil {
		return err
	}
	n, err := export.Collect(ctx, eng, root.ID, export.Options{Depth: depth, MaxNodes: maxNodes})
	if err != nil {
		return err
	}

	if format == "mermaid" {
		_, err = io.WriteString(stdout, export.GenerateMermaid(n))
		return err
	}
	return export.WriteJSON(stdout, export.ExportNeighbourhood(n, time.Now()))
}

// ---------- groups ----------

func runGroups(args []string, stdout io.Writer) error {
	var mode string
	fs := flag.NewFlagSet("groups", flag.ContinueOnError)
	fs.StringVar(&mode, "security", upsert.Derived.String(), "security mode: derived or flat")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sm, err := upsert.ParseSecurityMode(mode)
	if err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("groups: at least one assessment identifier is required")
	}
	for _, id := range fs.Args() {
		var names []string
		if sm == upsert.Flat {
			names = upsert.FlatGroups
		} else {
			if err := upsert.CheckGroupTokens(id); err != nil {
				return err
			}
			names = upsert.DeriveGroupNames(id)
		}
		fmt.Fprintf(stdout, "%s: %s\n", id, strings.Join(names, ", "))
	}
	return nil
}

// ---------- serve-mcp ----------

func runServeMCP(ctx context.Context, args []string, stderr io.Writer) error {
	var (
		flags commonFlags
		addr  string
	)
	fs := flag.NewFlagSet("serve-mcp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags.register(fs)
	fs.StringVar(&addr, "addr", "", "HTTP listen address; empty serves over stdio")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	svc := mcptools.NewInspectService(eng)
	if addr == "" {
		log.Info("serving MCP over stdio", "engine", cfg.Engine.Kind)
		return mcptools.RunStdio(ctx, svc)
	}
	log.Info("serving MCP over HTTP", "addr", addr, "engine", cfg.Engine.Kind)
	return mcptools.RunMCPServer(ctx, svc, addr)
}
