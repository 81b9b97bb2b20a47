package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dusk-indust/cohortgraph/internal/config"
	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/graph"
	"github.com/dusk-indust/cohortgraph/internal/logger"
)

// version is set by goreleaser at build time.
var version = "dev"

const usage = `usage: cohortgraph <command> [flags]

commands:
  import     load the configured input documents into the graph
  stats      print entity and relation counts
  export     export the neighbourhood of one entity as JSON or Mermaid
  groups     print the security groups derived from assessment identifiers
  serve-mcp  serve read-only inspection tools over MCP
  version    print the version
`

var errUsage = errors.New("unknown command")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "import":
		return runImport(ctx, rest, stdout, stderr)
	case "stats":
		return runStats(ctx, rest, stdout)
	case "export":
		return runExport(ctx, rest, stdout)
	case "groups":
		return runGroups(rest, stdout)
	case "serve-mcp":
		return runServeMCP(ctx, rest, stderr)
	case "version", "-version", "--version":
		fmt.Fprintln(stdout, version)
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	}
	fmt.Fprint(stderr, usage)
	return fmt.Errorf("%w %q", errUsage, cmd)
}

// commonFlags are the flags every command touching the graph accepts.
type commonFlags struct {
	ConfigPath string
	Dir        string
	Engine     string
	Path       string
	DSN        string
	StoreMode  string
	LogMode    string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigPath, "config", "", "path to cohortgraph.yml")
	fs.StringVar(&c.Dir, "dir", ".", "directory searched for cohortgraph.yml when -config is not set")
	fs.StringVar(&c.Engine, "engine", "", "graph engine: memory, sqlite, postgres, neo4j or kuzu")
	fs.StringVar(&c.Path, "path", "", "SQLite file or Kuzu directory")
	fs.StringVar(&c.DSN, "dsn", "", "PostgreSQL connection string")
	fs.StringVar(&c.StoreMode, "store-mode", "", "store mode: direct, buffered or bulk")
	fs.StringVar(&c.LogMode, "log", "", "log mode: prod or dev")
}

// load reads the configuration, applies flag overrides and validates it.
func (c *commonFlags) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.ConfigPath != "" {
		cfg, err = config.LoadFile(c.ConfigPath)
	} else {
		cfg, err = config.Load(c.Dir)
	}
	if err != nil {
		return nil, err
	}
	override := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}
	override(c.Engine, &cfg.Engine.Kind)
	override(c.Path, &cfg.Engine.Path)
	override(c.DSN, &cfg.Engine.DSN)
	override(c.StoreMode, &cfg.StoreMode)
	override(c.LogMode, &cfg.LogMode)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}

// openEngine opens the configured engine and initializes its schema.
func openEngine(ctx context.Context, cfg *config.Config) (graph.Engine, error) {
	eng, err := graph.Open(ctx, cfg.GraphOptions())
	if err != nil {
		if errors.Is(err, graph.ErrUnsupported) {
			return nil, faults.Wrap(err, faults.UnsupportedBackend, "open engine %s", cfg.Engine.Kind)
		}
		return nil, faults.Wrap(err, faults.Backend, "open engine %s", cfg.Engine.Kind)
	}
	return eng, nil
}
