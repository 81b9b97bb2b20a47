// Package config loads cohortgraph.yml and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/graph"
	"github.com/dusk-indust/cohortgraph/internal/store"
	"github.com/dusk-indust/cohortgraph/internal/upsert"
)

// FileNames are the names Load looks for, in order.
var FileNames = []string{"cohortgraph.yml", "cohortgraph.yaml"}

// Config holds the settings of an import run.
type Config struct {
	Engine       EngineConfig `yaml:"engine"`
	StoreMode    string       `yaml:"storeMode,omitempty"`
	CanRead      bool         `yaml:"canRead,omitempty"`
	CanUpdate    bool         `yaml:"canUpdate,omitempty"`
	SecurityMode string       `yaml:"securityMode,omitempty"`
	BatchSize    int          `yaml:"batchSize,omitempty"`
	Study        StudyConfig  `yaml:"study"`
	Center       string       `yaml:"center,omitempty"`
	Inputs       Inputs       `yaml:"inputs"`
	S3           S3Config     `yaml:"s3"`
	LogMode      string       `yaml:"logMode,omitempty"`
	MetricsAddr  string       `yaml:"metricsAddr,omitempty"`
	Tracing      bool         `yaml:"tracing,omitempty"`
}

// EngineConfig selects the graph engine.
type EngineConfig struct {
	Kind     string `yaml:"kind,omitempty"`
	Path     string `yaml:"path,omitempty"`
	DSN      string `yaml:"dsn,omitempty"`
	Schema   string `yaml:"schema,omitempty"`
	URI      string `yaml:"uri,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Database string `yaml:"database,omitempty"`
}

type StudyConfig struct {
	Name     string `yaml:"name,omitempty"`
	DataPath string `yaml:"dataPath,omitempty"`
}

// S3Config configures access to s3:// inputs. Credentials come from the
// default AWS chain.
type S3Config struct {
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	PathStyle bool   `yaml:"pathStyle,omitempty"`
}

// Inputs maps each importer to its input document: a local path or an
// s3://bucket/key URL. Empty entries are skipped.
type Inputs struct {
	Groups         string `yaml:"groups,omitempty"`
	Users          string `yaml:"users,omitempty"`
	Subjects       string `yaml:"subjects,omitempty"`
	Scans          string `yaml:"scans,omitempty"`
	Questionnaires string `yaml:"questionnaires,omitempty"`
	Genetics       string `yaml:"genetics,omitempty"`
	Processings    string `yaml:"processings,omitempty"`
	MetaGen        string `yaml:"metagen,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Engine:       EngineConfig{Kind: string(graph.KindMemory)},
		StoreMode:    store.Direct.String(),
		CanRead:      true,
		SecurityMode: upsert.Derived.String(),
		BatchSize:    10000,
		LogMode:      "prod",
	}
}

// Load reads cohortgraph.yml or cohortgraph.yaml from dir. A missing file
// is not an error: defaults apply. Environment overrides are applied last.
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadFile(path)
	}
	cfg := Default()
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

// LoadFile reads the configuration at path over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

// applyEnv overrides file settings with COHORTGRAPH_* and NEO4J_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("COHORTGRAPH_ENGINE", &c.Engine.Kind)
	set("COHORTGRAPH_DSN", &c.Engine.DSN)
	set("COHORTGRAPH_STORE_MODE", &c.StoreMode)
	set("NEO4J_URI", &c.Engine.URI)
	set("NEO4J_USER", &c.Engine.User)
	set("NEO4J_PASSWORD", &c.Engine.Password)
	set("NEO4J_DATABASE", &c.Engine.Database)
	if v, ok := lookup("COHORTGRAPH_BATCH_SIZE"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.BatchSize = n
		}
	}
}

// Validate checks every setting that can be checked without opening a
// backend. Unknown or unavailable engines and store modes fail with
// UnsupportedBackend.
func (c *Config) Validate() error {
	kind, err := graph.ParseKind(c.Engine.Kind)
	if err != nil {
		return faults.Wrap(err, faults.UnsupportedBackend, "engine kind %q", c.Engine.Kind)
	}
	if !graph.Available(kind) {
		return faults.New(faults.UnsupportedBackend, "engine %q is not available in this build", kind)
	}
	if _, err := store.ParseMode(c.StoreMode); err != nil {
		return err
	}
	if _, err := upsert.ParseSecurityMode(c.SecurityMode); err != nil {
		return err
	}
	var errs []error
	switch kind {
	case graph.KindPostgres:
		if c.Engine.DSN == "" {
			errs = append(errs, errors.New("engine.dsn is required for postgres"))
		}
	case graph.KindNeo4j:
		if c.Engine.URI == "" {
			errs = append(errs, errors.New("engine.uri is required for neo4j"))
		}
	}
	if c.BatchSize < 0 {
		errs = append(errs, errors.New("batchSize must not be negative"))
	}
	if len(errs) > 0 {
		return faults.Wrap(errors.Join(errs...), faults.InvalidInput, "invalid configuration")
	}
	return nil
}

// GraphOptions converts the engine section for graph.Open.
func (c *Config) GraphOptions() graph.Options {
	kind, _ := graph.ParseKind(c.Engine.Kind)
	return graph.Options{
		Kind:   kind,
		Path:   c.Engine.Path,
		DSN:    c.Engine.DSN,
		Schema: c.Engine.Schema,
		Neo4j: graph.Neo4jConfig{
			URI:      c.Engine.URI,
			User:     c.Engine.User,
			Password: c.Engine.Password,
			Database: c.Engine.Database,
		},
	}
}

// Mode returns the parsed store mode. Call Validate first.
func (c *Config) Mode() store.Mode {
	m, _ := store.ParseMode(c.StoreMode)
	return m
}

// Security returns the parsed security mode. Call Validate first.
func (c *Config) Security() upsert.SecurityMode {
	m, _ := upsert.ParseSecurityMode(c.SecurityMode)
	return m
}

// Access returns the permissions granted to derived groups.
func (c *Config) Access() upsert.Access {
	return upsert.Access{CanRead: c.CanRead, CanUpdate: c.CanUpdate}
}
