package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned for engine kinds that are unknown or not
// compiled into this binary.
var ErrUnsupported = errors.New("unsupported engine")

// Options selects and configures an engine.
type Options struct {
	Kind Kind
	// Path is the SQLite file or the Kuzu directory. Empty means in-memory.
	Path string
	// DSN and Schema configure PostgreSQL.
	DSN    string
	Schema string
	Neo4j  Neo4jConfig
}

// kuzuOpener is set by the cgo build; nil means Kuzu is unavailable.
var kuzuOpener func(path string) (Engine, error)

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, s)
}

// Available reports whether engines of kind k can be opened by this binary.
func Available(k Kind) bool {
	switch k {
	case KindMemory, KindSQLite, KindPostgres, KindNeo4j:
		return true
	case KindKuzu:
		return kuzuOpener != nil
	default:
		return false
	}
}

// Open constructs the engine selected by opts and initializes its schema.
func Open(ctx context.Context, opts Options) (Engine, error) {
	if !Available(opts.Kind) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, opts.Kind)
	}
	var (
		eng Engine
		err error
	)
	switch opts.Kind {
	case KindMemory:
		eng = NewMemGraph()
	case KindSQLite:
		eng, err = NewSQLiteGraph(opts.Path)
	case KindPostgres:
		eng, err = NewPGGraph(ctx, opts.DSN, opts.Schema)
	case KindNeo4j:
		eng, err = NewNeo4jGraph(ctx, opts.Neo4j)
	case KindKuzu:
		eng, err = kuzuOpener(opts.Path)
	}
	if err != nil {
		return nil, err
	}
	if err := eng.InitSchema(ctx); err != nil {
		_ = eng.Close()
		return nil, err
	}
	return eng, nil
}
