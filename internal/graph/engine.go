package graph

import (
	"context"
	"io"
)

// Engine is the persistence interface for the cohort graph.
// Implementations: MemGraph (testing), SQLiteGraph, PGGraph, Neo4jGraph and
// KuzuGraph (cgo). All graph access from the import engine goes through it.
type Engine interface {
	io.Closer

	// Schema setup, called once before any data is written. Idempotent.
	InitSchema(ctx context.Context) error

	// Apply writes a batch atomically: either every node and edge is stored
	// or none is. Edge endpoints must exist in the store or in the batch.
	Apply(ctx context.Context, b Batch) error
	// Load writes a large batch through the engine's bulk path. Endpoint
	// checks still apply; atomicity across the whole batch is not promised.
	Load(ctx context.Context, b Batch) error

	// Read operations.
	FindNodes(ctx context.Context, p Pattern) ([]Node, error)
	FindEdges(ctx context.Context, p EdgePattern) ([]Edge, error)
	GetNodes(ctx context.Context, ids []string) ([]Node, error)

	// Sync makes every applied write durable.
	Sync(ctx context.Context) error

	Stats(ctx context.Context) (*Stats, error)
}

// Kind names an engine implementation.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
	KindNeo4j    Kind = "neo4j"
	KindKuzu     Kind = "kuzu"
)

// Kinds lists every engine kind in a stable order.
var Kinds = []Kind{KindMemory, KindSQLite, KindPostgres, KindNeo4j, KindKuzu}
