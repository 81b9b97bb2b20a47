package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check that PGGraph satisfies Engine.
var _ Engine = (*PGGraph)(nil)

// PGGraph implements Engine on PostgreSQL: a cg_nodes table with JSONB
// attributes and a cg_edges table with foreign keys to it.
type PGGraph struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPGGraph connects to dsn. A non-empty schema puts the tables in that
// schema (created by InitSchema) instead of the connection default.
func NewPGGraph(ctx context.Context, dsn, schema string) (*PGGraph, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	schema = strings.TrimSpace(schema)
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &PGGraph{pool: pool, schema: schema}, nil
}

// Close releases every pooled connection.
func (g *PGGraph) Close() error {
	g.pool.Close()
	return nil
}

// ---------- Schema setup ----------

var pgDDL = []string{
	`CREATE TABLE IF NOT EXISTS cg_nodes (
		id    TEXT PRIMARY KEY,
		type  TEXT NOT NULL,
		nkey  TEXT NOT NULL DEFAULT '',
		attrs JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE INDEX IF NOT EXISTS cg_nodes_type_key ON cg_nodes (type, nkey)`,
	`CREATE TABLE IF NOT EXISTS cg_edges (
		src  TEXT NOT NULL REFERENCES cg_nodes (id),
		type TEXT NOT NULL,
		dst  TEXT NOT NULL REFERENCES cg_nodes (id)
	)`,
	`CREATE INDEX IF NOT EXISTS cg_edges_src ON cg_edges (src, type)`,
	`CREATE INDEX IF NOT EXISTS cg_edges_dst ON cg_edges (dst, type)`,
}

// InitSchema creates the schema, tables and indexes if they do not exist.
func (g *PGGraph) InitSchema(ctx context.Context) error {
	if g.schema != "" {
		stmt := "CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{g.schema}.Sanitize()
		if _, err := g.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init schema: %w", err)
		}
	}
	for _, stmt := range pgDDL {
		if _, err := g.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init schema: %w", err)
		}
	}
	return nil
}

// ---------- Write operations ----------

// Apply queues every insert in one pgx.Batch inside a transaction.
func (g *PGGraph) Apply(ctx context.Context, b Batch) error {
	if err := checkBatch(b); err != nil {
		return fmt.Errorf("postgres: apply: %w", err)
	}
	return g.inTx(ctx, "apply", func(tx pgx.Tx) error {
		if err := checkEndpoints(ctx, b, func(ctx context.Context, ids []string) ([]Node, error) {
			return pgGetNodes(ctx, tx, ids)
		}); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, n := range b.Nodes {
			attrs, err := encodeAttrs(n.Attrs)
			if err != nil {
				return err
			}
			batch.Queue("INSERT INTO cg_nodes (id, type, nkey, attrs) VALUES ($1, $2, $3, $4::jsonb)",
				n.ID, n.Type, n.Key, attrs)
		}
		for _, e := range b.Edges {
			batch.Queue("INSERT INTO cg_edges (src, type, dst) VALUES ($1, $2, $3)", e.From, e.Type, e.To)
		}
		if batch.Len() == 0 {
			return nil
		}
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("batch statement %d: %w", i, err)
			}
		}
		return results.Close()
	})
}

// Load streams nodes and edges through COPY.
func (g *PGGraph) Load(ctx context.Context, b Batch) error {
	if err := checkBatch(b); err != nil {
		return fmt.Errorf("postgres: load: %w", err)
	}
	return g.inTx(ctx, "load", func(tx pgx.Tx) error {
		if err := checkEndpoints(ctx, b, func(ctx context.Context, ids []string) ([]Node, error) {
			return pgGetNodes(ctx, tx, ids)
		}); err != nil {
			return err
		}

		nodeRows := make([][]any, 0, len(b.Nodes))
		for _, n := range b.Nodes {
			attrs, err := encodeAttrs(n.Attrs)
			if err != nil {
				return err
			}
			nodeRows = append(nodeRows, []any{n.ID, n.Type, n.Key, []byte(attrs)})
		}
		if len(nodeRows) > 0 {
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"cg_nodes"},
				[]string{"id", "type", "nkey", "attrs"}, pgx.CopyFromRows(nodeRows)); err != nil {
				return fmt.Errorf("copy nodes: %w", err)
			}
		}

		edgeRows := make([][]any, 0, len(b.Edges))
		for _, e := range b.Edges {
			edgeRows = append(edgeRows, []any{e.From, e.Type, e.To})
		}
		if len(edgeRows) > 0 {
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"cg_edges"},
				[]string{"src", "type", "dst"}, pgx.CopyFromRows(edgeRows)); err != nil {
				return fmt.Errorf("copy edges: %w", err)
			}
		}
		return nil
	})
}

func (g *PGGraph) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: %s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: %s: commit: %w", op, err)
	}
	return nil
}

// ---------- Read operations ----------

// FindNodes pushes type, key and link constraints into SQL; attribute
// filtering happens on the decoded rows.
func (g *PGGraph) FindNodes(ctx context.Context, p Pattern) ([]Node, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if p.Type != "" {
		where = append(where, "n.type = "+arg(p.Type))
	}
	if p.Key != "" {
		where = append(where, "n.nkey = "+arg(p.Key))
	}
	for _, l := range p.Links {
		near, far := "e.src", "e.dst"
		if l.Reverse {
			near, far = far, near
		}
		where = append(where, fmt.Sprintf("EXISTS (SELECT 1 FROM cg_edges e WHERE %s = n.id AND e.type = %s AND %s = %s)",
			near, arg(l.Relation), far, arg(l.Target)))
	}
	q := "SELECT n.id, n.type, n.nkey, n.attrs::text FROM cg_nodes n"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY n.id"
	if p.Limit > 0 && len(p.Attrs) == 0 {
		q += " LIMIT " + arg(p.Limit)
	}

	nodes, err := pgScanNodes(ctx, g.pool, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find nodes: %w", err)
	}
	return finishNodes(nodes, p), nil
}

// FindEdges returns edges matching p.
func (g *PGGraph) FindEdges(ctx context.Context, p EdgePattern) ([]Edge, error) {
	var (
		where []string
		args  []any
	)
	for _, c := range []struct{ col, val string }{{"src", p.From}, {"type", p.Type}, {"dst", p.To}} {
		if c.val == "" {
			continue
		}
		args = append(args, c.val)
		where = append(where, fmt.Sprintf("%s = $%d", c.col, len(args)))
	}
	q := "SELECT src, type, dst FROM cg_edges"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY src, type, dst"

	rows, err := g.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find edges: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Edge, error) {
		var e Edge
		err := row.Scan(&e.From, &e.Type, &e.To)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: find edges: %w", err)
	}
	return out, nil
}

// GetNodes returns the nodes among ids that exist, in id order.
func (g *PGGraph) GetNodes(ctx context.Context, ids []string) ([]Node, error) {
	nodes, err := pgGetNodes(ctx, g.pool, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get nodes: %w", err)
	}
	return nodes, nil
}

// pgQueryer is satisfied by *pgxpool.Pool and pgx.Tx.
type pgQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func pgGetNodes(ctx context.Context, q pgQueryer, ids []string) ([]Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return pgScanNodes(ctx, q,
		"SELECT id, type, nkey, attrs::text FROM cg_nodes WHERE id = ANY($1) ORDER BY id", ids)
}

func pgScanNodes(ctx context.Context, q pgQueryer, sql string, args ...any) ([]Node, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Node, error) {
		var (
			n   Node
			raw string
		)
		if err := row.Scan(&n.ID, &n.Type, &n.Key, &raw); err != nil {
			return n, err
		}
		attrs, err := decodeAttrs(raw)
		if err != nil {
			return n, fmt.Errorf("node %s: %w", n.ID, err)
		}
		n.Attrs = attrs
		return n, nil
	})
}

// Sync is a no-op: a committed PostgreSQL transaction is already durable.
func (g *PGGraph) Sync(_ context.Context) error {
	return nil
}

// ---------- Stats ----------

// Stats returns node and edge counts per type.
func (g *PGGraph) Stats(ctx context.Context) (*Stats, error) {
	st := newStats()
	for _, t := range []struct {
		query string
		into  map[string]int
		total *int
	}{
		{"SELECT type, count(*) FROM cg_nodes GROUP BY type", st.NodesByType, &st.NodeCount},
		{"SELECT type, count(*) FROM cg_edges GROUP BY type", st.EdgesByType, &st.EdgeCount},
	} {
		rows, err := g.pool.Query(ctx, t.query)
		if err != nil {
			return nil, fmt.Errorf("postgres: stats: %w", err)
		}
		var (
			typ string
			n   int64
		)
		_, err = pgx.ForEachRow(rows, []any{&typ, &n}, func() error {
			t.into[typ] = int(n)
			*t.total += int(n)
			return nil
		})
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: stats: %w", err)
		}
	}
	return st, nil
}
