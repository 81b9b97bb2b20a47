//go:build cgo

package graph

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	kuzu "github.com/kuzudb/go-kuzu"
)

// KuzuGraph implements the Engine interface using KuzuDB.
// It requires CGO because the go-kuzu driver wraps KuzuDB's C library.
type KuzuGraph struct {
	mu   sync.Mutex // one transaction at a time on the single connection
	path string
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check that KuzuGraph satisfies Engine.
var _ Engine = (*KuzuGraph)(nil)

// NewKuzuGraph creates a KuzuGraph backed by an in-memory KuzuDB instance.
func NewKuzuGraph() (*KuzuGraph, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileGraph creates a KuzuGraph backed by a file-based KuzuDB at the
// given directory path. KuzuDB creates the directory itself for new databases.
func NewKuzuFileGraph(dbPath string) (*KuzuGraph, error) {
	// Ensure parent directory exists (KuzuDB creates the leaf directory).
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(dbPath string) (*KuzuGraph, error) {
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(dbPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	return &KuzuGraph{path: dbPath, db: db, conn: conn}, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuGraph) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// ---------- Schema setup ----------

// ddlStatements defines the Cypher DDL executed by InitSchema.
// Order matters: node tables must precede relationship tables.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS Entity(
		id STRING,
		type STRING,
		nkey STRING,
		attrs STRING,
		PRIMARY KEY(id)
	)`,
	`CREATE REL TABLE IF NOT EXISTS Relation(FROM Entity TO Entity, type STRING)`,
}

// InitSchema creates the node and relationship tables if they do not exist.
func (s *KuzuGraph) InitSchema(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

// ---------- Write operations ----------

// Apply writes the batch inside an explicit transaction.
func (s *KuzuGraph) Apply(ctx context.Context, b Batch) error {
	if err := checkBatch(b); err != nil {
		return fmt.Errorf("kuzu: apply: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkEndpoints(ctx, b, s.getNodesLocked); err != nil {
		return fmt.Errorf("kuzu: apply: %w", err)
	}
	if err := s.run("BEGIN TRANSACTION"); err != nil {
		return fmt.Errorf("kuzu: apply: %w", err)
	}
	if err := s.applyLocked(b); err != nil {
		_ = s.run("ROLLBACK")
		return fmt.Errorf("kuzu: apply: %w", err)
	}
	if err := s.run("COMMIT"); err != nil {
		return fmt.Errorf("kuzu: apply: %w", err)
	}
	return nil
}

func (s *KuzuGraph) applyLocked(b Batch) error {
	for _, n := range b.Nodes {
		attrs, err := encodeAttrs(n.Attrs)
		if err != nil {
			return err
		}
		if err := s.exec(
			"CREATE (n:Entity {id: $id, type: $type, nkey: $nkey, attrs: $attrs})",
			map[string]any{"id": n.ID, "type": n.Type, "nkey": n.Key, "attrs": attrs},
		); err != nil {
			return err
		}
	}
	for _, e := range b.Edges {
		if err := s.exec(
			`MATCH (a:Entity {id: $src}), (b:Entity {id: $dst})
			 CREATE (a)-[:Relation {type: $type}]->(b)`,
			map[string]any{"src": e.From, "dst": e.To, "type": e.Type},
		); err != nil {
			return err
		}
	}
	return nil
}

// Load writes the batch through COPY FROM on temporary CSV files.
func (s *KuzuGraph) Load(ctx context.Context, b Batch) error {
	if err := checkBatch(b); err != nil {
		return fmt.Errorf("kuzu: load: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkEndpoints(ctx, b, s.getNodesLocked); err != nil {
		return fmt.Errorf("kuzu: load: %w", err)
	}
	dir, err := os.MkdirTemp("", "cohortgraph-kuzu-*")
	if err != nil {
		return fmt.Errorf("kuzu: load: %w", err)
	}
	defer os.RemoveAll(dir)

	if len(b.Nodes) > 0 {
		rows := make([][]string, 0, len(b.Nodes))
		for _, n := range b.Nodes {
			attrs, err := encodeAttrs(n.Attrs)
			if err != nil {
				return fmt.Errorf("kuzu: load: %w", err)
			}
			rows = append(rows, []string{n.ID, n.Type, n.Key, attrs})
		}
		path := filepath.Join(dir, "entities.csv")
		if err := writeCSV(path, rows); err != nil {
			return fmt.Errorf("kuzu: load: %w", err)
		}
		if err := s.run(fmt.Sprintf("COPY Entity FROM '%s' (HEADER=false)", cypherQuote(path))); err != nil {
			return fmt.Errorf("kuzu: load entities: %w", err)
		}
	}
	if len(b.Edges) > 0 {
		rows := make([][]string, 0, len(b.Edges))
		for _, e := range b.Edges {
			rows = append(rows, []string{e.From, e.To, e.Type})
		}
		path := filepath.Join(dir, "relations.csv")
		if err := writeCSV(path, rows); err != nil {
			return fmt.Errorf("kuzu: load: %w", err)
		}
		if err := s.run(fmt.Sprintf("COPY Relation FROM '%s' (HEADER=false)", cypherQuote(path))); err != nil {
			return fmt.Errorf("kuzu: load relations: %w", err)
		}
	}
	return nil
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// cypherQuote escapes a value for a single-quoted Cypher string literal.
func cypherQuote(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `'`, `\'`)
}

// ---------- Read operations ----------

// FindNodes pushes type, key and link constraints into Cypher; attribute
// filtering happens on the decoded rows.
func (s *KuzuGraph) FindNodes(_ context.Context, p Pattern) ([]Node, error) {
	var where []string
	params := map[string]any{}
	if p.Type != "" {
		where = append(where, "n.type = $type")
		params["type"] = p.Type
	}
	if p.Key != "" {
		where = append(where, "n.nkey = $nkey")
		params["nkey"] = p.Key
	}
	for i, l := range p.Links {
		rel, target := fmt.Sprintf("rel%d", i), fmt.Sprintf("target%d", i)
		if l.Reverse {
			where = append(where, fmt.Sprintf(
				"EXISTS { MATCH (t:Entity)-[r:Relation]->(n) WHERE r.type = $%s AND t.id = $%s }", rel, target))
		} else {
			where = append(where, fmt.Sprintf(
				"EXISTS { MATCH (n)-[r:Relation]->(t:Entity) WHERE r.type = $%s AND t.id = $%s }", rel, target))
		}
		params[rel] = l.Relation
		params[target] = l.Target
	}
	cypher := "MATCH (n:Entity)"
	if len(where) > 0 {
		cypher += " WHERE " + strings.Join(where, " AND ")
	}
	cypher += " RETURN n.id, n.type, n.nkey, n.attrs ORDER BY n.id"
	if p.Limit > 0 && len(p.Attrs) == 0 {
		cypher += " LIMIT $lim"
		params["lim"] = int64(p.Limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.query(cypher, params)
	if err != nil {
		return nil, err
	}
	nodes, err := rowsToNodes(rows)
	if err != nil {
		return nil, err
	}
	return finishNodes(nodes, p), nil
}

// FindEdges returns edges matching p.
func (s *KuzuGraph) FindEdges(_ context.Context, p EdgePattern) ([]Edge, error) {
	var where []string
	params := map[string]any{}
	if p.From != "" {
		where = append(where, "a.id = $src")
		params["src"] = p.From
	}
	if p.Type != "" {
		where = append(where, "r.type = $type")
		params["type"] = p.Type
	}
	if p.To != "" {
		where = append(where, "b.id = $dst")
		params["dst"] = p.To
	}
	cypher := "MATCH (a:Entity)-[r:Relation]->(b:Entity)"
	if len(where) > 0 {
		cypher += " WHERE " + strings.Join(where, " AND ")
	}
	cypher += " RETURN a.id, r.type, b.id ORDER BY a.id, r.type, b.id"

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.query(cypher, params)
	if err != nil {
		return nil, err
	}
	out := make([]Edge, 0, len(rows))
	for _, r := range rows {
		out = append(out, Edge{From: toString(r[0]), Type: toString(r[1]), To: toString(r[2])})
	}
	return out, nil
}

// GetNodes returns the nodes among ids that exist, in id order.
func (s *KuzuGraph) GetNodes(ctx context.Context, ids []string) ([]Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getNodesLocked(ctx, ids)
}

func (s *KuzuGraph) getNodesLocked(_ context.Context, ids []string) ([]Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	list := make([]any, len(ids))
	for i, id := range ids {
		list[i] = id
	}
	rows, err := s.query(
		"MATCH (n:Entity) WHERE list_contains($ids, n.id) RETURN n.id, n.type, n.nkey, n.attrs ORDER BY n.id",
		map[string]any{"ids": list},
	)
	if err != nil {
		return nil, err
	}
	return rowsToNodes(rows)
}

// rowsToNodes converts 4-column result rows into nodes.
// Column order: id, type, nkey, attrs.
func rowsToNodes(rows [][]any) ([]Node, error) {
	out := make([]Node, 0, len(rows))
	for _, r := range rows {
		n := Node{ID: toString(r[0]), Type: toString(r[1]), Key: toString(r[2])}
		attrs, err := decodeAttrs(toString(r[3]))
		if err != nil {
			return nil, fmt.Errorf("kuzu: node %s: %w", n.ID, err)
		}
		n.Attrs = attrs
		out = append(out, n)
	}
	return out, nil
}

// ---------- Durability ----------

// Sync checkpoints the write-ahead log of a file-backed database.
func (s *KuzuGraph) Sync(_ context.Context) error {
	if s.path == ":memory:" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.run("CHECKPOINT"); err != nil {
		return fmt.Errorf("kuzu: checkpoint: %w", err)
	}
	return nil
}

// ---------- Stats ----------

// Stats returns node and edge counts per type.
func (s *KuzuGraph) Stats(_ context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := newStats()
	nodeRows, err := s.query("MATCH (n:Entity) RETURN n.type, count(n)", nil)
	if err != nil {
		return nil, err
	}
	for _, r := range nodeRows {
		n := toInt(r[1])
		st.NodesByType[toString(r[0])] = n
		st.NodeCount += n
	}
	edgeRows, err := s.query("MATCH ()-[r:Relation]->() RETURN r.type, count(r)", nil)
	if err != nil {
		return nil, err
	}
	for _, r := range edgeRows {
		n := toInt(r[1])
		st.EdgesByType[toString(r[0])] = n
		st.EdgeCount += n
	}
	return st, nil
}

// ---------- Internal helpers ----------

// run executes an unparameterized statement and discards its result.
func (s *KuzuGraph) run(cypher string) error {
	res, err := s.conn.Query(cypher)
	if err != nil {
		return err
	}
	res.Close()
	return nil
}

// exec runs a parameterized Cypher statement that produces no result rows.
func (s *KuzuGraph) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows.
// Each row is a []any slice with values in column order.
func (s *KuzuGraph) query(cypher string, params map[string]any) ([][]any, error) {
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}
