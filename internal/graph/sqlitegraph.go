package graph

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteDriver = "sqlite"

// sqliteChunk bounds the rows per multi-row INSERT on the bulk path.
const sqliteChunk = 200

// Compile-time check that SQLiteGraph satisfies Engine.
var _ Engine = (*SQLiteGraph)(nil)

// SQLiteGraph implements Engine on a single SQLite file with a nodes table
// and an edges table.
type SQLiteGraph struct {
	path string
	db   *sql.DB
}

// NewSQLiteGraph opens (or creates) the database at path. An empty path or
// ":memory:" opens a private in-memory database.
func NewSQLiteGraph(path string) (*SQLiteGraph, error) {
	cleanPath := strings.TrimSpace(path)
	var dsn string
	if cleanPath == "" || cleanPath == ":memory:" {
		cleanPath = ":memory:"
		dsn = "file::memory:?_pragma=foreign_keys(ON)"
	} else {
		if dir := filepath.Dir(cleanPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: create directory %q: %w", dir, err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath)
	}

	db, err := sql.Open(sqliteDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", cleanPath, err)
	}
	// One connection: the in-memory database lives on it, and SQLite has a
	// single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %q: %w", cleanPath, err)
	}
	return &SQLiteGraph{path: cleanPath, db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteGraph) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---------- Schema setup ----------

var sqliteDDL = []string{
	`CREATE TABLE IF NOT EXISTS nodes (
		id    TEXT PRIMARY KEY,
		type  TEXT NOT NULL,
		nkey  TEXT NOT NULL DEFAULT '',
		attrs TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_type_key ON nodes(type, nkey)`,
	`CREATE TABLE IF NOT EXISTS edges (
		src  TEXT NOT NULL REFERENCES nodes(id),
		type TEXT NOT NULL,
		dst  TEXT NOT NULL REFERENCES nodes(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(src, type)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst, type)`,
}

// InitSchema creates the tables and indexes if they do not exist.
func (s *SQLiteGraph) InitSchema(ctx context.Context) error {
	for _, stmt := range sqliteDDL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init schema: %w", err)
		}
	}
	return nil
}

// ---------- Write operations ----------

// Apply writes the batch in one transaction, one prepared insert per row.
func (s *SQLiteGraph) Apply(ctx context.Context, b Batch) error {
	if err := checkBatch(b); err != nil {
		return fmt.Errorf("sqlite: apply: %w", err)
	}
	return s.inTx(ctx, "apply", func(tx *sql.Tx) error {
		if err := checkEndpoints(ctx, b, func(ctx context.Context, ids []string) ([]Node, error) {
			return sqliteGetNodes(ctx, tx, ids)
		}); err != nil {
			return err
		}

		nodeStmt, err := tx.PrepareContext(ctx, "INSERT INTO nodes (id, type, nkey, attrs) VALUES (?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("prepare node insert: %w", err)
		}
		defer nodeStmt.Close()
		for _, n := range b.Nodes {
			attrs, err := encodeAttrs(n.Attrs)
			if err != nil {
				return err
			}
			if _, err := nodeStmt.ExecContext(ctx, n.ID, n.Type, n.Key, attrs); err != nil {
				return fmt.Errorf("insert node %s: %w", n.ID, err)
			}
		}

		edgeStmt, err := tx.PrepareContext(ctx, "INSERT INTO edges (src, type, dst) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("prepare edge insert: %w", err)
		}
		defer edgeStmt.Close()
		for _, e := range b.Edges {
			if _, err := edgeStmt.ExecContext(ctx, e.From, e.Type, e.To); err != nil {
				return fmt.Errorf("insert edge %s -%s-> %s: %w", e.From, e.Type, e.To, err)
			}
		}
		return nil
	})
}

// Load writes the batch with multi-row inserts of sqliteChunk rows each.
func (s *SQLiteGraph) Load(ctx context.Context, b Batch) error {
	if err := checkBatch(b); err != nil {
		return fmt.Errorf("sqlite: load: %w", err)
	}
	return s.inTx(ctx, "load", func(tx *sql.Tx) error {
		if err := checkEndpoints(ctx, b, func(ctx context.Context, ids []string) ([]Node, error) {
			return sqliteGetNodes(ctx, tx, ids)
		}); err != nil {
			return err
		}
		for start := 0; start < len(b.Nodes); start += sqliteChunk {
			chunk := b.Nodes[start:min(start+sqliteChunk, len(b.Nodes))]
			args := make([]any, 0, len(chunk)*4)
			for _, n := range chunk {
				attrs, err := encodeAttrs(n.Attrs)
				if err != nil {
					return err
				}
				args = append(args, n.ID, n.Type, n.Key, attrs)
			}
			q := "INSERT INTO nodes (id, type, nkey, attrs) VALUES " + placeholders(len(chunk), 4)
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("bulk insert nodes: %w", err)
			}
		}
		for start := 0; start < len(b.Edges); start += sqliteChunk {
			chunk := b.Edges[start:min(start+sqliteChunk, len(b.Edges))]
			args := make([]any, 0, len(chunk)*3)
			for _, e := range chunk {
				args = append(args, e.From, e.Type, e.To)
			}
			q := "INSERT INTO edges (src, type, dst) VALUES " + placeholders(len(chunk), 3)
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("bulk insert edges: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteGraph) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: %s: begin: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlite: %s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: %s: commit: %w", op, err)
	}
	return nil
}

// placeholders renders rows groups of cols "?" markers.
func placeholders(rows, cols int) string {
	group := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	return strings.TrimSuffix(strings.Repeat(group+", ", rows), ", ")
}

// ---------- Read operations ----------

// FindNodes pushes type, key and link constraints into SQL; attribute
// filtering happens on the decoded rows.
func (s *SQLiteGraph) FindNodes(ctx context.Context, p Pattern) ([]Node, error) {
	var (
		where []string
		args  []any
	)
	if p.Type != "" {
		where = append(where, "n.type = ?")
		args = append(args, p.Type)
	}
	if p.Key != "" {
		where = append(where, "n.nkey = ?")
		args = append(args, p.Key)
	}
	for _, l := range p.Links {
		if l.Reverse {
			where = append(where, "EXISTS (SELECT 1 FROM edges e WHERE e.dst = n.id AND e.type = ? AND e.src = ?)")
		} else {
			where = append(where, "EXISTS (SELECT 1 FROM edges e WHERE e.src = n.id AND e.type = ? AND e.dst = ?)")
		}
		args = append(args, l.Relation, l.Target)
	}
	q := "SELECT n.id, n.type, n.nkey, n.attrs FROM nodes n"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY n.id"
	if p.Limit > 0 && len(p.Attrs) == 0 {
		q += fmt.Sprintf(" LIMIT %d", p.Limit)
	}

	nodes, err := sqliteScanNodes(ctx, s.db, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find nodes: %w", err)
	}
	return finishNodes(nodes, p), nil
}

// FindEdges returns edges matching p.
func (s *SQLiteGraph) FindEdges(ctx context.Context, p EdgePattern) ([]Edge, error) {
	var (
		where []string
		args  []any
	)
	if p.From != "" {
		where = append(where, "src = ?")
		args = append(args, p.From)
	}
	if p.Type != "" {
		where = append(where, "type = ?")
		args = append(args, p.Type)
	}
	if p.To != "" {
		where = append(where, "dst = ?")
		args = append(args, p.To)
	}
	q := "SELECT src, type, dst FROM edges"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY src, type, dst"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find edges: %w", err)
	}
	defer rows.Close()
	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.From, &e.Type, &e.To); err != nil {
			return nil, fmt.Errorf("sqlite: scan edge: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: find edges: %w", err)
	}
	return out, nil
}

// GetNodes returns the nodes among ids that exist, in id order.
func (s *SQLiteGraph) GetNodes(ctx context.Context, ids []string) ([]Node, error) {
	nodes, err := sqliteGetNodes(ctx, s.db, ids)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get nodes: %w", err)
	}
	return nodes, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqliteGetNodes(ctx context.Context, q queryer, ids []string) ([]Node, error) {
	var out []Node
	for start := 0; start < len(ids); start += sqliteChunk {
		chunk := ids[start:min(start+sqliteChunk, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := "SELECT id, type, nkey, attrs FROM nodes WHERE id IN " + placeholders(1, len(chunk))
		nodes, err := sqliteScanNodes(ctx, q, query, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	sortNodes(out)
	return out, nil
}

func sqliteScanNodes(ctx context.Context, q queryer, query string, args ...any) ([]Node, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Node
	for rows.Next() {
		var (
			n   Node
			raw string
		)
		if err := rows.Scan(&n.ID, &n.Type, &n.Key, &raw); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		if n.Attrs, err = decodeAttrs(raw); err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ---------- Durability ----------

// Sync folds the write-ahead log back into the database file.
func (s *SQLiteGraph) Sync(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("sqlite: checkpoint: %w", err)
	}
	return nil
}

// ---------- Stats ----------

// Stats returns node and edge counts per type.
func (s *SQLiteGraph) Stats(ctx context.Context) (*Stats, error) {
	st := newStats()
	for _, t := range []struct {
		query string
		into  map[string]int
		total *int
	}{
		{"SELECT type, count(*) FROM nodes GROUP BY type", st.NodesByType, &st.NodeCount},
		{"SELECT type, count(*) FROM edges GROUP BY type", st.EdgesByType, &st.EdgeCount},
	} {
		rows, err := s.db.QueryContext(ctx, t.query)
		if err != nil {
			return nil, fmt.Errorf("sqlite: stats: %w", err)
		}
		for rows.Next() {
			var (
				typ string
				n   int
			)
			if err := rows.Scan(&typ, &n); err != nil {
				rows.Close()
				return nil, fmt.Errorf("sqlite: stats: %w", err)
			}
			t.into[typ] = n
			*t.total += n
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("sqlite: stats: %w", err)
		}
	}
	return st, nil
}
