package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// neo4jChunk bounds the rows per UNWIND on the bulk path.
const neo4jChunk = 1000

// Compile-time check that Neo4jGraph satisfies Engine.
var _ Engine = (*Neo4jGraph)(nil)

// Neo4jConfig holds Neo4j connection settings.
type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

// Neo4jGraph implements Engine on Neo4j. Every entity is an :Entity node and
// every relation a :LINK relationship carrying its type as a property, so the
// database schema does not depend on the entity declarations.
type Neo4jGraph struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jGraph connects and verifies connectivity.
func NewNeo4jGraph(ctx context.Context, cfg Neo4jConfig) (*Neo4jGraph, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("neo4j: uri required")
	}
	user := cfg.User
	if user == "" {
		user = "neo4j"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(user, cfg.Password, ""), func(c *neo4j.Config) {
		c.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}
	return &Neo4jGraph{driver: driver, database: cfg.Database}, nil
}

// Close releases the driver.
func (g *Neo4jGraph) Close() error {
	if g.driver == nil {
		return nil
	}
	err := g.driver.Close(context.Background())
	g.driver = nil
	return err
}

func (g *Neo4jGraph) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: g.database})
}

// ---------- Schema setup ----------

var neo4jDDL = []string{
	"CREATE CONSTRAINT cg_entity_id IF NOT EXISTS FOR (n:Entity) REQUIRE n.id IS UNIQUE",
	"CREATE INDEX cg_entity_type_key IF NOT EXISTS FOR (n:Entity) ON (n.type, n.nkey)",
}

// InitSchema creates the id constraint and the natural-key index.
func (g *Neo4jGraph) InitSchema(ctx context.Context) error {
	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	for _, stmt := range neo4jDDL {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("neo4j: init schema: %w", err)
		}
	}
	return nil
}

// ---------- Write operations ----------

const (
	neo4jCreateNodes = `UNWIND $rows AS row
		CREATE (n:Entity {id: row.id, type: row.type, nkey: row.nkey, attrs: row.attrs})`
	neo4jCreateEdges = `UNWIND $rows AS row
		MATCH (a:Entity {id: row.from}), (b:Entity {id: row.to})
		CREATE (a)-[:LINK {type: row.type}]->(b)`
)

// Apply writes the whole batch inside one managed write transaction.
func (g *Neo4jGraph) Apply(ctx context.Context, b Batch) error {
	if err := checkBatch(b); err != nil {
		return fmt.Errorf("neo4j: apply: %w", err)
	}
	nodeRows, err := neo4jNodeRows(b.Nodes)
	if err != nil {
		return fmt.Errorf("neo4j: apply: %w", err)
	}
	edgeRows := neo4jEdgeRows(b.Edges)

	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := checkEndpoints(ctx, b, func(ctx context.Context, ids []string) ([]Node, error) {
			return neo4jGetNodes(ctx, tx, ids)
		}); err != nil {
			return nil, err
		}
		if len(nodeRows) > 0 {
			if err := neo4jRun(ctx, tx, neo4jCreateNodes, nodeRows); err != nil {
				return nil, err
			}
		}
		if len(edgeRows) > 0 {
			if err := neo4jRun(ctx, tx, neo4jCreateEdges, edgeRows); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j: apply: %w", err)
	}
	return nil
}

// Load checks endpoints once, then writes nodes and edges in UNWIND chunks of
// neo4jChunk rows, one transaction per chunk.
func (g *Neo4jGraph) Load(ctx context.Context, b Batch) error {
	if err := checkBatch(b); err != nil {
		return fmt.Errorf("neo4j: load: %w", err)
	}
	if err := checkEndpoints(ctx, b, g.GetNodes); err != nil {
		return fmt.Errorf("neo4j: load: %w", err)
	}
	nodeRows, err := neo4jNodeRows(b.Nodes)
	if err != nil {
		return fmt.Errorf("neo4j: load: %w", err)
	}
	edgeRows := neo4jEdgeRows(b.Edges)

	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	for _, step := range []struct {
		cypher string
		rows   []map[string]any
	}{{neo4jCreateNodes, nodeRows}, {neo4jCreateEdges, edgeRows}} {
		for start := 0; start < len(step.rows); start += neo4jChunk {
			chunk := step.rows[start:min(start+neo4jChunk, len(step.rows))]
			if _, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
				return nil, neo4jRun(ctx, tx, step.cypher, chunk)
			}); err != nil {
				return fmt.Errorf("neo4j: load: %w", err)
			}
		}
	}
	return nil
}

func neo4jRun(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, rows []map[string]any) error {
	res, err := tx.Run(ctx, cypher, map[string]any{"rows": rows})
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func neo4jNodeRows(nodes []Node) ([]map[string]any, error) {
	rows := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		attrs, err := encodeAttrs(n.Attrs)
		if err != nil {
			return nil, err
		}
		rows = append(rows, map[string]any{"id": n.ID, "type": n.Type, "nkey": n.Key, "attrs": attrs})
	}
	return rows, nil
}

func neo4jEdgeRows(edges []Edge) []map[string]any {
	rows := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, map[string]any{"from": e.From, "type": e.Type, "to": e.To})
	}
	return rows
}

// ---------- Read operations ----------

// FindNodes pushes type, key and link constraints into Cypher; attribute
// filtering happens on the decoded rows.
func (g *Neo4jGraph) FindNodes(ctx context.Context, p Pattern) ([]Node, error) {
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
			where = append(where, fmt.Sprintf("(:Entity {id: $%s})-[:LINK {type: $%s}]->(n)", target, rel))
		} else {
			where = append(where, fmt.Sprintf("(n)-[:LINK {type: $%s}]->(:Entity {id: $%s})", rel, target))
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
		cypher += " LIMIT $limit"
		params["limit"] = int64(p.Limit)
	}

	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return neo4jCollectNodes(ctx, tx, cypher, params)
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: find nodes: %w", err)
	}
	return finishNodes(out.([]Node), p), nil
}

// FindEdges returns edges matching p.
func (g *Neo4jGraph) FindEdges(ctx context.Context, p EdgePattern) ([]Edge, error) {
	var where []string
	params := map[string]any{}
	if p.From != "" {
		where = append(where, "a.id = $from")
		params["from"] = p.From
	}
	if p.Type != "" {
		where = append(where, "r.type = $type")
		params["type"] = p.Type
	}
	if p.To != "" {
		where = append(where, "b.id = $to")
		params["to"] = p.To
	}
	cypher := "MATCH (a:Entity)-[r:LINK]->(b:Entity)"
	if len(where) > 0 {
		cypher += " WHERE " + strings.Join(where, " AND ")
	}
	cypher += " RETURN a.id, r.type, b.id ORDER BY a.id, r.type, b.id"

	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		edges := make([]Edge, 0, len(records))
		for _, rec := range records {
			edges = append(edges, Edge{
				From: toString(rec.Values[0]),
				Type: toString(rec.Values[1]),
				To:   toString(rec.Values[2]),
			})
		}
		return edges, nil
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: find edges: %w", err)
	}
	return out.([]Edge), nil
}

// GetNodes returns the nodes among ids that exist, in id order.
func (g *Neo4jGraph) GetNodes(ctx context.Context, ids []string) ([]Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return neo4jGetNodes(ctx, tx, ids)
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: get nodes: %w", err)
	}
	return out.([]Node), nil
}

func neo4jGetNodes(ctx context.Context, tx neo4j.ManagedTransaction, ids []string) ([]Node, error) {
	return neo4jCollectNodes(ctx, tx,
		"MATCH (n:Entity) WHERE n.id IN $ids RETURN n.id, n.type, n.nkey, n.attrs ORDER BY n.id",
		map[string]any{"ids": ids})
}

func neo4jCollectNodes(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) ([]Node, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(records))
	for _, rec := range records {
		n := Node{
			ID:   toString(rec.Values[0]),
			Type: toString(rec.Values[1]),
			Key:  toString(rec.Values[2]),
		}
		if n.Attrs, err = decodeAttrs(toString(rec.Values[3])); err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Sync is a no-op: committed Neo4j transactions are durable.
func (g *Neo4jGraph) Sync(_ context.Context) error {
	return nil
}

// ---------- Stats ----------

// Stats returns node and edge counts per type.
func (g *Neo4jGraph) Stats(ctx context.Context) (*Stats, error) {
	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		st := newStats()
		for _, q := range []struct {
			cypher string
			into   map[string]int
			total  *int
		}{
			{"MATCH (n:Entity) RETURN n.type, count(n)", st.NodesByType, &st.NodeCount},
			{"MATCH (:Entity)-[r:LINK]->(:Entity) RETURN r.type, count(r)", st.EdgesByType, &st.EdgeCount},
		} {
			res, err := tx.Run(ctx, q.cypher, nil)
			if err != nil {
				return nil, err
			}
			records, err := res.Collect(ctx)
			if err != nil {
				return nil, err
			}
			for _, rec := range records {
				n := toInt(rec.Values[1])
				q.into[toString(rec.Values[0])] = n
				*q.total += n
			}
		}
		return st, nil
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: stats: %w", err)
	}
	return out.(*Stats), nil
}
