package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteGraph is an embedded GraphStore. Nodes and edges live in two
// tables; lookups match query tokens against node names.
type SQLiteGraph struct {
	db *sql.DB
}

// NewSQLiteGraph wraps db and ensures schema.
func NewSQLiteGraph(db *sql.DB) (*SQLiteGraph, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureGraphSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteGraph{db: db}, nil
}

// OpenSQLiteGraph opens (or creates) the database file at path.
func OpenSQLiteGraph(path string) (*SQLiteGraph, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteGraph(db)
}

func (g *SQLiteGraph) UpsertNode(ctx context.Context, node Node) error {
	props := ""
	if len(node.Props) > 0 {
		data, err := json.Marshal(node.Props)
		if err != nil {
			return err
		}
		props = string(data)
	}
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO graph_nodes (id, kind, name, props_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			props_json = excluded.props_json,
			updated_at = excluded.updated_at
	`, node.ID, node.Kind, node.Name, props, time.Now().UTC())
	return err
}

func (g *SQLiteGraph) UpsertEdge(ctx context.Context, edge Edge) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO graph_edges (src, rel, dst, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(src, rel, dst) DO UPDATE SET updated_at = excluded.updated_at
	`, edge.From, edge.Relation, edge.To, time.Now().UTC())
	return err
}

// Context matches query tokens against node names and describes the
// matched nodes with their immediate neighborhood.
func (g *SQLiteGraph) Context(ctx context.Context, query string) (string, error) {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return "", nil
	}

	seen := make(map[string]bool)
	var lines []string
	for _, token := range tokens {
		rows, err := g.db.QueryContext(ctx, `
			SELECT id, kind, name FROM graph_nodes
			WHERE lower(name) LIKE ? LIMIT 5
		`, "%"+token+"%")
		if err != nil {
			return "", err
		}
		for rows.Next() {
			var id, kind, name string
			if err := rows.Scan(&id, &kind, &name); err != nil {
				rows.Close()
				return "", err
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			line, err := g.describeNode(ctx, id, kind, name)
			if err != nil {
				rows.Close()
				return "", err
			}
			lines = append(lines, line)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return "", err
		}
		rows.Close()
	}
	return strings.Join(lines, "\n"), nil
}

func (g *SQLiteGraph) describeNode(ctx context.Context, id, kind, name string) (string, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT e.rel, n.name
		FROM graph_edges e JOIN graph_nodes n ON n.id = e.dst
		WHERE e.src = ?
		UNION ALL
		SELECT e.rel || ' (incoming)', n.name
		FROM graph_edges e JOIN graph_nodes n ON n.id = e.src
		WHERE e.dst = ?
		LIMIT 10
	`, id, id)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var relations []string
	for rows.Next() {
		var rel, neighbor string
		if err := rows.Scan(&rel, &neighbor); err != nil {
			return "", err
		}
		relations = append(relations, fmt.Sprintf("%s %s", rel, neighbor))
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	line := fmt.Sprintf("- %s %q", kind, name)
	if len(relations) > 0 {
		line += ": " + strings.Join(relations, ", ")
	}
	return line, nil
}

func (g *SQLiteGraph) Stats(ctx context.Context) (GraphStats, error) {
	stats := GraphStats{Nodes: map[string]int{}, Edges: map[string]int{}}

	rows, err := g.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM graph_nodes GROUP BY kind`)
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			rows.Close()
			return stats, err
		}
		stats.Nodes[kind] = count
	}
	rows.Close()

	rows, err = g.db.QueryContext(ctx, `SELECT rel, COUNT(*) FROM graph_edges GROUP BY rel`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var rel string
		var count int
		if err := rows.Scan(&rel, &count); err != nil {
			return stats, err
		}
		stats.Edges[rel] = count
	}
	return stats, rows.Err()
}

// Close closes the underlying database.
func (g *SQLiteGraph) Close() error {
	return g.db.Close()
}

// queryTokens extracts lowercase words worth matching against node names.
func queryTokens(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '-' || r == '_')
	})
	var out []string
	seen := make(map[string]bool)
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "what": true, "with": true,
	"how": true, "why": true, "are": true, "can": true, "you": true,
	"please": true, "show": true, "tell": true, "about": true,
}

func ensureGraphSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS graph_nodes (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			props_json TEXT,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS graph_edges (
			src TEXT NOT NULL,
			rel TEXT NOT NULL,
			dst TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (src, rel, dst)
		);
		CREATE INDEX IF NOT EXISTS idx_graph_nodes_name ON graph_nodes(name);
		CREATE INDEX IF NOT EXISTS idx_graph_edges_dst ON graph_edges(dst);
	`)
	return err
}
