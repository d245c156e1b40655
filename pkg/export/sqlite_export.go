// Package export writes snapshots of the current assembly: the containment
// diagram as SVG or PNG, and the tree plus laid-out diagram as a SQLite
// database for offline querying.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/vanderheijden86/cadview/pkg/debug"
	"github.com/vanderheijden86/cadview/pkg/hasse"
	"github.com/vanderheijden86/cadview/pkg/model"
	"github.com/vanderheijden86/cadview/pkg/version"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteExporter exports the tree and laid-out diagram to a SQLite file.
type SQLiteExporter struct {
	Tree       *model.AssemblyNode
	Diagram    *hasse.Diagram
	ModelToken string
	BackendURL string
	Config     SQLiteExportConfig

	now func() time.Time
}

// NewSQLiteExporter creates an exporter. Either argument may be nil; the
// corresponding tables are then left empty.
func NewSQLiteExporter(tree *model.AssemblyNode, diagram *hasse.Diagram) *SQLiteExporter {
	return &SQLiteExporter{
		Tree:    tree,
		Diagram: diagram,
		Config:  DefaultSQLiteExportConfig(),
		now:     time.Now,
	}
}

// Export writes the database to path, replacing any existing file.
func (e *SQLiteExporter) Export(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing database: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	dbClosed := false
	defer func() {
		if !dbClosed {
			db.Close()
		}
	}()

	if err := CreateSchema(db); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	nodes := FlattenTree(e.Tree)
	if err := e.insertNodes(ctx, db, nodes); err != nil {
		return fmt.Errorf("insert nodes: %w", err)
	}
	if err := e.insertDiagram(ctx, db, nodes); err != nil {
		return fmt.Errorf("insert diagram: %w", err)
	}

	if e.Config.IncludeFTS {
		if err := CreateFTSIndex(db); err != nil {
			debug.Logger().Warn("FTS5 not available", zap.Error(err))
		}
	}

	if err := CreateMaterializedViews(db); err != nil {
		return fmt.Errorf("create materialized views: %w", err)
	}

	if err := e.insertMeta(db, len(nodes)); err != nil {
		return fmt.Errorf("insert meta: %w", err)
	}

	if err := OptimizeDatabase(db, e.Config.PageSize); err != nil {
		return fmt.Errorf("optimize database: %w", err)
	}

	if err := db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	dbClosed = true

	debug.Logger().Info("sqlite snapshot written",
		zap.String("path", path),
		zap.Int("nodes", len(nodes)))
	return nil
}

// FlattenTree lists the tree in pre-order with parent links. Repeated ids
// keep their first occurrence.
func FlattenTree(tree *model.AssemblyNode) []ExportNode {
	var out []ExportNode
	seen := make(map[string]bool)
	var walk func(n *model.AssemblyNode, parent string, path []string, depth, pos int)
	walk = func(n *model.AssemblyNode, parent string, path []string, depth, pos int) {
		if n == nil {
			return
		}
		path = append(path, n.ID)
		if !seen[n.ID] {
			seen[n.ID] = true
			out = append(out, ExportNode{
				ID:       n.ID,
				Name:     n.Name,
				Kind:     n.Kind,
				ParentID: parent,
				Depth:    depth,
				Position: pos,
				Path:     strings.Join(path, "/"),
				Children: len(n.Children),
			})
		}
		for i, c := range n.Children {
			walk(c, n.ID, path, depth+1, i)
		}
	}
	walk(tree, "", nil, 0, 0)
	return out
}

func (e *SQLiteExporter) insertNodes(ctx context.Context, db *sql.DB, nodes []ExportNode) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (id, name, kind, parent_id, depth, position, path, child_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, n := range nodes {
		var parent any
		if n.ParentID != "" {
			parent = n.ParentID
		}
		if _, err := stmt.ExecContext(ctx, n.ID, n.Name, string(n.Kind), parent, n.Depth, n.Position, n.Path, n.Children); err != nil {
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

func (e *SQLiteExporter) insertDiagram(ctx context.Context, db *sql.DB, nodes []ExportNode) error {
	if e.Diagram.Empty() {
		return nil
	}
	inTree := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		inTree[n.ID] = true
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO diagram_nodes (id, label, x, y, width, height, in_tree)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer nodeStmt.Close()
	for _, n := range e.Diagram.Nodes {
		if _, err := nodeStmt.ExecContext(ctx, n.ID, n.Label, n.X, n.Y, n.Width, n.Height, boolInt(inTree[n.ID])); err != nil {
			return fmt.Errorf("insert diagram node %s: %w", n.ID, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `INSERT INTO diagram_edges (source, target, points) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer edgeStmt.Close()
	for _, ed := range e.Diagram.Edges {
		pts := make([][2]float64, len(ed.Points))
		for i, p := range ed.Points {
			pts[i] = [2]float64{p.X, p.Y}
		}
		data, err := json.Marshal(pts)
		if err != nil {
			return err
		}
		if _, err := edgeStmt.ExecContext(ctx, ed.Source, ed.Target, string(data)); err != nil {
			return fmt.Errorf("insert edge %s->%s: %w", ed.Source, ed.Target, err)
		}
	}

	for _, d := range e.Diagram.Dropped {
		if _, err := tx.ExecContext(ctx, `INSERT INTO dropped_edges (source, target, reason) VALUES (?, ?, ?)`,
			d.Source, d.Target, d.Reason); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (e *SQLiteExporter) insertMeta(db *sql.DB, nodeCount int) error {
	meta := ExportMeta{
		Version:     version.Version,
		GeneratedAt: e.now().UTC(),
		Title:       e.Config.Title,
		ModelToken:  e.ModelToken,
		BackendURL:  e.BackendURL,
		NodeCount:   nodeCount,
		SchemaVer:   SchemaVersion,
		Acyclic:     true,
	}
	if d := e.Diagram; d != nil {
		meta.DiagramNodes = len(d.Nodes)
		meta.DiagramEdges = len(d.Edges)
		meta.Dropped = len(d.Dropped)
		meta.Acyclic = d.Acyclic || len(d.Nodes) == 0
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	values := map[string]string{
		"meta":           string(data),
		"version":        meta.Version,
		"generated_at":   meta.GeneratedAt.Format(time.RFC3339),
		"schema_version": strconv.Itoa(SchemaVersion),
		"node_count":     strconv.Itoa(nodeCount),
	}
	if meta.ModelToken != "" {
		values["model_token"] = meta.ModelToken
	}
	for k, v := range values {
		if err := InsertMetaValue(db, k, v); err != nil {
			return fmt.Errorf("meta %s: %w", k, err)
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
