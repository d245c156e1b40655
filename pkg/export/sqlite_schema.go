package export

import (
	"database/sql"
	"fmt"
)

// Schema version for tracking migrations
const SchemaVersion = 1

// CreateSchema creates all tables and indexes in the database.
func CreateSchema(db *sql.DB) error {
	if err := createTreeTables(db); err != nil {
		return fmt.Errorf("create tree tables: %w", err)
	}

	if err := createDiagramTables(db); err != nil {
		return fmt.Errorf("create diagram tables: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}

	if err := createMetaTable(db); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}

	return nil
}

// createTreeTables creates the assembly tree table.
func createTreeTables(db *sql.DB) error {
	nodesSQL := `
		CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			parent_id TEXT,
			depth INTEGER NOT NULL,
			position INTEGER NOT NULL,
			path TEXT NOT NULL,
			child_count INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (parent_id) REFERENCES nodes(id)
		)
	`
	if _, err := db.Exec(nodesSQL); err != nil {
		return fmt.Errorf("create nodes table: %w", err)
	}
	return nil
}

// createDiagramTables creates the laid-out diagram tables.
func createDiagramTables(db *sql.DB) error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"diagram_nodes", `
			CREATE TABLE IF NOT EXISTS diagram_nodes (
				id TEXT PRIMARY KEY,
				label TEXT NOT NULL,
				x REAL NOT NULL,
				y REAL NOT NULL,
				width REAL NOT NULL,
				height REAL NOT NULL,
				in_tree INTEGER NOT NULL DEFAULT 0
			)
		`},
		{"diagram_edges", `
			CREATE TABLE IF NOT EXISTS diagram_edges (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				source TEXT NOT NULL,
				target TEXT NOT NULL,
				points TEXT NOT NULL,
				FOREIGN KEY (source) REFERENCES diagram_nodes(id),
				FOREIGN KEY (target) REFERENCES diagram_nodes(id)
			)
		`},
		{"dropped_edges", `
			CREATE TABLE IF NOT EXISTS dropped_edges (
				source TEXT NOT NULL,
				target TEXT NOT NULL,
				reason TEXT NOT NULL
			)
		`},
	}
	for _, s := range stmts {
		if _, err := db.Exec(s.sql); err != nil {
			return fmt.Errorf("create %s table: %w", s.name, err)
		}
	}
	return nil
}

func createIndexes(db *sql.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_kind ON nodes(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON diagram_edges(source)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON diagram_edges(target)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func createMetaTable(db *sql.DB) error {
	metaSQL := `
		CREATE TABLE IF NOT EXISTS export_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`
	if _, err := db.Exec(metaSQL); err != nil {
		return fmt.Errorf("create export_meta table: %w", err)
	}
	return nil
}

// CreateFTSIndex creates a full-text index over node names and ids.
// modernc.org/sqlite ships FTS5.
func CreateFTSIndex(db *sql.DB) error {
	ftsSQL := `
		CREATE VIRTUAL TABLE IF NOT EXISTS nodes_fts USING fts5(
			id,
			name,
			content='nodes',
			content_rowid='rowid'
		)
	`
	if _, err := db.Exec(ftsSQL); err != nil {
		return fmt.Errorf("create FTS table: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO nodes_fts(rowid, id, name) SELECT rowid, id, name FROM nodes`); err != nil {
		return fmt.Errorf("populate FTS: %w", err)
	}
	return nil
}

// CreateMaterializedViews creates summary tables computed once at export.
func CreateMaterializedViews(db *sql.DB) error {
	kindSQL := `
		CREATE TABLE IF NOT EXISTS kind_counts AS
		SELECT kind, COUNT(*) AS count, MAX(depth) AS max_depth
		FROM nodes
		GROUP BY kind
	`
	if _, err := db.Exec(kindSQL); err != nil {
		return fmt.Errorf("create kind_counts: %w", err)
	}

	// Tree nodes the diagram knows nothing about, and the reverse.
	crossSQL := `
		CREATE VIEW IF NOT EXISTS unmatched_ids AS
		SELECT id, 'tree' AS side FROM nodes WHERE id NOT IN (SELECT id FROM diagram_nodes)
		UNION ALL
		SELECT id, 'diagram' AS side FROM diagram_nodes WHERE in_tree = 0
	`
	if _, err := db.Exec(crossSQL); err != nil {
		return fmt.Errorf("create unmatched_ids: %w", err)
	}
	return nil
}

// OptimizeDatabase compacts the file.
func OptimizeDatabase(db *sql.DB, pageSize int) error {
	if pageSize <= 0 {
		pageSize = 1024
	}

	optimizations := []string{
		`PRAGMA journal_mode=DELETE`,
		fmt.Sprintf(`PRAGMA page_size=%d`, pageSize),
		`ANALYZE`,
		`PRAGMA optimize`,
	}

	for _, stmt := range optimizations {
		if _, err := db.Exec(stmt); err != nil {
			// Some pragmas may fail depending on state, continue
			continue
		}
	}

	_, _ = db.Exec(`INSERT INTO nodes_fts(nodes_fts) VALUES('optimize')`)

	// VACUUM must be last and outside transaction
	if _, err := db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}

	return nil
}

// InsertMetaValue inserts or updates a metadata key-value pair.
func InsertMetaValue(db *sql.DB, key, value string) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO export_meta (key, value) VALUES (?, ?)`, key, value)
	return err
}
