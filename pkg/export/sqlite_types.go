package export

import (
	"time"

	"github.com/vanderheijden86/cadview/pkg/model"
)

// ExportNode is one assembly node as stored in the nodes table.
type ExportNode struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Kind     model.Kind `json:"type"`
	ParentID string     `json:"parent_id,omitempty"`
	Depth    int        `json:"depth"`
	Position int        `json:"position"` // index among siblings
	Path     string     `json:"path"`     // slash-joined ancestor ids, root first
	Children int        `json:"children"`
}

// ExportMeta describes one export.
type ExportMeta struct {
	Version      string    `json:"version"`
	GeneratedAt  time.Time `json:"generated_at"`
	Title        string    `json:"title,omitempty"`
	ModelToken   string    `json:"model_token,omitempty"`
	BackendURL   string    `json:"backend_url,omitempty"`
	NodeCount    int       `json:"node_count"`
	DiagramNodes int       `json:"diagram_nodes"`
	DiagramEdges int       `json:"diagram_edges"`
	Dropped      int       `json:"dropped_edges"`
	Acyclic      bool      `json:"acyclic"`
	SchemaVer    int       `json:"schema_version"`
}

// SQLiteExportConfig configures the SQLite export.
type SQLiteExportConfig struct {
	// Title is stored in the metadata table.
	Title string

	// PageSize is the SQLite page size.
	// Default: 1024
	PageSize int

	// IncludeFTS builds the full-text index over node names.
	IncludeFTS bool
}

// DefaultSQLiteExportConfig returns sensible defaults for export configuration.
func DefaultSQLiteExportConfig() SQLiteExportConfig {
	return SQLiteExportConfig{
		PageSize:   1024,
		IncludeFTS: true,
	}
}
