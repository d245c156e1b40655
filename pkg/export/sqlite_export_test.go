package export

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"github.com/vanderheijden86/cadview/pkg/model"

	_ "modernc.org/sqlite"
)

func openExport(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func queryInt(t *testing.T, db *sql.DB, q string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(q, args...).Scan(&n); err != nil {
		t.Fatalf("%s: %v", q, err)
	}
	return n
}

func TestSQLiteExport_TreeAndDiagram(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap", "cadview.db")
	exp := NewSQLiteExporter(sampleTree(), sampleDiagram())
	exp.ModelToken = "tok-1"
	exp.Config.Title = "Robot"
	exp.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	if err := exp.Export(context.Background(), path); err != nil {
		t.Fatalf("Export: %v", err)
	}
	db := openExport(t, path)

	if n := queryInt(t, db, `SELECT COUNT(*) FROM nodes`); n != 5 {
		t.Errorf("nodes = %d, want 5", n)
	}
	if n := queryInt(t, db, `SELECT COUNT(*) FROM diagram_nodes`); n != 5 {
		t.Errorf("diagram_nodes = %d, want 5", n)
	}
	if n := queryInt(t, db, `SELECT COUNT(*) FROM diagram_edges`); n != 4 {
		t.Errorf("diagram_edges = %d, want 4", n)
	}
	if n := queryInt(t, db, `SELECT COUNT(*) FROM unmatched_ids`); n != 0 {
		t.Errorf("unmatched_ids = %d, want 0", n)
	}

	var parent, nodePath string
	if err := db.QueryRow(`SELECT parent_id, path FROM nodes WHERE id = ?`, "1-2").Scan(&parent, &nodePath); err != nil {
		t.Fatal(err)
	}
	if parent != "1" || nodePath != "root/1/1-2" {
		t.Errorf("1-2: parent=%q path=%q", parent, nodePath)
	}

	if n := queryInt(t, db, `SELECT count FROM kind_counts WHERE kind = ?`, string(model.KindAssembly)); n != 3 {
		t.Errorf("assembly count = %d, want 3", n)
	}

	var raw string
	if err := db.QueryRow(`SELECT value FROM export_meta WHERE key = 'meta'`).Scan(&raw); err != nil {
		t.Fatal(err)
	}
	var meta ExportMeta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		t.Fatalf("meta json: %v", err)
	}
	if meta.ModelToken != "tok-1" || meta.NodeCount != 5 || meta.SchemaVer != SchemaVersion || !meta.Acyclic {
		t.Errorf("meta = %+v", meta)
	}
	if meta.Title != "Robot" {
		t.Errorf("title = %q", meta.Title)
	}

	var pts string
	if err := db.QueryRow(`SELECT points FROM diagram_edges LIMIT 1`).Scan(&pts); err != nil {
		t.Fatal(err)
	}
	var decoded [][2]float64
	if err := json.Unmarshal([]byte(pts), &decoded); err != nil || len(decoded) < 2 {
		t.Errorf("points = %q (%v)", pts, err)
	}
}

func TestSQLiteExport_NilInputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	if err := NewSQLiteExporter(nil, nil).Export(context.Background(), path); err != nil {
		t.Fatalf("Export: %v", err)
	}
	db := openExport(t, path)
	if n := queryInt(t, db, `SELECT COUNT(*) FROM nodes`); n != 0 {
		t.Errorf("nodes = %d", n)
	}
	if n := queryInt(t, db, `SELECT COUNT(*) FROM export_meta WHERE key = 'schema_version'`); n != 1 {
		t.Error("schema_version missing")
	}
}

func TestSQLiteExport_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	ctx := context.Background()
	if err := NewSQLiteExporter(sampleTree(), nil).Export(ctx, path); err != nil {
		t.Fatal(err)
	}
	small := &model.AssemblyNode{ID: "only", Name: "Only", Kind: model.KindPart}
	if err := NewSQLiteExporter(small, nil).Export(ctx, path); err != nil {
		t.Fatal(err)
	}
	if n := queryInt(t, openExport(t, path), `SELECT COUNT(*) FROM nodes`); n != 1 {
		t.Errorf("nodes = %d, want 1", n)
	}
}

func TestFlattenTree(t *testing.T) {
	got := FlattenTree(sampleTree())
	want := []ExportNode{
		{ID: "root", Name: "Robot-EBOM", Kind: model.KindAssembly, Depth: 0, Path: "root", Children: 2},
		{ID: "1", Name: "Arm-Assembly", Kind: model.KindAssembly, ParentID: "root", Depth: 1, Path: "root/1", Children: 2},
		{ID: "1-1", Name: "Upper-arm", Kind: model.KindPart, ParentID: "1", Depth: 2, Path: "root/1/1-1"},
		{ID: "1-2", Name: "Lower-arm", Kind: model.KindPart, ParentID: "1", Depth: 2, Position: 1, Path: "root/1/1-2"},
		{ID: "2", Name: "Base-Assembly", Kind: model.KindAssembly, ParentID: "root", Depth: 1, Position: 1, Path: "root/2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FlattenTree mismatch (-want +got):\n%s", diff)
	}
	if got := FlattenTree(nil); len(got) != 0 {
		t.Errorf("nil tree = %v", got)
	}
}

func TestFlattenTree_SharedIDKeepsFirst(t *testing.T) {
	shared := &model.AssemblyNode{ID: "bolt", Name: "Bolt", Kind: model.KindPart}
	tree := &model.AssemblyNode{ID: "r", Name: "R", Kind: model.KindAssembly, Children: []*model.AssemblyNode{
		{ID: "a", Name: "A", Kind: model.KindAssembly, Children: []*model.AssemblyNode{shared}},
		{ID: "b", Name: "B", Kind: model.KindAssembly, Children: []*model.AssemblyNode{shared}},
	}}
	var bolts []ExportNode
	for _, n := range FlattenTree(tree) {
		if n.ID == "bolt" {
			bolts = append(bolts, n)
		}
	}
	if len(bolts) != 1 || bolts[0].ParentID != "a" {
		t.Errorf("bolt rows = %+v", bolts)
	}
}
