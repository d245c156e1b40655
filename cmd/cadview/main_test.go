package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/vanderheijden86/cadview/internal/demobackend"
	"github.com/vanderheijden86/cadview/pkg/app"
	"github.com/vanderheijden86/cadview/pkg/config"
	"github.com/vanderheijden86/cadview/pkg/export"
	"github.com/vanderheijden86/cadview/pkg/model"
)

func withDemoBackend(t *testing.T) *demobackend.Server {
	t.Helper()
	srv := demobackend.New(demobackend.WithMeshCells(12))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	prev := cfg
	cfg = config.DefaultConfig()
	cfg.Backend.URL = ts.URL
	t.Cleanup(func() { cfg = prev })
	return srv
}

func writeTree(t *testing.T, tree *model.AssemblyNode) string {
	t.Helper()
	data, err := json.Marshal(tree)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "tree.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadTree(t *testing.T) {
	path := writeTree(t, app.SampleTree())
	tree, err := readTree(path)
	if err != nil {
		t.Fatal(err)
	}
	if tree.ID != "root" || tree.Count() != 5 {
		t.Errorf("tree = %s with %d nodes", tree.ID, tree.Count())
	}

	wrapped := filepath.Join(t.TempDir(), "upload.json")
	data, _ := json.Marshal(model.UploadResult{Status: model.StatusSuccess, Tree: app.SampleTree()})
	if err := os.WriteFile(wrapped, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if tree, err := readTree(wrapped); err != nil || tree.Find("1-2") == nil {
		t.Errorf("upload response: %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readTree(bad); err == nil {
		t.Error("expected a parse error")
	}
}

func TestRunExport_FromTree(t *testing.T) {
	withDemoBackend(t)
	ctx := context.Background()
	tree := app.SampleTree()
	dir := t.TempDir()

	for _, format := range []string{export.FormatSVG, export.FormatPNG, export.FormatSQLite, export.FormatMarkdown} {
		out := filepath.Join(dir, "out"+export.DefaultExtension(format))
		wc := &export.WizardConfig{Format: format, OutputPath: out, Title: "Sample", IncludeFTS: true}
		if err := runExport(ctx, wc, tree, "1"); err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if info, err := os.Stat(out); err != nil || info.Size() == 0 {
			t.Errorf("%s: output missing or empty", format)
		}
	}
}

func TestRunExport_MarkdownNeedsTree(t *testing.T) {
	withDemoBackend(t)
	wc := &export.WizardConfig{Format: export.FormatMarkdown, OutputPath: filepath.Join(t.TempDir(), "x.md")}
	if err := runExport(context.Background(), wc, nil, ""); err == nil {
		t.Error("expected an error without a tree")
	}
	wc.Format = "pdf"
	if err := runExport(context.Background(), wc, app.SampleTree(), ""); err == nil {
		t.Error("expected an error for an unknown format")
	}
}

func TestRunExport_BackendDiagram(t *testing.T) {
	srv := withDemoBackend(t)
	srv.Load("robot")

	out := filepath.Join(t.TempDir(), "hasse.svg")
	wc := &export.WizardConfig{Format: export.FormatSVG, OutputPath: out}
	if err := runExport(context.Background(), wc, nil, ""); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Upper-arm (Part)") {
		t.Error("diagram is missing backend labels")
	}
}

func TestPrintTree(t *testing.T) {
	var buf bytes.Buffer
	printTree(&buf, app.SampleTree())
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("lines = %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[2], "    ") {
		t.Errorf("grandchild not indented: %q", lines[2])
	}

	buf.Reset()
	printTree(&buf, nil)
	if buf.String() != "(no tree)\n" {
		t.Errorf("nil tree = %q", buf.String())
	}
}

func TestNewLayouterDirection(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })

	cfg = config.DefaultConfig()
	cfg.Layout.Direction = "tb"
	if got := newLayouter().Options().Direction; got != "TB" {
		t.Errorf("direction = %s", got)
	}
	cfg.Layout.Direction = "BT"
	if got := newLayouter().Options().Direction; got != "BT" {
		t.Errorf("direction = %s", got)
	}
}
