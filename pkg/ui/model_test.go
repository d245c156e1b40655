package ui

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vanderheijden86/cadview/pkg/app"
	"github.com/vanderheijden86/cadview/pkg/hasse"
	"github.com/vanderheijden86/cadview/pkg/mesh"
	"github.com/vanderheijden86/cadview/pkg/model"
	"github.com/vanderheijden86/cadview/pkg/viewer"
	"github.com/vanderheijden86/cadview/pkg/voice"
)

// fakeBackend serves uploads, meshes, the diagram and voice commands.
type fakeBackend struct {
	mu        sync.Mutex
	uploadErr error
	tree      *model.AssemblyNode
	fetched   []string
	voiceRes  *model.VoiceResult
}

func (b *fakeBackend) ModelURL(token string) string  { return "mem://model?t=" + token }
func (b *fakeBackend) ComponentURL(id string) string { return "mem://component/" + id }

func (b *fakeBackend) Upload(context.Context, string) (*model.UploadResult, error) {
	if b.uploadErr != nil {
		return nil, b.uploadErr
	}
	return &model.UploadResult{Status: "success", Tree: b.tree}, nil
}

func (b *fakeBackend) FetchMesh(_ context.Context, url string) ([]byte, error) {
	b.mu.Lock()
	b.fetched = append(b.fetched, url)
	b.mu.Unlock()
	m := &mesh.Mesh{Name: "cube", Triangles: []mesh.Triangle{{
		V: [3]mesh.Vec3{{X: 0, Y: 0, Z: 0}, {X: 10, Y: 0, Z: 0}, {X: 0, Y: 10, Z: 0}},
	}}}
	return m.Bytes(), nil
}

func (b *fakeBackend) Hasse(context.Context) (*model.HasseGraph, error) {
	return &model.HasseGraph{
		Nodes: []model.GraphNode{{ID: "root", Label: "Robot"}, {ID: "1", Label: "Arm"}},
		Edges: []model.GraphEdge{{Source: "1", Target: "root"}},
	}, nil
}

func (b *fakeBackend) Voice(context.Context, string, io.Reader) (*model.VoiceResult, error) {
	return b.voiceRes, nil
}

type fakeCapture struct{}

func (fakeCapture) Stop() ([]byte, error) { return []byte("RIFF"), nil }
func (fakeCapture) Close() error          { return nil }

type fakeRecorder struct{ err error }

func (r fakeRecorder) Start(context.Context) (voice.Capture, error) {
	if r.err != nil {
		return nil, r.err
	}
	return fakeCapture{}, nil
}

func newTestModel(t *testing.T, b *fakeBackend, rec voice.Recorder) (Model, *app.Shell) {
	t.Helper()
	shell := app.New(b)
	m := NewModel(shell, Options{
		Viewer: viewer.New(b),
		Hasse:  b,
		Voice:  voice.NewPanel(rec, b),
	})
	t.Cleanup(m.Close)
	return m, shell
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return nm, cmd
}

func TestModel_SelectFromTree(t *testing.T) {
	b := &fakeBackend{}
	m, shell := newTestModel(t, b, fakeRecorder{})

	m, _ = update(t, m, key("j"))
	m, _ = update(t, m, key("enter"))
	if id, ok := shell.Selection().Current(); !ok || id != "1" {
		t.Fatalf("selection = %q,%v, want 1", id, ok)
	}

	m.sync()
	if !m.hasSelection || m.selectedID != "1" {
		t.Errorf("model did not observe selection: %q %v", m.selectedID, m.hasSelection)
	}
	if got := shell.Snapshot().MessageText(); got != "Selected node: 1" {
		t.Errorf("message = %q", got)
	}

	m, _ = update(t, m, key("r"))
	if _, ok := shell.Selection().Current(); ok {
		t.Error("reset kept the selection")
	}
}

func TestModel_UploadRebuildsTreeAndLoadsScene(t *testing.T) {
	b := &fakeBackend{tree: &model.AssemblyNode{
		ID: "g", Name: "Gripper", Kind: model.KindAssembly,
		Children: []*model.AssemblyNode{{ID: "jaw", Name: "Jaw", Kind: model.KindPart}},
	}}
	m, shell := newTestModel(t, b, fakeRecorder{})

	if err := shell.UploadModel(context.Background(), "gripper.step"); err != nil {
		t.Fatal(err)
	}
	cmd := m.sync()
	if got := m.tree.CursorID(); got != "g" {
		t.Errorf("tree not rebuilt, cursor = %q", got)
	}
	if m.token == "" {
		t.Fatal("token not observed")
	}
	if cmd == nil {
		t.Fatal("no scene load scheduled")
	}
	msg, ok := cmd().(sceneLoadedMsg)
	if !ok {
		t.Fatalf("cmd produced %T", msg)
	}
	m, _ = update(t, m, msg)
	if m.viewer.Scene().Placeholder() {
		t.Error("scene still a placeholder after load")
	}
	if out := m.viewer.View(); !strings.Contains(out, "1 facets") {
		t.Errorf("viewer caption:\n%s", out)
	}

	// Same token and selection: nothing to reload.
	if cmd := m.refreshScene(); cmd != nil {
		t.Error("unchanged projection scheduled a reload")
	}
}

func TestModel_StaleSceneDropped(t *testing.T) {
	b := &fakeBackend{}
	m, _ := newTestModel(t, b, fakeRecorder{})
	m.sceneGen = 2
	scene := &viewer.Scene{Base: &mesh.Mesh{}}
	m, _ = update(t, m, sceneLoadedMsg{gen: 1, scene: scene})
	if m.viewer.Scene() == scene {
		t.Error("stale scene applied")
	}
	m, _ = update(t, m, sceneLoadedMsg{gen: 2, scene: scene})
	if m.viewer.Scene() != scene {
		t.Error("current scene not applied")
	}
}

func TestModel_UploadFailureRaisesBanner(t *testing.T) {
	b := &fakeBackend{uploadErr: errors.New("connection refused")}
	m, shell := newTestModel(t, b, fakeRecorder{})
	before := shell.Tree()

	msg := uploadCmd(context.Background(), shell, "robot.step")()
	m, _ = update(t, m, msg)
	if !m.statusIsError || !strings.Contains(m.statusMsg, "connection refused") {
		t.Errorf("status = %q (error=%v)", m.statusMsg, m.statusIsError)
	}
	m.sync()
	if !strings.HasPrefix(m.banner, "Failed to upload model") {
		t.Errorf("banner = %q", m.banner)
	}
	if shell.Tree() != before {
		t.Error("failed upload replaced the tree")
	}
	if out := m.View(); !strings.Contains(out, "Failed to upload model") {
		t.Errorf("banner not rendered:\n%s", out)
	}

	m, _ = update(t, m, key("x"))
	m.sync()
	if m.banner != "" {
		t.Errorf("banner after ack = %q", m.banner)
	}
}

func TestModel_DiagramSelectsNode(t *testing.T) {
	b := &fakeBackend{}
	m, shell := newTestModel(t, b, fakeRecorder{})

	m, cmd := update(t, m, key("d"))
	if !m.showDiagram || cmd == nil {
		t.Fatal("diagram not opened")
	}
	view := m.rt.hasseVw
	m, _ = update(t, m, cmd())
	if m.diagram.Diagram().Empty() {
		t.Fatal("diagram not loaded")
	}
	if view.State() != hasse.StateReady {
		t.Errorf("view state = %v", view.State())
	}

	m, _ = update(t, m, key("enter"))
	if id, ok := shell.Selection().Current(); !ok || id != m.diagram.CursorID() {
		t.Errorf("selection = %q, want diagram cursor %q", id, m.diagram.CursorID())
	}

	m, _ = update(t, m, key("esc"))
	if m.showDiagram || !view.Closed() {
		t.Error("esc did not close and unmount the diagram")
	}

	// A late result from the closed view is ignored.
	m, _ = update(t, m, hasseLoadedMsg{view: view})
	if m.showDiagram {
		t.Error("late diagram result reopened the modal")
	}
}

func TestModel_VoiceCommand(t *testing.T) {
	b := &fakeBackend{voiceRes: &model.VoiceResult{
		Transcription: "make the arm longer",
		Modified:      true,
	}}
	m, shell := newTestModel(t, b, fakeRecorder{})

	m, cmd := update(t, m, key("v"))
	if cmd == nil {
		t.Fatal("no start command")
	}
	m, _ = update(t, m, cmd())
	if m.voiceState != voice.StateRecording {
		t.Fatalf("voice state = %v", m.voiceState)
	}

	m, cmd = update(t, m, key("v"))
	if cmd == nil {
		t.Fatal("no stop command")
	}
	m, _ = update(t, m, cmd())
	if m.voiceState != voice.StateIdle {
		t.Errorf("voice state after dispatch = %v", m.voiceState)
	}
	snap := shell.Snapshot()
	if snap.Message != "make the arm longer" {
		t.Errorf("message = %q", snap.Message)
	}
	if !snap.Loaded() {
		t.Error("modified result did not change the model token")
	}
}

func TestModel_VoicePermissionFailure(t *testing.T) {
	b := &fakeBackend{}
	m, _ := newTestModel(t, b, fakeRecorder{err: errors.New("permission denied")})

	m, cmd := update(t, m, key("v"))
	m, _ = update(t, m, cmd())
	if !m.statusIsError || !strings.Contains(m.statusMsg, "permission denied") {
		t.Errorf("status = %q", m.statusMsg)
	}
	if m.voiceState != voice.StateIdle {
		t.Errorf("voice state = %v, want idle", m.voiceState)
	}
}

func TestModel_ViewLayout(t *testing.T) {
	m, _ := newTestModel(t, &fakeBackend{}, fakeRecorder{})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	out := m.View()
	for _, want := range []string{"cadview", "Assembly", "Robot-EBOM", "Messages", "Model", "No model loaded"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if lines := strings.Count(out, "\n") + 1; lines > 30 {
		t.Errorf("view is %d lines tall, terminal is 30", lines)
	}
}

func TestModel_SearchSelects(t *testing.T) {
	m, shell := newTestModel(t, &fakeBackend{}, fakeRecorder{})
	m, _ = update(t, m, key("/"))
	for _, r := range "lower" {
		m, _ = update(t, m, key(string(r)))
	}
	m, _ = update(t, m, key("enter"))
	if id, _ := shell.Selection().Current(); id != "1-2" {
		t.Errorf("search selected %q, want 1-2", id)
	}
	if m.tree.IsSearchMode() {
		t.Error("enter did not leave search mode")
	}
}

func TestModel_HelpOverlay(t *testing.T) {
	m, shell := newTestModel(t, &fakeBackend{}, fakeRecorder{})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	m, _ = update(t, m, key("?"))
	if m.CurrentContext() != ContextHelp {
		t.Fatalf("context = %q, want help", m.CurrentContext())
	}
	if out := m.View(); !strings.Contains(out, "Assembly Tree") {
		t.Error("help overlay does not describe the tree")
	}

	// The closing key is swallowed.
	m, _ = update(t, m, key("enter"))
	if m.showHelp {
		t.Error("any key did not close help")
	}
	if _, ok := shell.Selection().Current(); ok {
		t.Error("closing key reached the tree")
	}

	m, cmd := update(t, m, key("d"))
	m, _ = update(t, m, cmd())
	m, _ = update(t, m, key("?"))
	if out := m.View(); !strings.Contains(out, "Containment Diagram") {
		t.Error("help over the diagram does not describe the diagram")
	}
	m, _ = update(t, m, key("q"))
	if !m.showDiagram || m.CurrentContext() != ContextDiagram {
		t.Errorf("closing help left context %q", m.CurrentContext())
	}
}

func TestModel_QuestionMarkSearches(t *testing.T) {
	m, _ := newTestModel(t, &fakeBackend{}, fakeRecorder{})
	m, _ = update(t, m, key("/"))
	m, _ = update(t, m, key("?"))
	if m.showHelp {
		t.Error("? opened help during search")
	}
	if m.CurrentContext() != ContextSearch {
		t.Errorf("context = %q, want search", m.CurrentContext())
	}
}
