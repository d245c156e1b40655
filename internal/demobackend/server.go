// Package demobackend is an in-process stand-in for the CAD assistant
// backend. It serves the same HTTP API with a procedurally built robot arm
// tessellated by sdfx, so the client can be run and tested without the
// STEP/speech stack.
package demobackend

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/vanderheijden86/cadview/pkg/debug"
	"github.com/vanderheijden86/cadview/pkg/hasse"
	"github.com/vanderheijden86/cadview/pkg/mesh"
	"github.com/vanderheijden86/cadview/pkg/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMeshCells = 48
	maxUploadSize    = 64 << 20
)

// component maps a tree id to the geometry it stands for.
type component struct {
	kind  model.Kind
	parts []int // indices into Server.parts
	face  int   // index into the part's faces, or -1
}

// Server serves the backend API. It is safe for concurrent use.
type Server struct {
	disabled bool
	cells    int
	newID    func() string

	mu         sync.Mutex
	parts      []*part
	partIDs    []string
	shellIDs   []string
	faceIDs    [][]string
	groupIDs   map[string]string
	rootID     string
	name       string
	loaded     bool
	components map[string]component
}

// Option configures a Server.
type Option func(*Server)

// WithDisabled makes the server answer like a hosted demo instance: uploads
// and voice commands are refused with status "disabled".
func WithDisabled() Option {
	return func(s *Server) { s.disabled = true }
}

// WithMeshCells sets the marching cubes resolution per part.
func WithMeshCells(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.cells = n
		}
	}
}

// WithIDFunc replaces the uuid generator for node ids.
func WithIDFunc(fn func() string) Option {
	return func(s *Server) { s.newID = fn }
}

// New returns a server with no model loaded.
func New(opts ...Option) *Server {
	s := &Server{cells: defaultMeshCells, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes of the backend API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /api/model.stl", s.handleModel)
	mux.HandleFunc("GET /api/component/{id}", s.handleComponent)
	mux.HandleFunc("GET /api/hasse", s.handleHasse)
	mux.HandleFunc("POST /api/voice", s.handleVoice)
	return mux
}

// Load builds the demo assembly as if name had been uploaded and returns
// its tree.
func (s *Server) Load(name string) *model.AssemblyNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = s.parts[:0]
	for _, spec := range robotArm() {
		s.parts = append(s.parts, &part{spec: spec, scale: 1})
	}
	s.name = name
	s.rootID = s.newID()
	s.groupIDs = make(map[string]string)
	s.partIDs = make([]string, len(s.parts))
	s.shellIDs = make([]string, len(s.parts))
	s.faceIDs = make([][]string, len(s.parts))
	for i, p := range s.parts {
		if _, ok := s.groupIDs[p.spec.group]; !ok {
			s.groupIDs[p.spec.group] = s.newID()
		}
		s.partIDs[i] = s.newID()
		s.shellIDs[i] = s.newID()
		s.faceIDs[i] = make([]string, len(p.spec.faces))
		for j := range p.spec.faces {
			s.faceIDs[i][j] = s.newID()
		}
	}
	s.loaded = true
	return s.treeLocked()
}

// Tree returns the current tree, or nil before the first upload.
func (s *Server) Tree() *model.AssemblyNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return nil
	}
	return s.treeLocked()
}

// treeLocked builds the tree and the component index from the current
// parts. Ids are stable across edits.
func (s *Server) treeLocked() *model.AssemblyNode {
	s.components = make(map[string]component)
	root := &model.AssemblyNode{ID: s.rootID, Name: s.name, Kind: model.KindAssembly, Children: []*model.AssemblyNode{}}
	all := make([]int, 0, len(s.parts))
	groups := make(map[string]*model.AssemblyNode)

	for i, p := range s.parts {
		all = append(all, i)
		g, ok := groups[p.spec.group]
		if !ok {
			g = &model.AssemblyNode{ID: s.groupIDs[p.spec.group], Name: p.spec.group, Kind: model.KindAssembly, Children: []*model.AssemblyNode{}}
			groups[p.spec.group] = g
			root.Children = append(root.Children, g)
		}
		c := s.components[g.ID]
		c.kind, c.face = model.KindAssembly, -1
		c.parts = append(c.parts, i)
		s.components[g.ID] = c

		shell := &model.AssemblyNode{ID: s.shellIDs[i], Name: "Shell 1", Kind: model.KindShell, Children: []*model.AssemblyNode{}}
		s.components[shell.ID] = component{kind: model.KindShell, parts: []int{i}, face: -1}
		for j, f := range p.spec.faces {
			id := s.faceIDs[i][j]
			shell.Children = append(shell.Children, &model.AssemblyNode{ID: id, Name: f.name, Kind: model.KindFace, Children: []*model.AssemblyNode{}})
			s.components[id] = component{kind: model.KindFace, parts: []int{i}, face: j}
		}
		node := &model.AssemblyNode{ID: s.partIDs[i], Name: p.spec.name, Kind: model.KindPart, Children: []*model.AssemblyNode{shell}}
		s.components[node.ID] = component{kind: model.KindPart, parts: []int{i}, face: -1}
		g.Children = append(g.Children, node)
	}
	s.components[root.ID] = component{kind: model.KindAssembly, parts: all, face: -1}
	return root
}

// removePart drops part i from the model.
func (s *Server) removePart(i int) {
	s.parts = append(s.parts[:i], s.parts[i+1:]...)
	s.partIDs = append(s.partIDs[:i], s.partIDs[i+1:]...)
	s.shellIDs = append(s.shellIDs[:i], s.shellIDs[i+1:]...)
	s.faceIDs = append(s.faceIDs[:i], s.faceIDs[i+1:]...)
}

// Mesh returns the mesh of the whole model, or of one component when id is
// non-empty.
func (s *Server) Mesh(id string) (*mesh.Mesh, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return nil, errNoModel
	}
	if id == "" {
		return s.meshLocked(s.name, allParts(len(s.parts)), -1)
	}
	c, ok := s.components[id]
	if !ok {
		return nil, errNotFound
	}
	return s.meshLocked(id, c.parts, c.face)
}

func (s *Server) meshLocked(name string, parts []int, face int) (*mesh.Mesh, error) {
	meshes := make([]*mesh.Mesh, 0, len(parts))
	for _, i := range parts {
		m, err := s.parts[i].tessellated(s.cells)
		if err != nil {
			return nil, err
		}
		if face >= 0 {
			m = faceMesh(m, s.parts[i].spec.faces[face])
		}
		meshes = append(meshes, m)
	}
	return merge(name, meshes...), nil
}

func allParts(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

var (
	errNoModel  = errors.New("no model loaded")
	errNotFound = errors.New("component not found")
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, model.Health{Status: "ok", HeavyEnabled: !s.disabled})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name, data, err := formFile(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.disabled {
		writeJSON(w, map[string]string{"status": "disabled", "message": "STEP processing disabled on demo server"})
		return
	}
	if len(data) == 0 {
		writeJSON(w, model.UploadResult{Status: "error", Message: "empty file"})
		return
	}
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if stem == "" {
		stem = "Assembly"
	}
	tree := s.Load(stem)
	debug.Logger().Info("demo model loaded", zap.String("file", name), zap.Int("bytes", len(data)), zap.Int("nodes", tree.Count()))
	writeJSON(w, model.UploadResult{Status: model.StatusSuccess, Message: "File loaded", Tree: tree})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	s.writeMesh(w, "")
}

func (s *Server) handleComponent(w http.ResponseWriter, r *http.Request) {
	s.writeMesh(w, r.PathValue("id"))
}

// writeMesh answers like the original backend: STL on success, a JSON
// {"error"} body with status 200 otherwise.
func (s *Server) writeMesh(w http.ResponseWriter, id string) {
	m, err := s.Mesh(id)
	if err != nil {
		msg := err.Error()
		switch {
		case errors.Is(err, errNoModel):
			msg = "No model loaded"
		case errors.Is(err, errNotFound):
			msg = "Component not found"
		default:
			debug.Logger().Error("tessellation failed", zap.String("id", id), zap.Error(err))
		}
		writeJSON(w, map[string]string{"error": msg})
		return
	}
	w.Header().Set("Content-Type", "model/stl")
	if err := m.EncodeBinary(w); err != nil {
		debug.Logger().Warn("write stl", zap.Error(err))
	}
}

func (s *Server) handleHasse(w http.ResponseWriter, r *http.Request) {
	tree := s.Tree()
	if tree == nil {
		writeJSON(w, hasse.NewPayload(hasse.NoModel()))
		return
	}
	writeJSON(w, hasse.NewPayload(hasse.Derive(tree)))
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	_, data, err := formFile(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.disabled {
		writeJSON(w, map[string]string{"status": "disabled", "message": "Voice disabled on demo server"})
		return
	}
	writeJSON(w, s.Command(transcribe(data)))
}

func formFile(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("multipart field \"file\": %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, err
	}
	return hdr.Filename, data, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Logger().Warn("write json", zap.Error(err))
	}
}
