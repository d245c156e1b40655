// Package viewer turns the shared state (model version token, selected
// component) into a scene: the full assembly mesh, plus an emphasis mesh for
// the selected component drawn over a translucent base. Scenes are rendered
// to images and terminal previews by render.go.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vanderheijden86/cadview/pkg/debug"
	"github.com/vanderheijden86/cadview/pkg/mesh"
	"github.com/vanderheijden86/cadview/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoModel is returned by Load when there is no model URL yet; the scene
// then shows a placeholder.
var ErrNoModel = errors.New("no model loaded")

// Opacity of the base mesh with and without an emphasized component.
const (
	BaseOpacity       = 1.0
	DimmedBaseOpacity = 0.3
)

// URLs builds mesh URLs. The backend client implements it.
type URLs interface {
	ModelURL(token string) string
	ComponentURL(id string) string
}

// Source fetches raw mesh bytes. The backend client implements it.
type Source interface {
	FetchMesh(ctx context.Context, rawURL string) ([]byte, error)
}

// Model is what the viewer shows, derived purely from the model version
// token and the selection.
type Model struct {
	BaseModelURL         string
	SelectedComponentURL string
	SelectedID           string
}

// HasSelection reports whether an emphasis mesh is requested.
func (m Model) HasSelection() bool {
	return m.SelectedComponentURL != ""
}

// Project derives the viewer model. An empty token means no model has been
// loaded; loaded is false in that case and no URLs are produced.
func Project(urls URLs, token string, loaded bool, selectedID string, selected bool) Model {
	var m Model
	if loaded {
		m.BaseModelURL = urls.ModelURL(token)
	}
	if selected {
		m.SelectedID = selectedID
		m.SelectedComponentURL = urls.ComponentURL(selectedID)
	}
	return m
}

// Scene is a loaded model ready to draw.
type Scene struct {
	Model    Model
	Base     *mesh.Mesh
	Emphasis *mesh.Mesh
	// EmphasisErr is set when the selected component could not be loaded.
	// It never affects Base.
	EmphasisErr error
	BaseOpacity float64
}

// Placeholder reports whether there is no base mesh to draw.
func (s *Scene) Placeholder() bool {
	return s == nil || s.Base == nil
}

// Viewer loads scenes and caches decoded meshes by URL. The base mesh URL
// carries the model version token, so a token change is a cache miss.
type Viewer struct {
	src Source

	mu       sync.Mutex
	baseURL  string
	base     *mesh.Mesh
	emphasis map[string]*mesh.Mesh
}

// New returns a viewer that fetches through src.
func New(src Source) *Viewer {
	return &Viewer{src: src, emphasis: make(map[string]*mesh.Mesh)}
}

// Load fetches the meshes of m concurrently. A base failure returns an error
// together with a placeholder scene; an emphasis failure is recorded in
// Scene.EmphasisErr and the base is drawn at full opacity.
func (v *Viewer) Load(ctx context.Context, m Model) (*Scene, error) {
	scene := &Scene{Model: m, BaseOpacity: BaseOpacity}
	if m.BaseModelURL == "" {
		return scene, ErrNoModel
	}

	var (
		g       errgroup.Group
		base    *mesh.Mesh
		baseErr error
		emph    *mesh.Mesh
		emphErr error
	)
	g.Go(func() error {
		base, baseErr = v.loadBase(ctx, m.BaseModelURL)
		return nil
	})
	if m.HasSelection() {
		g.Go(func() error {
			emph, emphErr = v.loadEmphasis(ctx, m.BaseModelURL, m.SelectedComponentURL)
			return nil
		})
	}
	_ = g.Wait()

	if baseErr != nil {
		return scene, fmt.Errorf("loading model: %w", baseErr)
	}
	scene.Base = base

	if emphErr != nil {
		debug.Logger().Warn("component mesh unavailable",
			zap.String("id", m.SelectedID), zap.Error(emphErr))
		scene.EmphasisErr = emphErr
	} else if emph != nil {
		scene.Emphasis = emph
		scene.BaseOpacity = DimmedBaseOpacity
	}
	return scene, nil
}

func (v *Viewer) loadBase(ctx context.Context, url string) (*mesh.Mesh, error) {
	v.mu.Lock()
	if v.baseURL == url && v.base != nil {
		m := v.base
		v.mu.Unlock()
		metrics.BaseMeshCache.Hit()
		return m, nil
	}
	v.mu.Unlock()
	metrics.BaseMeshCache.Miss()

	m, err := v.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.baseURL != url {
		for key := range v.emphasis {
			if !strings.HasPrefix(key, url+"|") {
				delete(v.emphasis, key)
			}
		}
	}
	v.baseURL = url
	v.base = m
	return m, nil
}

func (v *Viewer) loadEmphasis(ctx context.Context, baseURL, url string) (*mesh.Mesh, error) {
	key := baseURL + "|" + url
	v.mu.Lock()
	if m, ok := v.emphasis[key]; ok {
		v.mu.Unlock()
		metrics.EmphasisMeshCache.Hit()
		return m, nil
	}
	v.mu.Unlock()
	metrics.EmphasisMeshCache.Miss()

	m, err := v.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.emphasis[key] = m
	v.mu.Unlock()
	return m, nil
}

func (v *Viewer) fetch(ctx context.Context, url string) (*mesh.Mesh, error) {
	data, err := v.src.FetchMesh(ctx, url)
	if err != nil {
		return nil, err
	}
	stop := metrics.Timer(metrics.MeshDecode)
	m, err := mesh.Decode(data)
	stop()
	if err != nil {
		return nil, err
	}
	return m, nil
}
