// Package web serves a browser mirror of the application shell: the assembly
// tree, the containment diagram as SVG and a projected model image. Pages
// talk to the server over a websocket; a click in the browser selects through
// the same shell the terminal UI uses, and every state change is pushed back
// to all connected pages.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/vanderheijden86/cadview/pkg/app"
	"github.com/vanderheijden86/cadview/pkg/debug"
	"github.com/vanderheijden86/cadview/pkg/export"
	"github.com/vanderheijden86/cadview/pkg/hasse"
	"github.com/vanderheijden86/cadview/pkg/layout"
	"github.com/vanderheijden86/cadview/pkg/metrics"
	"github.com/vanderheijden86/cadview/pkg/model"
	"github.com/vanderheijden86/cadview/pkg/selection"
	"github.com/vanderheijden86/cadview/pkg/viewer"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 16

	defaultImageSize = 640
	maxImageSize     = 2048
)

// ErrClosed is returned by ListenAndServe after Close.
var ErrClosed = errors.New("web: server closed")

// Message is the websocket envelope in both directions. Pages send
// {"type":"select","id":...} and {"type":"reset"}; the server sends
// {"type":"state", ...}.
type Message struct {
	Type         string              `json:"type"`
	ID           string              `json:"id,omitempty"`
	Tree         *model.AssemblyNode `json:"tree,omitempty"`
	SelectedID   string              `json:"selected_id,omitempty"`
	HasSelection bool                `json:"has_selection"`
	Token        string              `json:"token,omitempty"`
	Message      string              `json:"message,omitempty"`
	Banner       string              `json:"banner,omitempty"`
}

// Server mirrors one shell. It is safe for concurrent use.
type Server struct {
	shell    *app.Shell
	fetcher  hasse.Fetcher
	layouter layout.Layouter
	view     *hasse.View
	viewer   *viewer.Viewer
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	diagramMu    sync.Mutex
	diagramToken string
	diagramReady bool

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	unsubs  []func()
	wg      sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLayouter replaces the default diagram layouter.
func WithLayouter(l layout.Layouter) Option {
	return func(s *Server) { s.layouter = l }
}

// WithViewer serves /model.png through v. Without it the route answers 404.
func WithViewer(v *viewer.Viewer) Option {
	return func(s *Server) { s.viewer = v }
}

// WithCheckOrigin overrides the websocket origin check. The default accepts
// same-host origins only.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// New creates a server for shell. Diagram data comes from fetcher.
func New(shell *app.Shell, fetcher hasse.Fetcher, opts ...Option) *Server {
	s := &Server{
		shell:    shell,
		fetcher:  fetcher,
		layouter: layout.NewLayered(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.view = hasse.NewView(s.fetcher, hasse.WithLayouter(s.layouter), hasse.WithNodeClick(shell.Select))

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	s.mux.HandleFunc("POST /api/select", s.handleSelect)
	s.mux.HandleFunc("POST /api/reset", s.handleReset)
	s.mux.HandleFunc("GET /diagram.svg", s.handleDiagram)
	s.mux.HandleFunc("GET /model.png", s.handleModel)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)

	s.unsubs = append(s.unsubs,
		shell.Subscribe(func(app.Event) { s.broadcast() }),
		shell.Selection().Subscribe(func(selection.Change) { s.broadcast() }),
	)
	return s
}

// Handler returns the HTTP handler of the mirror.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is cancelled or Close is called.
// ready, when non-nil, receives the bound address once listening.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	if ready != nil {
		ready(ln.Addr())
	}
	debug.Logger().Info("web mirror listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return ErrClosed
		}
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

// Close disconnects every page and stops following the shell. It waits for
// connection goroutines to exit.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	for _, c := range clients {
		c.close()
	}
	s.view.Close()
	s.wg.Wait()
}

// Clients returns the number of connected pages.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) state() Message {
	snap := s.shell.Snapshot()
	return Message{
		Type:         "state",
		Tree:         snap.Tree,
		SelectedID:   snap.SelectedID,
		HasSelection: snap.HasSelection,
		Token:        snap.Token,
		Message:      snap.MessageText(),
		Banner:       snap.Banner,
	}
}

func (s *Server) broadcast() {
	data, err := json.Marshal(s.state())
	if err != nil {
		debug.Logger().Error("encode state", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if !c.enqueue(data) {
			debug.Logger().Warn("dropping slow web client", zap.String("remote", c.remote))
			go c.close()
		}
	}
}

// apply handles one message from a page.
func (s *Server) apply(msg Message) {
	switch msg.Type {
	case "select":
		if msg.ID == "" {
			return
		}
		s.view.NodeClick(msg.ID)
	case "reset":
		s.shell.Reset()
	default:
		debug.Logger().Debug("ignoring web message", zap.String("type", msg.Type))
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderPage(w); err != nil {
		debug.Logger().Error("render page", zap.Error(err))
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.Take())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&msg); err != nil || msg.ID == "" {
		http.Error(w, "expected {\"id\": ...}", http.StatusBadRequest)
		return
	}
	msg.Type = "select"
	s.apply(msg)
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.apply(Message{Type: "reset"})
	writeJSON(w, http.StatusOK, s.state())
}

// diagram returns the laid-out diagram for the current model, reloading it
// when the model version token changed since the last load.
func (s *Server) diagram(ctx context.Context) (*hasse.Diagram, error) {
	token := s.shell.Snapshot().Token

	s.diagramMu.Lock()
	defer s.diagramMu.Unlock()
	if !s.diagramReady || token != s.diagramToken {
		if err := s.view.Load(ctx); err != nil {
			return s.view.Diagram(), err
		}
		s.diagramToken = token
		s.diagramReady = true
	}
	return s.view.Diagram(), nil
}

func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	d, err := s.diagram(r.Context())
	if err != nil && d.Empty() {
		http.Error(w, "diagram unavailable: "+err.Error(), http.StatusBadGateway)
		return
	}
	if d.Empty() {
		http.Error(w, "no diagram data", http.StatusNotFound)
		return
	}
	snap := s.shell.Snapshot()
	opts := export.SnapshotOptions{
		Title:   "Containment diagram",
		Diagram: d,
		Kinds:   export.KindsOf(snap.Tree),
	}
	if snap.HasSelection {
		opts.SelectedID = snap.SelectedID
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	if err := export.WriteHasseSVG(w, opts); err != nil {
		debug.Logger().Error("write diagram svg", zap.Error(err))
	}
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	if s.viewer == nil {
		http.NotFound(w, r)
		return
	}
	width := imageDim(r.URL.Query().Get("w"))
	height := imageDim(r.URL.Query().Get("h"))

	scene, err := s.viewer.Load(r.Context(), s.shell.ViewerModel())
	if err != nil && !errors.Is(err, viewer.ErrNoModel) {
		debug.Logger().Warn("model image", zap.Error(err))
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := viewer.EncodePNG(w, scene, width, height); err != nil {
		debug.Logger().Error("encode model png", zap.Error(err))
	}
}

func imageDim(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultImageSize
	}
	return min(n, maxImageSize)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Logger().Error("write json", zap.Error(err))
	}
}
