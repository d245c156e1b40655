// Package app is the application shell: it owns the assembly tree, the shared
// selection store, the model version token and the last user-visible message,
// and reconciles backend responses into that state.
//
// Views (terminal UI, browser mirror, exporters) read a Snapshot and render
// from it; they change state only through the shell's methods.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vanderheijden86/cadview/pkg/debug"
	"github.com/vanderheijden86/cadview/pkg/model"
	"github.com/vanderheijden86/cadview/pkg/selection"
	"github.com/vanderheijden86/cadview/pkg/viewer"

	nanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

// Messages shown in the messages pane.
const (
	MessageUploaded = "File uploaded."
	MessageReady    = "System Ready."
)

// tokenAlphabet keeps the version token safe in a query string.
const (
	tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	tokenLength   = 12
)

// ErrUploadRejected means the backend answered but did not accept the file.
var ErrUploadRejected = errors.New("upload rejected")

// Backend is what the shell needs from the backend client.
type Backend interface {
	viewer.URLs
	Upload(ctx context.Context, path string) (*model.UploadResult, error)
}

// Event reports which parts of the state changed.
type Event struct {
	Tree    bool
	Model   bool
	Message bool
	Banner  bool
}

// Snapshot is a consistent copy of the shell state.
type Snapshot struct {
	Tree         *model.AssemblyNode
	Token        string
	Message      string
	Banner       string
	SelectedID   string
	HasSelection bool
}

// Loaded reports whether a model has been uploaded, i.e. whether there is a
// model mesh to fetch.
func (s Snapshot) Loaded() bool {
	return s.Token != ""
}

// MessageText is what the messages pane shows: the last message, else the
// selected node, else the ready notice.
func (s Snapshot) MessageText() string {
	switch {
	case s.Message != "":
		return s.Message
	case s.HasSelection:
		return "Selected node: " + s.SelectedID
	default:
		return MessageReady
	}
}

// Shell is safe for concurrent use; the browser mirror drives it from HTTP
// goroutines while the terminal UI drives it from its update loop.
type Shell struct {
	backend   Backend
	selection *selection.Store
	newToken  func() string

	mu      sync.RWMutex
	tree    *model.AssemblyNode
	token   string
	message string
	banner  string

	subMu   sync.Mutex
	nextSub int
	subs    map[int]func(Event)
}

// Option configures a Shell.
type Option func(*Shell)

// WithTree sets the initial tree instead of the built-in sample.
func WithTree(tree *model.AssemblyNode) Option {
	return func(s *Shell) {
		s.tree = tree
	}
}

// WithTokenFunc replaces the version token generator.
func WithTokenFunc(fn func() string) Option {
	return func(s *Shell) {
		s.newToken = fn
	}
}

// WithSelection shares an existing selection store.
func WithSelection(st *selection.Store) Option {
	return func(s *Shell) {
		s.selection = st
	}
}

// New returns a shell showing the sample tree with no model loaded.
func New(b Backend, opts ...Option) *Shell {
	s := &Shell{
		backend:  b,
		tree:     SampleTree(),
		newToken: generateToken,
		subs:     make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.selection == nil {
		s.selection = selection.New()
	}
	return s
}

func generateToken() string {
	id, err := nanoid.Generate(tokenAlphabet, tokenLength)
	if err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return id
}

// SampleTree is the tree shown before anything is uploaded.
func SampleTree() *model.AssemblyNode {
	return &model.AssemblyNode{
		ID: "root", Name: "Robot-EBOM", Kind: model.KindAssembly,
		Children: []*model.AssemblyNode{
			{
				ID: "1", Name: "Arm-Assembly", Kind: model.KindAssembly,
				Children: []*model.AssemblyNode{
					{ID: "1-1", Name: "Upper-arm", Kind: model.KindPart, Children: []*model.AssemblyNode{}},
					{ID: "1-2", Name: "Lower-arm", Kind: model.KindPart, Children: []*model.AssemblyNode{}},
				},
			},
			{ID: "2", Name: "Base-Assembly", Kind: model.KindAssembly, Children: []*model.AssemblyNode{}},
		},
	}
}

// Selection returns the shared store.
func (s *Shell) Selection() *selection.Store {
	return s.selection
}

// Backend returns the backend the shell talks to.
func (s *Shell) Backend() Backend {
	return s.backend
}

// Snapshot returns the current state.
func (s *Shell) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		Tree:    s.tree,
		Token:   s.token,
		Message: s.message,
		Banner:  s.banner,
	}
	s.mu.RUnlock()
	snap.SelectedID, snap.HasSelection = s.selection.Current()
	return snap
}

// Tree returns the current tree. It is replaced wholesale, never mutated,
// so callers may keep the pointer.
func (s *Shell) Tree() *model.AssemblyNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree
}

// ViewerModel projects the state onto the model view.
func (s *Shell) ViewerModel() viewer.Model {
	snap := s.Snapshot()
	return viewer.Project(s.backend, snap.Token, snap.Loaded(), snap.SelectedID, snap.HasSelection)
}

// Select makes id the shared selection. Ids from the diagram are not checked
// against the tree; an unknown id is logged and still selected.
func (s *Shell) Select(id string) {
	if tree := s.Tree(); tree != nil && tree.Find(id) == nil {
		debug.Logger().Debug("selected id not in current tree", zap.String("id", id))
	}
	s.selection.Select(id)
}

// Reset clears the selection.
func (s *Shell) Reset() {
	s.selection.Reset()
}

// UploadModel sends path to the backend. On success the tree is replaced,
// the model version token changes and the message reads "File uploaded.".
// On any failure the tree and token are unchanged and the error is also
// raised as a banner that stays until AckBanner.
func (s *Shell) UploadModel(ctx context.Context, path string) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".stp" && ext != ".step" {
		debug.Logger().Warn("uploading file without a STEP extension", zap.String("path", path))
	}

	res, err := s.backend.Upload(ctx, path)
	if err == nil && res == nil {
		err = fmt.Errorf("%w: empty response", ErrUploadRejected)
	}
	if err == nil && !res.OK() {
		msg := res.Message
		if msg == "" {
			msg = fmt.Sprintf("status %q", res.Status)
		}
		err = fmt.Errorf("%w: %s", ErrUploadRejected, msg)
	}
	if err != nil {
		err = fmt.Errorf("uploading %s: %w", filepath.Base(path), err)
		debug.Logger().Error("upload failed", zap.Error(err))
		s.mu.Lock()
		s.banner = "Failed to upload model: " + err.Error()
		s.mu.Unlock()
		s.notify(Event{Banner: true})
		return err
	}

	s.mu.Lock()
	s.tree = res.Tree
	s.token = s.newToken()
	s.message = MessageUploaded
	s.mu.Unlock()
	debug.Logger().Info("model uploaded", zap.String("path", path), zap.Int("nodes", res.Tree.Count()))
	s.notify(Event{Tree: true, Model: true, Message: true})
	return nil
}

// ApplyVoiceResult reconciles a voice command result. A transcription sets
// the message; a modification changes the model version token and, when the
// result carries a tree, replaces the tree.
func (s *Shell) ApplyVoiceResult(res *model.VoiceResult) {
	if res == nil {
		return
	}
	var ev Event
	s.mu.Lock()
	if t := res.Transcript(); t != "" {
		s.message = t
		ev.Message = true
	}
	if res.Modified {
		s.token = s.newToken()
		ev.Model = true
		if res.Tree != nil {
			s.tree = res.Tree
			ev.Tree = true
		}
	}
	s.mu.Unlock()
	if ev != (Event{}) {
		s.notify(ev)
	}
}

// SetMessage replaces the messages pane text.
func (s *Shell) SetMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
	s.notify(Event{Message: true})
}

// RaiseBanner shows an error banner.
func (s *Shell) RaiseBanner(msg string) {
	s.mu.Lock()
	s.banner = msg
	s.mu.Unlock()
	s.notify(Event{Banner: true})
}

// AckBanner dismisses the error banner.
func (s *Shell) AckBanner() {
	s.mu.Lock()
	had := s.banner != ""
	s.banner = ""
	s.mu.Unlock()
	if had {
		s.notify(Event{Banner: true})
	}
}

// Subscribe registers fn for state changes. Selection changes are delivered
// by the selection store, not here. The returned function unsubscribes.
func (s *Shell) Subscribe(fn func(Event)) (cancel func()) {
	s.subMu.Lock()
	key := s.nextSub
	s.nextSub++
	s.subs[key] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, key)
			s.subMu.Unlock()
		})
	}
}

func (s *Shell) notify(ev Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
