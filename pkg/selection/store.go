// Package selection holds the single shared "currently selected component"
// value that ties the assembly tree, the model view, the containment diagram
// and the browser mirror together.
//
// A Store is created once by the application shell and passed by reference
// to every view. Views render from Current() and change it through Select and
// Reset; they never keep their own copy.
package selection

import (
	"sort"
	"sync"
)

// Change describes one transition of the store.
type Change struct {
	Previous    string
	HadPrevious bool
	Current     string
	HasCurrent  bool
}

// Store is safe for concurrent use. The zero value is an empty store.
type Store struct {
	mu       sync.RWMutex
	id       string
	selected bool

	nextSub int
	subs    map[int]func(Change)
}

// New returns an empty store (nothing selected).
func New() *Store {
	return &Store{subs: make(map[int]func(Change))}
}

// Select makes id the current selection. Ids are not checked against any
// tree; selecting an id nothing knows about is legal and simply highlights
// nothing. Selecting the current id again does not notify subscribers.
func (s *Store) Select(id string) {
	s.set(id, true)
}

// Reset clears the selection.
func (s *Store) Reset() {
	s.set("", false)
}

// Current returns the selected id and whether anything is selected.
func (s *Store) Current() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id, s.selected
}

// IsSelected reports whether id is the current selection.
func (s *Store) IsSelected(id string) bool {
	cur, ok := s.Current()
	return ok && cur == id
}

// Subscribe registers fn to be called after every change. Callbacks run on
// the goroutine that made the change, outside the store lock, in
// registration order. The returned function unsubscribes.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[int]func(Change))
	}
	key := s.nextSub
	s.nextSub++
	s.subs[key] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, key)
			s.mu.Unlock()
		})
	}
}

func (s *Store) set(id string, selected bool) {
	s.mu.Lock()
	if s.selected == selected && s.id == id {
		s.mu.Unlock()
		return
	}
	change := Change{
		Previous:    s.id,
		HadPrevious: s.selected,
		Current:     id,
		HasCurrent:  selected,
	}
	s.id, s.selected = id, selected

	keys := make([]int, 0, len(s.subs))
	for k := range s.subs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	fns := make([]func(Change), 0, len(keys))
	for _, k := range keys {
		fns = append(fns, s.subs[k])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}
