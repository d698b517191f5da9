// Package schedule holds the in-memory, insertion-ordered list of scheduled
// moves. Nothing here is persisted; the list lives for the session only.
package schedule

import (
	"strings"
	"sync"

	"motorsched/internal/move"
)

// Store is safe for concurrent use by the shell and the dispatcher.
type Store struct {
	mu      sync.RWMutex
	entries []move.Entry
}

func New() *Store { return &Store{} }

// Add validates e and appends it. On error the store is unchanged.
func (s *Store) Add(e move.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

// Clear empties the store unconditionally. Reconciling a running dispatcher
// is the caller's job.
func (s *Store) Clear() int {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = nil
	s.mu.Unlock()
	return n
}

// List returns a copy of the entries in insertion order.
func (s *Store) List() []move.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]move.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	n := len(s.entries)
	s.mu.RUnlock()
	return n
}

// Render is the plain-text list shown by the shell, one entry per line.
func Render(entries []move.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
