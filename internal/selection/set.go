// Package selection tracks which documents ground the next message.
package selection

import (
	"sync"

	"docchat/internal/chat"
)

// Set is an insertion-ordered set of document ids. The zero value is ready
// to use. Every mutation is applied synchronously and atomically, so a reader
// never observes a half-applied toggle.
type Set struct {
	mu    sync.RWMutex
	order []chat.ID
	index map[chat.ID]struct{}
}

func New(ids ...chat.ID) *Set {
	s := &Set{}
	for _, id := range ids {
		s.add(id)
	}
	return s
}

// Toggle adds id when absent and removes it when present. It reports whether
// id is selected afterwards.
func (s *Set) Toggle(id chat.ID) bool {
	if id.IsZero() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[id]; ok {
		s.remove(id)
		return false
	}
	s.add(id)
	return true
}

func (s *Set) Contains(id chat.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.index = nil
}

func (s *Set) Remove(id chat.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(id)
}

// Retain drops every selected id that is not in keep. It returns the ids
// that were dropped, in selection order.
func (s *Set) Retain(keep []chat.ID) []chat.ID {
	allowed := make(map[chat.ID]struct{}, len(keep))
	for _, id := range keep {
		allowed[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped []chat.ID
	for _, id := range append([]chat.ID(nil), s.order...) {
		if _, ok := allowed[id]; !ok {
			s.remove(id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// IDs returns a copy of the selection in insertion order.
func (s *Set) IDs() []chat.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chat.ID{}, s.order...)
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Set) add(id chat.ID) {
	if s.index == nil {
		s.index = make(map[chat.ID]struct{})
	}
	if _, ok := s.index[id]; ok {
		return
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
}

func (s *Set) remove(id chat.ID) {
	if _, ok := s.index[id]; !ok {
		return
	}
	delete(s.index, id)
	for i, cur := range s.order {
		if cur == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
