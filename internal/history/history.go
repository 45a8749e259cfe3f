// Package history implements a bounded undo/redo stack of immutable snapshots.
package history

import "sync"

// Stack keeps up to limit undo steps. The entry at the cursor is the current state.
type Stack struct {
	entries [][]byte
	cursor  int
	limit   int
	mu      sync.Mutex
}

// New creates a stack that retains limit undo steps. A limit below 1 is treated as 1.
func New(limit int) *Stack {
	if limit < 1 {
		limit = 1
	}
	return &Stack{cursor: -1, limit: limit}
}

// Push records snapshot as the new current state. Any redo branch is discarded
// and the oldest entry is evicted once the bound is exceeded.
func (s *Stack) Push(snapshot []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries[:s.cursor+1], clone(snapshot))
	if len(s.entries) > s.limit+1 {
		drop := len(s.entries) - (s.limit + 1)
		for i := 0; i < drop; i++ {
			s.entries[i] = nil
		}
		s.entries = s.entries[drop:]
	}
	s.cursor = len(s.entries) - 1
}

// Undo steps back and returns the state to restore, or nil at the oldest entry.
func (s *Stack) Undo() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor <= 0 {
		return nil
	}
	s.cursor--
	return clone(s.entries[s.cursor])
}

// Redo steps forward and returns the state to restore, or nil at the newest entry.
func (s *Stack) Redo() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor >= len(s.entries)-1 {
		return nil
	}
	s.cursor++
	return clone(s.entries[s.cursor])
}

// Current returns the state at the cursor, or nil if the stack is empty.
func (s *Stack) Current() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor < 0 {
		return nil
	}
	return clone(s.entries[s.cursor])
}

// CanUndo reports whether Undo would return a state.
func (s *Stack) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor > 0
}

// CanRedo reports whether Redo would return a state.
func (s *Stack) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor < len(s.entries)-1
}

// Len returns the number of retained entries.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Limit returns the number of undo steps retained.
func (s *Stack) Limit() int {
	return s.limit
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
