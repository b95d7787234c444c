package sessionlog

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore keeps transcripts in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]Entry
	limit    int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a [MemoryStore] that keeps at most limit entries per
// session, dropping the oldest first. A limit of zero or less keeps everything.
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]Entry), limit: limit}
}

// Append implements [Store].
func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	if e.SessionID == "" {
		return errors.New("sessionlog: entry has no session id")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := append(s.sessions[e.SessionID], e)
	if s.limit > 0 && len(entries) > s.limit {
		entries = entries[len(entries)-s.limit:]
	}
	s.sessions[e.SessionID] = entries
	return nil
}

// List implements [Store].
func (s *MemoryStore) List(_ context.Context, sessionID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.sessions[sessionID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}
