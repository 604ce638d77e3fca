package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sells-group/doctag-cli/internal/model"
)

// MemoryStore implements Store in memory. It backs tests and the
// --store=memory mode where persistence across runs is not wanted.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

func NewMemory() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*model.Session)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, sess *model.Session) error {
	sess.UpdatedAt = time.Now().UTC()
	cp := *sess
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = &cp
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
