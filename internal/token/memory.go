package token

import (
	"context"
	"sync"
)

// MemoryStore is a threadsafe in-memory credential store for tests and
// ephemeral runs.
type MemoryStore struct {
	mu   sync.RWMutex
	cred *Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(ctx context.Context, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cred
	s.cred = &c
	return nil
}

func (s *MemoryStore) Get(ctx context.Context) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil, nil
	}
	c := *s.cred
	return &c, nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}
