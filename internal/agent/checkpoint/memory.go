package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/atlathelper/internal/agent/state"
)

// MemorySaver keeps checkpoints in memory. Records are stored as JSON so
// callers cannot mutate a saved state through shared slices or maps.
type MemorySaver struct {
	mu      sync.RWMutex
	threads map[string][]byte
}

// NewMemorySaver returns an empty in-memory saver.
func NewMemorySaver() *MemorySaver {
	return &MemorySaver{threads: make(map[string][]byte)}
}

func (m *MemorySaver) Load(ctx context.Context, threadID string) (*state.State, error) {
	m.mu.RLock()
	raw, ok := m.threads[threadID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var st state.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint for thread %s: %w", threadID, err)
	}
	return &st, nil
}

func (m *MemorySaver) Save(ctx context.Context, threadID string, st *state.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint for thread %s: %w", threadID, err)
	}
	m.mu.Lock()
	m.threads[threadID] = raw
	m.mu.Unlock()
	return nil
}
