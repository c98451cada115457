// Package checkpoint persists conversation state between turns, keyed by
// thread id. Saves replace the whole record; there is no partial update.
package checkpoint

import (
	"context"

	"github.com/atlathelper/internal/agent/state"
)

// Saver loads and stores per-thread conversation state.
type Saver interface {
	// Load returns the state for a thread, or (nil, nil) when the thread
	// has no checkpoint yet.
	Load(ctx context.Context, threadID string) (*state.State, error)
	// Save replaces the thread's checkpoint with the given state.
	Save(ctx context.Context, threadID string, st *state.State) error
}
