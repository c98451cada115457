package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atlathelper/internal/agent/state"
)

const threadsSchema = `
CREATE TABLE IF NOT EXISTS threads (
	thread_id  TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteSaver persists checkpoints in a sqlite threads table, one row per
// thread id.
type SQLiteSaver struct {
	db *sql.DB
}

// NewSQLiteSaver creates the threads table if needed and returns a saver
// backed by db.
func NewSQLiteSaver(db *sql.DB) (*SQLiteSaver, error) {
	if _, err := db.Exec(threadsSchema); err != nil {
		return nil, fmt.Errorf("create threads table: %w", err)
	}
	return &SQLiteSaver{db: db}, nil
}

func (s *SQLiteSaver) Load(ctx context.Context, threadID string) (*state.State, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM threads WHERE thread_id = ?`, threadID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for thread %s: %w", threadID, err)
	}
	var st state.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint for thread %s: %w", threadID, err)
	}
	return &st, nil
}

func (s *SQLiteSaver) Save(ctx context.Context, threadID string, st *state.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint for thread %s: %w", threadID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (thread_id, state, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(thread_id) DO UPDATE SET
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP`,
		threadID, string(raw))
	if err != nil {
		return fmt.Errorf("save checkpoint for thread %s: %w", threadID, err)
	}
	return nil
}
