package token

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// SQLiteStore keeps the credential in a single-row table. The payload is a
// JSON blob so a refresh overwrites the whole record in one statement; an
// unreadable or corrupt row is treated as "not authenticated", never as a
// fatal error.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS oauth_credential (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create oauth_credential table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, cred Credential) error {
	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	query := `
	INSERT INTO oauth_credential (id, payload, updated_at)
	VALUES (1, ?, datetime('now'))
	ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, string(payload)); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context) (*Credential, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM oauth_credential WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("credential row unreadable, treating as absent")
		return nil, nil
	}

	var cred Credential
	if err := json.Unmarshal([]byte(payload), &cred); err != nil {
		log.Warn().Err(err).Msg("credential payload corrupt, treating as absent")
		return nil, nil
	}
	if cred.AccessToken == "" {
		return nil, nil
	}
	return &cred, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_credential WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}
