package storage

import (
	"context"
	"fmt"
)

// migrationStatements are idempotent and applied in order on startup so a
// fresh database needs no out-of-band schema step.
var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS polls (
		id          TEXT PRIMARY KEY,
		question    TEXT NOT NULL,
		total_votes INTEGER NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS poll_options (
		id         TEXT PRIMARY KEY,
		poll_id    TEXT NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
		text       TEXT NOT NULL,
		vote_count INTEGER NOT NULL DEFAULT 0,
		position   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS poll_options_poll_id_idx ON poll_options (poll_id, position)`,
	`CREATE TABLE IF NOT EXISTS votes (
		id               TEXT PRIMARY KEY,
		poll_id          TEXT NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
		option_id        TEXT NOT NULL REFERENCES poll_options(id) ON DELETE CASCADE,
		voter_token_hash TEXT NOT NULL,
		fingerprint_hash TEXT NOT NULL,
		voted_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS votes_poll_token_idx ON votes (poll_id, voter_token_hash)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS votes_poll_fingerprint_idx ON votes (poll_id, fingerprint_hash)`,
}

func (r *postgresRepository) migrate(ctx context.Context) error {
	for _, stmt := range migrationStatements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
