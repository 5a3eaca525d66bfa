package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id            SERIAL PRIMARY KEY,
        google_id     TEXT NOT NULL UNIQUE,
        email         TEXT NOT NULL,
        name          TEXT NOT NULL DEFAULT '',
        picture       TEXT NOT NULL DEFAULT '',
        access_token  TEXT,
        refresh_token TEXT,
        token_expiry  TIMESTAMPTZ,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
	`CREATE TABLE IF NOT EXISTS categories (
        id          SERIAL PRIMARY KEY,
        user_id     INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        name        TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        color       TEXT NOT NULL DEFAULT '#3B82F6',
        created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        UNIQUE (user_id, name)
    )`,
	`CREATE TABLE IF NOT EXISTS emails (
        id          SERIAL PRIMARY KEY,
        user_id     INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        category_id INTEGER REFERENCES categories(id) ON DELETE SET NULL,
        gmail_id    TEXT NOT NULL,
        thread_id   TEXT NOT NULL DEFAULT '',
        subject     TEXT NOT NULL DEFAULT '',
        sender      TEXT NOT NULL DEFAULT '',
        recipients  TEXT[] NOT NULL DEFAULT '{}',
        body        TEXT NOT NULL DEFAULT '',
        html_body   TEXT NOT NULL DEFAULT '',
        clean_text  TEXT NOT NULL DEFAULT '',
        ai_summary  TEXT NOT NULL DEFAULT '',
        confidence  REAL NOT NULL DEFAULT 0,
        is_read     BOOLEAN NOT NULL DEFAULT FALSE,
        is_archived BOOLEAN NOT NULL DEFAULT FALSE,
        received_at TIMESTAMPTZ,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        UNIQUE (user_id, gmail_id)
    )`,
	`ALTER TABLE emails ADD COLUMN IF NOT EXISTS clean_text TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE emails ADD COLUMN IF NOT EXISTS list_unsubscribe TEXT NOT NULL DEFAULT ''`,
	`CREATE INDEX IF NOT EXISTS idx_emails_user_category ON emails (user_id, category_id)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_user_received ON emails (user_id, received_at DESC)`,
}

// Migrate creates or upgrades the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	logger.Info("Database schema is up to date", zap.Int("statements", len(migrations)))
	return nil
}
