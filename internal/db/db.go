package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Database struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Database, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Database{Pool: pool}, nil
}

func (d *Database) Close() {
	d.Pool.Close()
}

func (d *Database) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            username VARCHAR(50) UNIQUE NOT NULL,
            password VARCHAR(255) NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS chats (
            id BIGSERIAL PRIMARY KEY,
            type VARCHAR(10) CHECK (type IN ('private', 'group')) DEFAULT 'private',
            name VARCHAR(100) NOT NULL DEFAULT '',
            only_admins BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS participants (
            chat_id BIGINT REFERENCES chats(id) ON DELETE CASCADE,
            user_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
            is_admin BOOLEAN NOT NULL DEFAULT FALSE,
            joined_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (chat_id, user_id)
        )`,

		`CREATE TABLE IF NOT EXISTS blocks (
            user_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
            blocked_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (user_id, blocked_id)
        )`,

		`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            chat_id BIGINT REFERENCES chats(id) ON DELETE CASCADE,
            sender_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
            client_id VARCHAR(64) NOT NULL DEFAULT '',
            type VARCHAR(10) NOT NULL DEFAULT 'text',
            content TEXT NOT NULL DEFAULT '',
            media_url TEXT NOT NULL DEFAULT '',
            media_name TEXT NOT NULL DEFAULT '',
            media_size BIGINT NOT NULL DEFAULT 0,
            media_duration DOUBLE PRECISION NOT NULL DEFAULT 0,
            reply_to_id BIGINT,
            status VARCHAR(10) NOT NULL DEFAULT 'sent',
            delivered_to BIGINT[] NOT NULL DEFAULT '{}',
            read_by BIGINT[] NOT NULL DEFAULT '{}',
            deleted_for BIGINT[] NOT NULL DEFAULT '{}',
            deleted_at TIMESTAMPTZ,
            edited_at TIMESTAMPTZ,
            reactions JSONB NOT NULL DEFAULT '[]',
            starred_by BIGINT[] NOT NULL DEFAULT '{}',
            pinned BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE INDEX IF NOT EXISTS idx_messages_chat_created
            ON messages (chat_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := d.Pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
