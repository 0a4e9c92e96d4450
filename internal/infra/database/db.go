package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = 1 * time.Minute
)

// NewPostgresConnection creates and returns a new PostgreSQL database connection.
// It also pings the database to ensure connectivity.
func NewPostgresConnection(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	if err = db.Ping(); err != nil {
		db.Close() // Close the connection if ping fails
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS questions (
		token                   TEXT PRIMARY KEY,
		status                  TEXT NOT NULL DEFAULT 'open',
		group_id                BIGINT NOT NULL,
		topic_id                INTEGER NOT NULL,
		employee_user_id        BIGINT NOT NULL,
		employee_name           TEXT NOT NULL DEFAULT '',
		question_text           TEXT NOT NULL DEFAULT '',
		duty_user_id            BIGINT,
		duty_name               TEXT,
		activity_status_enabled BOOLEAN,
		start_time              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		end_time                TIMESTAMPTZ,
		quality_employee        BOOLEAN,
		quality_duty            BOOLEAN
	)`,
	`ALTER TABLE questions ADD COLUMN IF NOT EXISTS quality_employee BOOLEAN`,
	`ALTER TABLE questions ADD COLUMN IF NOT EXISTS quality_duty BOOLEAN`,
	`CREATE INDEX IF NOT EXISTS questions_group_topic_idx ON questions (group_id, topic_id)`,
	`CREATE INDEX IF NOT EXISTS questions_employee_status_idx ON questions (employee_user_id, status)`,
	`CREATE TABLE IF NOT EXISTS group_settings (
		group_id               BIGINT PRIMARY KEY,
		activity_status        BOOLEAN NOT NULL DEFAULT TRUE,
		activity_warn_minutes  INTEGER NOT NULL,
		activity_close_minutes INTEGER NOT NULL,
		emoji_open             TEXT NOT NULL DEFAULT '',
		emoji_in_progress      TEXT NOT NULL DEFAULT '',
		emoji_closed           TEXT NOT NULL DEFAULT '',
		CHECK (activity_warn_minutes > 0 AND activity_warn_minutes < activity_close_minutes)
	)`,
	`CREATE TABLE IF NOT EXISTS message_pairs (
		id                  BIGSERIAL PRIMARY KEY,
		question_token      TEXT NOT NULL REFERENCES questions (token) ON DELETE CASCADE,
		employee_chat_id    BIGINT NOT NULL,
		employee_message_id INTEGER NOT NULL,
		group_id            BIGINT NOT NULL,
		topic_id            INTEGER NOT NULL,
		topic_message_id    INTEGER NOT NULL,
		from_employee       BOOLEAN NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS message_pairs_employee_idx ON message_pairs (employee_chat_id, employee_message_id)`,
	`CREATE INDEX IF NOT EXISTS message_pairs_topic_idx ON message_pairs (group_id, topic_message_id)`,
}

// EnsureSchema creates the questions, group_settings and message_pairs tables if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
