package database

import (
	"context"
	"database/sql"
	"fmt"

	"questioner_bot/internal/domain/settings"
)

var ErrSettingsNotFound = fmt.Errorf("group settings not found")

type PostgresSettingsRepository struct {
	db *sql.DB
}

func NewPostgresSettingsRepository(db *sql.DB) *PostgresSettingsRepository {
	return &PostgresSettingsRepository{db: db}
}

func (r *PostgresSettingsRepository) GetByGroupID(ctx context.Context, groupID int64) (*settings.GroupSettings, error) {
	query := `SELECT group_id, activity_status, activity_warn_minutes, activity_close_minutes,
                 emoji_open, emoji_in_progress, emoji_closed
               FROM group_settings WHERE group_id = $1`
	s := &settings.GroupSettings{}
	err := r.db.QueryRowContext(ctx, query, groupID).Scan(&s.GroupID, &s.ActivityStatus, &s.ActivityWarnMinutes,
		&s.ActivityCloseMinutes, &s.EmojiOpen, &s.EmojiInProgress, &s.EmojiClosed)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSettingsNotFound
		}
		return nil, fmt.Errorf("error getting group settings: %w", err)
	}
	return s, nil
}

func (r *PostgresSettingsRepository) Upsert(ctx context.Context, s *settings.GroupSettings) error {
	query := `INSERT INTO group_settings (group_id, activity_status, activity_warn_minutes, activity_close_minutes,
                 emoji_open, emoji_in_progress, emoji_closed)
               VALUES ($1, $2, $3, $4, $5, $6, $7)
               ON CONFLICT (group_id) DO UPDATE SET
                 activity_status = EXCLUDED.activity_status,
                 activity_warn_minutes = EXCLUDED.activity_warn_minutes,
                 activity_close_minutes = EXCLUDED.activity_close_minutes,
                 emoji_open = EXCLUDED.emoji_open,
                 emoji_in_progress = EXCLUDED.emoji_in_progress,
                 emoji_closed = EXCLUDED.emoji_closed`
	_, err := r.db.ExecContext(ctx, query, s.GroupID, s.ActivityStatus, s.ActivityWarnMinutes, s.ActivityCloseMinutes,
		s.EmojiOpen, s.EmojiInProgress, s.EmojiClosed)
	if err != nil {
		return fmt.Errorf("error upserting group settings: %w", err)
	}
	return nil
}
