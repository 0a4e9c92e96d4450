package app

import (
	"context"
	"fmt"

	"questioner_bot/internal/domain/settings"
)

// Custom application-level errors for settings service
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")

// activitySyncer applies a changed group activity status to running timers.
type activitySyncer interface {
	SyncGroupActivity(ctx context.Context, groupID int64) error
}

type SettingsService struct {
	settingsRepo settings.Repository
	defaults     settings.Defaults
	adminIDs     map[int64]struct{}
	timers       activitySyncer
}

// NewSettingsService creates the service. timers may be nil when nothing runs timers.
func NewSettingsService(sr settings.Repository, defaults settings.Defaults, adminIDs []int64, timers activitySyncer) *SettingsService {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &SettingsService{
		settingsRepo: sr,
		defaults:     defaults,
		adminIDs:     admins,
		timers:       timers,
	}
}

func (s *SettingsService) IsAdmin(userID int64) bool {
	_, ok := s.adminIDs[userID]
	return ok
}

// Get returns the group's settings, or the defaults when none are stored.
func (s *SettingsService) Get(ctx context.Context, groupID int64) (*settings.GroupSettings, error) {
	return groupSettings(ctx, s.settingsRepo, s.defaults, groupID)
}

// UpdateActivity changes the inactivity timings of a group and, when enabled is
// not nil, its default activity status. A changed status is applied to running
// timers of questions without their own override at once. Changed timings only
// apply from the next start or restart.
func (s *SettingsService) UpdateActivity(ctx context.Context, performingUserID, groupID int64, warnMinutes, closeMinutes int, enabled *bool) (*settings.GroupSettings, error) {
	if !s.IsAdmin(performingUserID) {
		return nil, ErrAdminNotAuthorized
	}

	current, err := s.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	updated := *current
	updated.ActivityWarnMinutes = warnMinutes
	updated.ActivityCloseMinutes = closeMinutes
	if enabled != nil {
		updated.ActivityStatus = *enabled
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	if err := s.settingsRepo.Upsert(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to save group settings: %w", err)
	}
	if s.timers != nil && updated.ActivityStatus != current.ActivityStatus {
		if err := s.timers.SyncGroupActivity(ctx, groupID); err != nil {
			return &updated, fmt.Errorf("failed to apply activity status to running timers: %w", err)
		}
	}
	return &updated, nil
}

// UpdateEmoji sets the topic icons. Empty values keep the current icon.
func (s *SettingsService) UpdateEmoji(ctx context.Context, performingUserID, groupID int64, open, inProgress, closed string) (*settings.GroupSettings, error) {
	if !s.IsAdmin(performingUserID) {
		return nil, ErrAdminNotAuthorized
	}
	current, err := s.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	updated := *current
	if open != "" {
		updated.EmojiOpen = open
	}
	if inProgress != "" {
		updated.EmojiInProgress = inProgress
	}
	if closed != "" {
		updated.EmojiClosed = closed
	}
	if err := s.settingsRepo.Upsert(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to save group settings: %w", err)
	}
	return &updated, nil
}
