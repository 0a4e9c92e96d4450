// internal/domain/settings/settings.go
package settings

import (
	"errors"
	"fmt"
)

var ErrInvalidActivityTimings = errors.New("activity warn minutes must be positive and less than close minutes")

// GroupSettings holds per-forum configuration read by the question timers.
// Corresponds to the 'group_settings' table.
type GroupSettings struct {
	GroupID              int64
	ActivityStatus       bool // Group default for inactivity timers
	ActivityWarnMinutes  int
	ActivityCloseMinutes int
	EmojiOpen            string
	EmojiInProgress      string
	EmojiClosed          string
}

// Validate enforces warn < close. It is checked when settings change, not when timers start.
func (s *GroupSettings) Validate() error {
	if s.ActivityWarnMinutes <= 0 || s.ActivityCloseMinutes <= s.ActivityWarnMinutes {
		return fmt.Errorf("%w: warn=%d close=%d", ErrInvalidActivityTimings, s.ActivityWarnMinutes, s.ActivityCloseMinutes)
	}
	return nil
}

// Defaults describes the settings used for a group with no stored row.
type Defaults struct {
	ActivityStatus       bool
	ActivityWarnMinutes  int
	ActivityCloseMinutes int
}

// For builds GroupSettings for groupID from the defaults.
func (d Defaults) For(groupID int64) *GroupSettings {
	return &GroupSettings{
		GroupID:              groupID,
		ActivityStatus:       d.ActivityStatus,
		ActivityWarnMinutes:  d.ActivityWarnMinutes,
		ActivityCloseMinutes: d.ActivityCloseMinutes,
	}
}
