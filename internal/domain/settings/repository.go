package settings

import "context"

// Repository defines operations for GroupSettings.
type Repository interface {
	GetByGroupID(ctx context.Context, groupID int64) (*GroupSettings, error)
	Upsert(ctx context.Context, s *GroupSettings) error
}
