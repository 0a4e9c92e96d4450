package question

import (
	"context"
	"database/sql"
	"time"
)

// Repository defines the operations for persisting and retrieving questions.
// Status transitions are conditional updates so that each read-modify-write is atomic per token.
type Repository interface {
	Create(ctx context.Context, q *Question) error
	GetByToken(ctx context.Context, token string) (*Question, error)
	GetByTopic(ctx context.Context, groupID int64, topicID int) (*Question, error)
	GetActiveByEmployee(ctx context.Context, employeeUserID int64) (*Question, error)
	// GetLatestByEmployee returns the employee's most recently started question in any status.
	GetLatestByEmployee(ctx context.Context, employeeUserID int64) (*Question, error)
	ListActiveByGroup(ctx context.Context, groupID int64) ([]*Question, error)

	// Claim assigns a duty responder to an open, unclaimed question. Reports false if it was not.
	Claim(ctx context.Context, token string, dutyUserID int64, dutyName string) (bool, error)
	// Release returns an in-progress question to the open pool.
	Release(ctx context.Context, token string) (bool, error)
	// Close moves an active question to closed and stamps end time.
	Close(ctx context.Context, token string, endTime time.Time) (bool, error)
	// Reopen moves a closed question back to in progress.
	Reopen(ctx context.Context, token string) (bool, error)
	SetActivityStatus(ctx context.Context, token string, enabled sql.NullBool) error
	// SetQuality stores a rating of a closed question. Reports false if the
	// question is not closed or that side has already rated it.
	SetQuality(ctx context.Context, token string, rater Rater, good bool) (bool, error)

	ListStartedBefore(ctx context.Context, cutoff time.Time) ([]*Question, error)
	Delete(ctx context.Context, token string) error
}
