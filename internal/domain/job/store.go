// internal/domain/job/store.go
package job

import (
	"context"
	"errors"
	"time"
)

var ErrJobNotFound = errors.New("scheduled job not found")

// Store persists scheduled jobs keyed by ID. Implementations must be safe for concurrent use.
type Store interface {
	// Add inserts the job or replaces an existing one with the same ID.
	Add(ctx context.Context, j *Job) error
	// Remove deletes the job. Returns ErrJobNotFound when no such job exists.
	Remove(ctx context.Context, id string) error
	Lookup(ctx context.Context, id string) (*Job, error)
	// List returns all jobs ordered by NextRunAt.
	List(ctx context.Context) ([]*Job, error)
	// DueJobs returns jobs whose NextRunAt is at or before now.
	DueJobs(ctx context.Context, now time.Time) ([]*Job, error)
	// Advance moves j to next, or deletes it when next is zero, but only if the stored
	// job still has j.NextRunAt. It reports false when someone else got there first.
	Advance(ctx context.Context, j *Job, next time.Time) (bool, error)
}
