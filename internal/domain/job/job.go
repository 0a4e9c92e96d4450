// internal/domain/job/job.go
package job

import (
	"context"
	"encoding/json"
	"time"
)

// Kind distinguishes one-shot jobs from recurring ones.
type Kind string

const (
	KindOnce     Kind = "once"
	KindInterval Kind = "interval"
)

// Job is a scheduled execution addressed by a unique string ID.
// Args carry only serializable identifiers; handlers refetch live state when they run.
type Job struct {
	ID        string
	Func      string // Name of the registered handler
	Kind      Kind
	Interval  time.Duration // Only for KindInterval
	NextRunAt time.Time
	Args      json.RawMessage
	CreatedAt time.Time
}

// HandlerFunc is the body executed when a job fires.
type HandlerFunc func(ctx context.Context, args json.RawMessage) error

// NextAfter returns the first anchor-aligned run time strictly after now.
// Missed firings of an interval job collapse into that single next run.
func (j *Job) NextAfter(now time.Time) time.Time {
	if j.Kind != KindInterval || j.Interval <= 0 {
		return time.Time{}
	}
	if j.NextRunAt.After(now) {
		return j.NextRunAt
	}
	missed := now.Sub(j.NextRunAt)/j.Interval + 1
	return j.NextRunAt.Add(missed * j.Interval)
}
