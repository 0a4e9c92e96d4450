package question

import (
	"database/sql"
	"time"
)

// Status is the lifecycle state of a question.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

// ActiveStatuses are the statuses in which inactivity timers may act.
var ActiveStatuses = []Status{StatusOpen, StatusInProgress}

// Question is a single help-desk conversation mirrored into a forum topic.
type Question struct {
	Token                 string
	Status                Status
	GroupID               int64
	TopicID               int
	EmployeeUserID        int64
	EmployeeName          string
	QuestionText          string
	DutyUserID            sql.NullInt64 // Set once a duty responder claims the question
	DutyName              sql.NullString
	ActivityStatusEnabled sql.NullBool // NULL inherits the group default
	StartTime             time.Time
	EndTime               sql.NullTime
	QualityEmployee       sql.NullBool // Employee's verdict: true when the answer helped
	QualityDuty           sql.NullBool // Duty's verdict: true when the employee could not solve it alone
}

// Rater is the side giving a quality rating to a closed question.
type Rater string

const (
	RaterEmployee Rater = "employee"
	RaterDuty     Rater = "duty"
)

// IsActive reports whether the question is open or in progress.
func (q *Question) IsActive() bool {
	return q.Status == StatusOpen || q.Status == StatusInProgress
}

// IsClaimed reports whether a duty responder owns the question.
func (q *Question) IsClaimed() bool {
	return q.DutyUserID.Valid
}

// AwaitsDuty reports whether the question is open and nobody has claimed it yet.
func (q *Question) AwaitsDuty() bool {
	return q.Status == StatusOpen && !q.DutyUserID.Valid
}

// ActivityEnabled resolves the tri-state override against the group default.
func (q *Question) ActivityEnabled(groupDefault bool) bool {
	if q.ActivityStatusEnabled.Valid {
		return q.ActivityStatusEnabled.Bool
	}
	return groupDefault
}

// Rated reports whether the given side has already rated the question.
func (q *Question) Rated(r Rater) bool {
	if r == RaterDuty {
		return q.QualityDuty.Valid
	}
	return q.QualityEmployee.Valid
}
