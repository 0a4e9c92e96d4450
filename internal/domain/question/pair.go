package question

import (
	"context"
	"time"
)

// MessagePair links a message in the employee's private chat with its copy in
// the question topic, in whichever direction it was relayed.
type MessagePair struct {
	ID                int64
	Token             string
	EmployeeChatID    int64
	EmployeeMessageID int
	GroupID           int64
	TopicID           int
	TopicMessageID    int
	FromEmployee      bool // The employee wrote the original, the topic holds the copy
	CreatedAt         time.Time
}

// Source returns the chat and message the author can edit.
func (p *MessagePair) Source() (int64, int) {
	if p.FromEmployee {
		return p.EmployeeChatID, p.EmployeeMessageID
	}
	return p.GroupID, p.TopicMessageID
}

// Copy returns the chat and message the bot relayed.
func (p *MessagePair) Copy() (int64, int) {
	if p.FromEmployee {
		return p.GroupID, p.TopicMessageID
	}
	return p.EmployeeChatID, p.EmployeeMessageID
}

type PairRepository interface {
	AddPair(ctx context.Context, p *MessagePair) error
	// FindPair looks a message up on either side of a pair.
	FindPair(ctx context.Context, chatID int64, messageID int) (*MessagePair, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
