package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"questioner_bot/internal/domain/question"
)

var ErrPairNotFound = fmt.Errorf("message pair not found")

type PostgresPairRepository struct {
	db *sql.DB
}

func NewPostgresPairRepository(db *sql.DB) *PostgresPairRepository {
	return &PostgresPairRepository{db: db}
}

func (r *PostgresPairRepository) AddPair(ctx context.Context, p *question.MessagePair) error {
	query := `INSERT INTO message_pairs (question_token, employee_chat_id, employee_message_id, group_id,
                 topic_id, topic_message_id, from_employee, created_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
               RETURNING id`
	err := r.db.QueryRowContext(ctx, query, p.Token, p.EmployeeChatID, p.EmployeeMessageID, p.GroupID,
		p.TopicID, p.TopicMessageID, p.FromEmployee, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("error creating message pair: %w", err)
	}
	return nil
}

// FindPair matches the message against both sides. Private chat IDs are
// positive and supergroup IDs negative, so the two sides never collide.
func (r *PostgresPairRepository) FindPair(ctx context.Context, chatID int64, messageID int) (*question.MessagePair, error) {
	query := `SELECT id, question_token, employee_chat_id, employee_message_id, group_id, topic_id,
                 topic_message_id, from_employee, created_at
               FROM message_pairs
               WHERE (employee_chat_id = $1 AND employee_message_id = $2)
                  OR (group_id = $1 AND topic_message_id = $2)
               ORDER BY id DESC LIMIT 1`
	p := &question.MessagePair{}
	err := r.db.QueryRowContext(ctx, query, chatID, messageID).Scan(&p.ID, &p.Token, &p.EmployeeChatID,
		&p.EmployeeMessageID, &p.GroupID, &p.TopicID, &p.TopicMessageID, &p.FromEmployee, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPairNotFound
		}
		return nil, fmt.Errorf("error getting message pair: %w", err)
	}
	return p, nil
}

func (r *PostgresPairRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM message_pairs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error deleting old message pairs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error deleting old message pairs: %w", err)
	}
	return n, nil
}
