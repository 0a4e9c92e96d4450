package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"questioner_bot/internal/domain/question"

	"github.com/lib/pq"
)

// Custom errors
var ErrQuestionNotFound = fmt.Errorf("question not found")
var ErrDuplicateToken = fmt.Errorf("question with this token already exists")

const questionColumns = `token, status, group_id, topic_id, employee_user_id, employee_name, question_text,
	duty_user_id, duty_name, activity_status_enabled, start_time, end_time, quality_employee, quality_duty`

type PostgresQuestionRepository struct {
	db *sql.DB
}

func NewPostgresQuestionRepository(db *sql.DB) *PostgresQuestionRepository {
	return &PostgresQuestionRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (*question.Question, error) {
	q := &question.Question{}
	err := row.Scan(&q.Token, &q.Status, &q.GroupID, &q.TopicID, &q.EmployeeUserID, &q.EmployeeName, &q.QuestionText,
		&q.DutyUserID, &q.DutyName, &q.ActivityStatusEnabled, &q.StartTime, &q.EndTime, &q.QualityEmployee, &q.QualityDuty)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func activeStatuses() any {
	statuses := make([]string, 0, len(question.ActiveStatuses))
	for _, s := range question.ActiveStatuses {
		statuses = append(statuses, string(s))
	}
	return pq.Array(statuses)
}

func (r *PostgresQuestionRepository) Create(ctx context.Context, q *question.Question) error {
	query := `INSERT INTO questions (token, status, group_id, topic_id, employee_user_id, employee_name,
                 question_text, activity_status_enabled, start_time)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query, q.Token, q.Status, q.GroupID, q.TopicID, q.EmployeeUserID, q.EmployeeName,
		q.QuestionText, q.ActivityStatusEnabled, q.StartTime)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return ErrDuplicateToken
		}
		return fmt.Errorf("error creating question: %w", err)
	}
	return nil
}

func (r *PostgresQuestionRepository) GetByToken(ctx context.Context, token string) (*question.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE token = $1`
	q, err := scanQuestion(r.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("error getting question by token: %w", err)
	}
	return q, nil
}

// GetByTopic returns the newest question bound to a forum topic.
func (r *PostgresQuestionRepository) GetByTopic(ctx context.Context, groupID int64, topicID int) (*question.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions
               WHERE group_id = $1 AND topic_id = $2
               ORDER BY start_time DESC LIMIT 1`
	q, err := scanQuestion(r.db.QueryRowContext(ctx, query, groupID, topicID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("error getting question by topic: %w", err)
	}
	return q, nil
}

func (r *PostgresQuestionRepository) GetActiveByEmployee(ctx context.Context, employeeUserID int64) (*question.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions
               WHERE employee_user_id = $1 AND status = ANY($2)
               ORDER BY start_time DESC LIMIT 1`
	q, err := scanQuestion(r.db.QueryRowContext(ctx, query, employeeUserID, activeStatuses()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("error getting active question for employee: %w", err)
	}
	return q, nil
}

func (r *PostgresQuestionRepository) GetLatestByEmployee(ctx context.Context, employeeUserID int64) (*question.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions
               WHERE employee_user_id = $1
               ORDER BY start_time DESC LIMIT 1`
	q, err := scanQuestion(r.db.QueryRowContext(ctx, query, employeeUserID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("error getting latest question for employee: %w", err)
	}
	return q, nil
}

func (r *PostgresQuestionRepository) ListActiveByGroup(ctx context.Context, groupID int64) ([]*question.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions
               WHERE group_id = $1 AND status = ANY($2) ORDER BY start_time`
	return r.list(ctx, "active questions", query, groupID, activeStatuses())
}

func (r *PostgresQuestionRepository) Claim(ctx context.Context, token string, dutyUserID int64, dutyName string) (bool, error) {
	query := `UPDATE questions
               SET duty_user_id = $2, duty_name = $3, status = $4
               WHERE token = $1 AND status = $5 AND duty_user_id IS NULL`
	return r.execConditional(ctx, "claiming question", query, token, dutyUserID, dutyName, question.StatusInProgress, question.StatusOpen)
}

func (r *PostgresQuestionRepository) Release(ctx context.Context, token string) (bool, error) {
	query := `UPDATE questions
               SET duty_user_id = NULL, duty_name = NULL, status = $2
               WHERE token = $1 AND status = $3`
	return r.execConditional(ctx, "releasing question", query, token, question.StatusOpen, question.StatusInProgress)
}

func (r *PostgresQuestionRepository) Close(ctx context.Context, token string, endTime time.Time) (bool, error) {
	query := `UPDATE questions
               SET status = $2, end_time = $3
               WHERE token = $1 AND status = ANY($4)`
	return r.execConditional(ctx, "closing question", query, token, question.StatusClosed, endTime, activeStatuses())
}

// Reopen returns a closed question to its responder. Questions nobody claimed go back to open.
func (r *PostgresQuestionRepository) Reopen(ctx context.Context, token string) (bool, error) {
	query := `UPDATE questions
               SET status = CASE WHEN duty_user_id IS NULL THEN $2 ELSE $3 END, end_time = NULL
               WHERE token = $1 AND status = $4`
	return r.execConditional(ctx, "reopening question", query, token, question.StatusOpen, question.StatusInProgress, question.StatusClosed)
}

func (r *PostgresQuestionRepository) SetActivityStatus(ctx context.Context, token string, enabled sql.NullBool) error {
	query := `UPDATE questions SET activity_status_enabled = $2 WHERE token = $1`
	res, err := r.db.ExecContext(ctx, query, token, enabled)
	if err != nil {
		return fmt.Errorf("error updating activity status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

func (r *PostgresQuestionRepository) SetQuality(ctx context.Context, token string, rater question.Rater, good bool) (bool, error) {
	var query string
	switch rater {
	case question.RaterEmployee:
		query = `UPDATE questions SET quality_employee = $2 WHERE token = $1 AND status = $3 AND quality_employee IS NULL`
	case question.RaterDuty:
		query = `UPDATE questions SET quality_duty = $2 WHERE token = $1 AND status = $3 AND quality_duty IS NULL`
	default:
		return false, fmt.Errorf("unknown rater %q", rater)
	}
	return r.execConditional(ctx, "rating question", query, token, good, question.StatusClosed)
}

func (r *PostgresQuestionRepository) ListStartedBefore(ctx context.Context, cutoff time.Time) ([]*question.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE start_time < $1 ORDER BY start_time`
	return r.list(ctx, "old questions", query, cutoff)
}

func (r *PostgresQuestionRepository) list(ctx context.Context, what, query string, args ...any) ([]*question.Question, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing %s: %w", what, err)
	}
	defer rows.Close()

	questions := make([]*question.Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning %s: %w", what, err)
		}
		questions = append(questions, q)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", what, err)
	}
	return questions, nil
}

func (r *PostgresQuestionRepository) Delete(ctx context.Context, token string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM questions WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("error deleting question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

func (r *PostgresQuestionRepository) execConditional(ctx context.Context, what, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("error %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error %s: %w", what, err)
	}
	return n == 1, nil
}
