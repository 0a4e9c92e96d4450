package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"questioner_bot/internal/domain/job"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// scheduledJob is the row stored in the scheduled_jobs table.
type scheduledJob struct {
	ID              string    `gorm:"primaryKey;type:text"`
	Func            string    `gorm:"type:text;not null"`
	Kind            string    `gorm:"type:text;not null"`
	IntervalSeconds int64     `gorm:"not null;default:0"`
	NextRunAt       time.Time `gorm:"type:timestamptz;index;not null"`
	Args            []byte    `gorm:"type:jsonb;not null;default:'{}'::jsonb"`
	CreatedAt       time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

func (scheduledJob) TableName() string { return "scheduled_jobs" }

// SQLStore keeps jobs in Postgres through gorm.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore connects to dsn and migrates the scheduled_jobs table.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open job store database: %w", err)
	}
	store := NewSQLStore(gdb)
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the scheduled_jobs table and its indexes.
func (s *SQLStore) Migrate() error {
	if err := s.db.AutoMigrate(&scheduledJob{}); err != nil {
		return fmt.Errorf("failed to migrate scheduled_jobs: %w", err)
	}
	return nil
}

func (s *SQLStore) Add(ctx context.Context, j *job.Job) error {
	row := toRow(j)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("error adding scheduled job %s: %w", j.ID, err)
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&scheduledJob{})
	if res.Error != nil {
		return fmt.Errorf("error removing scheduled job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

func (s *SQLStore) Lookup(ctx context.Context, id string) (*job.Job, error) {
	var row scheduledJob
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, job.ErrJobNotFound
		}
		return nil, fmt.Errorf("error getting scheduled job %s: %w", id, err)
	}
	return fromRow(row), nil
}

func (s *SQLStore) List(ctx context.Context) ([]*job.Job, error) {
	var rows []scheduledJob
	if err := s.db.WithContext(ctx).Order("next_run_at asc, id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing scheduled jobs: %w", err)
	}
	return fromRows(rows), nil
}

func (s *SQLStore) DueJobs(ctx context.Context, now time.Time) ([]*job.Job, error) {
	var rows []scheduledJob
	err := s.db.WithContext(ctx).
		Where("next_run_at <= ?", now.UTC()).
		Order("next_run_at asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error listing due scheduled jobs: %w", err)
	}
	return fromRows(rows), nil
}

// Advance is a conditional UPDATE/DELETE on (id, next_run_at); only one process wins a firing.
func (s *SQLStore) Advance(ctx context.Context, j *job.Job, next time.Time) (bool, error) {
	q := s.db.WithContext(ctx).Where("id = ? AND next_run_at = ?", j.ID, j.NextRunAt.UTC().Truncate(time.Microsecond))
	var res *gorm.DB
	if next.IsZero() {
		res = q.Delete(&scheduledJob{})
	} else {
		res = q.Model(&scheduledJob{}).Update("next_run_at", next.UTC().Truncate(time.Microsecond))
	}
	if res.Error != nil {
		return false, fmt.Errorf("error advancing scheduled job %s: %w", j.ID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(j *job.Job) scheduledJob {
	args := []byte(j.Args)
	if len(args) == 0 {
		args = []byte("{}")
	}
	return scheduledJob{
		ID:              j.ID,
		Func:            j.Func,
		Kind:            string(j.Kind),
		IntervalSeconds: int64(j.Interval / time.Second),
		// timestamptz keeps microseconds; truncate so Advance compares what was stored.
		NextRunAt: j.NextRunAt.UTC().Truncate(time.Microsecond),
		Args:      args,
		CreatedAt: j.CreatedAt.UTC(),
	}
}

func fromRow(row scheduledJob) *job.Job {
	return &job.Job{
		ID:        row.ID,
		Func:      row.Func,
		Kind:      job.Kind(row.Kind),
		Interval:  time.Duration(row.IntervalSeconds) * time.Second,
		NextRunAt: row.NextRunAt,
		Args:      row.Args,
		CreatedAt: row.CreatedAt,
	}
}

func fromRows(rows []scheduledJob) []*job.Job {
	out := make([]*job.Job, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out
}
