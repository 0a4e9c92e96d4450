package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"questioner_bot/internal/domain/job"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "questioner"

// RedisStore keeps job definitions in a hash and their run times in a sorted set,
// so jobs survive restarts and can be shared by several bot processes.
type RedisStore struct {
	client      *redis.Client
	jobsKey     string
	runTimesKey string
}

// redisJob is the JSON form stored in the jobs hash.
type redisJob struct {
	ID        string          `json:"id"`
	Func      string          `json:"func"`
	Kind      job.Kind        `json:"kind"`
	Interval  time.Duration   `json:"interval,omitempty"`
	NextRunAt time.Time       `json:"next_run_at"`
	Args      json.RawMessage `json:"args,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewRedisStore connects to redisURL and pings it.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	url := strings.TrimSpace(redisURL)
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStoreWithClient(client, defaultRedisPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client. Keys are namespaced by prefix.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client:      client,
		jobsKey:     prefix + ":jobs",
		runTimesKey: prefix + ":run_times",
	}
}

func (s *RedisStore) Add(ctx context.Context, j *job.Job) error {
	data, err := encodeRedisJob(j)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.jobsKey, j.ID, data)
		pipe.ZAdd(ctx, s.runTimesKey, redis.Z{Score: runScore(j.NextRunAt), Member: j.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis add job %s: %w", j.ID, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.HDel(ctx, s.jobsKey, id)
		pipe.ZRem(ctx, s.runTimesKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis remove job %s: %w", id, err)
	}
	if del.Val() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, id string) (*job.Job, error) {
	data, err := s.client.HGet(ctx, s.jobsKey, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, job.ErrJobNotFound
		}
		return nil, fmt.Errorf("redis lookup job %s: %w", id, err)
	}
	return decodeRedisJob(data)
}

func (s *RedisStore) List(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.ZRange(ctx, s.runTimesKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list jobs: %w", err)
	}
	return s.fetch(ctx, ids)
}

func (s *RedisStore) DueJobs(ctx context.Context, now time.Time) ([]*job.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.runTimesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis due jobs: %w", err)
	}
	return s.fetch(ctx, ids)
}

func (s *RedisStore) Advance(ctx context.Context, j *job.Job, next time.Time) (bool, error) {
	claimed := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, s.jobsKey, j.ID).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		current, err := decodeRedisJob(data)
		if err != nil {
			return err
		}
		if !current.NextRunAt.Equal(j.NextRunAt) {
			return nil
		}

		var updated []byte
		if !next.IsZero() {
			current.NextRunAt = next
			if updated, err = encodeRedisJob(current); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next.IsZero() {
				pipe.HDel(ctx, s.jobsKey, j.ID)
				pipe.ZRem(ctx, s.runTimesKey, j.ID)
				return nil
			}
			pipe.HSet(ctx, s.jobsKey, j.ID, updated)
			pipe.ZAdd(ctx, s.runTimesKey, redis.Z{Score: runScore(next), Member: j.ID})
			return nil
		})
		if err != nil {
			return err
		}
		claimed = true
		return nil
	}, s.jobsKey)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return false, nil
		}
		return false, fmt.Errorf("redis advance job %s: %w", j.ID, err)
	}
	return claimed, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) fetch(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	values, err := s.client.HMGet(ctx, s.jobsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis fetch jobs: %w", err)
	}
	out := make([]*job.Job, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Removed between the two reads.
			continue
		}
		j, err := decodeRedisJob([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode job %s: %w", ids[i], err)
		}
		out = append(out, j)
	}
	return out, nil
}

func runScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func encodeRedisJob(j *job.Job) ([]byte, error) {
	return json.Marshal(redisJob{
		ID:        j.ID,
		Func:      j.Func,
		Kind:      j.Kind,
		Interval:  j.Interval,
		NextRunAt: j.NextRunAt.UTC(),
		Args:      j.Args,
		CreatedAt: j.CreatedAt.UTC(),
	})
}

func decodeRedisJob(data []byte) (*job.Job, error) {
	var rj redisJob
	if err := json.Unmarshal(data, &rj); err != nil {
		return nil, err
	}
	return &job.Job{
		ID:        rj.ID,
		Func:      rj.Func,
		Kind:      rj.Kind,
		Interval:  rj.Interval,
		NextRunAt: rj.NextRunAt,
		Args:      rj.Args,
		CreatedAt: rj.CreatedAt,
	}, nil
}
