package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"questioner_bot/internal/domain/job"
)

// MemoryStore keeps jobs in process memory. Everything is lost on restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*job.Job)}
}

func (s *MemoryStore) Add(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = cloneJob(j)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return job.ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, cloneJob(j))
	}
	sortByNextRun(out)
	return out, nil
}

func (s *MemoryStore) DueJobs(_ context.Context, now time.Time) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*job.Job
	for _, j := range s.jobs {
		if !j.NextRunAt.After(now) {
			out = append(out, cloneJob(j))
		}
	}
	sortByNextRun(out)
	return out, nil
}

func (s *MemoryStore) Advance(_ context.Context, j *job.Job, next time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[j.ID]
	if !ok || !current.NextRunAt.Equal(j.NextRunAt) {
		return false, nil
	}
	if next.IsZero() {
		delete(s.jobs, j.ID)
		return true, nil
	}
	current.NextRunAt = next
	return true, nil
}

func cloneJob(j *job.Job) *job.Job {
	c := *j
	if j.Args != nil {
		c.Args = append([]byte(nil), j.Args...)
	}
	return &c
}

func sortByNextRun(jobs []*job.Job) {
	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].NextRunAt.Equal(jobs[b].NextRunAt) {
			return jobs[a].ID < jobs[b].ID
		}
		return jobs[a].NextRunAt.Before(jobs[b].NextRunAt)
	})
}
