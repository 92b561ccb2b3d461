package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// MemoryStore is an in-process Store for dev mode and tests. It honors the
// same claim atomicity as PostgresStore but does not survive a restart, so
// production workers use Postgres.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Migrate is a no-op.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// Enqueue inserts a queued job, filling defaults for zero fields.
func (s *MemoryStore) Enqueue(_ context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; ok {
		return eris.Errorf("jobs: enqueue %s: already exists", j.ID)
	}
	now := s.now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = now
	}
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	if j.Status == "" {
		j.Status = StatusQueued
	}
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

// Claim selects up to limit due queued jobs and marks them running, oldest
// first. The whole operation runs under one lock, so concurrent claimers
// never overlap.
func (s *MemoryStore) Claim(_ context.Context, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var due []*Job
	for _, j := range s.jobs {
		if j.Status == StatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].RunAt.Before(due[k].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]Job, 0, len(due))
	for _, j := range due {
		j.Status = StatusRunning
		j.Attempts++
		j.UpdatedAt = now
		out = append(out, *j)
	}
	return out, nil
}

// MarkDone finishes a running job successfully.
func (s *MemoryStore) MarkDone(_ context.Context, id string) error {
	return s.finish(id, StatusDone, "")
}

// MarkError finishes a running job with a failure message.
func (s *MemoryStore) MarkError(_ context.Context, id, msg string) error {
	return s.finish(id, StatusError, msg)
}

func (s *MemoryStore) finish(id string, status Status, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Status != StatusRunning {
		return eris.Errorf("jobs: finish %s: not running", id)
	}
	now := s.now().UTC()
	j.Status = status
	j.LastError = msg
	j.UpdatedAt = now
	j.FinishedAt = now
	return nil
}

// Cancel withdraws a job that has not started.
func (s *MemoryStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Status != StatusQueued {
		return eris.Errorf("jobs: cancel %s: not queued", id)
	}
	now := s.now().UTC()
	j.Status = StatusCancelled
	j.UpdatedAt = now
	j.FinishedAt = now
	return nil
}

// Get fetches a job by id, nil when absent.
func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}
