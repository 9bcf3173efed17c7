package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/mediafetch/internal/download"
)

// JobStore keeps download jobs in memory, preserving submission order.
type JobStore struct {
	mu    sync.RWMutex
	now   func() time.Time
	jobs  map[string]download.Job
	order []string
}

// NewJobStore constructs a JobStore. A nil now defaults to UTC wall time.
func NewJobStore(now func() time.Time) *JobStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &JobStore{
		now:  now,
		jobs: make(map[string]download.Job),
	}
}

// Create stores a new job.
func (s *JobStore) Create(_ context.Context, job download.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return download.ErrJobExists
	}
	ts := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = ts
	}
	job.UpdatedAt = ts
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(_ context.Context, jobID string) (download.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return download.Job{}, download.ErrJobNotFound
	}
	return job, nil
}

// Transition moves a job to status `to`, applying mutate to the record first.
// Illegal moves are rejected with a TransitionError and leave the job untouched.
func (s *JobStore) Transition(
	_ context.Context,
	jobID string,
	to download.Status,
	mutate func(*download.Job),
) (download.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return download.Job{}, download.ErrJobNotFound
	}
	if !download.CanTransition(job.Status, to) {
		return job, &download.TransitionError{JobID: jobID, From: job.Status, To: to}
	}
	if mutate != nil {
		mutate(&job)
	}
	ts := s.now()
	job.Status = to
	job.UpdatedAt = ts
	if to.Terminal() {
		job.CompletedAt = pointerTime(ts)
	}
	if to != download.StatusRetrying {
		job.NextRetryAt = nil
	}
	s.jobs[jobID] = job
	return job, nil
}

// Update applies mutate without changing status.
func (s *JobStore) Update(_ context.Context, jobID string, mutate func(*download.Job)) (download.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return download.Job{}, download.ErrJobNotFound
	}
	status := job.Status
	mutate(&job)
	job.Status = status
	job.UpdatedAt = s.now()
	s.jobs[jobID] = job
	return job, nil
}

// List returns a copy of all jobs in submission order.
func (s *JobStore) List(_ context.Context) []download.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]download.Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id])
	}
	return out
}

// Len returns the number of stored jobs.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Remove deletes a terminal job. Removing an unknown job is a no-op.
func (s *JobStore) Remove(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	if !job.Status.Terminal() {
		return download.ErrJobNotTerminal
	}
	s.removeLocked(jobID)
	return nil
}

// ReapTerminal deletes terminal jobs whose CompletedAt is at or before cutoff
// and returns their IDs. Non-terminal jobs are never touched.
func (s *JobStore) ReapTerminal(_ context.Context, cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped []string
	kept := s.order[:0]
	for _, id := range s.order {
		job := s.jobs[id]
		if !job.Status.Terminal() || job.CompletedAt == nil || job.CompletedAt.After(cutoff) {
			kept = append(kept, id)
			continue
		}
		delete(s.jobs, id)
		reaped = append(reaped, id)
	}
	clear(s.order[len(kept):])
	s.order = kept
	return reaped
}

func (s *JobStore) removeLocked(jobID string) {
	delete(s.jobs, jobID)
	for i, id := range s.order {
		if id == jobID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func pointerTime(t time.Time) *time.Time {
	return &t
}
