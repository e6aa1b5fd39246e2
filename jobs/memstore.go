package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DQYXACML/chaintrace/database/worker"
	"github.com/DQYXACML/chaintrace/trace"
)

// MemoryStore is an in-process worker.TraceJobDB. Claims and transitions are
// serialized by a single mutex, which gives the same exclusivity as row locks.
type MemoryStore struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*worker.TraceJob
	order []uuid.UUID
	now   func() time.Time
}

var _ worker.TraceJobDB = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*worker.TraceJob),
		now:  time.Now,
	}
}

func (s *MemoryStore) GetTraceJob(_ context.Context, guid uuid.UUID) (*worker.TraceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[guid]
	if !ok {
		return nil, worker.ErrJobNotFound
	}
	return copyJob(job), nil
}

func (s *MemoryStore) ListTraceJobs(_ context.Context, status string, limit int) ([]worker.TraceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []worker.TraceJob
	for i := len(s.order) - 1; i >= 0; i-- {
		job := s.jobs[s.order[i]]
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, *copyJob(job))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateTraceJob(_ context.Context, job *worker.TraceJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.GUID == uuid.Nil {
		job.GUID = uuid.New()
	}
	now := s.now()
	job.Status = worker.StatusPending
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.GUID] = copyJob(job)
	s.order = append(s.order, job.GUID)
	return nil
}

func (s *MemoryStore) ClaimNextPending(_ context.Context) (*worker.TraceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, guid := range s.order {
		job := s.jobs[guid]
		if job.Status != worker.StatusPending {
			continue
		}
		now := s.now()
		job.Status = worker.StatusProcessing
		job.StartedAt = &now
		job.UpdatedAt = now
		job.Attempts++
		return copyJob(job), nil
	}
	return nil, nil
}

func (s *MemoryStore) CompleteTraceJob(_ context.Context, guid uuid.UUID, result *trace.Result) (bool, error) {
	return s.transition(guid, func(job *worker.TraceJob, now time.Time) {
		job.Status = worker.StatusCompleted
		job.Result = result
		job.CompletedAt = &now
	}, worker.StatusProcessing)
}

func (s *MemoryStore) FailTraceJob(_ context.Context, guid uuid.UUID, flags []string) (bool, error) {
	return s.transition(guid, func(job *worker.TraceJob, now time.Time) {
		job.Status = worker.StatusFailed
		job.FailureFlags = append([]string(nil), flags...)
		job.CompletedAt = &now
	}, worker.StatusProcessing)
}

func (s *MemoryStore) RequeueTraceJob(_ context.Context, guid uuid.UUID, flags []string) (bool, error) {
	return s.transition(guid, func(job *worker.TraceJob, now time.Time) {
		job.Status = worker.StatusPending
		job.FailureFlags = append([]string(nil), flags...)
		job.StartedAt = nil
	}, worker.StatusProcessing)
}

func (s *MemoryStore) CancelTraceJob(_ context.Context, guid uuid.UUID) (bool, error) {
	return s.transition(guid, func(job *worker.TraceJob, now time.Time) {
		job.Status = worker.StatusFailed
		job.Cancelled = true
		job.FailureFlags = []string{worker.FlagCancelled}
		job.CompletedAt = &now
	}, worker.StatusPending, worker.StatusProcessing)
}

func (s *MemoryStore) transition(guid uuid.UUID, apply func(*worker.TraceJob, time.Time), from ...string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[guid]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if job.Status == status {
			now := s.now()
			apply(job, now)
			job.UpdatedAt = now
			return true, nil
		}
	}
	return false, nil
}

func copyJob(job *worker.TraceJob) *worker.TraceJob {
	out := *job
	out.FailureFlags = append([]string(nil), job.FailureFlags...)
	return &out
}
