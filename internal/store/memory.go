package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"prowler/internal/model"
)

// Memory implements Repository in process memory. It backs tests and
// DSN-less development runs.
type Memory struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*model.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[uuid.UUID]*model.Job)}
}

func (m *Memory) Close() {}

// cloneJob keeps callers from mutating stored state through shared
// slices and maps.
func cloneJob(job *model.Job) *model.Job {
	raw, _ := json.Marshal(job)
	var out model.Job
	_ = json.Unmarshal(raw, &out)
	return &out
}

func (m *Memory) Create(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (m *Memory) Update(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return model.ErrJobNotFound
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *Memory) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return model.ErrJobNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) List(_ context.Context, f ListFilter) ([]*model.Job, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*model.Job
	for _, job := range m.jobs {
		if f.Status != "" && job.Status != f.Status {
			continue
		}
		if f.UserID != "" && job.UserID != f.UserID {
			continue
		}
		matched = append(matched, job)
	}
	sort.Slice(matched, func(a, b int) bool {
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*model.Job, len(matched))
	for i, job := range matched {
		out[i] = cloneJob(job)
	}
	return out, total, nil
}

func (m *Memory) FindRecentCompleted(_ context.Context, url, sessionID string, since time.Time) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *model.Job
	for _, job := range m.jobs {
		if job.URL != url || job.SessionID != sessionID {
			continue
		}
		if job.Status != model.StatusCompleted || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.Before(since) {
			continue
		}
		if best == nil || job.CompletedAt.After(*best.CompletedAt) {
			best = job
		}
	}
	if best == nil {
		return nil, model.ErrJobNotFound
	}
	return cloneJob(best), nil
}

func (m *Memory) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, job := range m.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}
