package database

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/snarg/talkpace/internal/analysis"
)

// MemStore is an in-process Store used when DATABASE_URL is unset.
// Nothing survives a restart.
type MemStore struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	records map[string][]analysis.Record
	now     func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		jobs:    make(map[string]*Job),
		records: make(map[string][]analysis.Record),
		now:     time.Now,
	}
}

func (m *MemStore) InsertJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.Status == "" {
		job.Status = JobQueued
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *MemStore) MarkJobRunning(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	j.Status = JobRunning
	j.StartedAt = &now
	return nil
}

func (m *MemStore) CompleteJob(_ context.Context, id string, c JobCompletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	applyCompletion(j, c, m.now())
	m.records[id] = slices.Clone(c.Records)
	return nil
}

func (m *MemStore) FailJob(_ context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	j.Status = JobFailed
	j.Error = reason
	j.CompletedAt = &now
	return nil
}

func (m *MemStore) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *MemStore) ListJobs(_ context.Context, filter JobFilter) ([]Job, int, error) {
	m.mu.RLock()
	var matched []Job
	for _, j := range m.jobs {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, j.Status) {
			continue
		}
		if filter.Source != "" && j.Source != filter.Source {
			continue
		}
		if filter.Since != nil && j.CreatedAt.Before(*filter.Since) {
			continue
		}
		matched = append(matched, *j)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(a, b int) bool {
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	total := len(matched)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	page := append([]Job{}, matched[start:end]...)
	return page, total, nil
}

func (m *MemStore) ListRecords(_ context.Context, jobID string) ([]analysis.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.records[jobID]
	if recs == nil {
		return []analysis.Record{}, nil
	}
	return slices.Clone(recs), nil
}

func (m *MemStore) HealthCheck(context.Context) error { return nil }
