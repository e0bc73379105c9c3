package results

import (
	"context"
	"sort"
	"sync"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// MemoryStore keeps summaries in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	summaries map[string]domain.PredictionSummary
	writes    map[string]int
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		summaries: make(map[string]domain.PredictionSummary),
		writes:    make(map[string]int),
	}
}

func (s *MemoryStore) Put(ctx context.Context, summary *domain.PredictionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *summary
	stored.Detections = append(domain.Detections{}, summary.Detections...)
	s.summaries[summary.JobID] = stored
	s.writes[summary.JobID]++
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*domain.PredictionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.summaries[jobID]
	if !ok {
		return nil, domain.ErrPredictionNotFound
	}
	stored.Detections = append(domain.Detections{}, stored.Detections...)
	return &stored, nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]domain.PredictionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.PredictionSummary
	for _, stored := range s.summaries {
		if filter.RequesterRef != "" && stored.RequesterRef != filter.RequesterRef {
			continue
		}
		if filter.Cursor != nil && !olderThan(stored, *filter.Cursor) {
			continue
		}
		stored.Detections = append(domain.Detections{}, stored.Detections...)
		out = append(out, stored)
	}

	sort.Slice(out, func(i, j int) bool {
		return olderThan(out[j], Cursor{CompletedAt: out[i].CompletedAt, JobID: out[i].JobID})
	})

	if limit := filter.PageSize + 1; len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// olderThan reports whether summary sorts after the cursor in newest-first order
func olderThan(summary domain.PredictionSummary, cursor Cursor) bool {
	if summary.CompletedAt.Equal(cursor.CompletedAt) {
		return summary.JobID < cursor.JobID
	}
	return summary.CompletedAt.Before(cursor.CompletedAt)
}

// Len returns the number of stored summaries
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.summaries)
}

// Writes returns how many times a job's summary was written
func (s *MemoryStore) Writes(jobID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[jobID]
}
