package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/era5-downloader/internal/era5"
)

var (
	// ErrNotFound is returned when no run matches the query.
	ErrNotFound = errors.New("no download runs recorded")
)

// MemoryStore is a concurrency-safe in-memory history of download runs,
// ordered by the time they were saved.
type MemoryStore struct {
	mu   sync.RWMutex
	runs []era5.RunReport

	// retention configuration
	maxHistory int           // max number of runs kept
	maxAge     time.Duration // optional max age, measured on StartedAt
	now        func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveRun appends a run and enforces retention.
func (s *MemoryStore) SaveRun(run era5.RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, run)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.runs) > s.maxHistory {
		over := len(s.runs) - s.maxHistory
		s.runs = s.runs[over:]
	}

	// Enforce retention by age, always keeping the newest run.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.runs)-1; i++ {
			if !s.runs[i].StartedAt.Before(cutoff) {
				break
			}
		}
		s.runs = s.runs[i:]
	}
}

// GetLatest returns the most recently saved run.
func (s *MemoryStore) GetLatest() (era5.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.runs) == 0 {
		return era5.RunReport{}, ErrNotFound
	}
	return s.runs[len(s.runs)-1], nil
}

// GetRange returns all runs started between from and to (inclusive).
func (s *MemoryStore) GetRange(from, to time.Time) ([]era5.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []era5.RunReport
	for _, run := range s.runs {
		if !run.StartedAt.Before(from) && !run.StartedAt.After(to) {
			result = append(result, run)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}
