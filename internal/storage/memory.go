package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"gbmbkg/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	fits        map[string]model.FitRecord
	order       map[string]int
	next        int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.fits = make(map[string]model.FitRecord)
	s.order = make(map[string]int)
	s.next = 0
	return nil
}

func (s *MemoryStore) SaveFit(_ context.Context, record model.FitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	if record.RunID == "" {
		return errors.New("run id is required")
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return err
	}
	s.fits[record.RunID] = cloneFit(record)
	s.order[record.RunID] = s.next
	s.next++
	return nil
}

func (s *MemoryStore) GetFit(_ context.Context, runID string) (model.FitRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.fits[runID]
	if !ok {
		return model.FitRecord{}, false, nil
	}
	return cloneFit(record), true, nil
}

func (s *MemoryStore) ListFits(_ context.Context) ([]model.FitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.FitRecord, 0, len(s.fits))
	for _, record := range s.fits {
		out = append(out, cloneFit(record))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtUTC == out[j].CreatedAtUTC {
			// Prefer later saved records for equal timestamps.
			return s.order[out[i].RunID] > s.order[out[j].RunID]
		}
		return out[i].CreatedAtUTC > out[j].CreatedAtUTC
	})
	return out, nil
}

func (s *MemoryStore) DeleteFit(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.fits, runID)
	delete(s.order, runID)
	return nil
}

func cloneFit(record model.FitRecord) model.FitRecord {
	record.Detectors = append([]string(nil), record.Detectors...)
	record.Parameters = append([]string(nil), record.Parameters...)
	record.Summaries = append([]model.ParameterRecord(nil), record.Summaries...)
	return record
}
