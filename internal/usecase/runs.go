package usecase

import (
	"sync"

	"SignalGate/internal/domain/models"
)

const defaultRunHistory = 50

// RunRegistry keeps the latest state of recent runs for the ops API.
type RunRegistry struct {
	mu    sync.RWMutex
	runs  map[string]*models.RunSummary
	order []string
	max   int
}

func NewRunRegistry(max int) *RunRegistry {
	if max <= 0 {
		max = defaultRunHistory
	}
	return &RunRegistry{runs: make(map[string]*models.RunSummary), max: max}
}

// Put stores a copy of s, evicting the oldest run beyond capacity.
func (r *RunRegistry) Put(s *models.RunSummary) {
	cp := *s
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[s.RunID]; !ok {
		r.order = append(r.order, s.RunID)
		if len(r.order) > r.max {
			delete(r.runs, r.order[0])
			r.order = r.order[1:]
		}
	}
	r.runs[s.RunID] = &cp
}

// Get returns a copy of the run.
func (r *RunRegistry) Get(runID string) (models.RunSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.runs[runID]
	if !ok {
		return models.RunSummary{}, false
	}
	return *s, true
}
