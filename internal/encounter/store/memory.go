// Package store holds encounter record stores. Every implementation
// returns copies so callers can never observe a partially written record
// or mutate a stored one.
package store

import (
	"context"
	"sort"
	"sync"

	"phigate/internal/encounter/models"
	"phigate/pkg/platform/sentinel"
)

// InMemory keeps encounters for the process lifetime, indexed by patient
// and provider.
type InMemory struct {
	mu         sync.RWMutex
	encounters map[string]*models.Encounter
	byPatient  map[string][]string
	byProvider map[string][]string
}

func NewInMemory() *InMemory {
	return &InMemory{
		encounters: make(map[string]*models.Encounter),
		byPatient:  make(map[string][]string),
		byProvider: make(map[string][]string),
	}
}

// Create stores a copy of e. An id that is already taken returns
// sentinel.ErrConflict.
func (s *InMemory) Create(_ context.Context, e *models.Encounter) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.encounters[e.ID]; ok {
		return "", sentinel.ErrConflict
	}
	s.encounters[e.ID] = e.Clone()
	s.byPatient[e.PatientID] = append(s.byPatient[e.PatientID], e.ID)
	s.byProvider[e.ProviderID] = append(s.byProvider[e.ProviderID], e.ID)
	return e.ID, nil
}

func (s *InMemory) Get(_ context.Context, id string) (*models.Encounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.encounters[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return e.Clone(), nil
}

// List returns matching encounters ordered by creation time.
func (s *InMemory) List(_ context.Context, filter models.Filter) ([]*models.Encounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []string
	switch {
	case filter.PatientID != "":
		candidates = s.byPatient[filter.PatientID]
	case filter.ProviderID != "":
		candidates = s.byProvider[filter.ProviderID]
	default:
		candidates = make([]string, 0, len(s.encounters))
		for id := range s.encounters {
			candidates = append(candidates, id)
		}
	}

	out := make([]*models.Encounter, 0, len(candidates))
	for _, id := range candidates {
		e := s.encounters[id]
		if filter.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sortByCreation(out)
	return out, nil
}

func sortByCreation(encounters []*models.Encounter) {
	sort.SliceStable(encounters, func(i, j int) bool {
		if encounters[i].CreatedAt.Equal(encounters[j].CreatedAt) {
			return encounters[i].ID < encounters[j].ID
		}
		return encounters[i].CreatedAt.Before(encounters[j].CreatedAt)
	})
}
