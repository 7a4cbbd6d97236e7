package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	xerrors "github.com/sweetpotato0/deepresearch/errors"
)

// InMemoryStore keeps records in process memory. It is the default for tests
// and short-lived tools.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewInMemoryStore creates an empty in-memory archive.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

// Save implements Store.
func (s *InMemoryStore) Save(_ context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return &xerrors.ValidationError{Field: "record", Message: "record with a non-empty ID is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Search implements Store.
func (s *InMemoryStore) Search(_ context.Context, query string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(strings.TrimSpace(query))
	var out []*Record
	for _, rec := range s.records {
		if needle == "" || strings.Contains(strings.ToLower(rec.Question), needle) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return xerrors.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// Count implements Store.
func (s *InMemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}
