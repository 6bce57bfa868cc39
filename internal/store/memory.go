package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
)

// MemoryStore is an in-process Store used by tests and as the fallback when
// no durable backend is configured. Instances are deep-copied on the way in
// and out so callers never share mutable state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*models.OrchestrationInstance
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: make(map[string]*models.OrchestrationInstance)}
}

func (s *MemoryStore) Create(ctx context.Context, inst *models.OrchestrationInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.Key]; ok {
		return ErrAlreadyExists
	}
	copied, err := copyInstance(inst)
	if err != nil {
		return err
	}
	s.instances[inst.Key] = copied
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*models.OrchestrationInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyInstance(inst)
}

func (s *MemoryStore) Update(ctx context.Context, inst *models.OrchestrationInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied, err := copyInstance(inst)
	if err != nil {
		return err
	}
	s.instances[inst.Key] = copied
	return nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*models.OrchestrationInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.OrchestrationInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		copied, err := copyInstance(inst)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func copyInstance(inst *models.OrchestrationInstance) (*models.OrchestrationInstance, error) {
	data, err := json.Marshal(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to encode instance %s: %w", inst.Key, err)
	}
	var out models.OrchestrationInstance
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode instance %s: %w", inst.Key, err)
	}
	return &out, nil
}

var _ Store = (*MemoryStore)(nil)
