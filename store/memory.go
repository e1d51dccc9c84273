package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sicko7947/waitflow"
)

// MemoryStore implements waitflow.InstanceStore using in-memory storage
type MemoryStore struct {
	instances map[string]*waitflow.Instance
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory instance store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]*waitflow.Instance),
	}
}

var _ waitflow.InstanceStore = (*MemoryStore)(nil)

func (s *MemoryStore) Insert(ctx context.Context, inst *waitflow.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return waitflow.ExistsError(inst.ID)
	}

	if inst.Version == 0 {
		inst.Version = 1
	}
	s.instances[inst.ID] = inst.Clone()

	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*waitflow.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, exists := s.instances[id]
	if !exists {
		return nil, waitflow.NotFoundError(id)
	}

	return inst.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, inst *waitflow.Instance, cond waitflow.UpdateCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.instances[inst.ID]
	if !exists {
		return waitflow.NotFoundError(inst.ID)
	}

	if current.Status != cond.Status || current.Version != cond.Version {
		return fmt.Errorf("update instance %s: stored %s/v%d, expected %s/v%d: %w",
			inst.ID, current.Status, current.Version, cond.Status, cond.Version, waitflow.ErrConditionFailed)
	}

	if err := checkAppendOnly(current.History, inst.History); err != nil {
		return fmt.Errorf("update instance %s: %w", inst.ID, err)
	}

	inst.Version = cond.Version + 1
	if inst.UpdatedAt.IsZero() {
		inst.UpdatedAt = time.Now().UTC()
	}
	s.instances[inst.ID] = inst.Clone()

	return nil
}

func (s *MemoryStore) Query(ctx context.Context, filter waitflow.InstanceFilter) ([]*waitflow.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*waitflow.Instance
	for _, inst := range s.instances {
		if filter.Matches(inst) {
			out = append(out, inst.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context, definitionName string, statuses ...waitflow.Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := waitflow.InstanceFilter{DefinitionName: definitionName, Statuses: statuses}
	count := 0
	for _, inst := range s.instances {
		if filter.Matches(inst) {
			count++
		}
	}

	return count, nil
}

// Delete removes an instance. Deletion is an administrative operation
// outside the engine's lifecycle.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[id]; !exists {
		return waitflow.NotFoundError(id)
	}
	delete(s.instances, id)
	return nil
}

// checkAppendOnly rejects writes that drop or rewrite history entries
func checkAppendOnly(stored, next []waitflow.HistoryEntry) error {
	if len(next) < len(stored) {
		return fmt.Errorf("history shrank from %d to %d entries", len(stored), len(next))
	}
	for i := range stored {
		if stored[i].Type != next[i].Type || !stored[i].Timestamp.Equal(next[i].Timestamp) {
			return fmt.Errorf("history entry %d was rewritten", i)
		}
	}
	return nil
}
