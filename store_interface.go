package waitflow

import (
	"context"
	"time"
)

// InstanceStore defines the persistence interface for workflow instances.
// Implementations must apply Update atomically: the write only happens when
// the stored record still matches the condition.
type InstanceStore interface {
	// Insert persists a new instance; errors wrap ErrInstanceExists when the
	// id is taken
	Insert(ctx context.Context, inst *Instance) error

	// GetByID loads an instance; errors wrap ErrInstanceNotFound when absent
	GetByID(ctx context.Context, id string) (*Instance, error)

	// Update replaces the stored instance if cond holds, bumping Version.
	// A mismatch returns an error wrapping ErrConditionFailed.
	Update(ctx context.Context, inst *Instance, cond UpdateCondition) error

	// Query lists instances matching the filter
	Query(ctx context.Context, filter InstanceFilter) ([]*Instance, error)

	// Count counts instances of a definition in any of the given statuses
	Count(ctx context.Context, definitionName string, statuses ...Status) (int, error)
}

// UpdateCondition is the expected stored state for a conditional update
type UpdateCondition struct {
	Status  Status
	Version int64
}

// ExpectCurrent builds the condition matching the instance as loaded
func ExpectCurrent(inst *Instance) UpdateCondition {
	return UpdateCondition{Status: inst.Status, Version: inst.Version}
}

// InstanceFilter defines filtering criteria for instance queries
type InstanceFilter struct {
	DefinitionName string
	Statuses       []Status
	// UpdatedBefore keeps instances whose UpdatedAt is strictly earlier
	UpdatedBefore time.Time
	// Results are sorted by CreatedAt, newest first
	Limit int
}

// Matches reports whether the instance satisfies the filter
func (f InstanceFilter) Matches(inst *Instance) bool {
	if f.DefinitionName != "" && inst.DefinitionName != f.DefinitionName {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if inst.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.UpdatedBefore.IsZero() && !inst.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}
