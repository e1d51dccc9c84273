package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sicko7947/waitflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInstance(id, definition string, status waitflow.Status) *waitflow.Instance {
	now := time.Now().UTC()
	inst := &waitflow.Instance{
		ID:             id,
		DefinitionName: definition,
		Status:         status,
		State:          waitflow.State{"orderId": id},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inst.Append(waitflow.HistoryInstanceCreated, "", 0, nil)
	return inst
}

func TestMemoryStore_InsertAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	inst := newTestInstance("i-1", "approval", waitflow.StatusCreated)
	require.NoError(t, s.Insert(ctx, inst))
	assert.Equal(t, int64(1), inst.Version)

	got, err := s.GetByID(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, "approval", got.DefinitionName)
	assert.Equal(t, "i-1", got.State["orderId"])
	assert.Len(t, got.History, 1)

	// Mutating the returned copy must not leak into the store
	got.State["orderId"] = "changed"
	again, err := s.GetByID(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, "i-1", again.State["orderId"])
}

func TestMemoryStore_InsertDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newTestInstance("dup", "approval", waitflow.StatusCreated)))
	err := s.Insert(ctx, newTestInstance("dup", "approval", waitflow.StatusCreated))
	require.Error(t, err)
	assert.True(t, errors.Is(err, waitflow.ErrInstanceExists))
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, waitflow.ErrInstanceNotFound))
}

func TestMemoryStore_ConditionalUpdate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	inst := newTestInstance("i-1", "approval", waitflow.StatusCreated)
	require.NoError(t, s.Insert(ctx, inst))

	cond := waitflow.ExpectCurrent(inst)
	inst.Status = waitflow.StatusRunning
	inst.Append(waitflow.HistoryInstanceStarted, "", 0, nil)
	require.NoError(t, s.Update(ctx, inst, cond))
	assert.Equal(t, int64(2), inst.Version)

	t.Run("stale version is rejected", func(t *testing.T) {
		stale := inst.Clone()
		stale.Status = waitflow.StatusWaiting
		err := s.Update(ctx, stale, waitflow.UpdateCondition{Status: waitflow.StatusRunning, Version: 1})
		require.Error(t, err)
		assert.True(t, errors.Is(err, waitflow.ErrConditionFailed))
	})

	t.Run("wrong status is rejected", func(t *testing.T) {
		other := inst.Clone()
		err := s.Update(ctx, other, waitflow.UpdateCondition{Status: waitflow.StatusWaiting, Version: 2})
		assert.True(t, errors.Is(err, waitflow.ErrConditionFailed))
	})

	t.Run("history cannot shrink", func(t *testing.T) {
		truncated := inst.Clone()
		truncated.History = truncated.History[:1]
		err := s.Update(ctx, truncated, waitflow.ExpectCurrent(inst))
		require.Error(t, err)
		assert.False(t, errors.Is(err, waitflow.ErrConditionFailed))
	})

	got, err := s.GetByID(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, waitflow.StatusRunning, got.Status)
	assert.Equal(t, int64(2), got.Version)
	assert.Len(t, got.History, 2)
}

func TestMemoryStore_UpdateMissing(t *testing.T) {
	s := NewMemoryStore()

	inst := newTestInstance("ghost", "approval", waitflow.StatusRunning)
	err := s.Update(context.Background(), inst, waitflow.ExpectCurrent(inst))
	assert.True(t, errors.Is(err, waitflow.ErrInstanceNotFound))
}

func TestMemoryStore_ConcurrentUpdatesSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	inst := newTestInstance("race", "approval", waitflow.StatusWaiting)
	require.NoError(t, s.Insert(ctx, inst))
	cond := waitflow.ExpectCurrent(inst)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := inst.Clone()
			next.Status = waitflow.StatusRunning
			if err := s.Update(ctx, next, cond); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestMemoryStore_QueryAndCount(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	statuses := []waitflow.Status{
		waitflow.StatusWaiting,
		waitflow.StatusWaiting,
		waitflow.StatusRunning,
		waitflow.StatusCompleted,
	}
	for i, st := range statuses {
		inst := newTestInstance(fmt.Sprintf("i-%d", i), "approval", st)
		inst.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		inst.UpdatedAt = inst.CreatedAt
		require.NoError(t, s.Insert(ctx, inst))
	}
	require.NoError(t, s.Insert(ctx, newTestInstance("other", "billing", waitflow.StatusWaiting)))

	t.Run("filters by definition and status", func(t *testing.T) {
		got, err := s.Query(ctx, waitflow.InstanceFilter{
			DefinitionName: "approval",
			Statuses:       []waitflow.Status{waitflow.StatusWaiting},
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		// newest first
		assert.Equal(t, "i-1", got[0].ID)
		assert.Equal(t, "i-0", got[1].ID)
	})

	t.Run("updated before", func(t *testing.T) {
		got, err := s.Query(ctx, waitflow.InstanceFilter{
			DefinitionName: "approval",
			UpdatedBefore:  base.Add(90 * time.Second),
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
	})

	t.Run("limit", func(t *testing.T) {
		got, err := s.Query(ctx, waitflow.InstanceFilter{Limit: 3})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	count, err := s.Count(ctx, "approval", waitflow.ActiveStatuses...)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = s.Count(ctx, "billing", waitflow.ActiveStatuses...)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newTestInstance("gone", "approval", waitflow.StatusCompleted)))
	require.NoError(t, s.Delete(ctx, "gone"))

	_, err := s.GetByID(ctx, "gone")
	assert.True(t, errors.Is(err, waitflow.ErrInstanceNotFound))
	assert.Error(t, s.Delete(ctx, "gone"))
}
