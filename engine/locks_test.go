package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("a")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, k.Len(), "idle keys are dropped")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	unlockB, ok := k.TryLock("b")
	require.True(t, ok)
	assert.Equal(t, 2, k.Len())

	unlockA()
	unlockB()
	assert.Zero(t, k.Len())
}

func TestKeyedMutex_TryLock(t *testing.T) {
	k := newKeyedMutex()

	unlock := k.Lock("a")
	_, ok := k.TryLock("a")
	assert.False(t, ok)
	assert.Equal(t, 1, k.Len(), "failed TryLock leaves no reference behind")

	unlock()
	unlock2, ok := k.TryLock("a")
	require.True(t, ok)
	unlock2()
	assert.Zero(t, k.Len())
}
