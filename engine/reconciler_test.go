package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sicko7947/waitflow"
	"github.com/sicko7947/waitflow/realtime"
	"github.com/sicko7947/waitflow/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenerFor(id string) realtime.Listener {
	return realtime.Listener{
		ID:        "listener-1",
		Path:      "/workflow",
		Interests: realtime.Interests{InterestInstanceID: id},
	}
}

func TestInstanceReconciler_WaitingInstance(t *testing.T) {
	eng, st := newTestEngine(t)
	inst, err := eng.Start(context.Background(), choiceDefinition("equipment"), waitflow.State{"item": "laptop"})
	require.NoError(t, err)

	r := NewInstanceReconciler(st, zerolog.Nop())
	events, err := r.Reconcile(context.Background(), listenerFor(inst.ID))
	require.NoError(t, err)
	require.Len(t, events, 2)

	synced := events[0]
	assert.Equal(t, realtime.EventStateSync, synced.Type)
	assert.Equal(t, inst.ID, synced.Data["instanceId"])
	assert.Equal(t, "waiting", synced.Data["status"])
	assert.Equal(t, "waitForUserChoice", synced.Data["currentStep"])
	assert.Equal(t, inst.Version, synced.Data["version"])
	assert.Equal(t, waitflow.State{"item": "laptop"}, synced.Data["state"])

	replay := events[1]
	assert.Equal(t, waitflow.HistoryInstanceWaiting, replay.Type)
	assert.Equal(t, true, replay.Data["reconnected"])
	assert.Equal(t, map[string]any{"reason": "awaiting choice"}, replay.Data["waitInfo"])
}

func TestInstanceReconciler_CompletedInstance(t *testing.T) {
	eng, st := newTestEngine(t)
	inst, err := eng.Start(context.Background(), choiceDefinition("equipment"), waitflow.State{"userChoice": "standard"})
	require.NoError(t, err)

	events, err := NewInstanceReconciler(st, zerolog.Nop()).Reconcile(context.Background(), listenerFor(inst.ID))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, waitflow.HistoryInstanceCompleted, events[1].Type)

	state, ok := events[1].Data["state"].(waitflow.State)
	require.True(t, ok)
	assert.Equal(t, "ordered standard", state["finalResult"])
}

func TestInstanceReconciler_RunningInstanceOnlySyncs(t *testing.T) {
	_, st := newTestEngine(t)
	def := choiceDefinition("equipment")
	insertStaleRunning(t, st, def, "running-1", "finalize", nil, time.Second)

	events, err := NewInstanceReconciler(st, zerolog.Nop()).Reconcile(context.Background(), listenerFor("running-1"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, realtime.EventStateSync, events[0].Type)
	assert.Equal(t, "running", events[0].Data["status"])
}

func TestInstanceReconciler_NothingToReconcile(t *testing.T) {
	_, st := newTestEngine(t)
	r := NewInstanceReconciler(st, zerolog.Nop())

	events, err := r.Reconcile(context.Background(), listenerFor("missing"))
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = r.Reconcile(context.Background(), realtime.Listener{ID: "l", Interests: realtime.Interests{"team": "it"}})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestInstanceReconciler_ThroughHub(t *testing.T) {
	eng, st := newTestEngine(t)
	inst, err := eng.Start(context.Background(), choiceDefinition("equipment"), nil)
	require.NoError(t, err)

	hub := realtime.NewHub(
		realtime.WithLogger(zerolog.Nop()),
		realtime.WithReconciler(NewInstanceReconciler(st, zerolog.Nop())),
		realtime.WithReconcileDelay(10*time.Millisecond),
	)
	defer hub.Close()
	hub.CreateChannel("/workflow")

	l, err := hub.CreateListener("/workflow", realtime.Interests{InterestInstanceID: inst.ID})
	require.NoError(t, err)
	conn, err := hub.Connect(context.Background(), "/workflow", l.ID)
	require.NoError(t, err)

	var types []string
	timeout := time.After(time.Second)
	for len(types) < 3 {
		select {
		case ev := <-conn.Events():
			types = append(types, ev.Type)
		case <-timeout:
			t.Fatalf("got only %v", types)
		}
	}
	assert.Equal(t, []string{realtime.EventConnected, realtime.EventStateSync, waitflow.HistoryInstanceWaiting}, types)
}

// pausingStore holds the first GetByID after reading, so the caller acts on
// a snapshot that goes stale while it waits
type pausingStore struct {
	waitflow.InstanceStore
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (s *pausingStore) GetByID(ctx context.Context, id string) (*waitflow.Instance, error) {
	inst, err := s.InstanceStore.GetByID(ctx, id)
	s.once.Do(func() {
		close(s.reached)
		<-s.release
	})
	return inst, err
}

func TestInstanceReconciler_ContinueDuringReconnectEndsWithLatestState(t *testing.T) {
	st := store.NewMemoryStore()
	paused := &pausingStore{InstanceStore: st, reached: make(chan struct{}), release: make(chan struct{})}

	hub := realtime.NewHub(
		realtime.WithLogger(zerolog.Nop()),
		realtime.WithReconciler(NewInstanceReconciler(paused, zerolog.Nop())),
		realtime.WithReconcileDelay(time.Millisecond),
	)
	defer hub.Close()
	hub.CreateChannel("/workflow")

	eng := NewEngine(st, WithLogger(zerolog.Nop()), WithPublisher(hub, "/workflow"))
	ctx := context.Background()

	inst, err := eng.Start(ctx, choiceDefinition("equipment"), nil)
	require.NoError(t, err)

	l, err := hub.CreateListener("/workflow", realtime.Interests{InterestInstanceID: inst.ID})
	require.NoError(t, err)
	conn, err := hub.Connect(ctx, "/workflow", l.ID)
	require.NoError(t, err)

	select {
	case <-paused.reached:
	case <-time.After(time.Second):
		t.Fatal("reconciler never read the store")
	}

	done := make(chan error, 1)
	go func() {
		_, err := eng.Continue(ctx, inst.ID, map[string]any{"userChoice": "standard"})
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(paused.release)
	require.NoError(t, <-done)

	var events []realtime.Event
	for {
		select {
		case ev := <-conn.Events():
			events = append(events, ev)
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}

	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, realtime.EventConnected, events[0].Type)
	assert.Equal(t, realtime.EventStateSync, events[1].Type)
	assert.Equal(t, "waiting", events[1].Data["status"])

	last := events[len(events)-1]
	assert.Equal(t, waitflow.HistoryInstanceCompleted, last.Type)
	assert.Equal(t, "completed", last.Data["status"])
}

func TestChannelPublisher_ScopesToInstance(t *testing.T) {
	var (
		gotPath  string
		gotEvent realtime.Event
		gotMatch realtime.Interests
	)
	fake := publisherFunc(func(ctx context.Context, path string, event realtime.Event, match realtime.Interests) (int, error) {
		gotPath, gotEvent, gotMatch = path, event, match
		return 2, nil
	})

	pub := NewChannelPublisher(fake, "/workflow")
	data := map[string]any{"approved": true}
	n, err := pub.PublishInstanceEvent(context.Background(), "inst-9", "approval_granted", data)
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, "/workflow", gotPath)
	assert.Equal(t, "approval_granted", gotEvent.Type)
	assert.Equal(t, "inst-9", gotEvent.Data["instanceId"])
	assert.Equal(t, true, gotEvent.Data["approved"])
	assert.Equal(t, realtime.Interests{"instanceId": "inst-9"}, gotMatch)
	assert.NotContains(t, data, "instanceId", "caller data is not mutated")
}

type publisherFunc func(ctx context.Context, path string, event realtime.Event, match realtime.Interests) (int, error)

func (f publisherFunc) Publish(ctx context.Context, path string, event realtime.Event, match realtime.Interests) (int, error) {
	return f(ctx, path, event, match)
}
