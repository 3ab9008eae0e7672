package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/repository"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

type cacheMetricsStub struct {
	merges       sync.Map
	resubscribes atomic.Int64
}

func (m *cacheMetricsStub) RecordCacheMerge(partition string) {
	v, _ := m.merges.LoadOrStore(partition, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func (m *cacheMetricsStub) RecordResubscribe() { m.resubscribes.Add(1) }

// flakyWatcher fails the first failures Watch calls.
type flakyWatcher struct {
	*repository.EventRepository
	failures atomic.Int64
}

func (w *flakyWatcher) Watch(ctx context.Context, q docstore.Query) (docstore.Subscription, error) {
	if w.failures.Add(-1) >= 0 {
		return nil, errors.New("unavailable")
	}
	return w.EventRepository.Watch(ctx, q)
}

func drainUpdates(cache *EventCache) {
	go func() {
		for range cache.Updates() {
		}
	}()
}

func titles(events []models.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Title
	}
	return out
}

func waitForEntry(t *testing.T, cache *EventCache, key string, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		events, ok := cache.Entry(key)
		return ok && assert.ObjectsAreEqual(want, titles(events))
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEventCacheMergesBothLiveQueries(t *testing.T) {
	store := newMemStore(t)
	events := repository.NewEventRepository(store)
	calendar := NewCalendarService(events, nil, nil, nil, zap.NewNop(), 7, 0)
	ctx := context.Background()
	alice := claims("alice", models.RoleStudent)

	_, err := calendar.Create(ctx, alice, dto.CreateEventRequest{Title: "Science fair", Date: "2024-03-05", IsPublic: true})
	require.NoError(t, err)
	dentist, err := calendar.Create(ctx, alice, dto.CreateEventRequest{Title: "Dentist", Date: "2024-03-10"})
	require.NoError(t, err)
	_, err = calendar.Create(ctx, claims("bob", models.RoleStudent), dto.CreateEventRequest{Title: "Bob only", Date: "2024-03-11"})
	require.NoError(t, err)

	metrics := &cacheMetricsStub{}
	cache := NewEventCache("alice", events, EventCacheConfig{PaddingDays: 7}, zap.NewNop(), metrics)
	defer cache.Close()
	drainUpdates(cache)

	key, err := cache.ViewMonth(2024, time.March)
	require.NoError(t, err)
	assert.Equal(t, "2024-2", key)
	assert.Equal(t, "2024-2", cache.Current())
	waitForEntry(t, cache, key, "Science fair", "Dentist")

	// A private change leaves the public half of the entry alone.
	_, err = calendar.MoveEvent(ctx, dentist.ID, alice, "2024-03-02")
	require.NoError(t, err)
	waitForEntry(t, cache, key, "Dentist", "Science fair")

	_, err = calendar.Create(ctx, claims("root", models.RoleAdmin), dto.CreateEventRequest{Title: "Assembly", Date: "2024-03-05", Time: strRef("07:30"), Official: true})
	require.NoError(t, err)
	waitForEntry(t, cache, key, "Dentist", "Science fair", "Assembly")

	_, ok := metrics.merges.Load(string(models.VisibilityPublic))
	assert.True(t, ok)
	_, ok = metrics.merges.Load(string(models.VisibilityPrivate))
	assert.True(t, ok)
}

func TestEventCacheKeepsEarlierMonthsAndDropsStaleViews(t *testing.T) {
	store := newMemStore(t)
	events := repository.NewEventRepository(store)
	calendar := NewCalendarService(events, nil, nil, nil, zap.NewNop(), 0, 0)
	ctx := context.Background()
	alice := claims("alice", models.RoleStudent)

	_, err := calendar.Create(ctx, alice, dto.CreateEventRequest{Title: "March", Date: "2024-03-05", IsPublic: true})
	require.NoError(t, err)
	_, err = calendar.Create(ctx, alice, dto.CreateEventRequest{Title: "April", Date: "2024-04-05", IsPublic: true})
	require.NoError(t, err)

	cache := NewEventCache("alice", events, EventCacheConfig{}, zap.NewNop(), nil)
	defer cache.Close()
	drainUpdates(cache)

	march, err := cache.ViewMonth(2024, time.March)
	require.NoError(t, err)
	waitForEntry(t, cache, march, "March")

	april, err := cache.ViewMonth(2024, time.April)
	require.NoError(t, err)
	waitForEntry(t, cache, april, "April")
	assert.Equal(t, "2024-3", cache.Current())

	// March is no longer watched, so new events there do not reach the cache.
	_, err = calendar.Create(ctx, alice, dto.CreateEventRequest{Title: "Late March", Date: "2024-03-20", IsPublic: true})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	got, ok := cache.Entry(march)
	require.True(t, ok)
	assert.Equal(t, []string{"March"}, titles(got))
}

func TestEventCacheResubscribesAfterFailure(t *testing.T) {
	store := newMemStore(t)
	events := repository.NewEventRepository(store)
	_, err := events.Create(context.Background(), models.Event{Title: "Fair", Date: "2024-03-05", IsPublic: true, Category: "general"})
	require.NoError(t, err)

	watcher := &flakyWatcher{EventRepository: events}
	watcher.failures.Store(2)
	metrics := &cacheMetricsStub{}
	cache := NewEventCache("alice", watcher, EventCacheConfig{ResubscribeBase: time.Millisecond, ResubscribeMax: 4 * time.Millisecond}, zap.NewNop(), metrics)
	defer cache.Close()
	drainUpdates(cache)

	key, err := cache.ViewMonth(2024, time.March)
	require.NoError(t, err)
	waitForEntry(t, cache, key, "Fair")
	assert.GreaterOrEqual(t, metrics.resubscribes.Load(), int64(2))
}

func TestEventCacheCloseIsIdempotent(t *testing.T) {
	cache := NewEventCache("alice", repository.NewEventRepository(newMemStore(t)), EventCacheConfig{}, nil, nil)
	_, err := cache.ViewMonth(2024, time.January)
	require.NoError(t, err)
	cache.Close()
	cache.Close()

	_, open := <-cache.Updates()
	assert.False(t, open)
	_, err = cache.ViewMonth(2024, time.February)
	assert.ErrorIs(t, err, docstore.ErrClosed)
}

func TestEventCacheBackoffIsCapped(t *testing.T) {
	cache := &EventCache{cfg: EventCacheConfig{ResubscribeBase: 100 * time.Millisecond, ResubscribeMax: time.Second}}
	assert.Equal(t, 100*time.Millisecond, cache.backoff(1))
	assert.Equal(t, 200*time.Millisecond, cache.backoff(2))
	assert.Equal(t, 800*time.Millisecond, cache.backoff(4))
	assert.Equal(t, time.Second, cache.backoff(5))
	assert.Equal(t, time.Second, cache.backoff(40))
}

func TestMergePartitionIsOrderIndependent(t *testing.T) {
	public := []models.Event{
		{ID: "p1", Title: "Fair", Date: "2024-03-05", IsPublic: true},
		{ID: "p2", Title: "Assembly", Date: "2024-03-05", Time: strRef("07:30"), IsPublic: true},
	}
	private := []models.Event{
		{ID: "q1", UserID: "alice", Title: "Dentist", Date: "2024-03-10"},
	}

	a := mergePartition(mergePartition(nil, models.VisibilityPublic, public), models.VisibilityPrivate, private)
	b := mergePartition(mergePartition(nil, models.VisibilityPrivate, private), models.VisibilityPublic, public)
	assert.Equal(t, a, b)
	assert.Equal(t, []string{"Fair", "Assembly", "Dentist"}, titles(a))

	// A fresh public snapshot replaces only the public half.
	c := mergePartition(a, models.VisibilityPublic, []models.Event{{ID: "p3", Title: "Concert", Date: "2024-03-20", IsPublic: true}})
	assert.Equal(t, []string{"Dentist", "Concert"}, titles(c))

	// Events from the wrong partition in a snapshot are ignored.
	d := mergePartition(nil, models.VisibilityPrivate, public)
	assert.Empty(t, d)
}
