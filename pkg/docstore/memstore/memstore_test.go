package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

var fixedNow = time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

func newStore() *Store {
	return New(WithClock(func() time.Time { return fixedNow }))
}

func TestSetGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	require.NoError(t, s.Set(ctx, "funds", "f1", map[string]interface{}{"title": "Trip", "collected_cents": int64(0), "created_at": docstore.ServerTimestamp}))
	require.NoError(t, s.Update(ctx, "funds", "f1", docstore.Update{Field: "collected_cents", Value: docstore.Increment(2500)}))

	doc, err := s.Get(ctx, "funds", "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), doc.Int64("collected_cents"))
	assert.Equal(t, fixedNow, doc.Time("created_at"))

	doc.Data["title"] = "mutated"
	again, err := s.Get(ctx, "funds", "f1")
	require.NoError(t, err)
	assert.Equal(t, "Trip", again.String("title"))

	require.NoError(t, s.Delete(ctx, "funds", "f1"))
	_, err = s.Get(ctx, "funds", "f1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	err = s.Update(ctx, "funds", "missing", docstore.Update{Field: "x", Value: 1})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	err := s.Batch().
		Set("attendance", "2024-03-05_s1", map[string]interface{}{"status": "Present"}).
		Update("attendance", "does-not-exist", docstore.Update{Field: "status", Value: "Absent"}).
		Commit(ctx)
	require.ErrorIs(t, err, docstore.ErrNotFound)
	assert.Equal(t, 0, s.Count("attendance"))

	require.NoError(t, s.Batch().
		Set("attendance", "2024-03-05_s1", map[string]interface{}{"status": "Present"}).
		Update("attendance", "2024-03-05_s1", docstore.Update{Field: "status", Value: "Late"}).
		Commit(ctx))
	doc, err := s.Get(ctx, "attendance", "2024-03-05_s1")
	require.NoError(t, err)
	assert.Equal(t, "Late", doc.String("status"))
}

func TestWatchDeliversInitialAndChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newStore()
	require.NoError(t, s.Set(ctx, "events", "e1", map[string]interface{}{"date": "2024-03-05", "is_public": true}))

	sub, err := s.Watch(ctx, docstore.Collection("events").Where("is_public", docstore.OpEqual, true))
	require.NoError(t, err)

	first := <-sub.Snapshots()
	require.NoError(t, first.Err)
	require.Len(t, first.Documents, 1)

	require.NoError(t, s.Set(ctx, "events", "e2", map[string]interface{}{"date": "2024-03-06", "is_public": false}))
	require.NoError(t, s.Set(ctx, "events", "e3", map[string]interface{}{"date": "2024-03-07", "is_public": true}))

	require.Eventually(t, func() bool {
		select {
		case snap := <-sub.Snapshots():
			return len(snap.Documents) == 2
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.watchers) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCloseStopsWatchers(t *testing.T) {
	s := newStore()
	sub, err := s.Watch(context.Background(), docstore.Collection("events"))
	require.NoError(t, err)
	<-sub.Snapshots()

	require.NoError(t, s.Close())
	_, open := <-sub.Snapshots()
	assert.False(t, open)

	_, err = s.Query(context.Background(), docstore.Collection("events"))
	assert.ErrorIs(t, err, docstore.ErrClosed)
}
