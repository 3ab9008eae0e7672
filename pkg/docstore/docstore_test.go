package docstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryBuildersDoNotAlias(t *testing.T) {
	base := Collection("events").Where("is_public", OpEqual, true)
	a := base.Where("date", OpGreaterEqual, "2024-02-23")
	b := base.Where("user_id", OpEqual, "u1")

	assert.Len(t, base.Filters, 1)
	assert.Equal(t, "date", a.Filters[1].Field)
	assert.Equal(t, "user_id", b.Filters[1].Field)
}

func TestQueryValidate(t *testing.T) {
	require.NoError(t, Collection("events").Where("date", OpLess, "x").OrderBy("date", Asc).Validate())
	assert.ErrorIs(t, Collection("").Validate(), ErrInvalidQuery)
	assert.ErrorIs(t, Collection("events").Where("data'); drop", OpEqual, 1).Validate(), ErrInvalidQuery)
	assert.ErrorIs(t, Collection("events").Where("date", Op("~"), 1).Validate(), ErrInvalidQuery)
	assert.ErrorIs(t, Collection("events").Where("date", OpIn, "x").Validate(), ErrInvalidQuery)
}

func TestQueryApplyFiltersAndOrders(t *testing.T) {
	docs := []Document{
		{ID: "a", Data: map[string]interface{}{"date": "2024-03-10", "is_public": true, "tags": []string{"exam"}}},
		{ID: "b", Data: map[string]interface{}{"date": "2024-03-05", "is_public": true}},
		{ID: "c", Data: map[string]interface{}{"date": "2024-03-07", "is_public": false}},
		{ID: "d", Data: map[string]interface{}{"date": "2024-04-20", "is_public": true}},
	}
	q := Collection("events").
		Where("is_public", OpEqual, true).
		Where("date", OpGreaterEqual, "2024-02-23").
		Where("date", OpLessEqual, "2024-04-07").
		OrderBy("date", Asc)

	got := q.Apply(docs)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	tagged := Collection("events").Where("tags", OpArrayContains, "exam").Apply(docs)
	require.Len(t, tagged, 1)
	assert.Equal(t, "a", tagged[0].ID)

	in := Collection("events").Where("date", OpIn, []string{"2024-03-07", "2024-04-20"}).OrderBy("date", Desc).Limit(1).Apply(docs)
	require.Len(t, in, 1)
	assert.Equal(t, "d", in[0].ID)
}

func TestCompareMixedKinds(t *testing.T) {
	cmp, ok := Compare(int64(3), json.Number("3"))
	assert.True(t, ok)
	assert.Zero(t, cmp)

	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	cmp, ok = Compare(ts, "2024-03-05T09:00:00Z")
	assert.True(t, ok)
	assert.Equal(t, 1, cmp)

	_, ok = Compare("a", true)
	assert.False(t, ok)

	cmp, ok = Compare(false, true)
	assert.True(t, ok)
	assert.Equal(t, -1, cmp)
}

func TestSentinelResolution(t *testing.T) {
	now := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	set := ResolveSet(map[string]interface{}{
		"status":     "Present",
		"updated_at": ServerTimestamp,
		"count":      Increment(5),
		"gone":       Delete,
	}, now)
	assert.Equal(t, now, set["updated_at"])
	assert.Equal(t, int64(5), set["count"])
	assert.NotContains(t, set, "gone")

	existing := map[string]interface{}{"count": json.Number("7"), "stale": "x", "tags": []string{"a"}}
	updated := ApplyUpdates(existing, []Update{
		{Field: "count", Value: Increment(3)},
		{Field: "stale", Value: Delete},
		{Field: "touched", Value: ServerTimestamp},
	}, now)
	assert.Equal(t, int64(10), updated["count"])
	assert.NotContains(t, updated, "stale")
	assert.Equal(t, now, updated["touched"])
	assert.Equal(t, "x", existing["stale"])

	updated["tags"].([]string)[0] = "mutated"
	assert.Equal(t, "a", existing["tags"].([]string)[0])
}

func TestFeedKeepsLatest(t *testing.T) {
	stopped := 0
	feed := NewFeed(func() { stopped++ })

	require.True(t, feed.Publish(Snapshot{Documents: []Document{{ID: "1"}}}))
	require.True(t, feed.Publish(Snapshot{Documents: []Document{{ID: "2"}}}))

	snap := <-feed.Snapshots()
	require.Len(t, snap.Documents, 1)
	assert.Equal(t, "2", snap.Documents[0].ID)

	feed.Stop()
	feed.Stop()
	assert.Equal(t, 1, stopped)
	assert.False(t, feed.Publish(Snapshot{}))
	_, open := <-feed.Snapshots()
	assert.False(t, open)
}

func TestDocumentAccessors(t *testing.T) {
	doc := Document{Data: map[string]interface{}{
		"title":  "Exam",
		"empty":  "",
		"tags":   []interface{}{"a", 1, "b"},
		"amount": float64(1500),
		"at":     "2024-03-05T10:00:00.000000000Z",
	}}
	assert.Equal(t, "Exam", doc.String("title"))
	assert.Nil(t, doc.StringPtr("empty"))
	assert.Equal(t, []string{"a", "b"}, doc.Strings("tags"))
	assert.Equal(t, int64(1500), doc.Int64("amount"))
	assert.Equal(t, 2024, doc.Time("at").Year())
	assert.False(t, doc.Bool("missing"))
}

func TestArraySentinels(t *testing.T) {
	now := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	set := ResolveSet(map[string]interface{}{
		"liked_by": ArrayUnion("alice", "alice", "bob"),
		"removed":  ArrayRemove("carol"),
	}, now)
	assert.Equal(t, []string{"alice", "bob"}, set["liked_by"])
	assert.Equal(t, []string{}, set["removed"])

	existing := map[string]interface{}{"liked_by": []interface{}{"alice", "bob"}}
	updated := ApplyUpdates(existing, []Update{{Field: "liked_by", Value: ArrayUnion("bob", "carol")}}, now)
	assert.Equal(t, []string{"alice", "bob", "carol"}, updated["liked_by"])

	updated = ApplyUpdates(updated, []Update{{Field: "liked_by", Value: ArrayRemove("alice")}}, now)
	assert.Equal(t, []string{"bob", "carol"}, updated["liked_by"])

	updated = ApplyUpdates(map[string]interface{}{}, []Update{{Field: "members", Value: ArrayUnion("dave")}}, now)
	assert.Equal(t, []string{"dave"}, updated["members"])
	assert.Len(t, existing["liked_by"], 2)
}
