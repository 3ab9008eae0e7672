package fsstore

import (
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

func TestToFirestoreDataMapsSentinels(t *testing.T) {
	out := toFirestoreData(map[string]interface{}{
		"status":     "Present",
		"updated_at": docstore.ServerTimestamp,
		"obsolete":   docstore.Delete,
		"count":      docstore.Increment(2),
	})

	assert.Equal(t, "Present", out["status"])
	assert.Equal(t, firestore.ServerTimestamp, out["updated_at"])
	assert.Equal(t, firestore.Increment(int64(2)), out["count"])
	assert.NotContains(t, out, "obsolete")
}

func TestToFirestoreUpdates(t *testing.T) {
	out := toFirestoreUpdates([]docstore.Update{
		{Field: "date", Value: "2024-03-02"},
		{Field: "note", Value: docstore.Delete},
		{Field: "updated_at", Value: docstore.ServerTimestamp},
	})

	assert.Equal(t, []firestore.Update{
		{Path: "date", Value: "2024-03-02"},
		{Path: "note", Value: firestore.Delete},
		{Path: "updated_at", Value: firestore.ServerTimestamp},
	}, out)
}

func TestToFirestoreUpdatesMapsArraySentinels(t *testing.T) {
	out := toFirestoreUpdates([]docstore.Update{
		{Field: "liked_by", Value: docstore.ArrayUnion("alice")},
		{Field: "members", Value: docstore.ArrayRemove("bob", "carol")},
	})

	assert.Equal(t, []firestore.Update{
		{Path: "liked_by", Value: firestore.ArrayUnion("alice")},
		{Path: "members", Value: firestore.ArrayRemove("bob", "carol")},
	}, out)
}
