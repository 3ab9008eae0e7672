package optimistic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyKeepsChangesOnSuccess(t *testing.T) {
	m := NewMap[string, string]()
	m.Replace(map[string]string{"s1": "Absent"})

	var seen string
	err := m.Apply(context.Background(), map[string]string{"s1": "Present", "s2": "Present"}, func(context.Context) error {
		seen, _ = m.Get("s1")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Present", seen, "changes are visible before commit returns")
	assert.Equal(t, map[string]string{"s1": "Present", "s2": "Present"}, m.Snapshot())
}

func TestApplyRestoresOnFailure(t *testing.T) {
	m := NewMap[string, string]()
	m.Replace(map[string]string{"s1": "Absent", "s3": "Late"})
	before := m.Snapshot()

	boom := errors.New("permission denied")
	err := m.Apply(context.Background(), map[string]string{"s1": "Present", "s2": "Present"}, func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, before, m.Snapshot())
	_, ok := m.Get("s2")
	assert.False(t, ok)
	assert.Equal(t, 2, m.Len())
}

func TestReplaceCopiesInput(t *testing.T) {
	src := map[string]int{"a": 1}
	m := NewMap[string, int]()
	m.Replace(src)
	src["a"] = 2
	v, _ := m.Get("a")
	assert.Equal(t, 1, v)
}
