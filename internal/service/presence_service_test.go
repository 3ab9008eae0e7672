package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

type presenceWrite struct {
	userID string
	online bool
}

type presenceLog struct {
	mu     sync.Mutex
	writes []presenceWrite
	err    error
}

func (l *presenceLog) record(id string, online bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, presenceWrite{userID: id, online: online})
	return l.err
}

func (l *presenceLog) all() []presenceWrite {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]presenceWrite(nil), l.writes...)
}

func (l *presenceLog) count(online bool) int {
	n := 0
	for _, w := range l.all() {
		if w.online == online {
			n++
		}
	}
	return n
}

type presenceDocsStub struct {
	presenceLog
	missing map[string]bool
	puts    []models.Profile
}

func (s *presenceDocsStub) SetPresence(ctx context.Context, id string, online bool) error {
	s.mu.Lock()
	missing := s.missing[id]
	s.mu.Unlock()
	if missing {
		return fmt.Errorf("set presence %s: %w", id, docstore.ErrNotFound)
	}
	return s.record(id, online)
}

func (s *presenceDocsStub) Put(ctx context.Context, p models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, p)
	delete(s.missing, p.ID)
	return nil
}

type presenceMirrorStub struct {
	presenceLog
	online []string
}

func (s *presenceMirrorStub) SetPresence(ctx context.Context, id string, online bool, at time.Time) error {
	return s.record(id, online)
}

func (s *presenceMirrorStub) ListOnlineIDs(ctx context.Context) ([]string, error) {
	return s.online, nil
}

func (s *presenceMirrorStub) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	return &models.Profile{ID: id, DisplayName: "Row " + id, Role: models.RoleStudent}, nil
}

type presenceKeysStub struct {
	mu      sync.Mutex
	touched map[string]time.Duration
	cleared []string
	alive   map[string]bool
}

func (s *presenceKeysStub) Touch(ctx context.Context, userID string, at time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touched == nil {
		s.touched = map[string]time.Duration{}
	}
	s.touched[userID] = ttl
	return nil
}

func (s *presenceKeysStub) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, userID)
	return nil
}

func (s *presenceKeysStub) Alive(ctx context.Context, userIDs []string) (map[string]bool, error) {
	return s.alive, nil
}

func TestPresenceSessionLifecycle(t *testing.T) {
	docs := &presenceDocsStub{}
	mirror := &presenceMirrorStub{}
	keys := &presenceKeysStub{}
	svc := NewPresenceService(docs, mirror, keys, PresenceConfig{HeartbeatInterval: time.Hour, TTL: 2 * time.Hour}, zap.NewNop())
	ctx := context.Background()

	session := svc.NewSession("alice")
	require.NoError(t, session.SetVisible(ctx, false), "ignored before start")
	assert.Empty(t, docs.all())

	require.NoError(t, session.Start(ctx))
	require.NoError(t, session.SetVisible(ctx, true), "already visible")
	require.NoError(t, session.SetVisible(ctx, false))
	require.NoError(t, session.SetVisible(ctx, false))
	require.NoError(t, session.SetVisible(ctx, true))
	require.NoError(t, session.Stop(ctx))
	require.NoError(t, session.Stop(ctx))

	want := []presenceWrite{{"alice", true}, {"alice", false}, {"alice", true}, {"alice", false}}
	assert.Equal(t, want, docs.all())
	assert.Equal(t, want, mirror.all())
	assert.Equal(t, 2*time.Hour, keys.touched["alice"])
	assert.Equal(t, []string{"alice", "alice"}, keys.cleared)
}

func TestPresenceHeartbeatOnlyWhileVisible(t *testing.T) {
	docs := &presenceDocsStub{}
	svc := NewPresenceService(docs, &presenceMirrorStub{}, nil, PresenceConfig{HeartbeatInterval: 5 * time.Millisecond}, zap.NewNop())
	ctx := context.Background()

	session := svc.NewSession("alice")
	require.NoError(t, session.Start(ctx))
	require.Eventually(t, func() bool { return docs.count(true) >= 3 }, time.Second, time.Millisecond)

	require.NoError(t, session.SetVisible(ctx, false))
	hidden := docs.count(true)
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, docs.count(true), hidden+1, "at most one in-flight beat after hiding")

	require.NoError(t, session.Stop(ctx))
	writes := docs.all()
	assert.Equal(t, presenceWrite{"alice", false}, writes[len(writes)-1])
}

func TestPresenceWriteErrorIsReturned(t *testing.T) {
	docs := &presenceDocsStub{}
	docs.err = errors.New("store down")
	svc := NewPresenceService(docs, &presenceMirrorStub{}, nil, PresenceConfig{HeartbeatInterval: time.Hour}, zap.NewNop())

	session := svc.NewSession("alice")
	assert.Error(t, session.Start(context.Background()))
	assert.Error(t, session.Stop(context.Background()))
}

func TestPresenceSweepClearsExpiredProfiles(t *testing.T) {
	docs := &presenceDocsStub{}
	mirror := &presenceMirrorStub{online: []string{"alice", "bob", "cici"}}
	keys := &presenceKeysStub{alive: map[string]bool{"alice": true}}
	svc := NewPresenceService(docs, mirror, keys, PresenceConfig{}, zap.NewNop())

	swept, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, swept)
	assert.ElementsMatch(t, []presenceWrite{{"bob", false}, {"cici", false}}, docs.all())

	noKeys := NewPresenceService(docs, mirror, nil, PresenceConfig{}, zap.NewNop())
	swept, err = noKeys.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestPresenceRebuildsMissingProfileDocument(t *testing.T) {
	docs := &presenceDocsStub{missing: map[string]bool{"dewi": true}}
	mirror := &presenceMirrorStub{}
	svc := NewPresenceService(docs, mirror, nil, PresenceConfig{HeartbeatInterval: time.Hour}, zap.NewNop())

	session := svc.NewSession("dewi")
	require.NoError(t, session.Start(context.Background()))
	defer session.Stop(context.Background()) //nolint:errcheck

	require.Len(t, docs.puts, 1)
	rebuilt := docs.puts[0]
	assert.Equal(t, "dewi", rebuilt.ID)
	assert.Equal(t, "Row dewi", rebuilt.DisplayName)
	assert.True(t, rebuilt.IsOnline)
	assert.False(t, rebuilt.LastSeen.IsZero())
	assert.Equal(t, 1, mirror.count(true))
}
