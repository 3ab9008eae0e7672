package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/repository"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
	"github.com/noah-isme/student-portal-api/pkg/docstore/memstore"
	"github.com/noah-isme/student-portal-api/pkg/jobs"
)

// tickingClock advances one second per call so server timestamps order writes.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newMemStore(t *testing.T) *memstore.Store {
	t.Helper()
	store := memstore.New(memstore.WithClock(tickingClock()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// recordingStore counts writes and can reject or hold batch commits.
type recordingStore struct {
	docstore.Store

	mu       sync.Mutex
	commits  int
	updates  int
	batchIDs [][]string
	failWith error
	gate     chan struct{}

	attempts    int
	failAttempt int
}

func newRecordingStore(t *testing.T) *recordingStore {
	return &recordingStore{Store: newMemStore(t)}
}

func (s *recordingStore) Update(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
	return s.Store.Update(ctx, collection, id, updates...)
}

func (s *recordingStore) Batch() docstore.Batch {
	return &recordingBatch{next: s.Store.Batch(), store: s}
}

func (s *recordingStore) fail(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

// failOnAttempt rejects only the n-th batch commit, counting from 1.
func (s *recordingStore) failOnAttempt(n int) {
	s.mu.Lock()
	s.failAttempt = n
	s.mu.Unlock()
}

func (s *recordingStore) hold() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	return s.gate
}

func (s *recordingStore) stats() (commits, updates int, batches [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits, s.updates, append([][]string(nil), s.batchIDs...)
}

type recordingBatch struct {
	next  docstore.Batch
	store *recordingStore
	ids   []string
}

func (b *recordingBatch) Set(collection, id string, data map[string]interface{}) docstore.Batch {
	b.ids = append(b.ids, collection+"/"+id)
	b.next.Set(collection, id, data)
	return b
}

func (b *recordingBatch) Update(collection, id string, updates ...docstore.Update) docstore.Batch {
	b.next.Update(collection, id, updates...)
	return b
}

func (b *recordingBatch) Delete(collection, id string) docstore.Batch {
	b.next.Delete(collection, id)
	return b
}

func (b *recordingBatch) Len() int { return b.next.Len() }

func (b *recordingBatch) Commit(ctx context.Context) error {
	b.store.mu.Lock()
	gate, failWith := b.store.gate, b.store.failWith
	b.store.attempts++
	if b.store.attempts == b.store.failAttempt {
		failWith = errors.New("batch rejected")
	}
	b.store.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if failWith != nil {
		return failWith
	}
	if err := b.next.Commit(ctx); err != nil {
		return err
	}
	b.store.mu.Lock()
	b.store.commits++
	b.store.batchIDs = append(b.store.batchIDs, b.ids)
	b.store.mu.Unlock()
	return nil
}

func seedProfiles(t *testing.T, store docstore.Store, profiles ...models.Profile) *repository.ProfileDocumentRepository {
	t.Helper()
	repo := repository.NewProfileDocumentRepository(store)
	for _, p := range profiles {
		require.NoError(t, repo.Put(context.Background(), p))
	}
	return repo
}

func student(id, name string) models.Profile {
	return models.Profile{ID: id, DisplayName: name, Email: id + "@school.test", Role: models.RoleStudent}
}

func claims(id string, role models.UserRole) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: role, Email: id + "@school.test", FullName: "User " + id}
}

type queueStub struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	if job.ID == "" {
		job.ID = "job-" + time.Now().Format("150405.000000")
	}
	q.jobs = append(q.jobs, job)
	return job.ID, nil
}

func (q *queueStub) enqueued() []jobs.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]jobs.Job(nil), q.jobs...)
}
