// Package memstore is an in-process docstore.Store. Live queries are
// re-evaluated after every committed write to the watched collection.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

// Store keeps every collection in memory behind one lock, which makes each
// batch trivially atomic.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]docstore.Document
	watchers    map[uint64]*watcher
	nextWatch   uint64
	now         func() time.Time
	closed      bool
}

type watcher struct {
	query docstore.Query
	feed  *docstore.Feed
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the commit clock used for ServerTimestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]docstore.Document),
		watchers:    make(map[uint64]*watcher),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements docstore.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}
	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	out := copyDoc(doc)
	return &out, nil
}

// Set implements docstore.Store.
func (s *Store) Set(ctx context.Context, collection, id string, data map[string]interface{}) error {
	b := s.Batch()
	b.Set(collection, id, data)
	return b.Commit(ctx)
}

// Update implements docstore.Store.
func (s *Store) Update(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	b := s.Batch()
	b.Update(collection, id, updates...)
	return b.Commit(ctx)
}

// Delete implements docstore.Store.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	b := s.Batch()
	b.Delete(collection, id)
	return b.Commit(ctx)
}

// Add implements docstore.Store.
func (s *Store) Add(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Query implements docstore.Store.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}
	return s.evaluate(q), nil
}

// Watch implements docstore.Store. The first snapshot is delivered immediately.
func (s *Store) Watch(ctx context.Context, q docstore.Query) (docstore.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, docstore.ErrClosed
	}
	s.nextWatch++
	id := s.nextWatch
	feed := docstore.NewFeed(func() { s.unwatch(id) })
	s.watchers[id] = &watcher{query: q, feed: feed}
	feed.Publish(docstore.Snapshot{Documents: s.evaluate(q), ReadAt: s.now()})
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			feed.Stop()
		case <-feed.Done():
		}
	}()
	return feed, nil
}

// Batch implements docstore.Store.
func (s *Store) Batch() docstore.Batch {
	return &batch{store: s}
}

// Close stops every live query.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	feeds := make([]*docstore.Feed, 0, len(s.watchers))
	for _, w := range s.watchers {
		feeds = append(feeds, w.feed)
	}
	s.mu.Unlock()

	for _, f := range feeds {
		f.Stop()
	}
	return nil
}

// Count returns the number of documents in a collection.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func (s *Store) unwatch(id uint64) {
	s.mu.Lock()
	delete(s.watchers, id)
	s.mu.Unlock()
}

// evaluate must be called with mu held.
func (s *Store) evaluate(q docstore.Query) []docstore.Document {
	docs := make([]docstore.Document, 0, len(s.collections[q.Collection]))
	for _, doc := range s.collections[q.Collection] {
		docs = append(docs, copyDoc(doc))
	}
	return q.Apply(docs)
}

// commit applies ops atomically and refreshes affected watchers.
func (s *Store) commit(ops []docstore.BatchOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrClosed
	}

	now := s.now()
	type key struct{ collection, id string }
	staged := make(map[key]*docstore.Document, len(ops))
	order := make([]key, 0, len(ops))
	lookup := func(k key) (*docstore.Document, bool) {
		if doc, ok := staged[k]; ok {
			return doc, doc != nil
		}
		doc, ok := s.collections[k.collection][k.id]
		if !ok {
			return nil, false
		}
		return &doc, true
	}

	for _, op := range ops {
		k := key{op.Collection, op.ID}
		if _, seen := staged[k]; !seen {
			order = append(order, k)
		}
		switch op.Kind {
		case docstore.OpSet:
			staged[k] = &docstore.Document{Collection: op.Collection, ID: op.ID, Data: docstore.ResolveSet(op.Data, now), UpdateTime: now}
		case docstore.OpUpdate:
			current, ok := lookup(k)
			if !ok {
				return docstore.ErrNotFound
			}
			staged[k] = &docstore.Document{Collection: op.Collection, ID: op.ID, Data: docstore.ApplyUpdates(current.Data, op.Updates, now), UpdateTime: now}
		case docstore.OpDelete:
			staged[k] = nil
		}
	}

	touched := make(map[string]struct{})
	for _, k := range order {
		doc := staged[k]
		touched[k.collection] = struct{}{}
		if doc == nil {
			delete(s.collections[k.collection], k.id)
			continue
		}
		if s.collections[k.collection] == nil {
			s.collections[k.collection] = make(map[string]docstore.Document)
		}
		s.collections[k.collection][k.id] = *doc
	}

	for _, w := range s.watchers {
		if _, ok := touched[w.query.Collection]; ok {
			w.feed.Publish(docstore.Snapshot{Documents: s.evaluate(w.query), ReadAt: now})
		}
	}
	return nil
}

func copyDoc(doc docstore.Document) docstore.Document {
	doc.Data = docstore.CloneData(doc.Data)
	return doc
}

type batch struct {
	docstore.Ops
	store *Store
}

func (b *batch) Set(collection, id string, data map[string]interface{}) docstore.Batch {
	b.AddSet(collection, id, data)
	return b
}

func (b *batch) Update(collection, id string, updates ...docstore.Update) docstore.Batch {
	b.AddUpdate(collection, id, updates)
	return b
}

func (b *batch) Delete(collection, id string) docstore.Batch {
	b.AddDelete(collection, id)
	return b
}

func (b *batch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}
	return b.store.commit(b.Pending)
}
