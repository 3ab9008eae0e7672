package repository

import (
	"context"
	"time"

	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

type storeObserver interface {
	ObserveStoreOp(op, collection string, duration time.Duration, err error)
}

// InstrumentedStore reports the latency of every call to an observer.
type InstrumentedStore struct {
	next     docstore.Store
	observer storeObserver
}

// Instrument wraps next. A nil observer returns next unchanged.
func Instrument(next docstore.Store, observer storeObserver) docstore.Store {
	if observer == nil {
		return next
	}
	return &InstrumentedStore{next: next, observer: observer}
}

func (s *InstrumentedStore) observe(op, collection string, start time.Time, err error) {
	s.observer.ObserveStoreOp(op, collection, time.Since(start), err)
}

func (s *InstrumentedStore) Get(ctx context.Context, collection, id string) (doc *docstore.Document, err error) {
	defer func(start time.Time) { s.observe("get", collection, start, ignoreNotFound(err)) }(time.Now())
	return s.next.Get(ctx, collection, id)
}

func (s *InstrumentedStore) Set(ctx context.Context, collection, id string, data map[string]interface{}) (err error) {
	defer func(start time.Time) { s.observe("set", collection, start, err) }(time.Now())
	return s.next.Set(ctx, collection, id, data)
}

func (s *InstrumentedStore) Update(ctx context.Context, collection, id string, updates ...docstore.Update) (err error) {
	defer func(start time.Time) { s.observe("update", collection, start, err) }(time.Now())
	return s.next.Update(ctx, collection, id, updates...)
}

func (s *InstrumentedStore) Delete(ctx context.Context, collection, id string) (err error) {
	defer func(start time.Time) { s.observe("delete", collection, start, err) }(time.Now())
	return s.next.Delete(ctx, collection, id)
}

func (s *InstrumentedStore) Add(ctx context.Context, collection string, data map[string]interface{}) (id string, err error) {
	defer func(start time.Time) { s.observe("add", collection, start, err) }(time.Now())
	return s.next.Add(ctx, collection, data)
}

func (s *InstrumentedStore) Query(ctx context.Context, q docstore.Query) (docs []docstore.Document, err error) {
	defer func(start time.Time) { s.observe("query", q.Collection, start, err) }(time.Now())
	return s.next.Query(ctx, q)
}

func (s *InstrumentedStore) Watch(ctx context.Context, q docstore.Query) (sub docstore.Subscription, err error) {
	defer func(start time.Time) { s.observe("watch", q.Collection, start, err) }(time.Now())
	return s.next.Watch(ctx, q)
}

func (s *InstrumentedStore) Batch() docstore.Batch {
	return &instrumentedBatch{Batch: s.next.Batch(), store: s}
}

func (s *InstrumentedStore) Close() error {
	return s.next.Close()
}

type instrumentedBatch struct {
	docstore.Batch
	store *InstrumentedStore
	label string
}

func (b *instrumentedBatch) track(collection string) {
	switch b.label {
	case "":
		b.label = collection
	case collection:
	default:
		b.label = "mixed"
	}
}

func (b *instrumentedBatch) Set(collection, id string, data map[string]interface{}) docstore.Batch {
	b.track(collection)
	b.Batch.Set(collection, id, data)
	return b
}

func (b *instrumentedBatch) Update(collection, id string, updates ...docstore.Update) docstore.Batch {
	b.track(collection)
	b.Batch.Update(collection, id, updates...)
	return b
}

func (b *instrumentedBatch) Delete(collection, id string) docstore.Batch {
	b.track(collection)
	b.Batch.Delete(collection, id)
	return b
}

func (b *instrumentedBatch) Commit(ctx context.Context) (err error) {
	defer func(start time.Time) { b.store.observe("commit", b.label, start, err) }(time.Now())
	return b.Batch.Commit(ctx)
}

func ignoreNotFound(err error) error {
	if err == docstore.ErrNotFound {
		return nil
	}
	return err
}
