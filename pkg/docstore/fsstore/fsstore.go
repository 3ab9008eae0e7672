// Package fsstore implements docstore.Store on Cloud Firestore.
package fsstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

// Store adapts a Firestore client.
type Store struct {
	client *firestore.Client
	logger *zap.Logger
}

// Open connects to the given project. An empty credentials path falls back to
// application default credentials.
func Open(ctx context.Context, projectID, credentialsFile string, logger *zap.Logger) (*Store, error) {
	if projectID == "" {
		return nil, errors.New("firestore project id is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return New(client, logger), nil
}

// New wraps an existing client.
func New(client *firestore.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, logger: logger}
}

// Get implements docstore.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, docstore.ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	doc := toDocument(collection, snap)
	return &doc, nil
}

// Set implements docstore.Store.
func (s *Store) Set(ctx context.Context, collection, id string, data map[string]interface{}) error {
	if _, err := s.client.Collection(collection).Doc(id).Set(ctx, toFirestoreData(data)); err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update implements docstore.Store.
func (s *Store) Update(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	if _, err := s.client.Collection(collection).Doc(id).Update(ctx, toFirestoreUpdates(updates)); err != nil {
		return mapWriteError(err, collection, id)
	}
	return nil
}

// Delete implements docstore.Store.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.client.Collection(collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Add implements docstore.Store.
func (s *Store) Add(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	ref, _, err := s.client.Collection(collection).Add(ctx, toFirestoreData(data))
	if err != nil {
		return "", fmt.Errorf("add %s: %w", collection, err)
	}
	return ref.ID, nil
}

// Query implements docstore.Store.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	fq, err := s.build(q)
	if err != nil {
		return nil, err
	}
	snaps, err := fq.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	docs := make([]docstore.Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, toDocument(q.Collection, snap))
	}
	return docs, nil
}

// Watch implements docstore.Store using a query snapshot listener.
func (s *Store) Watch(ctx context.Context, q docstore.Query) (docstore.Subscription, error) {
	fq, err := s.build(q)
	if err != nil {
		return nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	feed := docstore.NewFeed(cancel)
	it := fq.Snapshots(wctx)

	go func() {
		defer it.Stop()
		defer feed.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if wctx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, iterator.Done) {
					return
				}
				s.logger.Warn("firestore listener failed", zap.String("query", q.String()), zap.Error(err))
				feed.Publish(docstore.Snapshot{Err: err})
				return
			}
			snaps, err := qs.Documents.GetAll()
			if err != nil {
				feed.Publish(docstore.Snapshot{Err: err, ReadAt: qs.ReadTime})
				return
			}
			docs := make([]docstore.Document, 0, len(snaps))
			for _, snap := range snaps {
				docs = append(docs, toDocument(q.Collection, snap))
			}
			if !feed.Publish(docstore.Snapshot{Documents: docs, ReadAt: qs.ReadTime}) {
				return
			}
		}
	}()
	return feed, nil
}

// Batch implements docstore.Store with an atomic write batch.
func (s *Store) Batch() docstore.Batch {
	return &batch{store: s}
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) build(q docstore.Query) (firestore.Query, error) {
	if err := q.Validate(); err != nil {
		return firestore.Query{}, err
	}
	fq := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, string(f.Op), f.Value)
	}
	for _, o := range q.Orders {
		dir := firestore.Asc
		if o.Dir == docstore.Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(o.Field, dir)
	}
	if q.Max > 0 {
		fq = fq.Limit(q.Max)
	}
	return fq, nil
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
	if b.Len() == 0 {
		return nil
	}
	client := b.store.client
	wb := client.Batch()
	for _, op := range b.Pending {
		ref := client.Collection(op.Collection).Doc(op.ID)
		switch op.Kind {
		case docstore.OpSet:
			wb.Set(ref, toFirestoreData(op.Data))
		case docstore.OpUpdate:
			wb.Update(ref, toFirestoreUpdates(op.Updates))
		case docstore.OpDelete:
			wb.Delete(ref)
		}
	}
	if _, err := wb.Commit(ctx); err != nil {
		return mapWriteError(err, "batch", fmt.Sprintf("%d ops", b.Len()))
	}
	return nil
}

func mapWriteError(err error, collection, id string) error {
	if status.Code(err) == codes.NotFound {
		return docstore.ErrNotFound
	}
	return fmt.Errorf("write %s/%s: %w", collection, id, err)
}

func toDocument(collection string, snap *firestore.DocumentSnapshot) docstore.Document {
	return docstore.Document{
		Collection: collection,
		ID:         snap.Ref.ID,
		Data:       snap.Data(),
		UpdateTime: snap.UpdateTime,
	}
}

func toFirestoreValue(v interface{}) interface{} {
	switch {
	case docstore.IsServerTimestamp(v):
		return firestore.ServerTimestamp
	case docstore.IsDelete(v):
		return firestore.Delete
	}
	if by, ok := docstore.IncrementBy(v); ok {
		return firestore.Increment(by)
	}
	if elems, remove, ok := docstore.ArrayElems(v); ok {
		values := make([]interface{}, len(elems))
		for i, e := range elems {
			values[i] = e
		}
		if remove {
			return firestore.ArrayRemove(values...)
		}
		return firestore.ArrayUnion(values...)
	}
	return v
}

func toFirestoreData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if docstore.IsDelete(v) {
			continue
		}
		out[k] = toFirestoreValue(v)
	}
	return out
}

func toFirestoreUpdates(updates []docstore.Update) []firestore.Update {
	out := make([]firestore.Update, 0, len(updates))
	for _, u := range updates {
		out = append(out, firestore.Update{Path: u.Field, Value: toFirestoreValue(u.Value)})
	}
	return out
}
