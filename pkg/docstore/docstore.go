// Package docstore is a vendor-neutral document database API: collections of
// schemaless documents, filtered queries, live queries and atomic batches.
//
// Field values are limited to string, bool, integers, float64, time.Time,
// []string and nil, plus the write sentinels ServerTimestamp, Delete,
// Increment, ArrayUnion and ArrayRemove. Implementations live in the memstore, pgstore and fsstore
// sub-packages.
package docstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get and Update when the document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("docstore: store closed")
	// ErrInvalidQuery is returned for malformed queries.
	ErrInvalidQuery = errors.New("docstore: invalid query")
)

// Document is one stored record.
type Document struct {
	Collection string
	ID         string
	Data       map[string]interface{}
	UpdateTime time.Time
}

// Update sets (or, with the Delete sentinel, removes) one top-level field.
type Update struct {
	Field string
	Value interface{}
}

// Snapshot is the full result of a live query at one point in time. Err is
// set when the subscription failed; no further snapshots follow an error.
type Snapshot struct {
	Documents []Document
	ReadAt    time.Time
	Err       error
}

// Subscription delivers snapshots of a live query. Only the most recent
// undelivered snapshot is kept, so slow consumers skip intermediate states.
type Subscription interface {
	Snapshots() <-chan Snapshot
	Stop()
}

// Batch accumulates writes that commit atomically.
type Batch interface {
	Set(collection, id string, data map[string]interface{}) Batch
	Update(collection, id string, updates ...Update) Batch
	Delete(collection, id string) Batch
	Len() int
	Commit(ctx context.Context) error
}

// Store is the document database used by repositories.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(ctx context.Context, collection, id string, data map[string]interface{}) error
	Update(ctx context.Context, collection, id string, updates ...Update) error
	Delete(ctx context.Context, collection, id string) error
	Add(ctx context.Context, collection string, data map[string]interface{}) (string, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	Watch(ctx context.Context, q Query) (Subscription, error)
	Batch() Batch
	Close() error
}

// BatchOp is one pending write inside a Batch; shared by implementations.
type BatchOp struct {
	Kind       OpKind
	Collection string
	ID         string
	Data       map[string]interface{}
	Updates    []Update
}

// OpKind enumerates batch write kinds.
type OpKind int

const (
	OpSet OpKind = iota + 1
	OpUpdate
	OpDelete
)

// Ops is an embeddable Batch accumulator. Implementations embed it and add Commit.
type Ops struct {
	Pending []BatchOp
}

func (o *Ops) add(op BatchOp) { o.Pending = append(o.Pending, op) }

// AddSet queues a full-document write.
func (o *Ops) AddSet(collection, id string, data map[string]interface{}) {
	o.add(BatchOp{Kind: OpSet, Collection: collection, ID: id, Data: CloneData(data)})
}

// AddUpdate queues a field update.
func (o *Ops) AddUpdate(collection, id string, updates []Update) {
	copied := make([]Update, len(updates))
	copy(copied, updates)
	o.add(BatchOp{Kind: OpUpdate, Collection: collection, ID: id, Updates: copied})
}

// AddDelete queues a delete.
func (o *Ops) AddDelete(collection, id string) {
	o.add(BatchOp{Kind: OpDelete, Collection: collection, ID: id})
}

// Len reports the number of queued writes.
func (o *Ops) Len() int { return len(o.Pending) }

// Collections returns the distinct collections touched by the queued writes.
func (o *Ops) Collections() []string {
	seen := make(map[string]struct{}, len(o.Pending))
	out := make([]string, 0, len(o.Pending))
	for _, op := range o.Pending {
		if _, ok := seen[op.Collection]; ok {
			continue
		}
		seen[op.Collection] = struct{}{}
		out = append(out, op.Collection)
	}
	return out
}
