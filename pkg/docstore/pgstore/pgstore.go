// Package pgstore implements docstore.Store on a PostgreSQL JSONB table.
// Every write runs in a transaction that also calls pg_notify, and live
// queries re-run when a notification for their collection arrives.
package pgstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a docstore.Store backed by the documents table.
type Store struct {
	db      *sqlx.DB
	channel string
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	watchers map[uint64]*watcher
	nextID   uint64
	cancel   context.CancelFunc
	closed   bool
}

type watcher struct {
	ctx   context.Context
	query docstore.Query
	feed  *docstore.Feed
}

// Option customises a Store.
type Option func(*Store)

// WithChannel sets the LISTEN/NOTIFY channel name.
func WithChannel(channel string) Option {
	return func(s *Store) {
		if channel != "" {
			s.channel = channel
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the commit clock used for ServerTimestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps an open database handle.
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:       db,
		channel:  "docstore_changes",
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		watchers: make(map[uint64]*watcher),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen opens a dedicated LISTEN connection and fans notifications out to
// live queries until ctx ends or Close is called.
func (s *Store) Listen(ctx context.Context, dsn string) error {
	listener := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			s.logger.Warn("docstore listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(s.channel); err != nil {
		_ = listener.Close()
		return fmt.Errorf("listen %s: %w", s.channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.dispatch(ctx, listener)
	return nil
}

func (s *Store) dispatch(ctx context.Context, listener *pq.Listener) {
	defer listener.Close() //nolint:errcheck
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				// Connection was re-established; notifications may have been lost.
				s.refresh("")
				continue
			}
			s.refresh(n.Extra)
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				s.logger.Warn("docstore listener ping failed", zap.Error(err))
			}
		}
	}
}

// refresh re-runs live queries on collection, or all of them when empty.
func (s *Store) refresh(collection string) {
	s.mu.Lock()
	targets := make([]*watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		if collection == "" || w.query.Collection == collection {
			targets = append(targets, w)
		}
	}
	s.mu.Unlock()

	for _, w := range targets {
		s.publish(w)
	}
}

func (s *Store) publish(w *watcher) {
	docs, err := s.Query(w.ctx, w.query)
	if err != nil {
		if w.ctx.Err() != nil {
			return
		}
		w.feed.Publish(docstore.Snapshot{Err: err, ReadAt: s.now()})
		w.feed.Stop()
		return
	}
	w.feed.Publish(docstore.Snapshot{Documents: docs, ReadAt: s.now()})
}

type row struct {
	ID        string    `db:"id"`
	Data      []byte    `db:"data"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r row) document(collection string) (docstore.Document, error) {
	data, err := decode(r.Data)
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{Collection: collection, ID: r.ID, Data: data, UpdateTime: r.UpdatedAt}, nil
}

// Get implements docstore.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	const query = `SELECT id, data, updated_at FROM documents WHERE collection = $1 AND id = $2`
	var r row
	if err := s.db.GetContext(ctx, &r, query, collection, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, docstore.ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	doc, err := r.document(collection)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Set implements docstore.Store.
func (s *Store) Set(ctx context.Context, collection, id string, data map[string]interface{}) error {
	return s.Batch().Set(collection, id, data).Commit(ctx)
}

// Update implements docstore.Store.
func (s *Store) Update(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	return s.Batch().Update(collection, id, updates...).Commit(ctx)
}

// Delete implements docstore.Store.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.Batch().Delete(collection, id).Commit(ctx)
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
	query, args, err := buildSelect(q)
	if err != nil {
		return nil, err
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	docs := make([]docstore.Document, 0, len(rows))
	for _, r := range rows {
		doc, err := r.document(q.Collection)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Watch implements docstore.Store. Without Listen, the subscription only
// delivers its initial snapshot.
func (s *Store) Watch(ctx context.Context, q docstore.Query) (docstore.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, docstore.ErrClosed
	}
	s.nextID++
	id := s.nextID
	wctx, cancel := context.WithCancel(ctx)
	feed := docstore.NewFeed(func() {
		cancel()
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	})
	w := &watcher{ctx: wctx, query: q, feed: feed}
	s.watchers[id] = w
	s.mu.Unlock()

	go func() {
		select {
		case <-wctx.Done():
			feed.Stop()
		case <-feed.Done():
		}
	}()
	s.publish(w)
	return feed, nil
}

// Batch implements docstore.Store.
func (s *Store) Batch() docstore.Batch {
	return &batch{store: s}
}

// Close stops the listener and every live query. The *sqlx.DB stays open.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
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

func (s *Store) commit(ctx context.Context, ops docstore.Ops) error {
	if ops.Len() == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin docstore batch: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	for _, op := range ops.Pending {
		if err := s.apply(ctx, tx, op, now); err != nil {
			return err
		}
	}
	for _, collection := range ops.Collections() {
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, s.channel, collection); err != nil {
			return fmt.Errorf("notify %s: %w", collection, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit docstore batch: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) apply(ctx context.Context, tx *sqlx.Tx, op docstore.BatchOp, now time.Time) error {
	switch op.Kind {
	case docstore.OpSet:
		payload, err := encode(docstore.ResolveSet(op.Data, now))
		if err != nil {
			return err
		}
		const query = `INSERT INTO documents (collection, id, data, updated_at) VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
		if _, err := tx.ExecContext(ctx, query, op.Collection, op.ID, payload, now); err != nil {
			return fmt.Errorf("set %s/%s: %w", op.Collection, op.ID, err)
		}
	case docstore.OpUpdate:
		var raw []byte
		const selectQuery = `SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`
		if err := tx.GetContext(ctx, &raw, selectQuery, op.Collection, op.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return docstore.ErrNotFound
			}
			return fmt.Errorf("lock %s/%s: %w", op.Collection, op.ID, err)
		}
		current, err := decode(raw)
		if err != nil {
			return err
		}
		payload, err := encode(docstore.ApplyUpdates(current, op.Updates, now))
		if err != nil {
			return err
		}
		const updateQuery = `UPDATE documents SET data = $3::jsonb, updated_at = $4 WHERE collection = $1 AND id = $2`
		if _, err := tx.ExecContext(ctx, updateQuery, op.Collection, op.ID, payload, now); err != nil {
			return fmt.Errorf("update %s/%s: %w", op.Collection, op.ID, err)
		}
	case docstore.OpDelete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, op.Collection, op.ID); err != nil {
			return fmt.Errorf("delete %s/%s: %w", op.Collection, op.ID, err)
		}
	}
	return nil
}

// encode renders a document body as JSON with fixed-width UTC timestamps so
// that text comparison in SQL orders times correctly.
func encode(data map[string]interface{}) (string, error) {
	normalised := make(map[string]interface{}, len(data))
	for k, v := range data {
		if t, ok := v.(time.Time); ok {
			normalised[k] = t.UTC().Format(timeLayout)
			continue
		}
		normalised[k] = v
	}
	payload, err := json.Marshal(normalised)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(payload), nil
}

func decode(raw []byte) (map[string]interface{}, error) {
	data := map[string]interface{}{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return data, nil
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
	return b.store.commit(ctx, b.Ops)
}
