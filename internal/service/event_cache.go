package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/repository"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

var errSubscriptionEnded = errors.New("live query ended")

type eventWatcher interface {
	WindowQuery(w models.MonthWindow, vis models.Visibility, viewerID string) docstore.Query
	Watch(ctx context.Context, q docstore.Query) (docstore.Subscription, error)
}

type eventCacheMetrics interface {
	RecordCacheMerge(partition string)
	RecordResubscribe()
}

// EventCacheConfig tunes the month window and resubscription backoff.
type EventCacheConfig struct {
	PaddingDays     int
	ResubscribeBase time.Duration
	ResubscribeMax  time.Duration
}

// CacheUpdate carries the merged events of one month after a partition changed.
type CacheUpdate struct {
	Key    string
	Events []models.Event
}

type partitionDelivery struct {
	generation uint64
	key        string
	partition  models.Visibility
	events     []models.Event
}

// EventCache keeps one viewer's month entries, each merged from a public and a
// private live query. It is owned by a single session and must be closed.
type EventCache struct {
	viewerID string
	repo     eventWatcher
	cfg      EventCacheConfig
	logger   *zap.Logger
	metrics  eventCacheMetrics

	deliveries chan partitionDelivery
	updates    chan CacheUpdate

	mu         sync.Mutex
	entries    map[string][]models.Event
	generation uint64
	current    string
	viewCancel context.CancelFunc
	producers  sync.WaitGroup
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEventCache starts the reducer for viewerID. metrics may be nil.
func NewEventCache(viewerID string, repo eventWatcher, cfg EventCacheConfig, logger *zap.Logger, metrics eventCacheMetrics) *EventCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResubscribeBase <= 0 {
		cfg.ResubscribeBase = 500 * time.Millisecond
	}
	if cfg.ResubscribeMax < cfg.ResubscribeBase {
		cfg.ResubscribeMax = 30 * time.Second
	}
	if cfg.PaddingDays < 0 {
		cfg.PaddingDays = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &EventCache{
		viewerID:   viewerID,
		repo:       repo,
		cfg:        cfg,
		logger:     logger.With(zap.String("viewer_id", viewerID)),
		metrics:    metrics,
		deliveries: make(chan partitionDelivery),
		updates:    make(chan CacheUpdate, 8),
		entries:    make(map[string][]models.Event),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go c.reduce()
	return c
}

// Updates delivers merged entries. It is closed by Close.
func (c *EventCache) Updates() <-chan CacheUpdate {
	return c.updates
}

// ViewMonth replaces the active subscriptions with the two live queries of the
// given month and returns its key. Earlier entries stay cached.
func (c *EventCache) ViewMonth(year int, month time.Month) (string, error) {
	if month < time.January || month > time.December {
		return "", errors.New("month out of range")
	}
	w := models.NewMonthWindow(year, month, c.cfg.PaddingDays)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", docstore.ErrClosed
	}
	if c.viewCancel != nil {
		c.viewCancel()
	}
	c.generation++
	gen := c.generation
	c.current = w.Key
	viewCtx, cancel := context.WithCancel(c.ctx)
	c.viewCancel = cancel
	c.producers.Add(2)
	c.mu.Unlock()

	go c.produce(viewCtx, gen, w, models.VisibilityPublic)
	go c.produce(viewCtx, gen, w, models.VisibilityPrivate)

	c.logger.Debug("month view opened", zap.String("key", w.Key), zap.String("start", w.Start), zap.String("end", w.End))
	return w.Key, nil
}

// Entry returns a copy of the merged events for key.
func (c *EventCache) Entry(key string) ([]models.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	events, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return append([]models.Event(nil), events...), true
}

// Current returns the key of the month being watched.
func (c *EventCache) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Close stops every subscription and the reducer. It is idempotent.
func (c *EventCache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.producers.Wait()
	<-c.done
}

func (c *EventCache) produce(ctx context.Context, gen uint64, w models.MonthWindow, vis models.Visibility) {
	defer c.producers.Done()
	q := c.repo.WindowQuery(w, vis, c.viewerID)
	log := c.logger.With(zap.String("key", w.Key), zap.String("partition", string(vis)))

	failures := 0
	for {
		sub, err := c.repo.Watch(ctx, q)
		if err == nil {
			err = c.drain(ctx, gen, w.Key, vis, sub, &failures)
			sub.Stop()
		}
		if ctx.Err() != nil {
			return
		}

		failures++
		delay := c.backoff(failures)
		log.Warn("event subscription failed, resubscribing", zap.Error(err), zap.Int("attempt", failures), zap.Duration("delay", delay))
		if c.metrics != nil {
			c.metrics.RecordResubscribe()
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *EventCache) drain(ctx context.Context, gen uint64, key string, vis models.Visibility, sub docstore.Subscription, failures *int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return errSubscriptionEnded
			}
			if snap.Err != nil {
				return snap.Err
			}
			*failures = 0
			d := partitionDelivery{generation: gen, key: key, partition: vis, events: repository.EventsFromSnapshot(snap)}
			select {
			case c.deliveries <- d:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (c *EventCache) backoff(failures int) time.Duration {
	delay := c.cfg.ResubscribeBase
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= c.cfg.ResubscribeMax {
			return c.cfg.ResubscribeMax
		}
	}
	return delay
}

func (c *EventCache) reduce() {
	defer close(c.done)
	defer close(c.updates)
	for {
		select {
		case <-c.ctx.Done():
			return
		case d := <-c.deliveries:
			c.mu.Lock()
			if d.generation != c.generation {
				c.mu.Unlock()
				continue
			}
			merged := mergePartition(c.entries[d.key], d.partition, d.events)
			c.entries[d.key] = merged
			c.mu.Unlock()

			if c.metrics != nil {
				c.metrics.RecordCacheMerge(string(d.partition))
			}
			update := CacheUpdate{Key: d.key, Events: append([]models.Event(nil), merged...)}
			select {
			case c.updates <- update:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// mergePartition replaces the events of one visibility partition in existing
// with snapshot and keeps the other partition untouched.
func mergePartition(existing []models.Event, partition models.Visibility, snapshot []models.Event) []models.Event {
	merged := make([]models.Event, 0, len(existing)+len(snapshot))
	for _, ev := range existing {
		if ev.Visibility() != partition {
			merged = append(merged, ev)
		}
	}
	for _, ev := range snapshot {
		if ev.Visibility() == partition {
			merged = append(merged, ev)
		}
	}
	sortEvents(merged)
	return merged
}

func sortEvents(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if at, bt := clockOf(a), clockOf(b); at != bt {
			return at < bt
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.ID < b.ID
	})
}

// clockOf sorts untimed events first.
func clockOf(ev models.Event) string {
	if ev.Time == nil {
		return ""
	}
	return *ev.Time
}
