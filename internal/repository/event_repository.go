package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

// EventRepository stores calendar events in the document store.
type EventRepository struct {
	store docstore.Store
}

// NewEventRepository constructs the repository.
func NewEventRepository(store docstore.Store) *EventRepository {
	return &EventRepository{store: store}
}

// Create stores a new event and returns its id.
func (r *EventRepository) Create(ctx context.Context, ev models.Event) (string, error) {
	id, err := r.store.Add(ctx, models.CollectionEvents, ev.Fields())
	if err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}
	return id, nil
}

// CreateMany stores events in one atomic batch and returns their ids in order.
func (r *EventRepository) CreateMany(ctx context.Context, events []models.Event) ([]string, error) {
	batch := r.store.Batch()
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = uuid.NewString()
		batch.Set(models.CollectionEvents, ids[i], ev.Fields())
	}
	if err := batch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("create events: %w", err)
	}
	return ids, nil
}

// Get loads one event. docstore.ErrNotFound is preserved in the chain.
func (r *EventRepository) Get(ctx context.Context, id string) (*models.Event, error) {
	doc, err := r.store.Get(ctx, models.CollectionEvents, id)
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	ev := models.EventFromDocument(*doc)
	return &ev, nil
}

// UpdateDate rewrites the date of a single event.
func (r *EventRepository) UpdateDate(ctx context.Context, id, date string) error {
	err := r.store.Update(ctx, models.CollectionEvents, id,
		docstore.Update{Field: "date", Value: date},
		docstore.Update{Field: "updated_at", Value: docstore.ServerTimestamp},
	)
	if err != nil {
		return fmt.Errorf("move event %s: %w", id, err)
	}
	return nil
}

// Delete removes an event.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, models.CollectionEvents, id); err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	return nil
}

// WindowQuery selects the events of one visibility partition inside the
// window. Private events are limited to the viewer's own.
func (r *EventRepository) WindowQuery(w models.MonthWindow, vis models.Visibility, viewerID string) docstore.Query {
	q := docstore.Collection(models.CollectionEvents).
		Where("is_public", docstore.OpEqual, vis == models.VisibilityPublic)
	if vis == models.VisibilityPrivate {
		q = q.Where("user_id", docstore.OpEqual, viewerID)
	}
	return q.
		Where("date", docstore.OpGreaterEqual, w.Start).
		Where("date", docstore.OpLessEqual, w.End).
		OrderBy("date", docstore.Asc)
}

// List runs q once.
func (r *EventRepository) List(ctx context.Context, q docstore.Query) ([]models.Event, error) {
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return eventsFromDocuments(docs), nil
}

// Watch opens a live query.
func (r *EventRepository) Watch(ctx context.Context, q docstore.Query) (docstore.Subscription, error) {
	sub, err := r.store.Watch(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("watch events: %w", err)
	}
	return sub, nil
}

// EventsFromSnapshot decodes a live query snapshot.
func EventsFromSnapshot(s docstore.Snapshot) []models.Event {
	return eventsFromDocuments(s.Documents)
}

func eventsFromDocuments(docs []docstore.Document) []models.Event {
	out := make([]models.Event, 0, len(docs))
	for _, doc := range docs {
		out = append(out, models.EventFromDocument(doc))
	}
	return out
}
