package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/jobs"
)

// JobOfficialEventNotify fans an official broadcast out to every student.
const JobOfficialEventNotify = "official_event_notify"

type eventRepository interface {
	Create(ctx context.Context, ev models.Event) (string, error)
	CreateMany(ctx context.Context, events []models.Event) ([]string, error)
	Get(ctx context.Context, id string) (*models.Event, error)
	UpdateDate(ctx context.Context, id, date string) error
	Delete(ctx context.Context, id string) error
	WindowQuery(w models.MonthWindow, vis models.Visibility, viewerID string) docstore.Query
	List(ctx context.Context, q docstore.Query) ([]models.Event, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) (string, error)
}

// OfficialNotifyPayload is the job payload of JobOfficialEventNotify.
type OfficialNotifyPayload struct {
	ActorID string
	Events  []models.Event
}

// CalendarService manages calendar events.
type CalendarService struct {
	repo        eventRepository
	cache       *CacheService
	queue       jobEnqueuer
	validator   *validator.Validate
	logger      *zap.Logger
	paddingDays int
	cacheTTL    time.Duration
}

// NewCalendarService constructs the service. cache and queue may be nil.
func NewCalendarService(repo eventRepository, cache *CacheService, queue jobEnqueuer, validate *validator.Validate, logger *zap.Logger, paddingDays int, cacheTTL time.Duration) *CalendarService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if paddingDays < 0 {
		paddingDays = 0
	}
	return &CalendarService{
		repo:        repo,
		cache:       cache,
		queue:       queue,
		validator:   ensureValidator(validate),
		logger:      logger,
		paddingDays: paddingDays,
		cacheTTL:    cacheTTL,
	}
}

// Month returns the viewer's merged events of one month. month is 1-based.
func (s *CalendarService) Month(ctx context.Context, viewerID string, year int, month time.Month) (*dto.MonthResponse, error) {
	if month < time.January || month > time.December || !models.ValidCalendarYear(year) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "year or month out of range")
	}
	w := models.NewMonthWindow(year, month, s.paddingDays)
	cacheKey := calendarCacheKey(viewerID, w.Key)

	var cached dto.MonthResponse
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		cached.Cached = true
		return &cached, nil
	}

	var merged []models.Event
	for _, vis := range []models.Visibility{models.VisibilityPublic, models.VisibilityPrivate} {
		events, err := s.repo.List(ctx, s.repo.WindowQuery(w, vis, viewerID))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load events")
		}
		merged = mergePartition(merged, vis, events)
	}

	resp := &dto.MonthResponse{Key: w.Key, Start: w.Start, End: w.End, Events: merged}
	_ = s.cache.Set(ctx, cacheKey, resp, s.cacheTTL)
	return resp, nil
}

// Get returns an event. Private events are visible to their owner and admins.
func (s *CalendarService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Event, error) {
	ev, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visibleTo(ev, actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
	}
	return ev, nil
}

// Create registers a new event owned by actor, or an official event when
// requested by an administrator.
func (s *CalendarService) Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateEventRequest) (*models.Event, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload")
	}
	if req.Official && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators create official events")
	}

	ev := eventFromRequest(req, actor.UserID)
	id, err := s.repo.Create(ctx, ev)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create event")
	}
	ev.ID = id
	s.invalidate(ctx, ev, ev.Date)

	if ev.Official() {
		s.enqueueNotify(actor.UserID, []models.Event{ev})
	}
	return &ev, nil
}

// BroadcastOfficial creates official events in one batch and optionally
// notifies everyone in the background.
func (s *CalendarService) BroadcastOfficial(ctx context.Context, actor *models.JWTClaims, req dto.BroadcastEventsRequest) (*dto.BroadcastEventsResponse, error) {
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators broadcast events")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid broadcast payload")
	}

	events := make([]models.Event, len(req.Events))
	for i, item := range req.Events {
		item.Official = true
		events[i] = eventFromRequest(item, actor.UserID)
	}
	ids, err := s.repo.CreateMany(ctx, events)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create official events")
	}
	for i := range events {
		events[i].ID = ids[i]
		s.invalidate(ctx, events[i], events[i].Date)
	}

	resp := &dto.BroadcastEventsResponse{IDs: ids}
	if req.Notify {
		if jobID := s.enqueueNotify(actor.UserID, events); jobID != "" {
			resp.NotifyJobID = &jobID
		}
	}
	s.logger.Info("official events broadcast", zap.Int("count", len(ids)), zap.String("actor_id", actor.UserID))
	return resp, nil
}

// MoveEvent reassigns an event to newDate. Dropping an event on its current
// date writes nothing and reports moved=false.
func (s *CalendarService) MoveEvent(ctx context.Context, eventID string, actor *models.JWTClaims, newDate string) (bool, error) {
	ev, err := s.load(ctx, eventID)
	if err != nil {
		return false, err
	}
	if !visibleTo(ev, actor) {
		return false, appErrors.Clone(appErrors.ErrNotFound, "event not found")
	}
	if !canMove(ev, actor) {
		return false, appErrors.Clone(appErrors.ErrForbidden, "only the owner can move this event")
	}
	if !validCalendarDate(newDate) {
		return false, appErrors.Clone(appErrors.ErrValidation, "date must be formatted as YYYY-MM-DD")
	}
	if ev.Date == newDate {
		return false, nil
	}

	if err := s.repo.UpdateDate(ctx, eventID, newDate); err != nil {
		s.logger.Error("failed to move event", zap.String("event_id", eventID), zap.String("date", newDate), zap.Error(err))
		if errors.Is(err, docstore.ErrNotFound) {
			return false, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to move event")
	}
	s.invalidate(ctx, *ev, ev.Date, newDate)
	return true, nil
}

// Delete removes an event owned by actor, or any event for administrators.
func (s *CalendarService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	ev, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !visibleTo(ev, actor) {
		return appErrors.Clone(appErrors.ErrNotFound, "event not found")
	}
	if ev.UserID != actor.UserID && actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only the owner can delete this event")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete event")
	}
	s.invalidate(ctx, *ev, ev.Date)
	return nil
}

func (s *CalendarService) load(ctx context.Context, id string) (*models.Event, error) {
	ev, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	return ev, nil
}

func (s *CalendarService) enqueueNotify(actorID string, events []models.Event) string {
	if s.queue == nil {
		return ""
	}
	jobID, err := s.queue.Enqueue(jobs.Job{Type: JobOfficialEventNotify, Payload: OfficialNotifyPayload{ActorID: actorID, Events: events}})
	if err != nil {
		s.logger.Warn("failed to enqueue official event notifications", zap.Error(err))
		return ""
	}
	return jobID
}

// invalidate drops cached months whose padded window covers any of dates.
// Public events touch every viewer, private ones only the owner.
func (s *CalendarService) invalidate(ctx context.Context, ev models.Event, dates ...string) {
	if !s.cache.Enabled() {
		return
	}
	viewer := "*"
	if !ev.IsPublic {
		viewer = ev.UserID
	}
	seen := make(map[string]struct{})
	for _, date := range dates {
		for _, key := range monthKeysCovering(date, s.paddingDays) {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			_ = s.cache.Invalidate(ctx, calendarCacheKey(viewer, key))
		}
	}
}

func calendarCacheKey(viewerID, monthKey string) string {
	return fmt.Sprintf("calendar:%s:%s", viewerID, monthKey)
}

// monthKeysCovering lists the keys of every month whose padded window
// contains date.
func monthKeysCovering(date string, paddingDays int) []string {
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return nil
	}
	first := d.AddDate(0, 0, -paddingDays)
	last := d.AddDate(0, 0, paddingDays)
	cursor := time.Date(first.Year(), first.Month(), 1, 0, 0, 0, 0, time.UTC)
	var keys []string
	for !cursor.After(last) {
		keys = append(keys, models.MonthKey(cursor.Year(), cursor.Month()))
		cursor = cursor.AddDate(0, 1, 0)
	}
	return keys
}

// visibleTo hides other users' private events. Administrators see everything.
func visibleTo(ev *models.Event, actor *models.JWTClaims) bool {
	return ev.IsPublic || ev.UserID == actor.UserID || actor.Role == models.RoleAdmin
}

// canMove allows owners to move their events and administrators to move
// official ones.
func canMove(ev *models.Event, actor *models.JWTClaims) bool {
	if ev.Official() {
		return actor.Role == models.RoleAdmin
	}
	return ev.UserID == actor.UserID
}

func eventFromRequest(req dto.CreateEventRequest, ownerID string) models.Event {
	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = "general"
	}
	ev := models.Event{
		UserID:      ownerID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Date:        req.Date,
		Time:        req.Time,
		Category:    category,
		Tags:        req.Tags,
		IsPublic:    req.IsPublic,
	}
	if req.Official {
		ev.UserID = ""
		ev.IsPublic = true
		if category == "general" {
			ev.Category = "official"
		}
	}
	if ev.Tags == nil {
		ev.Tags = []string{}
	}
	return ev
}
