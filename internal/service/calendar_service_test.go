package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/repository"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

func strRef(s string) *string { return &s }

func newCalendarFixture(t *testing.T) (*CalendarService, *recordingStore, *queueStub) {
	t.Helper()
	store := newRecordingStore(t)
	queue := &queueStub{}
	svc := NewCalendarService(repository.NewEventRepository(store), nil, queue, nil, zap.NewNop(), 7, time.Minute)
	return svc, store, queue
}

func TestCalendarMonthMergesPublicAndOwnPrivate(t *testing.T) {
	svc, _, _ := newCalendarFixture(t)
	ctx := context.Background()
	alice := claims("alice", models.RoleStudent)
	bob := claims("bob", models.RoleStudent)

	_, err := svc.Create(ctx, alice, dto.CreateEventRequest{Title: "Science fair", Date: "2024-03-05", IsPublic: true})
	require.NoError(t, err)
	_, err = svc.Create(ctx, alice, dto.CreateEventRequest{Title: "Dentist", Date: "2024-03-10", Time: strRef("09:30")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, bob, dto.CreateEventRequest{Title: "Bob's secret", Date: "2024-03-12"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, alice, dto.CreateEventRequest{Title: "Too far", Date: "2024-05-20", IsPublic: true})
	require.NoError(t, err)

	month, err := svc.Month(ctx, "alice", 2024, time.March)
	require.NoError(t, err)
	assert.Equal(t, "2024-2", month.Key)
	assert.Equal(t, "2024-02-23", month.Start)
	assert.Equal(t, "2024-04-07", month.End)
	require.Len(t, month.Events, 2)
	assert.Equal(t, "Science fair", month.Events[0].Title)
	assert.True(t, month.Events[0].IsPublic)
	assert.Equal(t, "Dentist", month.Events[1].Title)
	assert.False(t, month.Events[1].IsPublic)

	_, err = svc.Month(ctx, "alice", 2024, time.Month(13))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCalendarMoveToSameDateWritesNothing(t *testing.T) {
	svc, store, _ := newCalendarFixture(t)
	ctx := context.Background()
	alice := claims("alice", models.RoleStudent)

	ev, err := svc.Create(ctx, alice, dto.CreateEventRequest{Title: "Study group", Date: "2024-03-05"})
	require.NoError(t, err)
	_, updatesBefore, _ := store.stats()

	moved, err := svc.MoveEvent(ctx, ev.ID, alice, "2024-03-05")
	require.NoError(t, err)
	assert.False(t, moved)
	_, updatesAfter, _ := store.stats()
	assert.Equal(t, updatesBefore, updatesAfter)

	moved, err = svc.MoveEvent(ctx, ev.ID, alice, "2024-03-09")
	require.NoError(t, err)
	assert.True(t, moved)
	_, updatesAfter, _ = store.stats()
	assert.Equal(t, updatesBefore+1, updatesAfter)

	got, err := svc.Get(ctx, ev.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-09", got.Date)
}

func TestCalendarMovePermissions(t *testing.T) {
	svc, _, _ := newCalendarFixture(t)
	ctx := context.Background()
	alice := claims("alice", models.RoleStudent)
	bob := claims("bob", models.RoleStudent)
	admin := claims("root", models.RoleAdmin)

	private, err := svc.Create(ctx, alice, dto.CreateEventRequest{Title: "Dentist", Date: "2024-03-10"})
	require.NoError(t, err)
	official, err := svc.Create(ctx, admin, dto.CreateEventRequest{Title: "Exam week", Date: "2024-03-18", Official: true})
	require.NoError(t, err)

	public, err := svc.Create(ctx, alice, dto.CreateEventRequest{Title: "Bake sale", Date: "2024-03-12", IsPublic: true})
	require.NoError(t, err)

	_, err = svc.MoveEvent(ctx, private.ID, bob, "2024-03-11")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.MoveEvent(ctx, public.ID, bob, "2024-03-13")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.MoveEvent(ctx, official.ID, alice, "2024-03-19")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	moved, err := svc.MoveEvent(ctx, official.ID, admin, "2024-03-19")
	require.NoError(t, err)
	assert.True(t, moved)

	_, err = svc.MoveEvent(ctx, private.ID, alice, "2024-02-30")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.MoveEvent(ctx, "missing", alice, "2024-03-11")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCalendarPrivateEventHiddenFromOthers(t *testing.T) {
	svc, _, _ := newCalendarFixture(t)
	ctx := context.Background()
	alice := claims("alice", models.RoleStudent)

	ev, err := svc.Create(ctx, alice, dto.CreateEventRequest{Title: "Diary", Date: "2024-03-10"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, ev.ID, claims("bob", models.RoleStudent))
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	got, err := svc.Get(ctx, ev.ID, claims("root", models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, "Diary", got.Title)

	assert.ErrorIs(t, svc.Delete(ctx, ev.ID, claims("bob", models.RoleStudent)), appErrors.ErrNotFound)

	public, err := svc.Create(ctx, alice, dto.CreateEventRequest{Title: "Open day", Date: "2024-03-11", IsPublic: true})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Delete(ctx, public.ID, claims("bob", models.RoleStudent)), appErrors.ErrForbidden)

	require.NoError(t, svc.Delete(ctx, ev.ID, alice))
}

func TestCalendarOfficialEventsAreAdminOnlyAndNotify(t *testing.T) {
	svc, _, queue := newCalendarFixture(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, claims("mon", models.RoleMonitor), dto.CreateEventRequest{Title: "Holiday", Date: "2024-03-29", Official: true})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	ev, err := svc.Create(ctx, claims("root", models.RoleAdmin), dto.CreateEventRequest{Title: "Holiday", Date: "2024-03-29", Official: true})
	require.NoError(t, err)
	assert.Empty(t, ev.UserID)
	assert.True(t, ev.IsPublic)
	assert.Equal(t, "official", ev.Category)

	jobs := queue.enqueued()
	require.Len(t, jobs, 1)
	assert.Equal(t, JobOfficialEventNotify, jobs[0].Type)
	payload, ok := jobs[0].Payload.(OfficialNotifyPayload)
	require.True(t, ok)
	assert.Equal(t, "root", payload.ActorID)
	require.Len(t, payload.Events, 1)
	assert.Equal(t, ev.ID, payload.Events[0].ID)
}

func TestCalendarBroadcastCreatesInOneBatch(t *testing.T) {
	svc, store, queue := newCalendarFixture(t)
	ctx := context.Background()
	admin := claims("root", models.RoleAdmin)

	resp, err := svc.BroadcastOfficial(ctx, admin, dto.BroadcastEventsRequest{
		Events: []dto.CreateEventRequest{
			{Title: "Sports day", Date: "2024-04-02"},
			{Title: "Parents evening", Date: "2024-04-09", Time: strRef("18:00")},
		},
		Notify: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.IDs, 2)
	require.NotNil(t, resp.NotifyJobID)

	commits, _, batches := store.stats()
	assert.Equal(t, 1, commits)
	assert.Len(t, batches[0], 2)
	assert.Len(t, queue.enqueued(), 1)

	month, err := svc.Month(ctx, "anyone", 2024, time.April)
	require.NoError(t, err)
	require.Len(t, month.Events, 2)

	_, err = svc.BroadcastOfficial(ctx, claims("mon", models.RoleMonitor), dto.BroadcastEventsRequest{Events: []dto.CreateEventRequest{{Title: "x", Date: "2024-04-02"}}})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestCalendarRejectsInvalidPayload(t *testing.T) {
	svc, _, _ := newCalendarFixture(t)
	_, err := svc.Create(context.Background(), claims("alice", models.RoleStudent), dto.CreateEventRequest{Title: "Bad", Date: "03/05/2024"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Create(context.Background(), claims("alice", models.RoleStudent), dto.CreateEventRequest{Title: "Bad", Date: "2024-03-05", Time: strRef("25:00")})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestMonthKeysCovering(t *testing.T) {
	assert.Equal(t, []string{"2024-1", "2024-2"}, monthKeysCovering("2024-03-03", 7))
	assert.Equal(t, []string{"2024-2"}, monthKeysCovering("2024-03-15", 7))
	assert.Equal(t, []string{"2024-11", "2025-0"}, monthKeysCovering("2024-12-30", 7))
	assert.Nil(t, monthKeysCovering("nope", 7))
}
