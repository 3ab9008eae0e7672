package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/repository"
	"github.com/noah-isme/student-portal-api/pkg/docstore/memstore"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

type batchMetricsStub struct {
	mu     sync.Mutex
	sizes  []int
	failed int
}

func (m *batchMetricsStub) ObserveAttendanceBatch(size int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = append(m.sizes, size)
	if err != nil {
		m.failed++
	}
}

func newAttendanceFixture(t *testing.T, students ...models.Profile) (*AttendanceService, *recordingStore, *batchMetricsStub) {
	t.Helper()
	store := newRecordingStore(t)
	profiles := seedProfiles(t, store, students...)
	metrics := &batchMetricsStub{}
	svc := NewAttendanceService(repository.NewAttendanceRepository(store), profiles, nil, zap.NewNop(), metrics)
	return svc, store, metrics
}

func statusByStudent(board models.AttendanceBoard) map[string]models.AttendanceStatus {
	out := make(map[string]models.AttendanceStatus)
	for _, row := range board.Rows {
		if row.Record != nil {
			out[row.Student.ID] = row.Record.Status
		}
	}
	return out
}

func TestAttendanceBulkWritesOneBatchKeyedByDateAndStudent(t *testing.T) {
	svc, store, metrics := newAttendanceFixture(t, student("s1", "Ana"), student("s2", "Budi"), student("s3", "Citra"))
	monitor := claims("mon", models.RoleMonitor)

	resp, err := svc.BulkUpdate(context.Background(), "2024-03-05", models.AttendancePresent, "", monitor)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Written)
	assert.Equal(t, 3, resp.Board.Counts["Present"])
	assert.Nil(t, resp.Board.LastError)

	commits, _, batches := store.stats()
	require.Equal(t, 1, commits)
	ids := append([]string(nil), batches[0]...)
	sort.Strings(ids)
	assert.Equal(t, []string{
		"attendance/2024-03-05_s1",
		"attendance/2024-03-05_s2",
		"attendance/2024-03-05_s3",
	}, ids)
	assert.Equal(t, []int{3}, metrics.sizes)

	for _, row := range resp.Board.Rows {
		require.NotNil(t, row.Record)
		assert.False(t, row.Record.Pending)
		assert.Equal(t, "mon", row.Record.MarkedBy)
	}
}

func TestAttendanceRepeatedBulkOverwrites(t *testing.T) {
	svc, store, _ := newAttendanceFixture(t, student("s1", "Ana"), student("s2", "Budi"))
	ctx := context.Background()
	monitor := claims("mon", models.RoleMonitor)

	_, err := svc.BulkUpdate(ctx, "2024-03-05", models.AttendancePresent, "", monitor)
	require.NoError(t, err)
	resp, err := svc.BulkUpdate(ctx, "2024-03-05", models.AttendanceAbsent, "", monitor)
	require.NoError(t, err)

	assert.Equal(t, 2, store.Store.(*memstore.Store).Count(models.CollectionAttendance))
	assert.Equal(t, map[string]int{"Absent": 2}, resp.Board.Counts)

	board, err := svc.Board(ctx, "2024-03-05", true)
	require.NoError(t, err)
	assert.Equal(t, map[string]models.AttendanceStatus{"s1": "Absent", "s2": "Absent"}, statusByStudent(*board))
}

func TestAttendanceRejectedBatchRestoresBoard(t *testing.T) {
	svc, store, metrics := newAttendanceFixture(t, student("s1", "Ana"), student("s2", "Budi"))
	ctx := context.Background()
	monitor := claims("mon", models.RoleMonitor)

	_, err := svc.BulkUpdate(ctx, "2024-03-05", models.AttendancePresent, "", monitor)
	require.NoError(t, err)

	store.fail(errors.New("permission denied"))
	_, err = svc.BulkUpdate(ctx, "2024-03-05", models.AttendanceSick, "", monitor)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrBatchRejected)
	assert.Equal(t, 1, metrics.failed)

	board, err := svc.Board(ctx, "2024-03-05", false)
	require.NoError(t, err)
	assert.Equal(t, map[string]models.AttendanceStatus{"s1": "Present", "s2": "Present"}, statusByStudent(*board))
	require.NotNil(t, board.LastError)
	assert.Contains(t, *board.LastError, "permission denied")

	store.fail(nil)
	resp, err := svc.BulkUpdate(ctx, "2024-03-05", models.AttendanceLate, "", monitor)
	require.NoError(t, err)
	assert.Nil(t, resp.Board.LastError)
	assert.Equal(t, 2, resp.Board.Counts["Late"])
}

func TestAttendanceRejectedFirstBatchLeavesNoRecords(t *testing.T) {
	svc, store, _ := newAttendanceFixture(t, student("s1", "Ana"))
	store.fail(errors.New("unavailable"))

	_, err := svc.BulkUpdate(context.Background(), "2024-03-06", models.AttendancePresent, "", claims("mon", models.RoleMonitor))
	require.Error(t, err)

	board, err := svc.Board(context.Background(), "2024-03-06", false)
	require.NoError(t, err)
	require.Len(t, board.Rows, 1)
	assert.Nil(t, board.Rows[0].Record)
	assert.Empty(t, board.Counts)
}

func TestAttendanceBoardShowsPendingRecordsDuringCommit(t *testing.T) {
	svc, store, _ := newAttendanceFixture(t, student("s1", "Ana"))
	ctx := context.Background()

	_, err := svc.Board(ctx, "2024-03-05", false)
	require.NoError(t, err)

	gate := store.hold()
	done := make(chan error, 1)
	go func() {
		_, err := svc.BulkUpdate(ctx, "2024-03-05", models.AttendanceExcused, "", claims("mon", models.RoleMonitor))
		done <- err
	}()

	require.Eventually(t, func() bool {
		board, err := svc.Board(ctx, "2024-03-05", false)
		if err != nil || board.Rows[0].Record == nil {
			return false
		}
		rec := board.Rows[0].Record
		return rec.Pending && rec.Status == models.AttendanceExcused
	}, time.Second, 5*time.Millisecond)

	close(gate)
	require.NoError(t, <-done)

	board, err := svc.Board(ctx, "2024-03-05", false)
	require.NoError(t, err)
	assert.False(t, board.Rows[0].Record.Pending)
}

func TestAttendanceSearchLimitsBatch(t *testing.T) {
	svc, store, _ := newAttendanceFixture(t, student("s1", "Ana Putri"), student("s2", "Budi"), student("s3", "Anita"))

	resp, err := svc.BulkUpdate(context.Background(), "2024-03-05", models.AttendancePresent, "an", claims("root", models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Written)
	require.Len(t, resp.Board.Rows, 3)
	assert.Equal(t, map[string]models.AttendanceStatus{"s1": "Present", "s3": "Present"}, statusByStudent(resp.Board))

	_, _, batches := store.stats()
	assert.Len(t, batches[0], 2)
}

func TestAttendanceEmptyRosterWritesNothing(t *testing.T) {
	svc, store, _ := newAttendanceFixture(t)

	resp, err := svc.BulkUpdate(context.Background(), "2024-03-05", models.AttendancePresent, "", claims("mon", models.RoleMonitor))
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Written)
	commits, _, _ := store.stats()
	assert.Zero(t, commits)
}

func TestAttendanceCustomStatusAndSingleUpdate(t *testing.T) {
	svc, _, _ := newAttendanceFixture(t, student("s1", "Ana"), student("s2", "Budi"))
	ctx := context.Background()
	monitor := claims("mon", models.RoleMonitor)

	_, err := svc.BulkCustomStatus(ctx, "2024-03-05", "   ", "", monitor)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	resp, err := svc.BulkCustomStatus(ctx, "2024-03-05", "  Field trip ", "", monitor)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Board.Counts["Field trip"])

	rec, err := svc.UpdateStatus(ctx, "2024-03-05", "s2", models.AttendanceLate, monitor)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05_s2", rec.ID)
	assert.Equal(t, models.AttendanceLate, rec.Status)

	_, err = svc.UpdateStatus(ctx, "2024-03-05", "ghost", models.AttendanceLate, monitor)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestAttendanceRequiresMarkingRole(t *testing.T) {
	svc, _, _ := newAttendanceFixture(t, student("s1", "Ana"))
	ctx := context.Background()

	_, err := svc.BulkUpdate(ctx, "2024-03-05", models.AttendancePresent, "", claims("s1", models.RoleStudent))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.BulkUpdate(ctx, "05-03-2024", models.AttendancePresent, "", claims("mon", models.RoleMonitor))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Board(ctx, "yesterday", false)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func boardDates(svc *AttendanceService) []string {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make([]string, 0, len(svc.boards))
	for date := range svc.boards {
		out = append(out, date)
	}
	sort.Strings(out)
	return out
}

func TestAttendanceBoardsEvictLeastRecentlyUsed(t *testing.T) {
	svc, _, _ := newAttendanceFixture(t, student("s1", "Ana"))
	svc.maxBoards = 2
	clock := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	ctx := context.Background()
	monitor := claims("mon", models.RoleMonitor)

	_, err := svc.BulkUpdate(ctx, "2024-03-02", models.AttendancePresent, "", monitor)
	require.NoError(t, err)
	_, err = svc.Board(ctx, "2024-03-01", false)
	require.NoError(t, err)
	_, err = svc.Board(ctx, "2024-03-03", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-01", "2024-03-03"}, boardDates(svc))

	board, err := svc.Board(ctx, "2024-03-02", false)
	require.NoError(t, err)
	assert.Equal(t, map[string]models.AttendanceStatus{"s1": models.AttendancePresent}, statusByStudent(*board))
	assert.Equal(t, []string{"2024-03-02", "2024-03-03"}, boardDates(svc))

	svc.mu.Lock()
	busy := svc.boards["2024-03-03"]
	svc.mu.Unlock()
	busy.writeMu.Lock()
	_, err = svc.Board(ctx, "2024-03-04", false)
	busy.writeMu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-03", "2024-03-04"}, boardDates(svc))
}
