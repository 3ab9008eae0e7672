package service

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/repository"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/jobs"
	"github.com/noah-isme/student-portal-api/pkg/storage"
)

type failingRangeReader struct{}

func (failingRangeReader) ListRange(ctx context.Context, from, to string) ([]models.AttendanceRecord, error) {
	return nil, errors.New("index missing")
}

type exportFixture struct {
	svc     *ExportService
	queue   *queueStub
	jobs    *repository.ExportRepository
	records *repository.AttendanceRepository
}

func newExportFixture(t *testing.T, reader attendanceRangeReader) exportFixture {
	t.Helper()
	store := newMemStore(t)
	profiles := seedProfiles(t, store, student("s1", "Ana"), student("s2", "Budi"))
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	records := repository.NewAttendanceRepository(store)
	if reader == nil {
		reader = records
	}
	jobStore := repository.NewExportRepository(store)
	queue := &queueStub{}
	svc := NewExportService(jobStore, reader, profiles, files, storage.NewSignedURLSigner("secret", time.Hour), queue, nil, zap.NewNop(), ExportConfig{APIPrefix: "/api/v1", MaxRetries: 1})
	return exportFixture{svc: svc, queue: queue, jobs: jobStore, records: records}
}

func TestExportRendersCSVAndServesSignedDownload(t *testing.T) {
	fx := newExportFixture(t, nil)
	ctx := context.Background()
	monitor := claims("mon", models.RoleMonitor)

	require.NoError(t, fx.records.SaveAll(ctx, []models.AttendanceRecord{
		{StudentID: "s1", Date: "2024-03-04", Status: models.AttendancePresent, MarkedBy: "mon"},
		{StudentID: "s2", Date: "2024-03-05", Status: models.AttendanceSick, MarkedBy: "mon"},
		{StudentID: "s1", Date: "2024-04-01", Status: models.AttendanceAbsent, MarkedBy: "mon"},
	}))

	created, err := fx.svc.CreateJob(ctx, dto.ExportRequest{From: "2024-03-01", To: "2024-03-31", Format: " CSV "}, monitor)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, created.Status)

	queued := fx.queue.enqueued()
	require.Len(t, queued, 1)
	assert.Equal(t, JobAttendanceExport, queued[0].Type)
	require.NoError(t, fx.svc.Handle(ctx, queued[0]))

	status, err := fx.svc.GetStatus(ctx, created.ID, monitor)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, status.Status)
	require.NotNil(t, status.ResultURL)
	assert.True(t, strings.HasPrefix(*status.ResultURL, "/api/v1/exports/download?token="))

	parsed, err := url.Parse(*status.ResultURL)
	require.NoError(t, err)
	download, err := fx.svc.ResolveDownload(ctx, parsed.Query().Get("token"))
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, "text/csv", download.ContentType)
	assert.True(t, strings.HasSuffix(download.Filename, ".csv"))

	body, err := io.ReadAll(download.File)
	require.NoError(t, err)
	content := string(body)
	assert.Contains(t, content, "Date,Student,Class,Status,Marked By,Updated At")
	assert.Contains(t, content, "2024-03-04,Ana,,Present,mon")
	assert.Contains(t, content, "2024-03-05,Budi,,Sick,mon")
	assert.NotContains(t, content, "2024-04-01")
}

func TestExportCreateValidatesRequest(t *testing.T) {
	fx := newExportFixture(t, nil)
	ctx := context.Background()
	monitor := claims("mon", models.RoleMonitor)

	_, err := fx.svc.CreateJob(ctx, dto.ExportRequest{From: "2024-03-01", To: "2024-03-31", Format: "csv"}, claims("s1", models.RoleStudent))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = fx.svc.CreateJob(ctx, dto.ExportRequest{From: "2024-03-31", To: "2024-03-01", Format: "csv"}, monitor)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = fx.svc.CreateJob(ctx, dto.ExportRequest{From: "2023-01-01", To: "2024-12-31", Format: "csv"}, monitor)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = fx.svc.CreateJob(ctx, dto.ExportRequest{From: "2024-03-01", To: "2024-03-31", Format: "xlsx"}, monitor)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	assert.Empty(t, fx.queue.enqueued())
}

func TestExportStatusHiddenFromOtherMonitors(t *testing.T) {
	fx := newExportFixture(t, nil)
	ctx := context.Background()

	created, err := fx.svc.CreateJob(ctx, dto.ExportRequest{From: "2024-03-01", To: "2024-03-02", Format: "pdf"}, claims("mon", models.RoleMonitor))
	require.NoError(t, err)

	_, err = fx.svc.GetStatus(ctx, created.ID, claims("other", models.RoleMonitor))
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	status, err := fx.svc.GetStatus(ctx, created.ID, claims("root", models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, status.Status)
}

func TestExportEnqueueFailureMarksJobFailed(t *testing.T) {
	fx := newExportFixture(t, nil)
	fx.queue.err = errors.New("queue full")
	ctx := context.Background()

	_, err := fx.svc.CreateJob(ctx, dto.ExportRequest{From: "2024-03-01", To: "2024-03-02", Format: "csv"}, claims("mon", models.RoleMonitor))
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestExportHandleMarksFailedOnLastAttempt(t *testing.T) {
	fx := newExportFixture(t, failingRangeReader{})
	ctx := context.Background()
	monitor := claims("mon", models.RoleMonitor)

	created, err := fx.svc.CreateJob(ctx, dto.ExportRequest{From: "2024-03-01", To: "2024-03-02", Format: "csv"}, monitor)
	require.NoError(t, err)
	job := fx.queue.enqueued()[0]

	require.Error(t, fx.svc.Handle(ctx, job))
	status, err := fx.svc.GetStatus(ctx, created.ID, monitor)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusProcessing, status.Status)

	job.Attempt = 1
	require.Error(t, fx.svc.Handle(ctx, job))
	status, err = fx.svc.GetStatus(ctx, created.ID, monitor)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFailed, status.Status)
	require.NotNil(t, status.Error)
	assert.Contains(t, *status.Error, "index missing")

	assert.Error(t, fx.svc.Handle(ctx, jobs.Job{ID: "x", Type: JobAttendanceExport}))
}

func TestExportRejectsBadDownloadTokens(t *testing.T) {
	fx := newExportFixture(t, nil)
	ctx := context.Background()

	_, err := fx.svc.ResolveDownload(ctx, "garbage")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	created, err := fx.svc.CreateJob(ctx, dto.ExportRequest{From: "2024-03-01", To: "2024-03-02", Format: "csv"}, claims("mon", models.RoleMonitor))
	require.NoError(t, err)
	token, _, err := storage.NewSignedURLSigner("secret", time.Hour).Sign(created.ID, "attendance/file.csv")
	require.NoError(t, err)

	_, err = fx.svc.ResolveDownload(ctx, token)
	assert.ErrorIs(t, err, appErrors.ErrForbidden, "queued exports are not downloadable")
}
