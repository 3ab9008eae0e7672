package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/export"
	"github.com/noah-isme/student-portal-api/pkg/jobs"
	"github.com/noah-isme/student-portal-api/pkg/storage"
)

// JobAttendanceExport renders one export job.
const JobAttendanceExport = "attendance_export"

const maxExportDays = 366

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	Get(ctx context.Context, id string) (*models.ExportJob, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkFinished(ctx context.Context, id, url string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error
}

type attendanceRangeReader interface {
	ListRange(ctx context.Context, from, to string) ([]models.AttendanceRecord, error)
}

type studentLister interface {
	ListByRole(ctx context.Context, role models.UserRole, search string) ([]models.Profile, error)
}

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type urlSigner interface {
	Sign(exportID, path string) (string, time.Time, error)
	Verify(token string) (*storage.Grant, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix  string
	ResultTTL  time.Duration
	MaxRetries int
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File        *os.File
	Filename    string
	ContentType string
	ExpiresAt   time.Time
}

// ExportService renders attendance exports in the background and serves the
// results through signed URLs.
type ExportService struct {
	jobs       exportJobStore
	attendance attendanceRangeReader
	students   studentLister
	storage    fileStorage
	signer     urlSigner
	queue      jobEnqueuer
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        ExportConfig
	now        func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(jobStore exportJobStore, attendance attendanceRangeReader, students studentLister, files fileStorage, signer urlSigner, queue jobEnqueuer, validate *validator.Validate, logger *zap.Logger, cfg ExportConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &ExportService{
		jobs:       jobStore,
		attendance: attendance,
		students:   students,
		storage:    files,
		signer:     signer,
		queue:      queue,
		validator:  ensureValidator(validate),
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// CreateJob validates the request, stores a queued job and enqueues it.
func (s *ExportService) CreateJob(ctx context.Context, req dto.ExportRequest, actor *models.JWTClaims) (*dto.ExportJobResponse, error) {
	if actor == nil || !actor.Role.CanMarkAttendance() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only class monitors and administrators export attendance")
	}
	req.Format = strings.ToLower(strings.TrimSpace(req.Format))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload")
	}
	from, _ := time.Parse(models.DateLayout, req.From)
	to, _ := time.Parse(models.DateLayout, req.To)
	if to.Before(from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to must be on or after from")
	}
	if to.Sub(from) > maxExportDays*24*time.Hour {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("export range is limited to %d days", maxExportDays))
	}

	job := &models.ExportJob{
		From:      req.From,
		To:        req.To,
		Format:    models.ExportFormat(req.Format),
		CreatedBy: actor.UserID,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if _, err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: JobAttendanceExport, Payload: job.ID}); err != nil {
		_ = s.jobs.MarkFailed(ctx, job.ID, "failed to enqueue job", s.now().UTC())
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	return &dto.ExportJobResponse{ID: job.ID, Status: job.Status}, nil
}

// GetStatus exposes job metadata. Monitors only see their own exports.
func (s *ExportService) GetStatus(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ExportStatusResponse, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && job.CreatedBy != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
	}
	resp := &dto.ExportStatusResponse{ID: job.ID, Status: job.Status, ResultURL: job.ResultURL}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp, nil
}

// Handle is the queue handler for JobAttendanceExport.
func (s *ExportService) Handle(ctx context.Context, job jobs.Job) error {
	id, ok := job.Payload.(string)
	if !ok || id == "" {
		return fmt.Errorf("export job %s: missing export id", job.ID)
	}
	record, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.jobs.MarkProcessing(ctx, id); err != nil {
		return err
	}

	url, err := s.Generate(ctx, record)
	if err != nil {
		if job.Attempt >= s.cfg.MaxRetries {
			if markErr := s.jobs.MarkFailed(ctx, id, err.Error(), s.now().UTC()); markErr != nil {
				s.logger.Warn("failed to mark export failed", zap.String("export_id", id), zap.Error(markErr))
			}
		}
		return err
	}
	if err := s.jobs.MarkFinished(ctx, id, url, s.now().UTC()); err != nil {
		s.logger.Warn("failed to mark export finished", zap.String("export_id", id), zap.Error(err))
		return err
	}
	s.logger.Info("attendance export finished", zap.String("export_id", id), zap.String("format", string(record.Format)))
	return nil
}

// Generate renders the job's dataset, stores it and returns a signed URL.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (string, error) {
	renderer, err := export.ForFormat(export.Format(job.Format))
	if err != nil {
		return "", err
	}
	dataset, err := s.buildDataset(ctx, job)
	if err != nil {
		return "", err
	}
	payload, err := renderer.Render(dataset)
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("attendance/%s_%s_%s.%s", job.From, job.To, job.ID, job.Format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return "", err
	}
	token, _, err := s.signer.Sign(job.ID, relPath)
	if err != nil {
		return "", err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return fmt.Sprintf("%s/exports/download?token=%s", prefix, token), nil
}

// ResolveDownload validates token and opens the stored export file.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	grant, err := s.signer.Verify(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.load(ctx, grant.ExportID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export not ready")
	}
	renderer, err := export.ForFormat(export.Format(job.Format))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "unknown export format")
	}
	file, err := s.storage.Open(grant.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export file has expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ExportDownload{
		File:        file,
		Filename:    filepath.Base(grant.Path),
		ContentType: renderer.ContentType(),
		ExpiresAt:   grant.ExpiresAt,
	}, nil
}

// Cleanup removes rendered files older than the result TTL.
func (s *ExportService) Cleanup() {
	removed, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("expired exports removed", zap.Int("files", len(removed)))
	}
}

func (s *ExportService) load(ctx context.Context, id string) (*models.ExportJob, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	return job, nil
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ExportJob) (export.Dataset, error) {
	records, err := s.attendance.ListRange(ctx, job.From, job.To)
	if err != nil {
		return export.Dataset{}, err
	}
	students, err := s.students.ListByRole(ctx, models.RoleStudent, "")
	if err != nil {
		return export.Dataset{}, err
	}
	names := make(map[string]models.Profile, len(students))
	for _, st := range students {
		names[st.ID] = st
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		name, class := rec.StudentID, ""
		if p, ok := names[rec.StudentID]; ok {
			name = p.DisplayName
			if p.ClassName != nil {
				class = *p.ClassName
			}
		}
		updated := ""
		if !rec.UpdatedAt.IsZero() {
			updated = rec.UpdatedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{rec.Date, name, class, string(rec.Status), rec.MarkedBy, updated})
	}
	return export.Dataset{
		Title:    "Attendance",
		Subtitle: fmt.Sprintf("%s to %s", job.From, job.To),
		Columns:  []string{"Date", "Student", "Class", "Status", "Marked By", "Updated At"},
		Rows:     rows,
	}, nil
}
