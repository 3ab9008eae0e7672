package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

func newID() string { return uuid.NewString() }

// ExportRepository tracks attendance export jobs.
type ExportRepository struct {
	store docstore.Store
}

// NewExportRepository constructs the repository.
func NewExportRepository(store docstore.Store) *ExportRepository {
	return &ExportRepository{store: store}
}

// Create stores a queued job and fills in its id.
func (r *ExportRepository) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = newID()
	}
	job.Status = models.ExportStatusQueued
	if err := r.store.Set(ctx, models.CollectionExports, job.ID, job.Fields()); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// Get loads one job.
func (r *ExportRepository) Get(ctx context.Context, id string) (*models.ExportJob, error) {
	doc, err := r.store.Get(ctx, models.CollectionExports, id)
	if err != nil {
		return nil, fmt.Errorf("get export job %s: %w", id, err)
	}
	job := models.ExportJobFromDocument(*doc)
	return &job, nil
}

// MarkProcessing moves a job out of the queue.
func (r *ExportRepository) MarkProcessing(ctx context.Context, id string) error {
	return r.update(ctx, id, docstore.Update{Field: "status", Value: string(models.ExportStatusProcessing)})
}

// MarkFinished records the download URL.
func (r *ExportRepository) MarkFinished(ctx context.Context, id, url string, at time.Time) error {
	return r.update(ctx, id,
		docstore.Update{Field: "status", Value: string(models.ExportStatusFinished)},
		docstore.Update{Field: "result_url", Value: url},
		docstore.Update{Field: "error_message", Value: docstore.Delete},
		docstore.Update{Field: "finished_at", Value: at},
	)
}

// MarkFailed records the failure reason.
func (r *ExportRepository) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	return r.update(ctx, id,
		docstore.Update{Field: "status", Value: string(models.ExportStatusFailed)},
		docstore.Update{Field: "error_message", Value: reason},
		docstore.Update{Field: "finished_at", Value: at},
	)
}

func (r *ExportRepository) update(ctx context.Context, id string, updates ...docstore.Update) error {
	if err := r.store.Update(ctx, models.CollectionExports, id, updates...); err != nil {
		return fmt.Errorf("update export job %s: %w", id, err)
	}
	return nil
}
