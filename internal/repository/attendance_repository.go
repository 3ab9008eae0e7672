package repository

import (
	"context"
	"fmt"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

// AttendanceRepository stores attendance records keyed by date and student.
type AttendanceRepository struct {
	store docstore.Store
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(store docstore.Store) *AttendanceRepository {
	return &AttendanceRepository{store: store}
}

// ListByDate returns every record for date.
func (r *AttendanceRepository) ListByDate(ctx context.Context, date string) ([]models.AttendanceRecord, error) {
	q := docstore.Collection(models.CollectionAttendance).Where("date", docstore.OpEqual, date)
	return r.list(ctx, q)
}

// ListRange returns records with from <= date <= to, ordered by date.
func (r *AttendanceRepository) ListRange(ctx context.Context, from, to string) ([]models.AttendanceRecord, error) {
	q := docstore.Collection(models.CollectionAttendance).
		Where("date", docstore.OpGreaterEqual, from).
		Where("date", docstore.OpLessEqual, to).
		OrderBy("date", docstore.Asc).
		OrderBy("student_id", docstore.Asc)
	return r.list(ctx, q)
}

// SaveAll writes one Set per record in a single atomic batch. Each document
// id is derived from the record's date and student, so saving the same
// student and date twice overwrites.
func (r *AttendanceRepository) SaveAll(ctx context.Context, records []models.AttendanceRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := r.store.Batch()
	for _, rec := range records {
		batch.Set(models.CollectionAttendance, models.AttendanceID(rec.Date, rec.StudentID), rec.Fields())
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("commit attendance batch of %d: %w", len(records), err)
	}
	return nil
}

func (r *AttendanceRepository) list(ctx context.Context, q docstore.Query) ([]models.AttendanceRecord, error) {
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	out := make([]models.AttendanceRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, models.AttendanceFromDocument(doc))
	}
	return out, nil
}
