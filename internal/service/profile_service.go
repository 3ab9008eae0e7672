package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

type profileDocuments interface {
	Get(ctx context.Context, id string) (*models.Profile, error)
	Put(ctx context.Context, p models.Profile) error
	ApplyUpdate(ctx context.Context, id string, upd models.ProfileUpdate) error
}

type profileRows interface {
	FindByID(ctx context.Context, id string) (*models.Profile, error)
	ListByRole(ctx context.Context, role models.UserRole, search string) ([]models.Profile, error)
	ApplyUpdate(ctx context.Context, id string, upd models.ProfileUpdate, at time.Time) error
}

// ProfileService reads and edits profiles, which live both as documents and
// as relational rows.
type ProfileService struct {
	docs      profileDocuments
	rows      profileRows
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewProfileService constructs the service.
func NewProfileService(docs profileDocuments, rows profileRows, validate *validator.Validate, logger *zap.Logger) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{docs: docs, rows: rows, validator: ensureValidator(validate), logger: logger, now: time.Now}
}

// Get returns the profile document, rebuilding it from the relational row
// when it is missing.
func (s *ProfileService) Get(ctx context.Context, id string) (*models.Profile, error) {
	p, err := s.docs.Get(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load profile")
	}

	row, rowErr := s.rows.FindByID(ctx, id)
	if rowErr != nil {
		if errors.Is(rowErr, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "profile not found")
		}
		return nil, appErrors.Wrap(rowErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load profile")
	}
	if putErr := s.docs.Put(ctx, *row); putErr != nil {
		s.logger.Warn("failed to rebuild profile document", zap.String("user_id", id), zap.Error(putErr))
	}
	return row, nil
}

// Update writes the changed fields to both stores concurrently. The stores
// may briefly disagree when one write fails; the error is returned.
func (s *ProfileService) Update(ctx context.Context, id string, upd models.ProfileUpdate) (*models.Profile, error) {
	if err := s.validator.Struct(upd); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}
	if upd.Empty() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no profile fields to update")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	at := s.now().UTC()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.docs.ApplyUpdate(gctx, id, upd)
	})
	g.Go(func() error {
		return s.rows.ApplyUpdate(gctx, id, upd, at)
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("profile update failed", zap.String("user_id", id), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}
	return s.Get(ctx, id)
}

// ListStudents returns student profiles whose name or email matches search.
func (s *ProfileService) ListStudents(ctx context.Context, search string) ([]models.ProfileSummary, error) {
	profiles, err := s.rows.ListByRole(ctx, models.RoleStudent, search)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list profiles")
	}
	out := make([]models.ProfileSummary, len(profiles))
	for i, p := range profiles {
		out[i] = p.Summary()
	}
	return out, nil
}
