package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

type fundRepository interface {
	Create(ctx context.Context, f models.Fund) (string, error)
	Get(ctx context.Context, id string) (*models.Fund, error)
	List(ctx context.Context) ([]models.Fund, error)
	Contribute(ctx context.Context, c models.Contribution) (string, error)
	ListContributions(ctx context.Context, fundID string) ([]models.Contribution, error)
}

// FundService manages class money collections.
type FundService struct {
	repo      fundRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewFundService constructs the service.
func NewFundService(repo fundRepository, validate *validator.Validate, logger *zap.Logger) *FundService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FundService{repo: repo, validator: ensureValidator(validate), logger: logger}
}

// Create opens a fund. Administrators only.
func (s *FundService) Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateFundRequest) (*models.Fund, error) {
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators open funds")
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fund payload")
	}
	id, err := s.repo.Create(ctx, models.Fund{
		Title:       req.Title,
		Description: req.Description,
		GoalCents:   req.GoalCents,
		CreatedBy:   actor.UserID,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create fund")
	}
	return s.Get(ctx, id)
}

// List returns every fund, newest first.
func (s *FundService) List(ctx context.Context) ([]models.Fund, error) {
	out, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list funds")
	}
	return out, nil
}

// Get loads one fund.
func (s *FundService) Get(ctx context.Context, id string) (*models.Fund, error) {
	f, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "fund not found", "failed to load fund")
	}
	return f, nil
}

// Contribute records a payment by actor and returns the updated fund.
func (s *FundService) Contribute(ctx context.Context, actor *models.JWTClaims, fundID string, req dto.ContributeRequest) (*models.Fund, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid contribution payload")
	}
	if _, err := s.Get(ctx, fundID); err != nil {
		return nil, err
	}
	_, err := s.repo.Contribute(ctx, models.Contribution{
		FundID:        fundID,
		ContributorID: actor.UserID,
		AmountCents:   req.AmountCents,
		Note:          req.Note,
	})
	if err != nil {
		return nil, notFoundOr(err, "fund not found", "failed to record contribution")
	}
	s.logger.Info("fund contribution recorded", zap.String("fund_id", fundID), zap.String("actor_id", actor.UserID), zap.Int64("amount_cents", req.AmountCents))
	return s.Get(ctx, fundID)
}

// Contributions lists a fund's payments, newest first.
func (s *FundService) Contributions(ctx context.Context, fundID string) ([]models.Contribution, error) {
	if _, err := s.Get(ctx, fundID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListContributions(ctx, fundID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list contributions")
	}
	return out, nil
}
