package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

const (
	defaultAuditLimit  = 100
	auditRecordTimeout = 5 * time.Second
)

type auditStore interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error)
}

// AuditService writes and reads the audit trail. Recording never fails the
// audited operation; write errors are logged.
type AuditService struct {
	store  auditStore
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditService constructs an AuditService.
func NewAuditService(store auditStore, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{store: store, logger: logger, now: time.Now}
}

// Record persists one entry. The write outlives a cancelled request context.
func (s *AuditService) Record(ctx context.Context, entry models.AuditLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditRecordTimeout)
	defer cancel()
	if err := s.store.Create(ctx, &entry); err != nil {
		s.logger.Warn("failed to record audit log",
			zap.String("action", string(entry.Action)),
			zap.String("resource", entry.Resource),
			zap.Error(err))
	}
}

// List returns the newest entries for admins.
func (s *AuditService) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error) {
	if filter.Action != "" && !filter.Action.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown audit action")
	}
	filter.Limit = clampLimit(filter.Limit, defaultAuditLimit)
	logs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit logs")
	}
	return logs, nil
}

// auditRecorder is what audited services depend on.
type auditRecorder interface {
	Record(ctx context.Context, entry models.AuditLog)
}

type nopAuditRecorder struct{}

func (nopAuditRecorder) Record(context.Context, models.AuditLog) {}
