package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

type memAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
	ctxErrs []error
	err     error
	filter  models.AuditFilter
}

func (m *memAudit) Create(ctx context.Context, entry *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memAudit) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = filter
	return append([]models.AuditLog(nil), m.entries...), nil
}

// Record is also used directly as the auditRecorder fake in auth tests.
func (m *memAudit) Record(ctx context.Context, entry models.AuditLog) {
	_ = m.Create(ctx, &entry)
}

func (m *memAudit) actions() []models.AuditAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditAction, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

func TestAuditRecordSurvivesCancelledRequest(t *testing.T) {
	store := &memAudit{}
	svc := NewAuditService(store, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Record(ctx, models.AuditLog{Action: models.AuditUserCreate, Resource: models.AuditResourceUser})

	require.Len(t, store.entries, 1)
	assert.NoError(t, store.ctxErrs[0])
	assert.False(t, store.entries[0].CreatedAt.IsZero())
}

func TestAuditRecordSwallowsStoreErrors(t *testing.T) {
	store := &memAudit{err: errors.New("db down")}
	svc := NewAuditService(store, zap.NewNop())

	assert.NotPanics(t, func() {
		svc.Record(context.Background(), models.AuditLog{Action: models.AuditLogin})
	})
}

func TestAuditListValidatesAndClamps(t *testing.T) {
	store := &memAudit{}
	svc := NewAuditService(store, zap.NewNop())

	_, err := svc.List(context.Background(), models.AuditFilter{Action: "DROP_TABLE"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.List(context.Background(), models.AuditFilter{Action: models.AuditLogin, Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, maxListLimit, store.filter.Limit)

	_, err = svc.List(context.Background(), models.AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, defaultAuditLimit, store.filter.Limit)
}
