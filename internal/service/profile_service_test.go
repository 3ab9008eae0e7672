package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/repository"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

type profileRowsStub struct {
	rows      map[string]models.Profile
	updates   []models.ProfileUpdate
	updateErr error
}

func (s *profileRowsStub) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	p, ok := s.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (s *profileRowsStub) ListByRole(ctx context.Context, role models.UserRole, search string) ([]models.Profile, error) {
	var out []models.Profile
	for _, p := range s.rows {
		if p.Role == role {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *profileRowsStub) ApplyUpdate(ctx context.Context, id string, upd models.ProfileUpdate, at time.Time) error {
	s.updates = append(s.updates, upd)
	return s.updateErr
}

func TestProfileGetRebuildsMissingDocument(t *testing.T) {
	store := newMemStore(t)
	docs := repository.NewProfileDocumentRepository(store)
	rows := &profileRowsStub{rows: map[string]models.Profile{"s1": student("s1", "Ana")}}
	svc := NewProfileService(docs, rows, nil, zap.NewNop())
	ctx := context.Background()

	p, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.DisplayName)

	stored, err := docs.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", stored.DisplayName)

	_, err = svc.Get(ctx, "ghost")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestProfileUpdateWritesBothStores(t *testing.T) {
	store := newMemStore(t)
	docs := seedProfiles(t, store, student("s1", "Ana"))
	rows := &profileRowsStub{rows: map[string]models.Profile{"s1": student("s1", "Ana")}}
	svc := NewProfileService(docs, rows, nil, zap.NewNop())
	ctx := context.Background()

	name, class := "Ana Putri", "XI IPA 2"
	p, err := svc.Update(ctx, "s1", models.ProfileUpdate{DisplayName: &name, ClassName: &class})
	require.NoError(t, err)
	assert.Equal(t, "Ana Putri", p.DisplayName)
	require.NotNil(t, p.ClassName)
	assert.Equal(t, "XI IPA 2", *p.ClassName)
	require.Len(t, rows.updates, 1)
	assert.Equal(t, &name, rows.updates[0].DisplayName)

	_, err = svc.Update(ctx, "s1", models.ProfileUpdate{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	bad := "not a url"
	_, err = svc.Update(ctx, "s1", models.ProfileUpdate{AvatarURL: &bad})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	rows.updateErr = errors.New("db down")
	_, err = svc.Update(ctx, "s1", models.ProfileUpdate{DisplayName: &name})
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestProfileListStudentsReturnsSummaries(t *testing.T) {
	rows := &profileRowsStub{rows: map[string]models.Profile{
		"s1": student("s1", "Ana"),
		"m1": {ID: "m1", DisplayName: "Monitor", Role: models.RoleMonitor},
	}}
	svc := NewProfileService(nil, rows, nil, zap.NewNop())

	out, err := svc.ListStudents(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "s1", out[0].ID)
}
