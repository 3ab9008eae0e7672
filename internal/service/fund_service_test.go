package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/repository"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

func TestFundContributionsAccumulate(t *testing.T) {
	store := newRecordingStore(t)
	svc := NewFundService(repository.NewFundRepository(store), nil, zap.NewNop())
	ctx := context.Background()
	admin := claims("root", models.RoleAdmin)

	_, err := svc.Create(ctx, claims("alice", models.RoleStudent), dto.CreateFundRequest{Title: "Trip", GoalCents: 100000})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = svc.Create(ctx, admin, dto.CreateFundRequest{Title: "  ", GoalCents: 100000})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	fund, err := svc.Create(ctx, admin, dto.CreateFundRequest{Title: " Class trip ", GoalCents: 100000})
	require.NoError(t, err)
	assert.Equal(t, "Class trip", fund.Title)
	assert.Zero(t, fund.CollectedCents)

	note := "for the bus"
	fund, err = svc.Contribute(ctx, claims("alice", models.RoleStudent), fund.ID, dto.ContributeRequest{AmountCents: 25000, Note: &note})
	require.NoError(t, err)
	fund, err = svc.Contribute(ctx, claims("bob", models.RoleStudent), fund.ID, dto.ContributeRequest{AmountCents: 90000})
	require.NoError(t, err)
	assert.Equal(t, int64(115000), fund.CollectedCents)
	assert.Equal(t, float64(100), fund.Progress())

	commits, _, batches := store.stats()
	assert.Equal(t, 2, commits)

	contributions, err := svc.Contributions(ctx, fund.ID)
	require.NoError(t, err)
	require.Len(t, contributions, 2)
	assert.Equal(t, []string{"fund_contributions/" + contributions[1].ID}, batches[0])
	assert.Equal(t, "bob", contributions[0].ContributorID)
	require.NotNil(t, contributions[1].Note)

	funds, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, funds, 1)
}

func TestFundContributeRejectsBadInput(t *testing.T) {
	svc := NewFundService(repository.NewFundRepository(newMemStore(t)), nil, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Contribute(ctx, claims("alice", models.RoleStudent), "missing", dto.ContributeRequest{AmountCents: 100})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.Contribute(ctx, claims("alice", models.RoleStudent), "missing", dto.ContributeRequest{AmountCents: -5})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Contributions(ctx, "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
