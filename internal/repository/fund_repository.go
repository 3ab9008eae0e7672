package repository

import (
	"context"
	"fmt"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

// FundRepository stores funds and their contributions.
type FundRepository struct {
	store docstore.Store
}

// NewFundRepository constructs the repository.
func NewFundRepository(store docstore.Store) *FundRepository {
	return &FundRepository{store: store}
}

// Create stores a fund with nothing collected.
func (r *FundRepository) Create(ctx context.Context, f models.Fund) (string, error) {
	data := map[string]interface{}{
		"title":           f.Title,
		"goal_cents":      f.GoalCents,
		"collected_cents": int64(0),
		"created_by":      f.CreatedBy,
		"created_at":      docstore.ServerTimestamp,
	}
	if f.Description != nil {
		data["description"] = *f.Description
	}
	id, err := r.store.Add(ctx, models.CollectionFunds, data)
	if err != nil {
		return "", fmt.Errorf("create fund: %w", err)
	}
	return id, nil
}

// Get loads one fund.
func (r *FundRepository) Get(ctx context.Context, id string) (*models.Fund, error) {
	doc, err := r.store.Get(ctx, models.CollectionFunds, id)
	if err != nil {
		return nil, fmt.Errorf("get fund %s: %w", id, err)
	}
	f := models.FundFromDocument(*doc)
	return &f, nil
}

// List returns funds newest first.
func (r *FundRepository) List(ctx context.Context) ([]models.Fund, error) {
	docs, err := r.store.Query(ctx, docstore.Collection(models.CollectionFunds).OrderBy("created_at", docstore.Desc))
	if err != nil {
		return nil, fmt.Errorf("list funds: %w", err)
	}
	out := make([]models.Fund, 0, len(docs))
	for _, doc := range docs {
		out = append(out, models.FundFromDocument(doc))
	}
	return out, nil
}

// Contribute records c and increments the fund total in one batch.
func (r *FundRepository) Contribute(ctx context.Context, c models.Contribution) (string, error) {
	id := newID()
	data := map[string]interface{}{
		"fund_id":        c.FundID,
		"contributor_id": c.ContributorID,
		"amount_cents":   c.AmountCents,
		"created_at":     docstore.ServerTimestamp,
	}
	if c.Note != nil {
		data["note"] = *c.Note
	}
	err := r.store.Batch().
		Set(models.CollectionContributions, id, data).
		Update(models.CollectionFunds, c.FundID, docstore.Update{Field: "collected_cents", Value: docstore.Increment(c.AmountCents)}).
		Commit(ctx)
	if err != nil {
		return "", fmt.Errorf("contribute to %s: %w", c.FundID, err)
	}
	return id, nil
}

// ListContributions returns a fund's contributions newest first.
func (r *FundRepository) ListContributions(ctx context.Context, fundID string) ([]models.Contribution, error) {
	q := docstore.Collection(models.CollectionContributions).
		Where("fund_id", docstore.OpEqual, fundID).
		OrderBy("created_at", docstore.Desc)
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	out := make([]models.Contribution, 0, len(docs))
	for _, doc := range docs {
		out = append(out, models.ContributionFromDocument(doc))
	}
	return out, nil
}
