package models

import (
	"time"

	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

// Fund collections.
const (
	CollectionFunds         = "funds"
	CollectionContributions = "fund_contributions"
)

// Fund tracks a class money collection. Amounts are in cents.
type Fund struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    *string   `json:"description,omitempty"`
	GoalCents      int64     `json:"goal_cents"`
	CollectedCents int64     `json:"collected_cents"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// Progress is the collected share of the goal in percent, capped at 100.
func (f Fund) Progress() float64 {
	if f.GoalCents <= 0 {
		return 0
	}
	pct := float64(f.CollectedCents) * 100 / float64(f.GoalCents)
	if pct > 100 {
		return 100
	}
	return pct
}

// FundFromDocument decodes a stored fund.
func FundFromDocument(doc docstore.Document) Fund {
	return Fund{
		ID:             doc.ID,
		Title:          doc.String("title"),
		Description:    doc.StringPtr("description"),
		GoalCents:      doc.Int64("goal_cents"),
		CollectedCents: doc.Int64("collected_cents"),
		CreatedBy:      doc.String("created_by"),
		CreatedAt:      doc.Time("created_at"),
	}
}

// Contribution is one payment into a fund.
type Contribution struct {
	ID            string    `json:"id"`
	FundID        string    `json:"fund_id"`
	ContributorID string    `json:"contributor_id"`
	AmountCents   int64     `json:"amount_cents"`
	Note          *string   `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ContributionFromDocument decodes a stored contribution.
func ContributionFromDocument(doc docstore.Document) Contribution {
	return Contribution{
		ID:            doc.ID,
		FundID:        doc.String("fund_id"),
		ContributorID: doc.String("contributor_id"),
		AmountCents:   doc.Int64("amount_cents"),
		Note:          doc.StringPtr("note"),
		CreatedAt:     doc.Time("created_at"),
	}
}
