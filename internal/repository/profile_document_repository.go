package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

// ProfileDocumentRepository stores profile documents read by live clients.
type ProfileDocumentRepository struct {
	store docstore.Store
}

// NewProfileDocumentRepository constructs the repository.
func NewProfileDocumentRepository(store docstore.Store) *ProfileDocumentRepository {
	return &ProfileDocumentRepository{store: store}
}

// Get loads one profile.
func (r *ProfileDocumentRepository) Get(ctx context.Context, id string) (*models.Profile, error) {
	doc, err := r.store.Get(ctx, models.CollectionProfiles, id)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	p := models.ProfileFromDocument(*doc)
	return &p, nil
}

// Put writes the whole profile.
func (r *ProfileDocumentRepository) Put(ctx context.Context, p models.Profile) error {
	if err := r.store.Set(ctx, models.CollectionProfiles, p.ID, p.Fields()); err != nil {
		return fmt.Errorf("put profile %s: %w", p.ID, err)
	}
	return nil
}

// ApplyUpdate writes the non-nil editable fields.
func (r *ProfileDocumentRepository) ApplyUpdate(ctx context.Context, id string, upd models.ProfileUpdate) error {
	updates := []docstore.Update{{Field: "updated_at", Value: docstore.ServerTimestamp}}
	for field, value := range map[string]*string{
		"display_name": upd.DisplayName,
		"class_name":   upd.ClassName,
		"avatar_url":   upd.AvatarURL,
		"bio":          upd.Bio,
	} {
		if value != nil {
			updates = append(updates, docstore.Update{Field: field, Value: *value})
		}
	}
	if err := r.store.Update(ctx, models.CollectionProfiles, id, updates...); err != nil {
		return fmt.Errorf("update profile %s: %w", id, err)
	}
	return nil
}

// SetPresence writes is_online and stamps last_seen with the server time.
func (r *ProfileDocumentRepository) SetPresence(ctx context.Context, id string, online bool) error {
	err := r.store.Update(ctx, models.CollectionProfiles, id,
		docstore.Update{Field: "is_online", Value: online},
		docstore.Update{Field: "last_seen", Value: docstore.ServerTimestamp},
	)
	if err != nil {
		return fmt.Errorf("set presence %s: %w", id, err)
	}
	return nil
}

// ListByRole returns profiles of role whose display name or email contains
// search, case-insensitively, ordered by display name.
func (r *ProfileDocumentRepository) ListByRole(ctx context.Context, role models.UserRole, search string) ([]models.Profile, error) {
	q := docstore.Collection(models.CollectionProfiles).
		Where("role", docstore.OpEqual, string(role)).
		OrderBy("display_name", docstore.Asc)
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]models.Profile, 0, len(docs))
	for _, doc := range docs {
		p := models.ProfileFromDocument(doc)
		if needle != "" &&
			!strings.Contains(strings.ToLower(p.DisplayName), needle) &&
			!strings.Contains(strings.ToLower(p.Email), needle) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
