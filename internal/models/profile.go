package models

import (
	"time"

	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

// CollectionProfiles mirrors the relational profiles table.
const CollectionProfiles = "profiles"

// Profile is the public face of a user. It is stored twice: as a document for
// live readers and as a row for relational queries.
type Profile struct {
	ID          string    `db:"id" json:"id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Email       string    `db:"email" json:"email"`
	Role        UserRole  `db:"role" json:"role"`
	ClassName   *string   `db:"class_name" json:"class_name,omitempty"`
	AvatarURL   *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	Bio         *string   `db:"bio" json:"bio,omitempty"`
	IsOnline    bool      `db:"is_online" json:"is_online"`
	LastSeen    time.Time `db:"last_seen" json:"last_seen"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Summary trims the profile to what list views need.
func (p Profile) Summary() ProfileSummary {
	return ProfileSummary{ID: p.ID, DisplayName: p.DisplayName, Email: p.Email, ClassName: p.ClassName, AvatarURL: p.AvatarURL, IsOnline: p.IsOnline}
}

// Fields renders the full profile document.
func (p Profile) Fields() map[string]interface{} {
	data := map[string]interface{}{
		"display_name": p.DisplayName,
		"email":        p.Email,
		"role":         string(p.Role),
		"is_online":    p.IsOnline,
		"last_seen":    p.LastSeen,
		"updated_at":   docstore.ServerTimestamp,
	}
	for field, value := range map[string]*string{"class_name": p.ClassName, "avatar_url": p.AvatarURL, "bio": p.Bio} {
		if value != nil {
			data[field] = *value
		}
	}
	return data
}

// ProfileFromDocument decodes a stored profile.
func ProfileFromDocument(doc docstore.Document) Profile {
	return Profile{
		ID:          doc.ID,
		DisplayName: doc.String("display_name"),
		Email:       doc.String("email"),
		Role:        UserRole(doc.String("role")),
		ClassName:   doc.StringPtr("class_name"),
		AvatarURL:   doc.StringPtr("avatar_url"),
		Bio:         doc.StringPtr("bio"),
		IsOnline:    doc.Bool("is_online"),
		LastSeen:    doc.Time("last_seen"),
		UpdatedAt:   doc.Time("updated_at"),
	}
}

// ProfileSummary is embedded in list views.
type ProfileSummary struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Email       string  `json:"email"`
	ClassName   *string `json:"class_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	IsOnline    bool    `json:"is_online"`
}

// ProfileUpdate carries the editable profile fields. Nil means unchanged.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name" validate:"omitempty,min=1,max=120"`
	ClassName   *string `json:"class_name" validate:"omitempty,max=40"`
	AvatarURL   *string `json:"avatar_url" validate:"omitempty,url"`
	Bio         *string `json:"bio" validate:"omitempty,max=500"`
}

// Empty reports whether no field is set.
func (u ProfileUpdate) Empty() bool {
	return u.DisplayName == nil && u.ClassName == nil && u.AvatarURL == nil && u.Bio == nil
}

// Presence is a profile's online state.
type Presence struct {
	UserID   string    `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}
