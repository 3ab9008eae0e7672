package dto

import "github.com/noah-isme/student-portal-api/internal/models"

// ProfileListResponse wraps GET /profiles.
type ProfileListResponse struct {
	Profiles []models.ProfileSummary `json:"profiles"`
}
