package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/response"
)

type profileService interface {
	Get(ctx context.Context, id string) (*models.Profile, error)
	Update(ctx context.Context, id string, upd models.ProfileUpdate) (*models.Profile, error)
	ListStudents(ctx context.Context, search string) ([]models.ProfileSummary, error)
}

// ProfileHandler serves the caller's profile and the student directory.
type ProfileHandler struct {
	service profileService
}

// NewProfileHandler constructs the handler.
func NewProfileHandler(svc profileService) *ProfileHandler {
	return &ProfileHandler{service: svc}
}

// Me godoc
// @Summary Current profile
// @Tags Profiles
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /me [get]
func (h *ProfileHandler) Me(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	profile, err := h.service.Get(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, profile)
}

// UpdateMe godoc
// @Summary Update current profile
// @Tags Profiles
// @Accept json
// @Produce json
// @Param payload body models.ProfileUpdate true "Profile fields"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /me [put]
func (h *ProfileHandler) UpdateMe(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var upd models.ProfileUpdate
	if !bindJSON(c, &upd, "invalid profile payload") {
		return
	}
	profile, err := h.service.Update(c.Request.Context(), claims.UserID, upd)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, profile)
}

// List godoc
// @Summary Student directory
// @Tags Profiles
// @Produce json
// @Param search query string false "Name or email fragment"
// @Success 200 {object} response.Envelope
// @Router /profiles [get]
func (h *ProfileHandler) List(c *gin.Context) {
	profiles, err := h.service.ListStudents(c.Request.Context(), strings.TrimSpace(c.Query("search")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ProfileListResponse{Profiles: profiles})
}
