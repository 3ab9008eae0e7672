package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/internal/middleware"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/response"
)

type fundService interface {
	Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateFundRequest) (*models.Fund, error)
	List(ctx context.Context) ([]models.Fund, error)
	Get(ctx context.Context, id string) (*models.Fund, error)
	Contribute(ctx context.Context, actor *models.JWTClaims, fundID string, req dto.ContributeRequest) (*models.Fund, error)
	Contributions(ctx context.Context, fundID string) ([]models.Contribution, error)
}

// FundHandler exposes class fund tracking.
type FundHandler struct {
	service fundService
}

// NewFundHandler constructs the handler.
func NewFundHandler(svc fundService) *FundHandler {
	return &FundHandler{service: svc}
}

// List godoc
// @Summary List funds
// @Tags Funds
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /funds [get]
func (h *FundHandler) List(c *gin.Context) {
	funds, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, funds)
}

// Get godoc
// @Summary Get fund
// @Tags Funds
// @Produce json
// @Param id path string true "Fund ID"
// @Success 200 {object} response.Envelope
// @Router /funds/{id} [get]
func (h *FundHandler) Get(c *gin.Context) {
	fund, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, fund)
}

// Create godoc
// @Summary Open a fund
// @Tags Funds
// @Accept json
// @Produce json
// @Param payload body dto.CreateFundRequest true "Fund"
// @Success 201 {object} response.Envelope
// @Router /funds [post]
func (h *FundHandler) Create(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CreateFundRequest
	if !bindJSON(c, &req, "invalid fund payload") {
		return
	}
	fund, err := h.service.Create(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditResource(c, fund.ID)
	response.Created(c, fund)
}

// Contribute godoc
// @Summary Record a contribution
// @Tags Funds
// @Accept json
// @Produce json
// @Param id path string true "Fund ID"
// @Param payload body dto.ContributeRequest true "Contribution"
// @Success 201 {object} response.Envelope
// @Router /funds/{id}/contributions [post]
func (h *FundHandler) Contribute(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.ContributeRequest
	if !bindJSON(c, &req, "invalid contribution payload") {
		return
	}
	fund, err := h.service.Contribute(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, fund)
}

// Contributions godoc
// @Summary List contributions of a fund
// @Tags Funds
// @Produce json
// @Param id path string true "Fund ID"
// @Success 200 {object} response.Envelope
// @Router /funds/{id}/contributions [get]
func (h *FundHandler) Contributions(c *gin.Context) {
	list, err := h.service.Contributions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}
