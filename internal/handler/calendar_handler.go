package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/internal/middleware"
	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/response"
)

type calendarService interface {
	Month(ctx context.Context, viewerID string, year int, month time.Month) (*dto.MonthResponse, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Event, error)
	Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateEventRequest) (*models.Event, error)
	BroadcastOfficial(ctx context.Context, actor *models.JWTClaims, req dto.BroadcastEventsRequest) (*dto.BroadcastEventsResponse, error)
	MoveEvent(ctx context.Context, eventID string, actor *models.JWTClaims, newDate string) (bool, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims) error
}

// CalendarHandler exposes calendar month views and event writes.
type CalendarHandler struct {
	service calendarService
}

// NewCalendarHandler constructs the handler.
func NewCalendarHandler(svc calendarService) *CalendarHandler {
	return &CalendarHandler{service: svc}
}

// Month godoc
// @Summary Merged month view
// @Description Public and own private events of one month, padded by a week on both sides.
// @Tags Calendar
// @Produce json
// @Param year query int true "Year"
// @Param month query int true "Zero-indexed month (0 = January)"
// @Success 200 {object} response.Envelope
// @Router /calendar [get]
func (h *CalendarHandler) Month(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	now := time.Now()
	year, err := queryInt(c, "year", now.Year())
	if err != nil {
		response.Error(c, err)
		return
	}
	month, err := queryInt(c, "month", int(now.Month())-1)
	if err != nil {
		response.Error(c, err)
		return
	}
	if month < 0 || month > 11 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "month must be between 0 and 11"))
		return
	}

	res, err := h.service.Month(c.Request.Context(), claims.UserID, year, time.Month(month+1))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, res.Cached)
	response.JSON(c, http.StatusOK, res, nil, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get event
// @Tags Calendar
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /events/{id} [get]
func (h *CalendarHandler) Get(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	ev, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ev)
}

// Create godoc
// @Summary Create event
// @Tags Calendar
// @Accept json
// @Produce json
// @Param payload body dto.CreateEventRequest true "Event"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /events [post]
func (h *CalendarHandler) Create(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CreateEventRequest
	if !bindJSON(c, &req, "invalid event payload") {
		return
	}
	ev, err := h.service.Create(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, ev)
}

// Broadcast godoc
// @Summary Create official events
// @Description Creates official events in one batch and optionally notifies every student.
// @Tags Calendar
// @Accept json
// @Produce json
// @Param payload body dto.BroadcastEventsRequest true "Events"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /events/official [post]
func (h *CalendarHandler) Broadcast(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.BroadcastEventsRequest
	if !bindJSON(c, &req, "invalid broadcast payload") {
		return
	}
	res, err := h.service.BroadcastOfficial(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditResource(c, strings.Join(res.IDs, ","))
	response.Created(c, res)
}

// Move godoc
// @Summary Move event to another date
// @Description Dropping an event on its current date writes nothing and reports moved=false.
// @Tags Calendar
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param payload body dto.MoveEventRequest true "Target date"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /events/{id}/date [patch]
func (h *CalendarHandler) Move(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.MoveEventRequest
	if !bindJSON(c, &req, "invalid move payload") {
		return
	}
	id := c.Param("id")
	moved, err := h.service.MoveEvent(c.Request.Context(), id, claims, req.Date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.MoveEventResponse{ID: id, Date: req.Date, Moved: moved})
}

// Delete godoc
// @Summary Delete event
// @Tags Calendar
// @Param id path string true "Event ID"
// @Success 204
// @Router /events/{id} [delete]
func (h *CalendarHandler) Delete(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
