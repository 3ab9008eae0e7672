package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/internal/middleware"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/service"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/response"
)

type attendanceService interface {
	Board(ctx context.Context, date string, refresh bool) (*models.AttendanceBoard, error)
	BulkUpdate(ctx context.Context, date string, status models.AttendanceStatus, search string, actor *models.JWTClaims) (*dto.BulkAttendanceResponse, error)
	BulkCustomStatus(ctx context.Context, date, label, search string, actor *models.JWTClaims) (*dto.BulkAttendanceResponse, error)
	UpdateStatus(ctx context.Context, date, studentID string, status models.AttendanceStatus, actor *models.JWTClaims) (*models.AttendanceRecord, error)
}

type exportService interface {
	CreateJob(ctx context.Context, req dto.ExportRequest, actor *models.JWTClaims) (*dto.ExportJobResponse, error)
	GetStatus(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ExportStatusResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.ExportDownload, error)
}

// AttendanceHandler exposes the monitor's attendance board and exports.
type AttendanceHandler struct {
	service attendanceService
	exports exportService
}

// NewAttendanceHandler constructs the handler. exports may be nil.
func NewAttendanceHandler(svc attendanceService, exports exportService) *AttendanceHandler {
	return &AttendanceHandler{service: svc, exports: exports}
}

// Board godoc
// @Summary Attendance board for a date
// @Tags Attendance
// @Produce json
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param refresh query bool false "Reload records from the store"
// @Success 200 {object} response.Envelope
// @Router /attendance [get]
func (h *AttendanceHandler) Board(c *gin.Context) {
	date := strings.TrimSpace(c.Query("date"))
	if date == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date is required"))
		return
	}
	board, err := h.service.Board(c.Request.Context(), date, queryBool(c, "refresh"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, board)
}

// Bulk godoc
// @Summary Mark every filtered student with one status
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.BulkAttendanceRequest true "Bulk payload"
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /attendance/bulk [post]
func (h *AttendanceHandler) Bulk(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.BulkAttendanceRequest
	if !bindJSON(c, &req, "invalid attendance payload") {
		return
	}
	res, err := h.service.BulkUpdate(c.Request.Context(), req.Date, req.Status, req.Search, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditResource(c, req.Date)
	response.OK(c, res)
}

// Custom godoc
// @Summary Mark every filtered student with a custom label
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.CustomAttendanceRequest true "Custom payload"
// @Success 200 {object} response.Envelope
// @Router /attendance/custom [post]
func (h *AttendanceHandler) Custom(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CustomAttendanceRequest
	if !bindJSON(c, &req, "invalid attendance payload") {
		return
	}
	res, err := h.service.BulkCustomStatus(c.Request.Context(), req.Date, req.Label, req.Search, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditResource(c, req.Date)
	response.OK(c, res)
}

// Update godoc
// @Summary Set one student's status
// @Tags Attendance
// @Accept json
// @Produce json
// @Param studentId path string true "Student ID"
// @Param payload body dto.UpdateAttendanceRequest true "Status"
// @Success 200 {object} response.Envelope
// @Router /attendance/{studentId} [put]
func (h *AttendanceHandler) Update(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.UpdateAttendanceRequest
	if !bindJSON(c, &req, "invalid attendance payload") {
		return
	}
	record, err := h.service.UpdateStatus(c.Request.Context(), req.Date, c.Param("studentId"), req.Status, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditResource(c, record.ID)
	response.OK(c, record)
}

// CreateExport godoc
// @Summary Queue an attendance export
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.ExportRequest true "Export range and format"
// @Success 202 {object} response.Envelope
// @Router /attendance/exports [post]
func (h *AttendanceHandler) CreateExport(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnavailable, "exports not configured"))
		return
	}
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.ExportRequest
	if !bindJSON(c, &req, "invalid export payload") {
		return
	}
	res, err := h.exports.CreateJob(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditResource(c, res.ID)
	response.JSON(c, http.StatusAccepted, res, nil)
}

// ExportStatus godoc
// @Summary Export job status
// @Tags Attendance
// @Produce json
// @Param id path string true "Export ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/exports/{id} [get]
func (h *AttendanceHandler) ExportStatus(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnavailable, "exports not configured"))
		return
	}
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	res, err := h.exports.GetStatus(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Download godoc
// @Summary Download a finished export via signed token
// @Tags Attendance
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /exports/download [get]
func (h *AttendanceHandler) Download(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnavailable, "exports not configured"))
		return
	}
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.exports.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck

	info, err := result.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export file"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), result.ContentType, result.File, nil)
}
