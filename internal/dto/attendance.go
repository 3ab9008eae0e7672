package dto

import "github.com/noah-isme/student-portal-api/internal/models"

// BulkAttendanceRequest captures POST /attendance/bulk.
type BulkAttendanceRequest struct {
	Date   string                  `json:"date" validate:"required,calendar_date"`
	Status models.AttendanceStatus `json:"status" validate:"required,attendance_status"`
	Search string                  `json:"search" validate:"max=120"`
}

// CustomAttendanceRequest captures POST /attendance/custom.
type CustomAttendanceRequest struct {
	Date   string `json:"date" validate:"required,calendar_date"`
	Label  string `json:"label"`
	Search string `json:"search" validate:"max=120"`
}

// UpdateAttendanceRequest captures PUT /attendance/:studentId.
type UpdateAttendanceRequest struct {
	Date   string                  `json:"date" validate:"required,calendar_date"`
	Status models.AttendanceStatus `json:"status" validate:"required,attendance_status"`
}

// BulkAttendanceResponse summarises a committed batch.
type BulkAttendanceResponse struct {
	Date    string                 `json:"date"`
	Written int                    `json:"written"`
	Board   models.AttendanceBoard `json:"board"`
}

// ExportRequest captures POST /attendance/exports.
type ExportRequest struct {
	From   string `json:"from" validate:"required,calendar_date"`
	To     string `json:"to" validate:"required,calendar_date"`
	Format string `json:"format" validate:"required,oneof=csv pdf"`
}

// ExportJobResponse is returned after enqueueing an export.
type ExportJobResponse struct {
	ID     string              `json:"id"`
	Status models.ExportStatus `json:"status"`
}

// ExportStatusResponse exposes export progress.
type ExportStatusResponse struct {
	ID        string              `json:"id"`
	Status    models.ExportStatus `json:"status"`
	ResultURL *string             `json:"result_url,omitempty"`
	Error     *string             `json:"error,omitempty"`
}
