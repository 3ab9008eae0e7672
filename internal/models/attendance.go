package models

import (
	"strings"
	"time"

	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

// CollectionAttendance holds one document per student per date.
const CollectionAttendance = "attendance"

// AttendanceStatus is a preset status or a custom label.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "Present"
	AttendanceAbsent  AttendanceStatus = "Absent"
	AttendanceLate    AttendanceStatus = "Late"
	AttendanceExcused AttendanceStatus = "Excused"
	AttendanceSick    AttendanceStatus = "Sick"
)

// PresetStatuses lists the built-in statuses in display order.
var PresetStatuses = []AttendanceStatus{AttendancePresent, AttendanceAbsent, AttendanceLate, AttendanceExcused, AttendanceSick}

// Preset reports whether s is one of the built-in statuses.
func (s AttendanceStatus) Preset() bool {
	for _, p := range PresetStatuses {
		if s == p {
			return true
		}
	}
	return false
}

// Valid accepts any non-blank label up to 40 characters.
func (s AttendanceStatus) Valid() bool {
	trimmed := strings.TrimSpace(string(s))
	return trimmed != "" && len(trimmed) <= 40
}

// AttendanceID is the document id for a student on a date.
func AttendanceID(date, studentID string) string {
	return date + "_" + studentID
}

// AttendanceRecord is the attendance state of one student on one date.
type AttendanceRecord struct {
	ID        string           `json:"id"`
	StudentID string           `json:"student_id"`
	Date      string           `json:"date"`
	Status    AttendanceStatus `json:"status"`
	MarkedBy  string           `json:"marked_by"`
	UpdatedAt time.Time        `json:"updated_at"`
	Pending   bool             `json:"pending,omitempty"`
}

// Fields renders the record for a batch Set with a server timestamp.
func (r AttendanceRecord) Fields() map[string]interface{} {
	return map[string]interface{}{
		"student_id": r.StudentID,
		"date":       r.Date,
		"status":     string(r.Status),
		"marked_by":  r.MarkedBy,
		"updated_at": docstore.ServerTimestamp,
	}
}

// AttendanceFromDocument decodes a stored record.
func AttendanceFromDocument(doc docstore.Document) AttendanceRecord {
	return AttendanceRecord{
		ID:        doc.ID,
		StudentID: doc.String("student_id"),
		Date:      doc.String("date"),
		Status:    AttendanceStatus(doc.String("status")),
		MarkedBy:  doc.String("marked_by"),
		UpdatedAt: doc.Time("updated_at"),
	}
}

// AttendanceRow joins a student with their record for the selected date.
type AttendanceRow struct {
	Student ProfileSummary    `json:"student"`
	Record  *AttendanceRecord `json:"record,omitempty"`
}

// AttendanceBoard is the marking view for one date.
type AttendanceBoard struct {
	Date      string          `json:"date"`
	Rows      []AttendanceRow `json:"rows"`
	Counts    map[string]int  `json:"counts"`
	LastError *string         `json:"last_error,omitempty"`
}
