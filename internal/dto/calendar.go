package dto

import "github.com/noah-isme/student-portal-api/internal/models"

// CreateEventRequest captures POST /events.
type CreateEventRequest struct {
	Title       string   `json:"title" validate:"required,max=200"`
	Description *string  `json:"description" validate:"omitempty,max=2000"`
	Date        string   `json:"date" validate:"required,calendar_date"`
	Time        *string  `json:"time" validate:"omitempty,clock_time"`
	Category    string   `json:"category" validate:"omitempty,max=40"`
	Tags        []string `json:"tags" validate:"omitempty,max=10,dive,min=1,max=30"`
	IsPublic    bool     `json:"is_public"`
	Official    bool     `json:"official"`
}

// BroadcastEventsRequest captures POST /events/official.
type BroadcastEventsRequest struct {
	Events []CreateEventRequest `json:"events" validate:"required,min=1,max=100,dive"`
	Notify bool                 `json:"notify"`
}

// MoveEventRequest captures PATCH /events/:id/date.
type MoveEventRequest struct {
	Date string `json:"date" validate:"required"`
}

// MoveEventResponse reports whether a write was issued.
type MoveEventResponse struct {
	ID    string `json:"id"`
	Date  string `json:"date"`
	Moved bool   `json:"moved"`
}

// MonthResponse is the merged month returned by GET /calendar.
type MonthResponse struct {
	Key    string         `json:"key"`
	Start  string         `json:"start"`
	End    string         `json:"end"`
	Events []models.Event `json:"events"`
	Cached bool           `json:"cached"`
}

// BroadcastEventsResponse lists the ids created by an official broadcast.
type BroadcastEventsResponse struct {
	IDs         []string `json:"ids"`
	NotifyJobID *string  `json:"notify_job_id,omitempty"`
}
