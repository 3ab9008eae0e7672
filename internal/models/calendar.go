package models

import (
	"fmt"
	"time"

	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

// CollectionEvents holds calendar events.
const CollectionEvents = "events"

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// Visibility partitions events into the two live queries a viewer merges.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Event is a calendar entry. Official events have an empty UserID and are
// always public.
type Event struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Date        string    `json:"date"`
	Time        *string   `json:"time,omitempty"`
	Category    string    `json:"category"`
	Tags        []string  `json:"tags"`
	IsPublic    bool      `json:"is_public"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Visibility returns the partition the event belongs to.
func (e Event) Visibility() Visibility {
	if e.IsPublic {
		return VisibilityPublic
	}
	return VisibilityPrivate
}

// Official reports whether the event was created by an administrator broadcast.
func (e Event) Official() bool {
	return e.UserID == ""
}

// Fields renders the event as document data. CreatedAt and UpdatedAt are
// written as server timestamps.
func (e Event) Fields() map[string]interface{} {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	data := map[string]interface{}{
		"user_id":    e.UserID,
		"title":      e.Title,
		"date":       e.Date,
		"category":   e.Category,
		"tags":       tags,
		"is_public":  e.IsPublic,
		"created_at": docstore.ServerTimestamp,
		"updated_at": docstore.ServerTimestamp,
	}
	if e.Description != nil {
		data["description"] = *e.Description
	}
	if e.Time != nil {
		data["time"] = *e.Time
	}
	return data
}

// EventFromDocument decodes a stored event.
func EventFromDocument(doc docstore.Document) Event {
	tags := doc.Strings("tags")
	if tags == nil {
		tags = []string{}
	}
	return Event{
		ID:          doc.ID,
		UserID:      doc.String("user_id"),
		Title:       doc.String("title"),
		Description: doc.StringPtr("description"),
		Date:        doc.String("date"),
		Time:        doc.StringPtr("time"),
		Category:    doc.String("category"),
		Tags:        tags,
		IsPublic:    doc.Bool("is_public"),
		CreatedAt:   doc.Time("created_at"),
		UpdatedAt:   doc.Time("updated_at"),
	}
}

// MonthKey identifies a cached month as "<year>-<zero-indexed month>", so
// March 2024 is "2024-2".
func MonthKey(year int, month time.Month) string {
	return fmt.Sprintf("%d-%d", year, int(month)-1)
}

// Calendar years a month view may address.
const (
	MinCalendarYear = 1970
	MaxCalendarYear = 9999
)

// ValidCalendarYear reports whether year can be viewed.
func ValidCalendarYear(year int) bool {
	return year >= MinCalendarYear && year <= MaxCalendarYear
}

// MonthWindow is the inclusive date range loaded for a month view.
type MonthWindow struct {
	Key   string
	Start string
	End   string
}

// NewMonthWindow pads the month by paddingDays on both sides.
func NewMonthWindow(year int, month time.Month, paddingDays int) MonthWindow {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return MonthWindow{
		Key:   MonthKey(year, month),
		Start: first.AddDate(0, 0, -paddingDays).Format(DateLayout),
		End:   last.AddDate(0, 0, paddingDays).Format(DateLayout),
	}
}
