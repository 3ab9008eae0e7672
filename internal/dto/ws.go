package dto

import "github.com/noah-isme/student-portal-api/internal/models"

// Websocket message types.
const (
	WSViewMonth  = "view_month"
	WSVisibility = "visibility"
	WSEvents     = "events"
	WSError      = "error"
)

// WSClientMessage is any message a client sends on /ws.
type WSClientMessage struct {
	Type    string `json:"type"`
	Year    int    `json:"year"`
	Month   int    `json:"month"` // zero-indexed, as in month keys
	Visible *bool  `json:"visible,omitempty"`
}

// WSServerMessage is any message the server sends on /ws.
type WSServerMessage struct {
	Type    string         `json:"type"`
	Key     string         `json:"key,omitempty"`
	Events  []models.Event `json:"events,omitempty"`
	Message string         `json:"message,omitempty"`
}
