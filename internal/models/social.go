package models

import (
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

// Social collections.
const (
	CollectionFriendships   = "friendships"
	CollectionNotifications = "notifications"
	CollectionMessages      = "messages"
	CollectionPosts         = "posts"
)

// PairKey joins two user ids in sorted order, so (a,b) and (b,a) share a key.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// FriendshipStatus tracks a friend request.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "PENDING"
	FriendshipAccepted FriendshipStatus = "ACCEPTED"
)

// Friendship links two users. Members holds both ids for array-contains queries.
type Friendship struct {
	ID          string           `json:"id"`
	RequesterID string           `json:"requester_id"`
	AddresseeID string           `json:"addressee_id"`
	Members     []string         `json:"members"`
	Status      FriendshipStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Other returns the member that is not userID.
func (f Friendship) Other(userID string) string {
	if f.RequesterID == userID {
		return f.AddresseeID
	}
	return f.RequesterID
}

// FriendshipFromDocument decodes a stored friendship.
func FriendshipFromDocument(doc docstore.Document) Friendship {
	return Friendship{
		ID:          doc.ID,
		RequesterID: doc.String("requester_id"),
		AddresseeID: doc.String("addressee_id"),
		Members:     doc.Strings("members"),
		Status:      FriendshipStatus(doc.String("status")),
		CreatedAt:   doc.Time("created_at"),
		UpdatedAt:   doc.Time("updated_at"),
	}
}

// NotificationType classifies a notification.
type NotificationType string

const (
	NotificationFriendRequest  NotificationType = "FRIEND_REQUEST"
	NotificationFriendAccepted NotificationType = "FRIEND_ACCEPTED"
	NotificationMessage        NotificationType = "MESSAGE"
	NotificationOfficialEvent  NotificationType = "OFFICIAL_EVENT"
	NotificationPostLiked      NotificationType = "POST_LIKED"
)

// Notification is addressed to one recipient.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipient_id"`
	ActorID     *string          `json:"actor_id,omitempty"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Body        string           `json:"body"`
	Link        *string          `json:"link,omitempty"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"created_at"`
}

// OfficialEventNotificationID is the stable id of the notification telling
// recipientID about an official event. Rewriting it replaces the same record.
func OfficialEventNotificationID(eventID, recipientID string) string {
	return "official_" + eventID + "_" + recipientID
}

// Fields renders an unread notification.
func (n Notification) Fields() map[string]interface{} {
	data := map[string]interface{}{
		"recipient_id": n.RecipientID,
		"type":         string(n.Type),
		"title":        n.Title,
		"body":         n.Body,
		"read":         false,
		"created_at":   docstore.ServerTimestamp,
	}
	if n.ActorID != nil {
		data["actor_id"] = *n.ActorID
	}
	if n.Link != nil {
		data["link"] = *n.Link
	}
	return data
}

// NotificationFromDocument decodes a stored notification.
func NotificationFromDocument(doc docstore.Document) Notification {
	return Notification{
		ID:          doc.ID,
		RecipientID: doc.String("recipient_id"),
		ActorID:     doc.StringPtr("actor_id"),
		Type:        NotificationType(doc.String("type")),
		Title:       doc.String("title"),
		Body:        doc.String("body"),
		Link:        doc.StringPtr("link"),
		Read:        doc.Bool("read"),
		CreatedAt:   doc.Time("created_at"),
	}
}

// ChatMessage is a direct message between two users.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	Body           string    `json:"body"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

// Fields renders an unread message.
func (m ChatMessage) Fields() map[string]interface{} {
	return map[string]interface{}{
		"conversation_id": m.ConversationID,
		"sender_id":       m.SenderID,
		"recipient_id":    m.RecipientID,
		"body":            m.Body,
		"read":            false,
		"created_at":      docstore.ServerTimestamp,
	}
}

// ChatMessageFromDocument decodes a stored message.
func ChatMessageFromDocument(doc docstore.Document) ChatMessage {
	return ChatMessage{
		ID:             doc.ID,
		ConversationID: doc.String("conversation_id"),
		SenderID:       doc.String("sender_id"),
		RecipientID:    doc.String("recipient_id"),
		Body:           doc.String("body"),
		Read:           doc.Bool("read"),
		CreatedAt:      doc.Time("created_at"),
	}
}

// Post is a short status update on the school feed.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	LikeCount int64     `json:"like_count"`
	LikedBy   []string  `json:"liked_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LikedByUser reports whether userID has liked the post.
func (p Post) LikedByUser(userID string) bool {
	for _, id := range p.LikedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// PostFromDocument decodes a stored post.
func PostFromDocument(doc docstore.Document) Post {
	liked := doc.Strings("liked_by")
	if liked == nil {
		liked = []string{}
	}
	return Post{
		ID:        doc.ID,
		AuthorID:  doc.String("author_id"),
		Body:      doc.String("body"),
		LikeCount: doc.Int64("like_count"),
		LikedBy:   liked,
		CreatedAt: doc.Time("created_at"),
		UpdatedAt: doc.Time("updated_at"),
	}
}
