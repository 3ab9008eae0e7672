package repository

import (
	"context"
	"fmt"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
)

// FriendshipRepository stores friendships keyed by the sorted member pair.
type FriendshipRepository struct {
	store docstore.Store
}

// NewFriendshipRepository constructs the repository.
func NewFriendshipRepository(store docstore.Store) *FriendshipRepository {
	return &FriendshipRepository{store: store}
}

// Get loads the friendship between two users.
func (r *FriendshipRepository) Get(ctx context.Context, a, b string) (*models.Friendship, error) {
	doc, err := r.store.Get(ctx, models.CollectionFriendships, models.PairKey(a, b))
	if err != nil {
		return nil, fmt.Errorf("get friendship: %w", err)
	}
	f := models.FriendshipFromDocument(*doc)
	return &f, nil
}

// CreatePending records a request from requester to addressee.
func (r *FriendshipRepository) CreatePending(ctx context.Context, requester, addressee string) error {
	data := map[string]interface{}{
		"requester_id": requester,
		"addressee_id": addressee,
		"members":      []string{requester, addressee},
		"status":       string(models.FriendshipPending),
		"created_at":   docstore.ServerTimestamp,
		"updated_at":   docstore.ServerTimestamp,
	}
	if err := r.store.Set(ctx, models.CollectionFriendships, models.PairKey(requester, addressee), data); err != nil {
		return fmt.Errorf("create friendship: %w", err)
	}
	return nil
}

// Accept marks the pair as friends and queues the notification in the same batch.
func (r *FriendshipRepository) Accept(ctx context.Context, a, b string, note models.Notification) error {
	err := r.store.Batch().
		Update(models.CollectionFriendships, models.PairKey(a, b),
			docstore.Update{Field: "status", Value: string(models.FriendshipAccepted)},
			docstore.Update{Field: "updated_at", Value: docstore.ServerTimestamp},
		).
		Set(models.CollectionNotifications, newID(), note.Fields()).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("accept friendship: %w", err)
	}
	return nil
}

// Delete removes the pair.
func (r *FriendshipRepository) Delete(ctx context.Context, a, b string) error {
	if err := r.store.Delete(ctx, models.CollectionFriendships, models.PairKey(a, b)); err != nil {
		return fmt.Errorf("delete friendship: %w", err)
	}
	return nil
}

// ListForUser returns every friendship userID is a member of.
func (r *FriendshipRepository) ListForUser(ctx context.Context, userID string) ([]models.Friendship, error) {
	q := docstore.Collection(models.CollectionFriendships).
		Where("members", docstore.OpArrayContains, userID).
		OrderBy("updated_at", docstore.Desc)
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list friendships: %w", err)
	}
	out := make([]models.Friendship, 0, len(docs))
	for _, doc := range docs {
		out = append(out, models.FriendshipFromDocument(doc))
	}
	return out, nil
}

// NotificationRepository stores per-recipient notifications.
type NotificationRepository struct {
	store docstore.Store
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(store docstore.Store) *NotificationRepository {
	return &NotificationRepository{store: store}
}

// Create stores one notification.
func (r *NotificationRepository) Create(ctx context.Context, n models.Notification) (string, error) {
	id, err := r.store.Add(ctx, models.CollectionNotifications, n.Fields())
	if err != nil {
		return "", fmt.Errorf("create notification: %w", err)
	}
	return id, nil
}

// CreateMany stores notifications in one batch. A notification with an ID
// overwrites any stored record of that id; the rest get fresh ids.
func (r *NotificationRepository) CreateMany(ctx context.Context, notes []models.Notification) error {
	if len(notes) == 0 {
		return nil
	}
	batch := r.store.Batch()
	for _, n := range notes {
		id := n.ID
		if id == "" {
			id = newID()
		}
		batch.Set(models.CollectionNotifications, id, n.Fields())
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("create %d notifications: %w", len(notes), err)
	}
	return nil
}

// Get loads one notification.
func (r *NotificationRepository) Get(ctx context.Context, id string) (*models.Notification, error) {
	doc, err := r.store.Get(ctx, models.CollectionNotifications, id)
	if err != nil {
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}
	n := models.NotificationFromDocument(*doc)
	return &n, nil
}

// ListForRecipient returns the newest notifications first.
func (r *NotificationRepository) ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	q := docstore.Collection(models.CollectionNotifications).
		Where("recipient_id", docstore.OpEqual, recipientID)
	if unreadOnly {
		q = q.Where("read", docstore.OpEqual, false)
	}
	q = q.OrderBy("created_at", docstore.Desc).Limit(limit)
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]models.Notification, 0, len(docs))
	for _, doc := range docs {
		out = append(out, models.NotificationFromDocument(doc))
	}
	return out, nil
}

// MarkRead flags the given notifications as read in one batch.
func (r *NotificationRepository) MarkRead(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := r.store.Batch()
	for _, id := range ids {
		batch.Update(models.CollectionNotifications, id, docstore.Update{Field: "read", Value: true})
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("mark %d notifications read: %w", len(ids), err)
	}
	return nil
}

// Delete removes one notification.
func (r *NotificationRepository) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, models.CollectionNotifications, id); err != nil {
		return fmt.Errorf("delete notification %s: %w", id, err)
	}
	return nil
}

// MessageRepository stores direct messages.
type MessageRepository struct {
	store docstore.Store
}

// NewMessageRepository constructs the repository.
func NewMessageRepository(store docstore.Store) *MessageRepository {
	return &MessageRepository{store: store}
}

// Send stores the message and the recipient's notification atomically and
// returns the message id.
func (r *MessageRepository) Send(ctx context.Context, msg models.ChatMessage, note models.Notification) (string, error) {
	id := newID()
	err := r.store.Batch().
		Set(models.CollectionMessages, id, msg.Fields()).
		Set(models.CollectionNotifications, newID(), note.Fields()).
		Commit(ctx)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return id, nil
}

// ListConversation returns up to limit messages, oldest first.
func (r *MessageRepository) ListConversation(ctx context.Context, conversationID string, limit int) ([]models.ChatMessage, error) {
	q := docstore.Collection(models.CollectionMessages).
		Where("conversation_id", docstore.OpEqual, conversationID).
		OrderBy("created_at", docstore.Desc).
		Limit(limit)
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]models.ChatMessage, len(docs))
	for i, doc := range docs {
		out[len(docs)-1-i] = models.ChatMessageFromDocument(doc)
	}
	return out, nil
}

// MarkConversationRead flags every unread message addressed to readerID in
// the conversation and returns how many were updated.
func (r *MessageRepository) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int, error) {
	q := docstore.Collection(models.CollectionMessages).
		Where("conversation_id", docstore.OpEqual, conversationID).
		Where("recipient_id", docstore.OpEqual, readerID).
		Where("read", docstore.OpEqual, false)
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("list unread messages: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	batch := r.store.Batch()
	for _, doc := range docs {
		batch.Update(models.CollectionMessages, doc.ID, docstore.Update{Field: "read", Value: true})
	}
	if err := batch.Commit(ctx); err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return len(docs), nil
}

// PostRepository stores feed posts.
type PostRepository struct {
	store docstore.Store
}

// NewPostRepository constructs the repository.
func NewPostRepository(store docstore.Store) *PostRepository {
	return &PostRepository{store: store}
}

// Create stores a post with no likes.
func (r *PostRepository) Create(ctx context.Context, authorID, body string) (string, error) {
	id, err := r.store.Add(ctx, models.CollectionPosts, map[string]interface{}{
		"author_id":  authorID,
		"body":       body,
		"like_count": int64(0),
		"liked_by":   []string{},
		"created_at": docstore.ServerTimestamp,
		"updated_at": docstore.ServerTimestamp,
	})
	if err != nil {
		return "", fmt.Errorf("create post: %w", err)
	}
	return id, nil
}

// Get loads one post.
func (r *PostRepository) Get(ctx context.Context, id string) (*models.Post, error) {
	doc, err := r.store.Get(ctx, models.CollectionPosts, id)
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", id, err)
	}
	p := models.PostFromDocument(*doc)
	return &p, nil
}

// List returns the newest posts first.
func (r *PostRepository) List(ctx context.Context, limit int) ([]models.Post, error) {
	q := docstore.Collection(models.CollectionPosts).OrderBy("created_at", docstore.Desc).Limit(limit)
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	out := make([]models.Post, 0, len(docs))
	for _, doc := range docs {
		out = append(out, models.PostFromDocument(doc))
	}
	return out, nil
}

// SetLiked adds or removes userID in liked_by and moves like_count with it
// in one update, so concurrent likers never overwrite each other.
func (r *PostRepository) SetLiked(ctx context.Context, id, userID string, liked bool) error {
	members, delta := docstore.ArrayUnion(userID), int64(1)
	if !liked {
		members, delta = docstore.ArrayRemove(userID), -1
	}
	err := r.store.Update(ctx, models.CollectionPosts, id,
		docstore.Update{Field: "liked_by", Value: members},
		docstore.Update{Field: "like_count", Value: docstore.Increment(delta)},
		docstore.Update{Field: "updated_at", Value: docstore.ServerTimestamp},
	)
	if err != nil {
		return fmt.Errorf("update likes on %s: %w", id, err)
	}
	return nil
}

// Delete removes a post.
func (r *PostRepository) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, models.CollectionPosts, id); err != nil {
		return fmt.Errorf("delete post %s: %w", id, err)
	}
	return nil
}
