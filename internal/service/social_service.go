package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/jobs"
)

const (
	defaultNotificationLimit = 50
	defaultMessageLimit      = 100
	defaultPostLimit         = 50
	maxListLimit             = 200
)

type profileReader interface {
	Get(ctx context.Context, id string) (*models.Profile, error)
}

type friendshipRepository interface {
	Get(ctx context.Context, a, b string) (*models.Friendship, error)
	CreatePending(ctx context.Context, requester, addressee string) error
	Accept(ctx context.Context, a, b string, note models.Notification) error
	Delete(ctx context.Context, a, b string) error
	ListForUser(ctx context.Context, userID string) ([]models.Friendship, error)
}

type notificationRepository interface {
	Create(ctx context.Context, n models.Notification) (string, error)
	CreateMany(ctx context.Context, notes []models.Notification) error
	Get(ctx context.Context, id string) (*models.Notification, error)
	ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, ids ...string) error
	Delete(ctx context.Context, id string) error
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func strPtr(s string) *string { return &s }

func notFoundOr(err error, message, internal string) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return appErrors.Clone(appErrors.ErrNotFound, message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}

// FriendshipService manages friend requests.
type FriendshipService struct {
	repo          friendshipRepository
	notifications notificationRepository
	profiles      profileReader
	logger        *zap.Logger
}

// NewFriendshipService constructs the service.
func NewFriendshipService(repo friendshipRepository, notifications notificationRepository, profiles profileReader, logger *zap.Logger) *FriendshipService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FriendshipService{repo: repo, notifications: notifications, profiles: profiles, logger: logger}
}

// Request asks addresseeID to become actor's friend.
func (s *FriendshipService) Request(ctx context.Context, actor *models.JWTClaims, addresseeID string) (*models.Friendship, error) {
	addresseeID = strings.TrimSpace(addresseeID)
	if addresseeID == "" || addresseeID == actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "choose another user to befriend")
	}
	if _, err := s.profiles.Get(ctx, addresseeID); err != nil {
		return nil, notFoundOr(err, "user not found", "failed to load user")
	}
	if existing, err := s.repo.Get(ctx, actor.UserID, addresseeID); err == nil {
		if existing.Status == models.FriendshipAccepted {
			return nil, appErrors.Clone(appErrors.ErrConflict, "already friends")
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "a friend request is already pending")
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load friendship")
	}

	if err := s.repo.CreatePending(ctx, actor.UserID, addresseeID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to send friend request")
	}
	note := models.Notification{
		RecipientID: addresseeID,
		ActorID:     strPtr(actor.UserID),
		Type:        models.NotificationFriendRequest,
		Title:       "New friend request",
		Body:        fmt.Sprintf("%s wants to be your friend", displayName(actor)),
		Link:        strPtr("/friends"),
	}
	if _, err := s.notifications.Create(ctx, note); err != nil {
		s.logger.Warn("failed to notify friend request", zap.String("addressee_id", addresseeID), zap.Error(err))
	}
	return s.repo.Get(ctx, actor.UserID, addresseeID)
}

// Accept confirms a pending request addressed to actor.
func (s *FriendshipService) Accept(ctx context.Context, actor *models.JWTClaims, requesterID string) (*models.Friendship, error) {
	f, err := s.repo.Get(ctx, actor.UserID, requesterID)
	if err != nil {
		return nil, notFoundOr(err, "friend request not found", "failed to load friendship")
	}
	if f.Status != models.FriendshipPending || f.AddresseeID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "no pending request from this user")
	}
	note := models.Notification{
		RecipientID: requesterID,
		ActorID:     strPtr(actor.UserID),
		Type:        models.NotificationFriendAccepted,
		Title:       "Friend request accepted",
		Body:        fmt.Sprintf("%s accepted your friend request", displayName(actor)),
		Link:        strPtr("/friends"),
	}
	if err := s.repo.Accept(ctx, actor.UserID, requesterID, note); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to accept friend request")
	}
	return s.repo.Get(ctx, actor.UserID, requesterID)
}

// Remove deletes a friendship or withdraws or declines a request.
func (s *FriendshipService) Remove(ctx context.Context, actor *models.JWTClaims, otherID string) error {
	if _, err := s.repo.Get(ctx, actor.UserID, otherID); err != nil {
		return notFoundOr(err, "friendship not found", "failed to load friendship")
	}
	if err := s.repo.Delete(ctx, actor.UserID, otherID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove friendship")
	}
	return nil
}

// List returns actor's friendships and requests, most recently changed first.
func (s *FriendshipService) List(ctx context.Context, actor *models.JWTClaims) ([]models.Friendship, error) {
	out, err := s.repo.ListForUser(ctx, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list friendships")
	}
	return out, nil
}

// NotificationService exposes a user's notifications.
type NotificationService struct {
	repo     notificationRepository
	profiles studentLister
	logger   *zap.Logger
}

// NewNotificationService constructs the service. profiles is used by the
// official event fan-out.
func NewNotificationService(repo notificationRepository, profiles studentLister, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, profiles: profiles, logger: logger}
}

// List returns the newest notifications first.
func (s *NotificationService) List(ctx context.Context, actor *models.JWTClaims, unreadOnly bool, limit int) ([]models.Notification, error) {
	out, err := s.repo.ListForRecipient(ctx, actor.UserID, unreadOnly, clampLimit(limit, defaultNotificationLimit))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return out, nil
}

// MarkRead flags one notification addressed to actor.
func (s *NotificationService) MarkRead(ctx context.Context, actor *models.JWTClaims, id string) error {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.MarkRead(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

// MarkAllRead flags every unread notification of actor in one batch.
func (s *NotificationService) MarkAllRead(ctx context.Context, actor *models.JWTClaims) (int, error) {
	unread, err := s.repo.ListForRecipient(ctx, actor.UserID, true, maxListLimit)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	ids := make([]string, len(unread))
	for i, n := range unread {
		ids[i] = n.ID
	}
	if err := s.repo.MarkRead(ctx, ids...); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return len(ids), nil
}

// Delete removes a notification addressed to actor.
func (s *NotificationService) Delete(ctx context.Context, actor *models.JWTClaims, id string) error {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete notification")
	}
	return nil
}

// HandleOfficialEvents is the queue handler for JobOfficialEventNotify. Every
// student receives one notification per event. Notification ids derive from
// the event and recipient, so a retried job rewrites the chunks an earlier
// attempt committed instead of duplicating them.
func (s *NotificationService) HandleOfficialEvents(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(OfficialNotifyPayload)
	if !ok {
		return fmt.Errorf("official notify job %s: unexpected payload %T", job.ID, job.Payload)
	}
	students, err := s.profiles.ListByRole(ctx, models.RoleStudent, "")
	if err != nil {
		return err
	}
	notes := make([]models.Notification, 0, len(students)*len(payload.Events))
	for _, ev := range payload.Events {
		for _, st := range students {
			notes = append(notes, models.Notification{
				ID:          models.OfficialEventNotificationID(ev.ID, st.ID),
				RecipientID: st.ID,
				ActorID:     strPtr(payload.ActorID),
				Type:        models.NotificationOfficialEvent,
				Title:       ev.Title,
				Body:        fmt.Sprintf("New school event on %s", ev.Date),
				Link:        strPtr("/calendar?date=" + ev.Date),
			})
		}
	}
	// Firestore caps a write batch at 500 operations.
	const chunk = 400
	for start := 0; start < len(notes); start += chunk {
		end := start + chunk
		if end > len(notes) {
			end = len(notes)
		}
		if err := s.repo.CreateMany(ctx, notes[start:end]); err != nil {
			return err
		}
	}
	s.logger.Info("official event notifications sent", zap.Int("events", len(payload.Events)), zap.Int("notifications", len(notes)))
	return nil
}

func (s *NotificationService) owned(ctx context.Context, actor *models.JWTClaims, id string) (*models.Notification, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "notification not found", "failed to load notification")
	}
	if n.RecipientID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return n, nil
}

type messageRepository interface {
	Send(ctx context.Context, msg models.ChatMessage, note models.Notification) (string, error)
	ListConversation(ctx context.Context, conversationID string, limit int) ([]models.ChatMessage, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string) (int, error)
}

// ChatService sends and reads direct messages.
type ChatService struct {
	repo     messageRepository
	profiles profileReader
	logger   *zap.Logger
}

// NewChatService constructs the service.
func NewChatService(repo messageRepository, profiles profileReader, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{repo: repo, profiles: profiles, logger: logger}
}

// Send delivers body to recipientID and notifies them.
func (s *ChatService) Send(ctx context.Context, actor *models.JWTClaims, recipientID, body string) (*models.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "message body is required")
	}
	if recipientID == actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot message yourself")
	}
	if _, err := s.profiles.Get(ctx, recipientID); err != nil {
		return nil, notFoundOr(err, "recipient not found", "failed to load recipient")
	}

	msg := models.ChatMessage{
		ConversationID: models.PairKey(actor.UserID, recipientID),
		SenderID:       actor.UserID,
		RecipientID:    recipientID,
		Body:           body,
	}
	note := models.Notification{
		RecipientID: recipientID,
		ActorID:     strPtr(actor.UserID),
		Type:        models.NotificationMessage,
		Title:       fmt.Sprintf("Message from %s", displayName(actor)),
		Body:        preview(body, 120),
		Link:        strPtr("/chat/" + actor.UserID),
	}
	id, err := s.repo.Send(ctx, msg, note)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to send message")
	}
	msg.ID = id
	return &msg, nil
}

// Conversation returns the latest messages between actor and otherID, oldest first.
func (s *ChatService) Conversation(ctx context.Context, actor *models.JWTClaims, otherID string, limit int) ([]models.ChatMessage, error) {
	out, err := s.repo.ListConversation(ctx, models.PairKey(actor.UserID, otherID), clampLimit(limit, defaultMessageLimit))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load conversation")
	}
	return out, nil
}

// MarkRead flags every message otherID sent to actor as read.
func (s *ChatService) MarkRead(ctx context.Context, actor *models.JWTClaims, otherID string) (int, error) {
	n, err := s.repo.MarkConversationRead(ctx, models.PairKey(actor.UserID, otherID), actor.UserID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark conversation read")
	}
	return n, nil
}

type postRepository interface {
	Create(ctx context.Context, authorID, body string) (string, error)
	Get(ctx context.Context, id string) (*models.Post, error)
	List(ctx context.Context, limit int) ([]models.Post, error)
	SetLiked(ctx context.Context, id, userID string, liked bool) error
	Delete(ctx context.Context, id string) error
}

const likeLockStripes = 64

// PostService manages the school feed.
type PostService struct {
	repo          postRepository
	notifications notificationRepository
	logger        *zap.Logger

	// likeLocks serialise the read-then-write of one post's likes in this process.
	likeLocks [likeLockStripes]sync.Mutex
}

// NewPostService constructs the service.
func NewPostService(repo postRepository, notifications notificationRepository, logger *zap.Logger) *PostService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostService{repo: repo, notifications: notifications, logger: logger}
}

// Create publishes a post by actor.
func (s *PostService) Create(ctx context.Context, actor *models.JWTClaims, body string) (*models.Post, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "post body is required")
	}
	id, err := s.repo.Create(ctx, actor.UserID, body)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create post")
	}
	return s.get(ctx, id)
}

// List returns the newest posts.
func (s *PostService) List(ctx context.Context, limit int) ([]models.Post, error) {
	out, err := s.repo.List(ctx, clampLimit(limit, defaultPostLimit))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list posts")
	}
	return out, nil
}

// SetLiked likes or unlikes a post for actor. Repeating the current state
// writes nothing.
func (s *PostService) SetLiked(ctx context.Context, actor *models.JWTClaims, id string, liked bool) (*models.Post, error) {
	lock := s.likeLock(id)
	lock.Lock()
	post, err := s.get(ctx, id)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if post.LikedByUser(actor.UserID) == liked {
		lock.Unlock()
		return post, nil
	}
	err = s.repo.SetLiked(ctx, id, actor.UserID, liked)
	lock.Unlock()
	if err != nil {
		return nil, notFoundOr(err, "post not found", "failed to update likes")
	}

	if liked && post.AuthorID != actor.UserID {
		note := models.Notification{
			RecipientID: post.AuthorID,
			ActorID:     strPtr(actor.UserID),
			Type:        models.NotificationPostLiked,
			Title:       "Your post was liked",
			Body:        fmt.Sprintf("%s liked: %s", displayName(actor), preview(post.Body, 80)),
			Link:        strPtr("/posts/" + id),
		}
		if _, err := s.notifications.Create(ctx, note); err != nil {
			s.logger.Warn("failed to notify post like", zap.String("post_id", id), zap.Error(err))
		}
	}
	return s.get(ctx, id)
}

// Delete removes a post by its author or an administrator.
func (s *PostService) Delete(ctx context.Context, actor *models.JWTClaims, id string) error {
	post, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if post.AuthorID != actor.UserID && actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only the author can delete this post")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete post")
	}
	return nil
}

func (s *PostService) likeLock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.likeLocks[h.Sum32()%likeLockStripes]
}

func (s *PostService) get(ctx context.Context, id string) (*models.Post, error) {
	post, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "post not found", "failed to load post")
	}
	return post, nil
}

func displayName(actor *models.JWTClaims) string {
	if actor.DisplayName != "" {
		return actor.DisplayName
	}
	if actor.FullName != "" {
		return actor.FullName
	}
	return actor.Email
}

func preview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
