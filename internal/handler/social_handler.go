package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/pkg/response"
)

type friendshipService interface {
	Request(ctx context.Context, actor *models.JWTClaims, addresseeID string) (*models.Friendship, error)
	Accept(ctx context.Context, actor *models.JWTClaims, requesterID string) (*models.Friendship, error)
	Remove(ctx context.Context, actor *models.JWTClaims, otherID string) error
	List(ctx context.Context, actor *models.JWTClaims) ([]models.Friendship, error)
}

type notificationService interface {
	List(ctx context.Context, actor *models.JWTClaims, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, actor *models.JWTClaims, id string) error
	MarkAllRead(ctx context.Context, actor *models.JWTClaims) (int, error)
	Delete(ctx context.Context, actor *models.JWTClaims, id string) error
}

type chatService interface {
	Send(ctx context.Context, actor *models.JWTClaims, recipientID, body string) (*models.ChatMessage, error)
	Conversation(ctx context.Context, actor *models.JWTClaims, otherID string, limit int) ([]models.ChatMessage, error)
	MarkRead(ctx context.Context, actor *models.JWTClaims, otherID string) (int, error)
}

type postService interface {
	Create(ctx context.Context, actor *models.JWTClaims, body string) (*models.Post, error)
	List(ctx context.Context, limit int) ([]models.Post, error)
	SetLiked(ctx context.Context, actor *models.JWTClaims, id string, liked bool) (*models.Post, error)
	Delete(ctx context.Context, actor *models.JWTClaims, id string) error
}

// SocialHandler groups friendships, notifications, chat and posts.
type SocialHandler struct {
	friends       friendshipService
	notifications notificationService
	chat          chatService
	posts         postService
}

// NewSocialHandler constructs the handler.
func NewSocialHandler(friends friendshipService, notifications notificationService, chat chatService, posts postService) *SocialHandler {
	return &SocialHandler{friends: friends, notifications: notifications, chat: chat, posts: posts}
}

// ListFriends godoc
// @Summary Friendships of the caller
// @Tags Social
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /friends [get]
func (h *SocialHandler) ListFriends(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	list, err := h.friends.List(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// RequestFriend godoc
// @Summary Send a friend request
// @Tags Social
// @Accept json
// @Produce json
// @Param payload body dto.FriendRequest true "Addressee"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /friends [post]
func (h *SocialHandler) RequestFriend(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.FriendRequest
	if !bindJSON(c, &req, "invalid friend request") {
		return
	}
	f, err := h.friends.Request(c.Request.Context(), claims, req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, f)
}

// AcceptFriend godoc
// @Summary Accept a pending friend request
// @Tags Social
// @Produce json
// @Param userId path string true "Requester ID"
// @Success 200 {object} response.Envelope
// @Router /friends/{userId}/accept [post]
func (h *SocialHandler) AcceptFriend(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	f, err := h.friends.Accept(c.Request.Context(), claims, c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, f)
}

// RemoveFriend godoc
// @Summary Remove a friendship or decline a request
// @Tags Social
// @Param userId path string true "Other user ID"
// @Success 204
// @Router /friends/{userId} [delete]
func (h *SocialHandler) RemoveFriend(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if err := h.friends.Remove(c.Request.Context(), claims, c.Param("userId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListNotifications godoc
// @Summary Notifications of the caller, newest first
// @Tags Social
// @Produce json
// @Param unread query bool false "Only unread"
// @Param limit query int false "Maximum items"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *SocialHandler) ListNotifications(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	list, err := h.notifications.List(c.Request.Context(), claims, queryBool(c, "unread"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// ReadNotification godoc
// @Summary Mark one notification read
// @Tags Social
// @Param id path string true "Notification ID"
// @Success 204
// @Router /notifications/{id}/read [post]
func (h *SocialHandler) ReadNotification(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ReadAllNotifications godoc
// @Summary Mark every unread notification read
// @Tags Social
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/read-all [post]
func (h *SocialHandler) ReadAllNotifications(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	n, err := h.notifications.MarkAllRead(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.MarkedResponse{Updated: n})
}

// DeleteNotification godoc
// @Summary Delete a notification
// @Tags Social
// @Param id path string true "Notification ID"
// @Success 204
// @Router /notifications/{id} [delete]
func (h *SocialHandler) DeleteNotification(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if err := h.notifications.Delete(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Conversation godoc
// @Summary Messages exchanged with another user, oldest first
// @Tags Chat
// @Produce json
// @Param userId path string true "Other user ID"
// @Param limit query int false "Maximum items"
// @Success 200 {object} response.Envelope
// @Router /conversations/{userId}/messages [get]
func (h *SocialHandler) Conversation(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	list, err := h.chat.Conversation(c.Request.Context(), claims, c.Param("userId"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// SendMessage godoc
// @Summary Send a direct message
// @Tags Chat
// @Accept json
// @Produce json
// @Param userId path string true "Recipient ID"
// @Param payload body dto.SendMessageRequest true "Message"
// @Success 201 {object} response.Envelope
// @Router /conversations/{userId}/messages [post]
func (h *SocialHandler) SendMessage(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.SendMessageRequest
	if !bindJSON(c, &req, "invalid message payload") {
		return
	}
	msg, err := h.chat.Send(c.Request.Context(), claims, c.Param("userId"), req.Body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

// ReadConversation godoc
// @Summary Mark received messages of a conversation read
// @Tags Chat
// @Produce json
// @Param userId path string true "Other user ID"
// @Success 200 {object} response.Envelope
// @Router /conversations/{userId}/read [post]
func (h *SocialHandler) ReadConversation(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	n, err := h.chat.MarkRead(c.Request.Context(), claims, c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.MarkedResponse{Updated: n})
}

// ListPosts godoc
// @Summary Latest posts
// @Tags Posts
// @Produce json
// @Param limit query int false "Maximum items"
// @Success 200 {object} response.Envelope
// @Router /posts [get]
func (h *SocialHandler) ListPosts(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	list, err := h.posts.List(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// CreatePost godoc
// @Summary Publish a post
// @Tags Posts
// @Accept json
// @Produce json
// @Param payload body dto.CreatePostRequest true "Post"
// @Success 201 {object} response.Envelope
// @Router /posts [post]
func (h *SocialHandler) CreatePost(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CreatePostRequest
	if !bindJSON(c, &req, "invalid post payload") {
		return
	}
	post, err := h.posts.Create(c.Request.Context(), claims, req.Body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, post)
}

// LikePost godoc
// @Summary Like a post
// @Tags Posts
// @Produce json
// @Param id path string true "Post ID"
// @Success 200 {object} response.Envelope
// @Router /posts/{id}/like [put]
func (h *SocialHandler) LikePost(c *gin.Context) {
	h.setLiked(c, true)
}

// UnlikePost godoc
// @Summary Remove a like
// @Tags Posts
// @Produce json
// @Param id path string true "Post ID"
// @Success 200 {object} response.Envelope
// @Router /posts/{id}/like [delete]
func (h *SocialHandler) UnlikePost(c *gin.Context) {
	h.setLiked(c, false)
}

func (h *SocialHandler) setLiked(c *gin.Context, liked bool) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	post, err := h.posts.SetLiked(c.Request.Context(), claims, c.Param("id"), liked)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, post)
}

// DeletePost godoc
// @Summary Delete a post
// @Tags Posts
// @Param id path string true "Post ID"
// @Success 204
// @Router /posts/{id} [delete]
func (h *SocialHandler) DeletePost(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if err := h.posts.Delete(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
