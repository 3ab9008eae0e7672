package dto

// FriendRequest captures POST /friends.
type FriendRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// SendMessageRequest captures POST /conversations/:userId/messages.
type SendMessageRequest struct {
	Body string `json:"body" validate:"required,max=4000"`
}

// CreatePostRequest captures POST /posts.
type CreatePostRequest struct {
	Body string `json:"body" validate:"required,max=4000"`
}

// CreateFundRequest captures POST /funds.
type CreateFundRequest struct {
	Title       string  `json:"title" validate:"required,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	GoalCents   int64   `json:"goal_cents" validate:"required,gt=0"`
}

// ContributeRequest captures POST /funds/:id/contributions.
type ContributeRequest struct {
	AmountCents int64   `json:"amount_cents" validate:"required,gt=0"`
	Note        *string `json:"note" validate:"omitempty,max=500"`
}

// MarkedResponse reports how many records a bulk mark touched.
type MarkedResponse struct {
	Updated int `json:"updated"`
}
