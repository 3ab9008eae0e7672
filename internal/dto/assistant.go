package dto

// AssistantTurn is one prior exchange in a conversation.
type AssistantTurn struct {
	Role string `json:"role" validate:"required,oneof=user assistant"`
	Text string `json:"text" validate:"required"`
}

// AssistantChatRequest captures POST /assistant/chat.
type AssistantChatRequest struct {
	History []AssistantTurn `json:"history" validate:"max=50,dive"`
	Message string          `json:"message" validate:"required,max=8000"`
}

// AssistantGenerateRequest captures POST /assistant/generate.
type AssistantGenerateRequest struct {
	Prompt string `json:"prompt" validate:"required,max=8000"`
}

// AssistantImage is an inline image returned by the model.
type AssistantImage struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// AssistantReply is the model's answer.
type AssistantReply struct {
	Text   string           `json:"text"`
	Images []AssistantImage `json:"images"`
}
