package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/pkg/response"
)

type assistantService interface {
	Chat(ctx context.Context, req dto.AssistantChatRequest) (*dto.AssistantReply, error)
	Generate(ctx context.Context, req dto.AssistantGenerateRequest) (*dto.AssistantReply, error)
}

// AssistantHandler forwards prompts to the study assistant.
type AssistantHandler struct {
	service assistantService
}

// NewAssistantHandler constructs the handler.
func NewAssistantHandler(svc assistantService) *AssistantHandler {
	return &AssistantHandler{service: svc}
}

// Chat godoc
// @Summary Continue a conversation with the assistant
// @Tags Assistant
// @Accept json
// @Produce json
// @Param payload body dto.AssistantChatRequest true "History and message"
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /assistant/chat [post]
func (h *AssistantHandler) Chat(c *gin.Context) {
	var req dto.AssistantChatRequest
	if !bindJSON(c, &req, "invalid chat payload") {
		return
	}
	reply, err := h.service.Chat(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, reply)
}

// Generate godoc
// @Summary Single prompt, text and images
// @Tags Assistant
// @Accept json
// @Produce json
// @Param payload body dto.AssistantGenerateRequest true "Prompt"
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /assistant/generate [post]
func (h *AssistantHandler) Generate(c *gin.Context) {
	var req dto.AssistantGenerateRequest
	if !bindJSON(c, &req, "invalid generate payload") {
		return
	}
	reply, err := h.service.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, reply)
}
